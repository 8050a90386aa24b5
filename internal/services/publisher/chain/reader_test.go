package chain

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

const (
	testContract = "0x1111111111111111111111111111111111111111"
	testWallet   = "0xabcabcabcabcabcabcabcabcabcabcabcabcabca"
)

func TestIsSubscribedDecodesTrue(t *testing.T) {
	var gotData string
	server := newRPCServer(t, func(data string) string {
		gotData = data
		return "0x0000000000000000000000000000000000000000000000000000000000000001"
	})
	defer server.Close()

	reader := newTestReader(t, server.URL)
	subscribed, err := reader.IsSubscribed(context.Background(), testWallet)
	if err != nil {
		t.Fatalf("is subscribed: %v", err)
	}
	if !subscribed {
		t.Fatal("expected subscribed=true")
	}

	wantSelector := hex.EncodeToString(isSubscribedSelector[:])
	if !strings.HasPrefix(strings.TrimPrefix(gotData, "0x"), wantSelector) {
		t.Fatalf("call data %q does not start with selector %q", gotData, wantSelector)
	}
	if !strings.HasSuffix(gotData, strings.TrimPrefix(testWallet, "0x")) {
		t.Fatalf("call data %q does not end with padded wallet", gotData)
	}
}

func TestIsSubscribedDecodesFalse(t *testing.T) {
	server := newRPCServer(t, func(string) string {
		return "0x0000000000000000000000000000000000000000000000000000000000000000"
	})
	defer server.Close()

	reader := newTestReader(t, server.URL)
	subscribed, err := reader.IsSubscribed(context.Background(), testWallet)
	if err != nil {
		t.Fatalf("is subscribed: %v", err)
	}
	if subscribed {
		t.Fatal("expected subscribed=false")
	}
}

func TestHasChannelAccessEncodesStringArgument(t *testing.T) {
	var gotData string
	server := newRPCServer(t, func(data string) string {
		gotData = data
		return "0x01"
	})
	defer server.Close()

	reader := newTestReader(t, server.URL)
	access, err := reader.HasChannelAccess(context.Background(), testWallet, "/cryptobaddies")
	if err != nil {
		t.Fatalf("has channel access: %v", err)
	}
	if !access {
		t.Fatal("expected access=true")
	}

	raw, err := hex.DecodeString(strings.TrimPrefix(gotData, "0x"))
	if err != nil {
		t.Fatalf("decode call data: %v", err)
	}
	// selector + address word + offset word + length word + one padded chunk
	if len(raw) != 4+32*4 {
		t.Fatalf("call data length = %d, want %d", len(raw), 4+32*4)
	}
	channelLen := int(raw[4+32*2+31])
	if channelLen != len("/cryptobaddies") {
		t.Fatalf("encoded string length = %d, want %d", channelLen, len("/cryptobaddies"))
	}
	if got := string(raw[4+32*3 : 4+32*3+channelLen]); got != "/cryptobaddies" {
		t.Fatalf("encoded string = %q", got)
	}
}

func TestCallBoolSurfacesRPCError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(rpcResponse{Error: &rpcError{Code: -32000, Message: "execution reverted"}})
	}))
	defer server.Close()

	reader := newTestReader(t, server.URL)
	if _, err := reader.IsSubscribed(context.Background(), testWallet); err == nil {
		t.Fatal("expected rpc error to surface")
	}
}

func TestCallBoolSurfacesHTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	reader := newTestReader(t, server.URL)
	if _, err := reader.IsSubscribed(context.Background(), testWallet); err == nil {
		t.Fatal("expected http error to surface")
	}
}

func TestNewRPCReaderValidation(t *testing.T) {
	if _, err := NewRPCReader(RPCConfig{ContractAddress: testContract}); err == nil {
		t.Fatal("expected missing endpoint error")
	}
	if _, err := NewRPCReader(RPCConfig{Endpoint: "http://x", ContractAddress: "0x123"}); err == nil {
		t.Fatal("expected bad contract address error")
	}
}

func TestParseAddressRejectsMalformed(t *testing.T) {
	if _, err := parseAddress("0xzzzz"); err == nil {
		t.Fatal("expected error for non-hex address")
	}
	if _, err := parseAddress("0xabc"); err == nil {
		t.Fatal("expected error for short address")
	}
}

func newRPCServer(t *testing.T, result func(callData string) string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode rpc request: %v", err)
		}
		if req.Method != "eth_call" {
			t.Fatalf("method = %q, want eth_call", req.Method)
		}
		call, ok := req.Params[0].(map[string]any)
		if !ok {
			t.Fatalf("params[0] = %T", req.Params[0])
		}
		if call["to"] != testContract {
			t.Fatalf("to = %v, want %s", call["to"], testContract)
		}
		_ = json.NewEncoder(w).Encode(rpcResponse{Result: result(call["data"].(string))})
	}))
}

func newTestReader(t *testing.T, endpoint string) *RPCReader {
	t.Helper()
	reader, err := NewRPCReader(RPCConfig{Endpoint: endpoint, ContractAddress: testContract})
	if err != nil {
		t.Fatalf("new reader: %v", err)
	}
	return reader
}
