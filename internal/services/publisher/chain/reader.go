// Package chain reads entitlement state from the subscription contract over
// JSON-RPC. All calls are read-only eth_call invocations; nothing in this
// package mutates chain state.
package chain

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"golang.org/x/crypto/sha3"
)

// Reader answers entitlement questions for a wallet.
type Reader interface {
	IsSubscribed(ctx context.Context, walletAddress string) (bool, error)
	HasChannelAccess(ctx context.Context, walletAddress, channelID string) (bool, error)
}

// Contract function selectors, derived from the canonical signatures the
// subscription contract exposes.
var (
	isSubscribedSelector     = methodSelector("isSubscribed(address)")
	hasChannelAccessSelector = methodSelector("hasChannelAccess(address,string)")
)

// RPCConfig configures the JSON-RPC reader.
type RPCConfig struct {
	// Endpoint is the chain JSON-RPC URL.
	Endpoint string
	// ContractAddress is the subscription contract, 0x-prefixed.
	ContractAddress string
	// HTTPClient overrides the transport, mainly for tests.
	HTTPClient *http.Client
}

// RPCReader implements Reader against a JSON-RPC endpoint.
type RPCReader struct {
	cfg RPCConfig
}

// NewRPCReader builds a chain reader for the subscription contract.
func NewRPCReader(cfg RPCConfig) (*RPCReader, error) {
	if strings.TrimSpace(cfg.Endpoint) == "" {
		return nil, fmt.Errorf("chain rpc endpoint is required")
	}
	if _, err := parseAddress(cfg.ContractAddress); err != nil {
		return nil, fmt.Errorf("contract address: %w", err)
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = http.DefaultClient
	}
	return &RPCReader{cfg: cfg}, nil
}

// IsSubscribed reports whether the wallet holds an active subscription.
func (r *RPCReader) IsSubscribed(ctx context.Context, walletAddress string) (bool, error) {
	wallet, err := parseAddress(walletAddress)
	if err != nil {
		return false, fmt.Errorf("wallet address: %w", err)
	}
	callData := append(append([]byte{}, isSubscribedSelector[:]...), addressWord(wallet)...)
	return r.callBool(ctx, callData)
}

// HasChannelAccess reports whether the wallet may write to channelID.
func (r *RPCReader) HasChannelAccess(ctx context.Context, walletAddress, channelID string) (bool, error) {
	wallet, err := parseAddress(walletAddress)
	if err != nil {
		return false, fmt.Errorf("wallet address: %w", err)
	}
	if strings.TrimSpace(channelID) == "" {
		return false, fmt.Errorf("channel id is required")
	}

	callData := append([]byte{}, hasChannelAccessSelector[:]...)
	callData = append(callData, addressWord(wallet)...)
	// Dynamic string argument: offset word, then length word, then padded bytes.
	callData = append(callData, uintWord(64)...)
	callData = append(callData, uintWord(uint64(len(channelID)))...)
	callData = append(callData, padRight([]byte(channelID))...)
	return r.callBool(ctx, callData)
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int    `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	Result string    `json:"result"`
	Error  *rpcError `json:"error"`
}

func (r *RPCReader) callBool(ctx context.Context, callData []byte) (bool, error) {
	payload, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      1,
		Method:  "eth_call",
		Params: []any{
			map[string]string{
				"to":   r.cfg.ContractAddress,
				"data": "0x" + hex.EncodeToString(callData),
			},
			"latest",
		},
	})
	if err != nil {
		return false, fmt.Errorf("encode eth_call: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.cfg.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return false, fmt.Errorf("build eth_call request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.cfg.HTTPClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("call chain rpc: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return false, fmt.Errorf("read chain rpc response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return false, fmt.Errorf("chain rpc returned status %d", resp.StatusCode)
	}

	var decoded rpcResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return false, fmt.Errorf("decode chain rpc response: %w", err)
	}
	if decoded.Error != nil {
		return false, fmt.Errorf("chain rpc error %d: %s", decoded.Error.Code, decoded.Error.Message)
	}
	return decodeBool(decoded.Result)
}

func decodeBool(result string) (bool, error) {
	value := strings.TrimPrefix(strings.TrimSpace(result), "0x")
	if value == "" {
		return false, fmt.Errorf("chain rpc returned an empty result")
	}
	raw, err := hex.DecodeString(value)
	if err != nil {
		return false, fmt.Errorf("decode eth_call result: %w", err)
	}
	for _, b := range raw {
		if b != 0 {
			return true, nil
		}
	}
	return false, nil
}

func methodSelector(signature string) [4]byte {
	hasher := sha3.NewLegacyKeccak256()
	hasher.Write([]byte(signature))
	var selector [4]byte
	copy(selector[:], hasher.Sum(nil)[:4])
	return selector
}

func parseAddress(value string) ([20]byte, error) {
	var address [20]byte
	trimmed := strings.TrimPrefix(strings.TrimSpace(value), "0x")
	if len(trimmed) != 40 {
		return address, fmt.Errorf("address %q is not 20 bytes", value)
	}
	decoded, err := hex.DecodeString(trimmed)
	if err != nil {
		return address, fmt.Errorf("decode address: %w", err)
	}
	copy(address[:], decoded)
	return address, nil
}

func addressWord(address [20]byte) []byte {
	word := make([]byte, 32)
	copy(word[12:], address[:])
	return word
}

func uintWord(value uint64) []byte {
	word := make([]byte, 32)
	for i := 0; i < 8; i++ {
		word[31-i] = byte(value >> (8 * i))
	}
	return word
}

func padRight(data []byte) []byte {
	if len(data)%32 == 0 {
		return data
	}
	padded := make([]byte, ((len(data)/32)+1)*32)
	copy(padded, data)
	return padded
}
