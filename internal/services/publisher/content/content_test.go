package content

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	apperrors "github.com/louisbranch/castgate/internal/platform/errors"
)

func TestHashBytesDeterministic(t *testing.T) {
	first := HashBytes([]byte("Empowering women in Web3!"))
	second := HashBytes([]byte("Empowering women in Web3!"))
	if first != second {
		t.Fatalf("identical bytes hashed differently: %q vs %q", first, second)
	}
	if len(first) != HashSize*2 {
		t.Fatalf("hash length = %d, want %d hex chars", len(first), HashSize*2)
	}
}

func TestHashBytesDistinguishesContent(t *testing.T) {
	if HashBytes([]byte("A")) == HashBytes([]byte("B")) {
		t.Fatal("different bytes produced the same hash")
	}
}

func TestParseHashRoundTrip(t *testing.T) {
	value := HashBytes([]byte("content"))
	if _, err := ParseHash(value); err != nil {
		t.Fatalf("parse hash: %v", err)
	}
}

func TestParseHashRejectsInvalid(t *testing.T) {
	if _, err := ParseHash("zz"); err == nil {
		t.Fatal("expected error for non-hex input")
	}
	if _, err := ParseHash("abcd"); err == nil {
		t.Fatal("expected error for short input")
	}
}

func TestHTTPStorePutReturnsVerifiedHash(t *testing.T) {
	var uploads int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		uploads++
		body, err := io.ReadAll(r.Body)
		if err != nil {
			t.Fatalf("read upload: %v", err)
		}
		if r.Header.Get("Authorization") != "Bearer store-key" {
			t.Fatalf("missing api key header, got %q", r.Header.Get("Authorization"))
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"hash": HashBytes(body)})
	}))
	defer server.Close()

	store, err := NewHTTPStore(HTTPStoreConfig{AddURL: server.URL, APIKey: "store-key"})
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	data := []byte("Empowering women in Web3!")
	hash, err := store.Put(context.Background(), data)
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if hash != HashBytes(data) {
		t.Fatalf("hash = %q, want local address", hash)
	}
	if uploads != 1 {
		t.Fatalf("uploads = %d, want 1", uploads)
	}
}

func TestHTTPStorePutRejectsMismatchedAddress(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"hash": "not-the-address"})
	}))
	defer server.Close()

	store, err := NewHTTPStore(HTTPStoreConfig{AddURL: server.URL})
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	_, err = store.Put(context.Background(), []byte("content"))
	if !errors.Is(err, apperrors.New(apperrors.CodeContentStoreFailed, "")) {
		t.Fatalf("expected content store failure, got %v", err)
	}
}

func TestHTTPStorePutGatewayError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	store, err := NewHTTPStore(HTTPStoreConfig{AddURL: server.URL})
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	_, err = store.Put(context.Background(), []byte("content"))
	if apperrors.CodeOf(err) != apperrors.CodeContentStoreFailed {
		t.Fatalf("expected CodeContentStoreFailed, got %v", err)
	}
}

func TestHTTPStorePutRejectsEmptyContent(t *testing.T) {
	store, err := NewHTTPStore(HTTPStoreConfig{AddURL: "http://127.0.0.1:0"})
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	if _, err := store.Put(context.Background(), nil); apperrors.CodeOf(err) != apperrors.CodeValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestNewHTTPStoreRequiresURL(t *testing.T) {
	if _, err := NewHTTPStore(HTTPStoreConfig{}); err == nil {
		t.Fatal("expected missing url error")
	}
}
