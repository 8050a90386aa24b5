package content

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	apperrors "github.com/louisbranch/castgate/internal/platform/errors"
)

// Store persists content-addressed blobs. Put is idempotent on identical
// bytes.
type Store interface {
	Put(ctx context.Context, data []byte) (string, error)
}

// HTTPStoreConfig configures the content store gateway client.
type HTTPStoreConfig struct {
	// AddURL is the gateway's add endpoint.
	AddURL string
	// APIKey authenticates against the gateway when set.
	APIKey string
	// HTTPClient overrides the transport, mainly for tests.
	HTTPClient *http.Client
}

// httpStore uploads blobs to an HTTP content-store gateway and verifies the
// gateway's reported address against the locally computed one.
type httpStore struct {
	cfg HTTPStoreConfig
}

// NewHTTPStore builds a content store client for an HTTP gateway.
func NewHTTPStore(cfg HTTPStoreConfig) (Store, error) {
	if strings.TrimSpace(cfg.AddURL) == "" {
		return nil, fmt.Errorf("content store add url is required")
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = http.DefaultClient
	}
	return &httpStore{cfg: cfg}, nil
}

type addResponse struct {
	Hash string `json:"hash"`
}

// Put uploads data and returns its content address. A gateway that reports a
// different address for the same bytes violates content addressing and is
// treated as a store failure.
func (s *httpStore) Put(ctx context.Context, data []byte) (string, error) {
	if len(data) == 0 {
		return "", apperrors.New(apperrors.CodeValidation, "content is required")
	}
	expected := HashBytes(data)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.AddURL, bytes.NewReader(data))
	if err != nil {
		return "", apperrors.Wrap(apperrors.CodeContentStoreFailed, "build store request", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	if s.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.cfg.APIKey)
	}

	resp, err := s.cfg.HTTPClient.Do(req)
	if err != nil {
		return "", apperrors.Wrap(apperrors.CodeContentStoreFailed, "store content", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", apperrors.Wrap(apperrors.CodeContentStoreFailed, "read store response", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", apperrors.WithMetadata(apperrors.CodeContentStoreFailed,
			fmt.Sprintf("content store returned status %d", resp.StatusCode),
			map[string]string{"status": resp.Status})
	}

	var decoded addResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return "", apperrors.Wrap(apperrors.CodeContentStoreFailed, "decode store response", err)
	}
	if decoded.Hash != expected {
		return "", apperrors.WithMetadata(apperrors.CodeContentStoreFailed,
			"content store reported a mismatched address",
			map[string]string{"expected": expected, "reported": decoded.Hash})
	}
	return decoded.Hash, nil
}
