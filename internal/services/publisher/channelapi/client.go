// Package channelapi provides the client for the external channel-posting
// API: casting into channels, fetching channel records for migration, and
// looking up user profiles for identity verification.
package channelapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	apperrors "github.com/louisbranch/castgate/internal/platform/errors"
)

// API is the channel API surface consumed by the publisher.
type API interface {
	// PostCast publishes text into a channel and returns the external post
	// id. The post is visible to others as soon as this returns.
	PostCast(ctx context.Context, channelID, text string) (string, error)
	// FetchChannel returns the channel's system-of-record payload.
	FetchChannel(ctx context.Context, channelID string) ([]byte, error)
	// LookupUser resolves a user profile by id.
	LookupUser(ctx context.Context, userID string) (User, error)
}

// User is an external user profile record.
type User struct {
	ID            string `json:"fid"`
	WalletAddress string `json:"wallet_address"`
}

// ClientConfig configures the channel API client.
type ClientConfig struct {
	// BaseURL is the API root, e.g. "https://api.neynar.com".
	BaseURL string
	// APIKey is sent as a bearer token on every request.
	APIKey string
	// HTTPClient overrides the transport, mainly for tests.
	HTTPClient *http.Client
}

// Client calls the channel API over HTTP.
type Client struct {
	cfg ClientConfig
}

// NewClient builds a channel API client.
func NewClient(cfg ClientConfig) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, fmt.Errorf("channel api base url is required")
	}
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("channel api key is required")
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = http.DefaultClient
	}
	return &Client{cfg: cfg}, nil
}

type castRequest struct {
	ChannelID string `json:"channel_id"`
	Text      string `json:"text"`
}

type castResponse struct {
	CastID string `json:"cast_id"`
}

// PostCast publishes text into channelID.
func (c *Client) PostCast(ctx context.Context, channelID, text string) (string, error) {
	if strings.TrimSpace(channelID) == "" {
		return "", apperrors.New(apperrors.CodeValidation, "channel id is required")
	}
	if strings.TrimSpace(text) == "" {
		return "", apperrors.New(apperrors.CodeValidation, "cast text is required")
	}

	payload, err := json.Marshal(castRequest{ChannelID: channelID, Text: text})
	if err != nil {
		return "", apperrors.Wrap(apperrors.CodeChannelPostFailed, "encode cast request", err)
	}
	body, err := c.do(ctx, http.MethodPost, "/v2/cast", payload, apperrors.CodeChannelPostFailed,
		map[string]string{"channel": channelID})
	if err != nil {
		return "", err
	}

	var decoded castResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return "", apperrors.Wrap(apperrors.CodeChannelPostFailed, "decode cast response", err)
	}
	if decoded.CastID == "" {
		return "", apperrors.WithMetadata(apperrors.CodeChannelPostFailed,
			"channel api returned no cast id", map[string]string{"channel": channelID})
	}
	return decoded.CastID, nil
}

// FetchChannel returns the raw channel record used as the migration
// system-of-record.
func (c *Client) FetchChannel(ctx context.Context, channelID string) ([]byte, error) {
	if strings.TrimSpace(channelID) == "" {
		return nil, apperrors.New(apperrors.CodeValidation, "channel id is required")
	}
	path := "/v2/channel/" + url.PathEscape(strings.TrimPrefix(channelID, "/"))
	body, err := c.do(ctx, http.MethodGet, path, nil, apperrors.CodeChannelFetchFailed,
		map[string]string{"channel": channelID})
	if err != nil {
		return nil, err
	}
	if len(body) == 0 {
		return nil, apperrors.WithMetadata(apperrors.CodeChannelFetchFailed,
			"channel api returned an empty channel record", map[string]string{"channel": channelID})
	}
	return body, nil
}

// LookupUser resolves an external user profile.
func (c *Client) LookupUser(ctx context.Context, userID string) (User, error) {
	if strings.TrimSpace(userID) == "" {
		return User{}, apperrors.New(apperrors.CodeValidation, "user id is required")
	}
	path := "/v2/user/" + url.PathEscape(userID)
	body, err := c.do(ctx, http.MethodGet, path, nil, apperrors.CodeAuthVerificationFailed,
		map[string]string{"user": userID})
	if err != nil {
		return User{}, err
	}

	var user User
	if err := json.Unmarshal(body, &user); err != nil {
		return User{}, apperrors.Wrap(apperrors.CodeAuthVerificationFailed, "decode user response", err)
	}
	return user, nil
}

func (c *Client) do(ctx context.Context, method, path string, payload []byte, failCode apperrors.Code, metadata map[string]string) ([]byte, error) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, reader)
	if err != nil {
		return nil, apperrors.Wrap(failCode, "build channel api request", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.cfg.HTTPClient.Do(req)
	if err != nil {
		return nil, apperrors.WrapWithMetadata(failCode, "call channel api", metadata, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, apperrors.Wrap(failCode, "read channel api response", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		withStatus := map[string]string{"status": resp.Status}
		for k, v := range metadata {
			withStatus[k] = v
		}
		return nil, apperrors.WithMetadata(failCode,
			fmt.Sprintf("channel api returned status %d", resp.StatusCode), withStatus)
	}
	return body, nil
}
