package httpapi

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	apperrors "github.com/louisbranch/castgate/internal/platform/errors"
	"github.com/louisbranch/castgate/internal/platform/requestctx"
	"github.com/louisbranch/castgate/internal/services/publisher/publish"
	"github.com/louisbranch/castgate/internal/services/publisher/storage"
	"github.com/louisbranch/castgate/internal/services/publisher/subscription"
)

// maxBodyBytes caps inbound request bodies.
const maxBodyBytes = 1 << 20

// Handler serves the publisher's JSON HTTP API.
type Handler struct {
	verifier      TokenVerifier
	publisher     *publish.Publisher
	subscriptions *subscription.Service
}

// NewHandler builds the API handler.
func NewHandler(verifier TokenVerifier, publisher *publish.Publisher, subscriptions *subscription.Service) (*Handler, error) {
	if verifier == nil {
		return nil, fmt.Errorf("token verifier is required")
	}
	if publisher == nil {
		return nil, fmt.Errorf("publisher is required")
	}
	if subscriptions == nil {
		return nil, fmt.Errorf("subscription service is required")
	}
	return &Handler{verifier: verifier, publisher: publisher, subscriptions: subscriptions}, nil
}

// Routes wires the API routes into a new mux.
func (h *Handler) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/subscribe", h.requireIdentity(h.handleSubscribe))
	mux.HandleFunc("/verify-subscription", h.requireIdentity(h.handleVerifySubscription))
	mux.HandleFunc("/posts", h.requireIdentity(h.handlePosts))
	mux.HandleFunc("/migrate", h.requireIdentity(h.handleMigrate))
	mux.HandleFunc("/provenance", h.requireIdentity(h.handleProvenance))
	mux.HandleFunc("/healthz", h.handleHealth)
	return mux
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeSuccess(w, "ok", nil)
}

func (h *Handler) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	identity, ok := requestctx.IdentityFromContext(r.Context())
	if !ok {
		writeError(w, r, apperrors.New(apperrors.CodeAuthVerificationFailed, "verified identity is required"))
		return
	}
	instructions, err := h.subscriptions.Subscribe(r.Context(), identity)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeSuccess(w, "Subscription intent recorded", instructions)
}

func (h *Handler) handleVerifySubscription(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	identity, ok := requestctx.IdentityFromContext(r.Context())
	if !ok {
		writeError(w, r, apperrors.New(apperrors.CodeAuthVerificationFailed, "verified identity is required"))
		return
	}
	record, err := h.subscriptions.Verify(r.Context(), identity)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeSuccess(w, "Subscription is active", map[string]string{"status": record.Status})
}

type postsRequest struct {
	ChannelID string   `json:"channelId"`
	Content   string   `json:"content"`
	CrossPost []string `json:"crossPost"`
}

type postsResponse struct {
	PostID       string                    `json:"postId"`
	CrossPostIDs []string                  `json:"crossPostIds"`
	CrossPost    []storage.CrossPostResult `json:"crossPostResults,omitempty"`
	ContentHash  string                    `json:"contentHash"`
	Status       storage.Status            `json:"status"`
}

func (h *Handler) handlePosts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	identity, ok := requestctx.IdentityFromContext(r.Context())
	if !ok {
		writeError(w, r, apperrors.New(apperrors.CodeAuthVerificationFailed, "verified identity is required"))
		return
	}
	var req postsRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	result, err := h.publisher.Publish(r.Context(), identity, publish.Request{
		ChannelID: req.ChannelID,
		Content:   req.Content,
		CrossPost: req.CrossPost,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	crossIDs := make([]string, 0, len(result.CrossPostResults))
	for _, cross := range result.CrossPostResults {
		if cross.PostID != "" {
			crossIDs = append(crossIDs, cross.PostID)
		}
	}
	message := "Post published"
	if result.Status == storage.StatusPartial {
		message = "Post published; bookkeeping degraded"
	}
	if result.Cached {
		message = "Post already published"
	}
	writeSuccess(w, message, postsResponse{
		PostID:       result.PostID,
		CrossPostIDs: crossIDs,
		CrossPost:    result.CrossPostResults,
		ContentHash:  result.ContentHash,
		Status:       result.Status,
	})
}

type migrateRequest struct {
	ChannelID string `json:"channelId"`
}

type migrateResponse struct {
	PostID      string         `json:"postId"`
	ContentHash string         `json:"contentHash"`
	Status      storage.Status `json:"status"`
}

func (h *Handler) handleMigrate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	identity, ok := requestctx.IdentityFromContext(r.Context())
	if !ok {
		writeError(w, r, apperrors.New(apperrors.CodeAuthVerificationFailed, "verified identity is required"))
		return
	}
	var req migrateRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	result, err := h.publisher.Migrate(r.Context(), identity, req.ChannelID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	message := "Channel migrated"
	if result.Cached {
		message = "Channel already migrated"
	}
	writeSuccess(w, message, migrateResponse{
		PostID:      result.PostID,
		ContentHash: result.ContentHash,
		Status:      result.Status,
	})
}

type provenanceEntry struct {
	ChannelID   string `json:"channelId"`
	ContentHash string `json:"contentHash"`
	CreatedAt   string `json:"createdAt"`
}

func (h *Handler) handleProvenance(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	identity, ok := requestctx.IdentityFromContext(r.Context())
	if !ok {
		writeError(w, r, apperrors.New(apperrors.CodeAuthVerificationFailed, "verified identity is required"))
		return
	}
	records, err := h.publisher.Provenance(r.Context(), identity)
	if err != nil {
		writeError(w, r, err)
		return
	}
	entries := make([]provenanceEntry, 0, len(records))
	for _, record := range records {
		entries = append(entries, provenanceEntry{
			ChannelID:   record.ChannelID,
			ContentHash: record.ContentHash,
			CreatedAt:   record.CreatedAt.Format(time.RFC3339),
		})
	}
	writeSuccess(w, "", map[string]any{"records": entries})
}

func decodeBody(r *http.Request, dst any) error {
	body := http.MaxBytesReader(nil, r.Body, maxBodyBytes)
	defer func() { _, _ = io.Copy(io.Discard, body) }()
	decoder := json.NewDecoder(body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		return apperrors.Wrap(apperrors.CodeValidation, "Invalid request body", err)
	}
	return nil
}
