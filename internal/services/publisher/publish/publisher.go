// Package publish implements the gated publishing pipeline: entitlement
// checks, content addressing, the idempotency-keyed operation ledger,
// the external channel post, provenance bookkeeping, and cross-post
// fan-out. Every terminal outcome is committed to the ledger before a
// result is returned.
package publish

import (
	"context"
	"fmt"
	"log"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	apperrors "github.com/louisbranch/castgate/internal/platform/errors"
	"github.com/louisbranch/castgate/internal/platform/requestctx"
	"github.com/louisbranch/castgate/internal/platform/timeouts"
	"github.com/louisbranch/castgate/internal/services/publisher/channelapi"
	"github.com/louisbranch/castgate/internal/services/publisher/content"
	"github.com/louisbranch/castgate/internal/services/publisher/entitlement"
	"github.com/louisbranch/castgate/internal/services/publisher/storage"
)

var tracer = otel.Tracer("github.com/louisbranch/castgate/internal/services/publisher/publish")

// spanError records err on span and marks the span failed.
func spanError(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(otelcodes.Error, err.Error())
	return err
}

// Request is one publish request for a verified identity.
type Request struct {
	// ChannelID is the primary channel to post into.
	ChannelID string
	// Content is the post body. Its bytes alone determine the content
	// address.
	Content string
	// CrossPost lists additional target channels, posted independently of
	// the primary and of each other.
	CrossPost []string
}

// Result is the terminal outcome of a publish or migrate operation.
type Result struct {
	Status           storage.Status
	PostID           string
	ContentHash      string
	CrossPostResults []storage.CrossPostResult
	// Cached reports that the result was served from an earlier terminal
	// ledger entry without re-running the pipeline.
	Cached bool
}

// PublisherConfig wires the pipeline's collaborators.
type PublisherConfig struct {
	Gate       *entitlement.Gate
	Store      content.Store
	Channels   channelapi.API
	Ledger     storage.OperationLedger
	Provenance storage.ProvenanceStore
	Fanout     *Fanout
}

// Publisher runs the gated publishing pipeline.
type Publisher struct {
	gate       *entitlement.Gate
	store      content.Store
	channels   channelapi.API
	ledger     storage.OperationLedger
	provenance storage.ProvenanceStore
	fanout     *Fanout
}

// NewPublisher builds a publisher from its collaborators.
func NewPublisher(cfg PublisherConfig) (*Publisher, error) {
	if cfg.Gate == nil {
		return nil, fmt.Errorf("entitlement gate is required")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("content store is required")
	}
	if cfg.Channels == nil {
		return nil, fmt.Errorf("channel api is required")
	}
	if cfg.Ledger == nil {
		return nil, fmt.Errorf("operation ledger is required")
	}
	if cfg.Provenance == nil {
		return nil, fmt.Errorf("provenance store is required")
	}
	return &Publisher{
		gate:       cfg.Gate,
		store:      cfg.Store,
		channels:   cfg.Channels,
		ledger:     cfg.Ledger,
		provenance: cfg.Provenance,
		fanout:     cfg.Fanout,
	}, nil
}

// Publish runs the full pipeline for one request. The entitlement gate runs
// before any side effect; once the pending ledger entry exists the pipeline
// detaches from the caller's context so cancellation can never leave an
// external post unrecorded.
func (p *Publisher) Publish(ctx context.Context, identity requestctx.Identity, req Request) (Result, error) {
	if err := validateIdentity(identity); err != nil {
		return Result{}, err
	}
	if strings.TrimSpace(req.ChannelID) == "" {
		return Result{}, apperrors.New(apperrors.CodeValidation, "channel id is required")
	}
	if strings.TrimSpace(req.Content) == "" {
		return Result{}, apperrors.New(apperrors.CodeValidation, "content is required")
	}
	for _, target := range req.CrossPost {
		if strings.TrimSpace(target) == "" {
			return Result{}, apperrors.New(apperrors.CodeValidation, "cross-post channel id is required")
		}
		if target == req.ChannelID {
			return Result{}, apperrors.WithMetadata(apperrors.CodeValidation,
				"cross-post target duplicates the primary channel",
				map[string]string{"channel": target})
		}
	}
	if len(req.CrossPost) > 0 && p.fanout == nil {
		return Result{}, apperrors.New(apperrors.CodeValidation, "cross-posting is not enabled")
	}

	ctx, span := tracer.Start(ctx, "publisher.publish", trace.WithAttributes(
		attribute.String("identity.id", identity.ID),
		attribute.String("channel.id", req.ChannelID),
		attribute.Int("cross_post.targets", len(req.CrossPost)),
	))
	defer span.End()

	if err := p.gate.RequireSubscription(ctx, identity); err != nil {
		return Result{}, spanError(span, err)
	}
	if err := p.gate.RequireChannelAccess(ctx, identity, req.ChannelID); err != nil {
		return Result{}, spanError(span, err)
	}

	hash := content.HashBytes([]byte(req.Content))
	span.SetAttributes(attribute.String("content.hash", hash))
	key := storage.OperationKey{
		IdentityID:  identity.ID,
		ChannelID:   req.ChannelID,
		ContentHash: hash,
		Operation:   storage.OperationPublish,
	}
	entry, created, err := p.ledger.BeginOperation(ctx, storage.OperationEntry{Key: key})
	if err != nil {
		return Result{}, spanError(span, apperrors.Wrap(apperrors.CodeInternal, "begin publish operation", err))
	}
	if !created {
		span.SetAttributes(attribute.Bool("ledger.cached", true))
		result, err := cachedResult(entry)
		if err != nil {
			return Result{}, spanError(span, err)
		}
		span.SetAttributes(attribute.String("operation.status", string(result.Status)))
		return result, nil
	}

	// After this point the operation is pending in the ledger and may
	// produce an irreversible external post. Detach from the caller's
	// context so a dropped connection cannot abandon the entry.
	opCtx := context.WithoutCancel(ctx)

	if _, err := p.putContent(opCtx, []byte(req.Content)); err != nil {
		p.finishFailed(opCtx, key, err)
		return Result{}, spanError(span, err)
	}

	postID, err := p.postCast(opCtx, req.ChannelID, req.Content)
	if err != nil {
		p.finishFailed(opCtx, key, err)
		return Result{}, spanError(span, err)
	}
	span.SetAttributes(attribute.String("post.id", postID))

	var crossResults []storage.CrossPostResult
	if len(req.CrossPost) > 0 {
		crossResults = p.fanout.Run(opCtx, identity, hash, req.Content, req.CrossPost)
	}

	result := Result{
		Status:           storage.StatusCompleted,
		PostID:           postID,
		ContentHash:      hash,
		CrossPostResults: crossResults,
	}

	if err := p.appendProvenance(opCtx, identity, req.ChannelID, hash); err != nil {
		log.Printf("publisher: provenance append failed after post identity=%q channel=%q post=%q err=%v",
			identity.ID, req.ChannelID, postID, err)
		span.RecordError(err)
		result.Status = storage.StatusPartial
		p.finish(opCtx, key, storage.OperationOutcome{
			Status:           storage.StatusPartial,
			ExternalPostID:   postID,
			CrossPostResults: crossResults,
			LastError:        err.Error(),
		})
		span.SetAttributes(attribute.String("operation.status", string(result.Status)))
		return result, nil
	}

	if err := p.finish(opCtx, key, storage.OperationOutcome{
		Status:           storage.StatusCompleted,
		ExternalPostID:   postID,
		CrossPostResults: crossResults,
	}); err != nil {
		span.RecordError(err)
		result.Status = storage.StatusPartial
	}
	span.SetAttributes(attribute.String("operation.status", string(result.Status)))
	return result, nil
}

// Provenance returns the provenance records claimed by the identity's
// wallet, newest first.
func (p *Publisher) Provenance(ctx context.Context, identity requestctx.Identity) ([]storage.ProvenanceRecord, error) {
	if err := validateIdentity(identity); err != nil {
		return nil, err
	}
	records, err := p.provenance.ListProvenance(ctx, identity.WalletAddress)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInternal, "list provenance", err)
	}
	return records, nil
}

func (p *Publisher) putContent(ctx context.Context, data []byte) (string, error) {
	storeCtx, cancel := context.WithTimeout(ctx, timeouts.StoreWrite)
	defer cancel()
	return p.store.Put(storeCtx, data)
}

func (p *Publisher) postCast(ctx context.Context, channelID, text string) (string, error) {
	postCtx, cancel := context.WithTimeout(ctx, timeouts.ChannelPost)
	defer cancel()
	return p.channels.PostCast(postCtx, channelID, text)
}

func (p *Publisher) appendProvenance(ctx context.Context, identity requestctx.Identity, channelID, hash string) error {
	writeCtx, cancel := context.WithTimeout(ctx, timeouts.LedgerWrite)
	defer cancel()
	return p.provenance.AppendProvenance(writeCtx, storage.ProvenanceRecord{
		WalletAddress: identity.WalletAddress,
		ChannelID:     channelID,
		ContentHash:   hash,
	})
}

func (p *Publisher) finish(ctx context.Context, key storage.OperationKey, outcome storage.OperationOutcome) error {
	writeCtx, cancel := context.WithTimeout(ctx, timeouts.LedgerWrite)
	defer cancel()
	if err := p.ledger.FinishOperation(writeCtx, key, outcome); err != nil {
		log.Printf("publisher: finish operation failed identity=%q channel=%q operation=%q status=%q err=%v",
			key.IdentityID, key.ChannelID, key.Operation, outcome.Status, err)
		return err
	}
	return nil
}

func (p *Publisher) finishFailed(ctx context.Context, key storage.OperationKey, cause error) {
	p.finish(ctx, key, storage.OperationOutcome{
		Status:    storage.StatusFailed,
		LastError: cause.Error(),
	})
}

func cachedResult(entry storage.OperationEntry) (Result, error) {
	switch entry.Status {
	case storage.StatusCompleted, storage.StatusPartial:
		return Result{
			Status:           entry.Status,
			PostID:           entry.ExternalPostID,
			ContentHash:      entry.Key.ContentHash,
			CrossPostResults: entry.CrossPostResults,
			Cached:           true,
		}, nil
	case storage.StatusPending:
		return Result{}, apperrors.WithMetadata(apperrors.CodeLedgerConflict,
			"An identical request is already in progress",
			map[string]string{"channel": entry.Key.ChannelID, "operation": entry.Key.Operation})
	}
	return Result{}, apperrors.New(apperrors.CodeInternal,
		fmt.Sprintf("unexpected ledger status %q", entry.Status))
}

func validateIdentity(identity requestctx.Identity) error {
	if strings.TrimSpace(identity.ID) == "" || strings.TrimSpace(identity.WalletAddress) == "" {
		return apperrors.New(apperrors.CodeAuthVerificationFailed, "verified identity is required")
	}
	return nil
}
