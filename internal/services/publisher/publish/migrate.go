package publish

import (
	"context"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	apperrors "github.com/louisbranch/castgate/internal/platform/errors"
	"github.com/louisbranch/castgate/internal/platform/requestctx"
	"github.com/louisbranch/castgate/internal/platform/timeouts"
	"github.com/louisbranch/castgate/internal/services/publisher/content"
	"github.com/louisbranch/castgate/internal/services/publisher/storage"
)

// Migrate republishes a channel's system-of-record snapshot into the channel
// itself. Gating, content addressing, and ledger discipline match Publish;
// only the content origin differs: the snapshot is fetched from the channel
// API instead of being caller-supplied. The "migrate" operation type keeps
// its idempotency keys separate from regular publishes.
func (p *Publisher) Migrate(ctx context.Context, identity requestctx.Identity, channelID string) (Result, error) {
	if err := validateIdentity(identity); err != nil {
		return Result{}, err
	}
	if strings.TrimSpace(channelID) == "" {
		return Result{}, apperrors.New(apperrors.CodeValidation, "channel id is required")
	}

	ctx, span := tracer.Start(ctx, "publisher.migrate", trace.WithAttributes(
		attribute.String("identity.id", identity.ID),
		attribute.String("channel.id", channelID),
	))
	defer span.End()

	if err := p.gate.RequireSubscription(ctx, identity); err != nil {
		return Result{}, spanError(span, err)
	}
	if err := p.gate.RequireChannelAccess(ctx, identity, channelID); err != nil {
		return Result{}, spanError(span, err)
	}

	snapshot, err := p.fetchChannel(ctx, channelID)
	if err != nil {
		return Result{}, spanError(span, err)
	}

	hash := content.HashBytes(snapshot)
	span.SetAttributes(attribute.String("content.hash", hash))
	key := storage.OperationKey{
		IdentityID:  identity.ID,
		ChannelID:   channelID,
		ContentHash: hash,
		Operation:   storage.OperationMigrate,
	}
	entry, created, err := p.ledger.BeginOperation(ctx, storage.OperationEntry{Key: key})
	if err != nil {
		return Result{}, spanError(span, apperrors.Wrap(apperrors.CodeInternal, "begin migrate operation", err))
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

	opCtx := context.WithoutCancel(ctx)

	if _, err := p.putContent(opCtx, snapshot); err != nil {
		p.finishFailed(opCtx, key, err)
		return Result{}, spanError(span, err)
	}

	postID, err := p.postCast(opCtx, channelID, string(snapshot))
	if err != nil {
		p.finishFailed(opCtx, key, err)
		return Result{}, spanError(span, err)
	}
	span.SetAttributes(attribute.String("post.id", postID))

	result := Result{
		Status:      storage.StatusCompleted,
		PostID:      postID,
		ContentHash: hash,
	}

	if err := p.appendProvenance(opCtx, identity, channelID, hash); err != nil {
		span.RecordError(err)
		result.Status = storage.StatusPartial
		p.finish(opCtx, key, storage.OperationOutcome{
			Status:         storage.StatusPartial,
			ExternalPostID: postID,
			LastError:      err.Error(),
		})
		span.SetAttributes(attribute.String("operation.status", string(result.Status)))
		return result, nil
	}

	if err := p.finish(opCtx, key, storage.OperationOutcome{
		Status:         storage.StatusCompleted,
		ExternalPostID: postID,
	}); err != nil {
		span.RecordError(err)
		result.Status = storage.StatusPartial
	}
	span.SetAttributes(attribute.String("operation.status", string(result.Status)))
	return result, nil
}

func (p *Publisher) fetchChannel(ctx context.Context, channelID string) ([]byte, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, timeouts.ChannelPost)
	defer cancel()
	return p.channels.FetchChannel(fetchCtx, channelID)
}
