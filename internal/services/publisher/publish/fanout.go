package publish

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/louisbranch/castgate/internal/platform/requestctx"
	"github.com/louisbranch/castgate/internal/platform/timeouts"
	"github.com/louisbranch/castgate/internal/services/publisher/channelapi"
	"github.com/louisbranch/castgate/internal/services/publisher/storage"
)

// defaultFanoutWorkers bounds concurrent cross-post targets when no explicit
// limit is configured.
const defaultFanoutWorkers = 4

// FanoutConfig wires the cross-post fan-out.
type FanoutConfig struct {
	Channels   channelapi.API
	Ledger     storage.OperationLedger
	Provenance storage.ProvenanceStore
	// Workers bounds concurrent target posts. Zero means the default.
	Workers int
}

// Fanout posts already-addressed content into additional channels. Each
// target runs independently: its own ledger entry, its own external post,
// its own provenance record. One target's failure never stops another's.
//
// Cross-post targets inherit the subscription check performed for the
// primary post; per-target channel access is enforced by the channel API
// itself at post time.
type Fanout struct {
	channels   channelapi.API
	ledger     storage.OperationLedger
	provenance storage.ProvenanceStore
	workers    int
}

// NewFanout builds a cross-post fan-out.
func NewFanout(cfg FanoutConfig) (*Fanout, error) {
	if cfg.Channels == nil {
		return nil, fmt.Errorf("channel api is required")
	}
	if cfg.Ledger == nil {
		return nil, fmt.Errorf("operation ledger is required")
	}
	if cfg.Provenance == nil {
		return nil, fmt.Errorf("provenance store is required")
	}
	if cfg.Workers < 0 {
		return nil, fmt.Errorf("fanout workers must not be negative")
	}
	if cfg.Workers == 0 {
		cfg.Workers = defaultFanoutWorkers
	}
	return &Fanout{
		channels:   cfg.Channels,
		ledger:     cfg.Ledger,
		provenance: cfg.Provenance,
		workers:    cfg.Workers,
	}, nil
}

// Run posts content into every target channel and returns one result per
// target in request order. Results carry either the external post id or the
// target's failure; Run itself never fails.
func (f *Fanout) Run(ctx context.Context, identity requestctx.Identity, hash, text string, targets []string) []storage.CrossPostResult {
	results := make([]storage.CrossPostResult, len(targets))
	sem := make(chan struct{}, f.workers)
	var wg sync.WaitGroup
	for i, target := range targets {
		wg.Add(1)
		go func(i int, target string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			results[i] = f.postTarget(ctx, identity, hash, text, target)
		}(i, target)
	}
	wg.Wait()
	return results
}

// AggregateStatus folds per-target results into one status: completed when
// every target succeeded, failed when none did, partial otherwise.
func AggregateStatus(results []storage.CrossPostResult) storage.Status {
	if len(results) == 0 {
		return storage.StatusCompleted
	}
	succeeded := 0
	for _, result := range results {
		if result.Error == "" {
			succeeded++
		}
	}
	switch succeeded {
	case len(results):
		return storage.StatusCompleted
	case 0:
		return storage.StatusFailed
	}
	return storage.StatusPartial
}

func (f *Fanout) postTarget(ctx context.Context, identity requestctx.Identity, hash, text, target string) storage.CrossPostResult {
	ctx, span := tracer.Start(ctx, "publisher.cross_post", trace.WithAttributes(
		attribute.String("identity.id", identity.ID),
		attribute.String("channel.id", target),
		attribute.String("content.hash", hash),
	))
	defer span.End()

	result := f.postTargetEntry(ctx, identity, hash, text, target)
	if result.Error != "" {
		span.SetStatus(otelcodes.Error, result.Error)
	} else if result.PostID != "" {
		span.SetAttributes(attribute.String("post.id", result.PostID))
	}
	return result
}

func (f *Fanout) postTargetEntry(ctx context.Context, identity requestctx.Identity, hash, text, target string) storage.CrossPostResult {
	result := storage.CrossPostResult{ChannelID: target}
	if strings.TrimSpace(target) == "" {
		result.Error = "channel id is required"
		return result
	}

	key := storage.OperationKey{
		IdentityID:  identity.ID,
		ChannelID:   target,
		ContentHash: hash,
		Operation:   storage.OperationPublish,
	}
	beginCtx, cancelBegin := context.WithTimeout(ctx, timeouts.LedgerWrite)
	entry, created, err := f.ledger.BeginOperation(beginCtx, storage.OperationEntry{Key: key})
	cancelBegin()
	if err != nil {
		result.Error = fmt.Sprintf("begin operation: %v", err)
		return result
	}
	if !created {
		// The same identity already posted this content to the target, or
		// an identical request is still in flight.
		switch entry.Status {
		case storage.StatusCompleted, storage.StatusPartial:
			result.PostID = entry.ExternalPostID
		case storage.StatusPending:
			result.Error = "an identical cross-post is already in progress"
		default:
			result.Error = fmt.Sprintf("unexpected ledger status %q", entry.Status)
		}
		return result
	}

	postCtx, cancelPost := context.WithTimeout(ctx, timeouts.ChannelPost)
	postID, err := f.channels.PostCast(postCtx, target, text)
	cancelPost()
	if err != nil {
		result.Error = err.Error()
		f.finishTarget(ctx, key, storage.OperationOutcome{
			Status:    storage.StatusFailed,
			LastError: err.Error(),
		})
		return result
	}
	result.PostID = postID

	status := storage.StatusCompleted
	provCtx, cancelProv := context.WithTimeout(ctx, timeouts.LedgerWrite)
	err = f.provenance.AppendProvenance(provCtx, storage.ProvenanceRecord{
		WalletAddress: identity.WalletAddress,
		ChannelID:     target,
		ContentHash:   hash,
	})
	cancelProv()
	if err != nil {
		log.Printf("publisher: cross-post provenance append failed identity=%q channel=%q post=%q err=%v",
			identity.ID, target, postID, err)
		status = storage.StatusPartial
	}

	f.finishTarget(ctx, key, storage.OperationOutcome{
		Status:         status,
		ExternalPostID: postID,
	})
	return result
}

func (f *Fanout) finishTarget(ctx context.Context, key storage.OperationKey, outcome storage.OperationOutcome) {
	writeCtx, cancel := context.WithTimeout(ctx, timeouts.LedgerWrite)
	defer cancel()
	if err := f.ledger.FinishOperation(writeCtx, key, outcome); err != nil {
		log.Printf("publisher: finish cross-post failed identity=%q channel=%q status=%q err=%v",
			key.IdentityID, key.ChannelID, outcome.Status, err)
	}
}
