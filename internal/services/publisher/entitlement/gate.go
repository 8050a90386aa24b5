// Package entitlement gates writes behind on-chain subscription and channel
// access checks. The gate fails closed: an unreadable entitlement is a
// denial, never an allow, because a wrongly allowed request triggers
// irreversible external side effects while a wrongly denied one is retryable.
package entitlement

import (
	"context"
	"time"

	apperrors "github.com/louisbranch/castgate/internal/platform/errors"
	"github.com/louisbranch/castgate/internal/platform/requestctx"
	"github.com/louisbranch/castgate/internal/platform/timeouts"
	"github.com/louisbranch/castgate/internal/services/publisher/chain"
)

// Gate answers entitlement questions for verified identities.
type Gate struct {
	reader  chain.Reader
	timeout time.Duration
}

// NewGate builds a gate over the given chain reader.
func NewGate(reader chain.Reader) *Gate {
	return &Gate{reader: reader, timeout: timeouts.ChainRead}
}

// RequireSubscription returns nil when the identity's wallet holds an active
// subscription, and an entitlement error otherwise.
func (g *Gate) RequireSubscription(ctx context.Context, identity requestctx.Identity) error {
	readCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	subscribed, err := g.reader.IsSubscribed(readCtx, identity.WalletAddress)
	if err != nil {
		return apperrors.WrapWithMetadata(apperrors.CodeEntitlementCheckFailed,
			"check subscription",
			map[string]string{"identity": identity.ID, "step": "gate.subscription"},
			err)
	}
	if !subscribed {
		return apperrors.WithMetadata(apperrors.CodeEntitlementNotSubscribed,
			"Active subscription required",
			map[string]string{"identity": identity.ID})
	}
	return nil
}

// RequireChannelAccess returns nil when the identity's wallet may write to
// channelID, and an entitlement error otherwise.
func (g *Gate) RequireChannelAccess(ctx context.Context, identity requestctx.Identity, channelID string) error {
	readCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	access, err := g.reader.HasChannelAccess(readCtx, identity.WalletAddress, channelID)
	if err != nil {
		return apperrors.WrapWithMetadata(apperrors.CodeEntitlementCheckFailed,
			"check channel access",
			map[string]string{"identity": identity.ID, "channel": channelID, "step": "gate.channel_access"},
			err)
	}
	if !access {
		return apperrors.WithMetadata(apperrors.CodeEntitlementNoChannelAccess,
			"No access to channel "+channelID,
			map[string]string{"identity": identity.ID, "channel": channelID})
	}
	return nil
}
