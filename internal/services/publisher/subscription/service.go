// Package subscription handles the subscribe and verify flow. Subscription
// payments settle on-chain; this service only records local intent and
// mirrors the on-chain state once it becomes observable.
package subscription

import (
	"context"
	"fmt"
	"strings"

	apperrors "github.com/louisbranch/castgate/internal/platform/errors"
	"github.com/louisbranch/castgate/internal/platform/requestctx"
	"github.com/louisbranch/castgate/internal/platform/timeouts"
	"github.com/louisbranch/castgate/internal/services/publisher/chain"
	"github.com/louisbranch/castgate/internal/services/publisher/storage"
)

// Instructions tells a caller how to settle the subscription payment.
type Instructions struct {
	ContractAddress string `json:"contractAddress"`
	TokenAddress    string `json:"tokenAddress"`
	Price           string `json:"price"`
}

// ServiceConfig wires the subscription service.
type ServiceConfig struct {
	Reader chain.Reader
	Store  storage.SubscriptionStore
	// ContractAddress is the subscription contract callers pay into.
	ContractAddress string
	// TokenAddress is the payment token contract.
	TokenAddress string
	// Price is the human-readable subscription price, e.g. "5 USDC".
	Price string
}

// Service records subscription intents and verifies on-chain activation.
type Service struct {
	reader       chain.Reader
	store        storage.SubscriptionStore
	instructions Instructions
}

// NewService builds a subscription service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Reader == nil {
		return nil, fmt.Errorf("chain reader is required")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("subscription store is required")
	}
	if strings.TrimSpace(cfg.ContractAddress) == "" {
		return nil, fmt.Errorf("subscription contract address is required")
	}
	if strings.TrimSpace(cfg.TokenAddress) == "" {
		return nil, fmt.Errorf("payment token address is required")
	}
	return &Service{
		reader: cfg.Reader,
		store:  cfg.Store,
		instructions: Instructions{
			ContractAddress: cfg.ContractAddress,
			TokenAddress:    cfg.TokenAddress,
			Price:           cfg.Price,
		},
	}, nil
}

// Subscribe records a pending subscription intent and returns payment
// instructions. An identity already subscribed on-chain has nothing to pay
// for, so the request is rejected as an invalid state transition.
func (s *Service) Subscribe(ctx context.Context, identity requestctx.Identity) (Instructions, error) {
	subscribed, err := s.isSubscribed(ctx, identity)
	if err != nil {
		return Instructions{}, err
	}
	if subscribed {
		return Instructions{}, apperrors.WithMetadata(apperrors.CodeSubscriptionAlreadyActive,
			"Subscription is already active",
			map[string]string{"identity": identity.ID})
	}

	if err := s.store.PutSubscription(ctx, storage.SubscriptionRecord{
		IdentityID:    identity.ID,
		WalletAddress: identity.WalletAddress,
		Status:        storage.SubscriptionPending,
	}); err != nil {
		return Instructions{}, apperrors.Wrap(apperrors.CodeInternal, "record subscription intent", err)
	}
	return s.instructions, nil
}

// Verify re-reads the on-chain subscription state and marks the local record
// active once the chain confirms it. A chain that does not yet show the
// subscription is an invalid state transition, not a server failure: the
// caller retries after the payment settles.
func (s *Service) Verify(ctx context.Context, identity requestctx.Identity) (storage.SubscriptionRecord, error) {
	subscribed, err := s.isSubscribed(ctx, identity)
	if err != nil {
		return storage.SubscriptionRecord{}, err
	}
	if !subscribed {
		return storage.SubscriptionRecord{}, apperrors.WithMetadata(apperrors.CodeSubscriptionNotActive,
			"Subscription is not active on-chain yet",
			map[string]string{"identity": identity.ID})
	}

	record := storage.SubscriptionRecord{
		IdentityID:    identity.ID,
		WalletAddress: identity.WalletAddress,
		Status:        storage.SubscriptionActive,
	}
	if err := s.store.PutSubscription(ctx, record); err != nil {
		return storage.SubscriptionRecord{}, apperrors.Wrap(apperrors.CodeInternal, "activate subscription record", err)
	}
	return record, nil
}

func (s *Service) isSubscribed(ctx context.Context, identity requestctx.Identity) (bool, error) {
	if strings.TrimSpace(identity.ID) == "" || strings.TrimSpace(identity.WalletAddress) == "" {
		return false, apperrors.New(apperrors.CodeAuthVerificationFailed, "verified identity is required")
	}
	readCtx, cancel := context.WithTimeout(ctx, timeouts.ChainRead)
	defer cancel()
	subscribed, err := s.reader.IsSubscribed(readCtx, identity.WalletAddress)
	if err != nil {
		return false, apperrors.WrapWithMetadata(apperrors.CodeEntitlementCheckFailed,
			"check subscription",
			map[string]string{"identity": identity.ID, "step": "subscription.chain_read"},
			err)
	}
	return subscribed, nil
}
