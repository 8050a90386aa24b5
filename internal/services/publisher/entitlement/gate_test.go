package entitlement

import (
	"context"
	"errors"
	"testing"
	"time"

	apperrors "github.com/louisbranch/castgate/internal/platform/errors"
	"github.com/louisbranch/castgate/internal/platform/requestctx"
)

type fakeReader struct {
	subscribed    bool
	subscribeErr  error
	access        map[string]bool
	accessErr     error
	subscribeLoad time.Duration
}

func (f *fakeReader) IsSubscribed(ctx context.Context, _ string) (bool, error) {
	if f.subscribeLoad > 0 {
		select {
		case <-time.After(f.subscribeLoad):
		case <-ctx.Done():
			return false, ctx.Err()
		}
	}
	return f.subscribed, f.subscribeErr
}

func (f *fakeReader) HasChannelAccess(_ context.Context, _ string, channelID string) (bool, error) {
	if f.accessErr != nil {
		return false, f.accessErr
	}
	return f.access[channelID], nil
}

var testIdentity = requestctx.Identity{ID: "123", WalletAddress: "0xabc"}

func TestRequireSubscriptionAllowsSubscribed(t *testing.T) {
	gate := NewGate(&fakeReader{subscribed: true})

	if err := gate.RequireSubscription(context.Background(), testIdentity); err != nil {
		t.Fatalf("expected allow, got %v", err)
	}
}

func TestRequireSubscriptionDeniesUnsubscribed(t *testing.T) {
	gate := NewGate(&fakeReader{subscribed: false})

	err := gate.RequireSubscription(context.Background(), testIdentity)
	if apperrors.CodeOf(err) != apperrors.CodeEntitlementNotSubscribed {
		t.Fatalf("expected CodeEntitlementNotSubscribed, got %v", err)
	}
	if err.Error() != "Active subscription required" {
		t.Fatalf("message = %q", err.Error())
	}
}

func TestRequireSubscriptionFailsClosedOnReadError(t *testing.T) {
	gate := NewGate(&fakeReader{subscribed: true, subscribeErr: errors.New("rpc unreachable")})

	err := gate.RequireSubscription(context.Background(), testIdentity)
	if apperrors.CodeOf(err) != apperrors.CodeEntitlementCheckFailed {
		t.Fatalf("expected fail-closed entitlement error, got %v", err)
	}
}

func TestRequireSubscriptionFailsClosedOnTimeout(t *testing.T) {
	gate := NewGate(&fakeReader{subscribed: true, subscribeLoad: time.Minute})
	gate.timeout = 10 * time.Millisecond

	err := gate.RequireSubscription(context.Background(), testIdentity)
	if apperrors.CodeOf(err) != apperrors.CodeEntitlementCheckFailed {
		t.Fatalf("expected fail-closed entitlement error, got %v", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline cause, got %v", err)
	}
}

func TestRequireChannelAccessAllowsGranted(t *testing.T) {
	gate := NewGate(&fakeReader{access: map[string]bool{"/cryptobaddies": true}})

	if err := gate.RequireChannelAccess(context.Background(), testIdentity, "/cryptobaddies"); err != nil {
		t.Fatalf("expected allow, got %v", err)
	}
}

func TestRequireChannelAccessDeniesMissing(t *testing.T) {
	gate := NewGate(&fakeReader{access: map[string]bool{}})

	err := gate.RequireChannelAccess(context.Background(), testIdentity, "/parenting")
	if apperrors.CodeOf(err) != apperrors.CodeEntitlementNoChannelAccess {
		t.Fatalf("expected CodeEntitlementNoChannelAccess, got %v", err)
	}
}

func TestRequireChannelAccessFailsClosedOnReadError(t *testing.T) {
	gate := NewGate(&fakeReader{accessErr: errors.New("rpc unreachable")})

	err := gate.RequireChannelAccess(context.Background(), testIdentity, "/cryptobaddies")
	if apperrors.CodeOf(err) != apperrors.CodeEntitlementCheckFailed {
		t.Fatalf("expected fail-closed entitlement error, got %v", err)
	}
}
