// Package identity verifies bearer tokens into request identities. A token
// carries the caller's external user id and wallet address; after signature
// validation the claims are cross-checked against the channel API's user
// directory so a stale or forged wallet claim cannot pass.
package identity

import (
	"context"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	apperrors "github.com/louisbranch/castgate/internal/platform/errors"
	"github.com/louisbranch/castgate/internal/platform/requestctx"
	"github.com/louisbranch/castgate/internal/services/publisher/channelapi"
)

// Directory resolves external user profiles for claim verification.
type Directory interface {
	LookupUser(ctx context.Context, userID string) (channelapi.User, error)
}

// Verifier validates bearer tokens and produces request identities.
type Verifier struct {
	secret    []byte
	directory Directory
}

// NewVerifier builds a token verifier with an HS256 shared secret.
func NewVerifier(secret string, directory Directory) (*Verifier, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, fmt.Errorf("token secret is required")
	}
	if directory == nil {
		return nil, fmt.Errorf("user directory is required")
	}
	return &Verifier{secret: []byte(secret), directory: directory}, nil
}

// tokenClaims is the internal claims type used for JWT parsing.
type tokenClaims struct {
	jwt.RegisteredClaims
	FID           string `json:"fid"`
	WalletAddress string `json:"walletAddress"`
}

// Verify validates a bearer token and returns the caller's identity.
func (v *Verifier) Verify(ctx context.Context, token string) (requestctx.Identity, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return requestctx.Identity{}, apperrors.New(apperrors.CodeAuthMissingToken, "missing bearer token")
	}

	var claims tokenClaims
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		return requestctx.Identity{}, apperrors.Wrap(apperrors.CodeAuthInvalidToken, "parse bearer token", err)
	}
	if claims.FID == "" || claims.WalletAddress == "" {
		return requestctx.Identity{}, apperrors.New(apperrors.CodeAuthInvalidToken, "token payload is incomplete")
	}

	user, err := v.directory.LookupUser(ctx, claims.FID)
	if err != nil {
		return requestctx.Identity{}, apperrors.WrapWithMetadata(apperrors.CodeAuthVerificationFailed,
			"verify user against directory",
			map[string]string{"identity": claims.FID},
			err)
	}
	if !strings.EqualFold(user.WalletAddress, claims.WalletAddress) {
		return requestctx.Identity{}, apperrors.WithMetadata(apperrors.CodeAuthVerificationFailed,
			"token wallet does not match directory record",
			map[string]string{"identity": claims.FID})
	}

	return requestctx.Identity{
		ID:            claims.FID,
		WalletAddress: claims.WalletAddress,
	}, nil
}
