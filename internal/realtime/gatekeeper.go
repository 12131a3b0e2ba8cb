// internal/realtime/gatekeeper.go
// Admission for socket connections: credential, verification, revocation
// and the per-user connection cap, in that order.

package realtime

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/imadgeboyega/kiekky-chat/internal/auth"
	"github.com/imadgeboyega/kiekky-chat/internal/common/utils"
)

var (
	ErrMissingCredential  = errors.New("missing credential")
	ErrInvalidCredential  = errors.New("invalid credential")
	ErrRevokedCredential  = errors.New("revoked credential")
	ErrTooManyConnections = errors.New("connection limit reached")
	ErrAuthUnavailable    = errors.New("authentication unavailable")
)

// TokenValidator verifies access tokens, including revocation
type TokenValidator interface {
	ValidateToken(ctx context.Context, token string) (*utils.JWTClaims, error)
}

// Rejection is returned by Admit. Only Status and ErrorID reach the client.
type Rejection struct {
	Err     error
	ErrorID string
	Status  int
}

func (r *Rejection) Error() string { return fmt.Sprintf("%v (error id %s)", r.Err, r.ErrorID) }
func (r *Rejection) Unwrap() error { return r.Err }

// PublicMessage is the generic text sent with the status
func (r *Rejection) PublicMessage() string {
	switch r.Status {
	case http.StatusTooManyRequests:
		return "Too many connections"
	case http.StatusServiceUnavailable:
		return "Authentication temporarily unavailable"
	default:
		return "Unauthorized"
	}
}

type Gatekeeper struct {
	tokens  TokenValidator
	counter *ConnectionCounter
}

func NewGatekeeper(tokens TokenValidator, counter *ConnectionCounter) *Gatekeeper {
	return &Gatekeeper{tokens: tokens, counter: counter}
}

// Admit authenticates r and reserves a connection slot. The caller must
// release the slot through the counter when the connection ends.
func (g *Gatekeeper) Admit(r *http.Request) (*utils.JWTClaims, error) {
	// 1. Credential from the header, else the query string
	token := auth.ExtractBearerToken(r)
	if token == "" {
		token = strings.TrimSpace(r.URL.Query().Get("token"))
	}
	if token == "" {
		return nil, g.reject(r, ErrMissingCredential, http.StatusUnauthorized, nil)
	}

	// 2. Signature, expiry and revocation
	claims, err := g.tokens.ValidateToken(r.Context(), token)
	switch {
	case err == nil:
	case errors.Is(err, auth.ErrTokenRevoked):
		return nil, g.reject(r, ErrRevokedCredential, http.StatusUnauthorized, err)
	case errors.Is(err, utils.ErrTokenInvalid), errors.Is(err, utils.ErrTokenExpired):
		return nil, g.reject(r, ErrInvalidCredential, http.StatusUnauthorized, err)
	default:
		// revocation store down: fail closed
		return nil, g.reject(r, ErrAuthUnavailable, http.StatusServiceUnavailable, err)
	}

	// 3. Connection cap
	if !g.counter.Acquire(claims.UserID) {
		return nil, g.reject(r, ErrTooManyConnections, http.StatusTooManyRequests,
			fmt.Errorf("user %d already has %d connections", claims.UserID, g.counter.Count(claims.UserID)))
	}

	return claims, nil
}

func (g *Gatekeeper) reject(r *http.Request, reason error, status int, cause error) *Rejection {
	rej := &Rejection{Err: reason, ErrorID: uuid.NewString(), Status: status}
	if cause != nil {
		log.Printf("⚠️  [%s] socket rejected from %s: %v: %v", rej.ErrorID, r.RemoteAddr, reason, cause)
	} else {
		log.Printf("⚠️  [%s] socket rejected from %s: %v", rej.ErrorID, r.RemoteAddr, reason)
	}
	rejectionsTotal.WithLabelValues(rejectionReason(reason)).Inc()
	return rej
}

func rejectionReason(err error) string {
	switch {
	case errors.Is(err, ErrMissingCredential):
		return "missing"
	case errors.Is(err, ErrInvalidCredential):
		return "invalid"
	case errors.Is(err, ErrRevokedCredential):
		return "revoked"
	case errors.Is(err, ErrTooManyConnections):
		return "cap"
	default:
		return "unavailable"
	}
}
