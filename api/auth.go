/*
auth.go - Identity resolution for API callers

PURPOSE:
  Resolves the acting user from a bearer token before any handler runs.
  The engine only checks state-machine roles (owner-only cancel); who may
  call which endpoint is decided here.

TOKEN:
  HS256 JWT with claims {"uid", "eid", "role"} plus the registered claims.
  "eid" is the employee the user acts as, "role" one of employee, manager, hr.

DEV MODE:
  An empty secret disables token checks. Every caller is then an HR user
  named "dev"; the X-Employee-ID header sets the employee it acts as so
  owner-only operations can still be exercised.

SEE ALSO:
  - server.go: Middleware order
  - config/config.go: auth.jwt_secret, auth.issuer
*/
package api

import (
	"context"
	"errors"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/warp/leave-engine/leave"
)

// Identity is the authenticated caller.
type Identity struct {
	UserID     string
	EmployeeID leave.EmployeeID
	Role       leave.Role
}

// Claims is the token payload.
type Claims struct {
	UserID     string `json:"uid"`
	EmployeeID string `json:"eid,omitempty"`
	Role       string `json:"role"`
	jwt.RegisteredClaims
}

type ctxKey struct{}

func withIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// IdentityFrom returns the caller resolved by the auth middleware.
func IdentityFrom(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(ctxKey{}).(Identity)
	return id, ok
}

// Authenticator issues and verifies tokens.
type Authenticator struct {
	secret []byte
	issuer string
}

func NewAuthenticator(secret, issuer string) *Authenticator {
	return &Authenticator{secret: []byte(secret), issuer: issuer}
}

// Enabled is false in dev mode.
func (a *Authenticator) Enabled() bool { return len(a.secret) > 0 }

// Issue signs a token for id valid for ttl.
func (a *Authenticator) Issue(id Identity, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID:     id.UserID,
		EmployeeID: string(id.EmployeeID),
		Role:       string(id.Role),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    a.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

// Parse verifies a token and returns the identity it carries.
func (a *Authenticator) Parse(token string) (Identity, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if a.issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.issuer))
	}
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(*jwt.Token) (any, error) {
		return a.secret, nil
	}, opts...)
	if err != nil {
		return Identity{}, err
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return Identity{}, errors.New("invalid token")
	}
	role := leave.Role(claims.Role)
	if claims.UserID == "" || !role.Valid() {
		return Identity{}, errors.New("token is missing uid or has an unknown role")
	}
	return Identity{UserID: claims.UserID, EmployeeID: leave.EmployeeID(claims.EmployeeID), Role: role}, nil
}

// Middleware rejects requests without a valid bearer token and stores the
// identity in the request context.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.Enabled() {
			id := Identity{UserID: "dev", Role: leave.RoleHR, EmployeeID: leave.EmployeeID(r.Header.Get("X-Employee-ID"))}
			next.ServeHTTP(w, r.WithContext(withIdentity(r.Context(), id)))
			return
		}

		token, found := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !found || token == "" {
			writeJSON(w, http.StatusUnauthorized, ErrorResponse{Error: "missing bearer token", Code: CodeUnauthorized})
			return
		}
		id, err := a.Parse(token)
		if err != nil {
			writeJSON(w, http.StatusUnauthorized, ErrorResponse{Error: "invalid token", Code: CodeUnauthorized, Details: err.Error()})
			return
		}
		next.ServeHTTP(w, r.WithContext(withIdentity(r.Context(), id)))
	})
}

// RequireRole lets through callers holding one of roles.
func RequireRole(roles ...leave.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, ok := IdentityFrom(r.Context())
			if !ok || !slices.Contains(roles, id.Role) {
				writeJSON(w, http.StatusForbidden, ErrorResponse{Error: "role not allowed", Code: CodeForbidden})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
