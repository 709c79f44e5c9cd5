package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/fastprodman/tcgpacks/internal/config"
	"github.com/fastprodman/tcgpacks/internal/infra/logging"
	"github.com/fastprodman/tcgpacks/internal/repos/users"
	"github.com/golang-jwt/jwt/v5"
)

var (
	errMissingToken = errors.New("missing bearer token")
	errInvalidToken = errors.New("invalid token")
)

// Claims carried by access tokens. The subject is the user id.
type Claims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// Identity is the authenticated caller of a request.
type Identity struct {
	UserID string
	Email  string
	Admin  bool
}

type identityKey struct{}

func withIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

func IdentityFrom(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(Identity)

	return id, ok
}

// IssueToken signs an HS256 access token for userID.
func IssueToken(cfg config.AuthConfig, userID, email string, ttl time.Duration) (string, error) {
	now := time.Now()

	claims := Claims{
		Email: email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    cfg.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(cfg.JWTSecret))
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}

	return s, nil
}

type authenticator struct {
	secret []byte
	issuer string
	users  users.Users
}

func newAuthenticator(cfg config.AuthConfig, u users.Users) (*authenticator, error) {
	if cfg.JWTSecret == "" {
		return nil, errors.New("jwt secret is required")
	}

	return &authenticator{secret: []byte(cfg.JWTSecret), issuer: cfg.Issuer, users: u}, nil
}

// identify validates raw and provisions the user on first sight. Admin
// rights come from the users table, never from the token.
func (a *authenticator) identify(ctx context.Context, raw string) (Identity, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if a.issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.issuer))
	}

	claims := &Claims{}

	_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return a.secret, nil
	}, opts...)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %w", errInvalidToken, err)
	}

	if claims.Subject == "" {
		return Identity{}, fmt.Errorf("%w: empty subject", errInvalidToken)
	}

	u, err := a.users.Ensure(ctx, claims.Subject, claims.Email)
	if err != nil {
		return Identity{}, fmt.Errorf("provision user: %w", err)
	}

	return Identity{UserID: u.ID, Email: u.Email, Admin: u.IsAdmin}, nil
}

func bearerToken(r *http.Request) (string, error) {
	h := r.Header.Get("Authorization")
	if h == "" {
		return "", errMissingToken
	}

	scheme, token, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
		return "", errMissingToken
	}

	return strings.TrimSpace(token), nil
}

// middleware authenticates by Authorization header. When allowQuery is set
// a ?token= parameter is accepted too; browsers cannot set headers on
// websocket upgrades.
func (a *authenticator) middleware(allowQuery bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, err := bearerToken(r)
			if err != nil && allowQuery {
				raw = r.URL.Query().Get("token")
				if raw != "" {
					err = nil
				}
			}

			if err != nil {
				writeError(w, http.StatusUnauthorized, "authentication required")
				return
			}

			id, err := a.identify(r.Context(), raw)
			if err != nil {
				if errors.Is(err, errInvalidToken) {
					writeError(w, http.StatusUnauthorized, "invalid token")
					return
				}

				logging.FromContext(r.Context()).Error("authenticate", "error", err)
				writeError(w, http.StatusInternalServerError, "internal error")

				return
			}

			ctx := withIdentity(r.Context(), id)
			ctx = logging.WithLogger(ctx, logging.FromContext(ctx).With("user_id", id.UserID))

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := IdentityFrom(r.Context())
		if !ok || !id.Admin {
			writeError(w, http.StatusForbidden, "admin access required")
			return
		}

		next.ServeHTTP(w, r)
	})
}
