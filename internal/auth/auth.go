// Package auth turns request credentials into the viewer identity capability the console
// needs: a nullable viewer id and an opaque "has access" flag. Accounts, roles and
// subscriptions are managed elsewhere; tokens are issued by that collaborator.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"mediaconsole/models"
)

// HeaderViewerID carries a viewer id directly when header identity is enabled (development only).
const HeaderViewerID = "X-Viewer-ID"

var (
	ErrSecretRequired = errors.New("jwt secret not configured")
	ErrInvalidToken   = errors.New("invalid token")
)

type contextKey struct{}

// Claims is the token payload: sub is the viewer id, access the opaque entitlement flag.
type Claims struct {
	Access bool `json:"access"`
	jwt.RegisteredClaims
}

// Verifier validates HS256 bearer tokens.
type Verifier struct {
	secret              []byte
	allowHeaderIdentity bool
}

// NewVerifier creates a verifier. An empty secret disables bearer tokens; every request is
// then anonymous unless header identity is allowed.
func NewVerifier(secret string, allowHeaderIdentity bool) *Verifier {
	return &Verifier{secret: []byte(secret), allowHeaderIdentity: allowHeaderIdentity}
}

// Parse validates a raw token and returns the viewer it names.
func (v *Verifier) Parse(raw string) (models.Viewer, error) {
	if len(v.secret) == 0 {
		return models.Anonymous, ErrSecretRequired
	}
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		return v.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return models.Anonymous, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return models.Anonymous, ErrInvalidToken
	}
	sub, err := claims.GetSubject()
	if err != nil || strings.TrimSpace(sub) == "" {
		return models.Anonymous, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	return models.Viewer{ID: sub, HasAccess: claims.Access}, nil
}

// Issue signs a token for viewer. Used by the seeding tool and tests; production tokens come
// from the account service.
func (v *Verifier) Issue(viewer models.Viewer, ttl time.Duration) (string, error) {
	if len(v.secret) == 0 {
		return "", ErrSecretRequired
	}
	now := time.Now().UTC()
	claims := Claims{
		Access: viewer.HasAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  viewer.ID,
			IssuedAt: jwt.NewNumericDate(now),
		},
	}
	if ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}

// Middleware attaches the request's viewer to its context. A missing token yields the
// anonymous viewer; a token that fails validation is rejected with 401.
func (v *Verifier) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		viewer := models.Anonymous

		if raw, ok := bearerToken(r); ok {
			parsed, err := v.Parse(raw)
			if err != nil {
				log.Printf("[auth] rejected token from %s: %v", r.RemoteAddr, err)
				http.Error(w, "invalid or expired token", http.StatusUnauthorized)
				return
			}
			viewer = parsed
		} else if v.allowHeaderIdentity {
			if id := strings.TrimSpace(r.Header.Get(HeaderViewerID)); id != "" {
				viewer = models.Viewer{ID: id, HasAccess: true}
			}
		}

		next.ServeHTTP(w, r.WithContext(WithViewer(r.Context(), viewer)))
	})
}

// WithViewer returns a context carrying viewer.
func WithViewer(ctx context.Context, viewer models.Viewer) context.Context {
	return context.WithValue(ctx, contextKey{}, viewer)
}

// ViewerFromContext returns the viewer attached by Middleware, or the anonymous viewer.
func ViewerFromContext(ctx context.Context) models.Viewer {
	if viewer, ok := ctx.Value(contextKey{}).(models.Viewer); ok {
		return viewer
	}
	return models.Anonymous
}

func bearerToken(r *http.Request) (string, bool) {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if header == "" {
		return "", false
	}
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
