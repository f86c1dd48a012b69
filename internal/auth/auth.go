// Package auth resolves tenant identity for incoming requests. Tenant-scoped
// operations read the tenant id from the request context; requests without a
// resolved tenant are rejected before reaching the service layer.
package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/apitize/version-service/internal/models"
)

type ctxKey string

const ctxKeyTenant ctxKey = "apitize.tenant"

// TenantInfo is the identity extracted for the request.
type TenantInfo struct {
	TenantID string
	Subject  string
}

// FromContext returns the resolved tenant info, or nil.
func FromContext(ctx context.Context) *TenantInfo {
	if ti, ok := ctx.Value(ctxKeyTenant).(*TenantInfo); ok {
		return ti
	}
	return nil
}

// TenantID returns the resolved tenant id or ErrTenantContextMissing.
func TenantID(ctx context.Context) (string, error) {
	ti := FromContext(ctx)
	if ti == nil || ti.TenantID == "" {
		return "", models.ErrTenantContextMissing
	}
	return ti.TenantID, nil
}

// WithTenant attaches tenant info to ctx. Used by tests and internal
// callers that already resolved identity.
func WithTenant(ctx context.Context, ti *TenantInfo) context.Context {
	return context.WithValue(ctx, ctxKeyTenant, ti)
}

type MiddlewareConfig struct {
	// JWTSecret verifies HS256 bearer tokens carrying a "tenant_id" claim.
	JWTSecret []byte

	// AllowTenantHeader accepts a bare X-Tenant-ID header instead of a
	// token. Development only.
	AllowTenantHeader bool
}

// Middleware resolves the tenant for each request and stores it in the
// context. Requests that cannot be resolved get 401 with the taxonomy
// message.
func Middleware(cfg MiddlewareConfig) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ti, err := resolve(cfg, r)
			if err != nil {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
				return
			}
			next.ServeHTTP(w, r.WithContext(WithTenant(r.Context(), ti)))
		})
	}
}

func resolve(cfg MiddlewareConfig, r *http.Request) (*TenantInfo, error) {
	if cfg.AllowTenantHeader {
		if tenant := r.Header.Get("X-Tenant-ID"); tenant != "" {
			return &TenantInfo{TenantID: tenant}, nil
		}
	}

	authz := r.Header.Get("Authorization")
	if !strings.HasPrefix(strings.ToLower(authz), "bearer ") {
		return nil, models.ErrTenantContextMissing
	}
	raw := strings.TrimSpace(authz[7:])

	if len(cfg.JWTSecret) == 0 {
		return nil, models.ErrTenantContextMissing
	}

	claims := jwt.MapClaims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return cfg.JWTSecret, nil
	})
	if err != nil || !token.Valid {
		return nil, models.ErrTenantContextMissing
	}

	tenant, _ := claims["tenant_id"].(string)
	if tenant == "" {
		return nil, models.ErrTenantContextMissing
	}
	subject, _ := claims["sub"].(string)
	return &TenantInfo{TenantID: tenant, Subject: subject}, nil
}
