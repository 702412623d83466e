package security

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	stderrors "errors"
	"time"

	"maritime-query-engine/internal/common/auth"
	"maritime-query-engine/internal/common/errors"
	"maritime-query-engine/internal/common/logger"
	"maritime-query-engine/internal/models"

	"github.com/redis/go-redis/v9"
)

const DefaultTenantClaim = "tenant_id"

// Verifier turns a bearer token into verified claims.
type Verifier interface {
	Verify(ctx context.Context, token string) (*Claims, error)
}

// Introspector is the token check the verifier delegates to.
type Introspector interface {
	Introspect(ctx context.Context, token string) (*auth.TokenInfo, error)
}

// IntrospectionVerifier verifies tokens through an introspection endpoint
// and caches the resulting claims in Redis until the token expires or the
// cache TTL runs out, whichever comes first.
type IntrospectionVerifier struct {
	introspector Introspector
	cache        *redis.Client
	ttl          time.Duration
	tenantClaim  string
	logger       logger.Logger
	now          func() time.Time
}

// NewIntrospectionVerifier builds a verifier. cache may be nil.
func NewIntrospectionVerifier(introspector Introspector, cache *redis.Client, ttl time.Duration, tenantClaim string, log logger.Logger) *IntrospectionVerifier {
	if tenantClaim == "" {
		tenantClaim = DefaultTenantClaim
	}
	return &IntrospectionVerifier{
		introspector: introspector,
		cache:        cache,
		ttl:          ttl,
		tenantClaim:  tenantClaim,
		logger:       log.WithFields(map[string]interface{}{"component": "verifier"}),
		now:          time.Now,
	}
}

func claimsKey(token string) string {
	sum := sha256.Sum256([]byte(token))
	return "mqe:claims:" + hex.EncodeToString(sum[:])
}

func (v *IntrospectionVerifier) Verify(ctx context.Context, token string) (*Claims, error) {
	if token == "" {
		return nil, errors.NewAccessDeniedError("missing bearer token")
	}

	if v.cache != nil {
		data, err := v.cache.Get(ctx, claimsKey(token)).Bytes()
		switch {
		case err == nil:
			var claims Claims
			if jsonErr := json.Unmarshal(data, &claims); jsonErr == nil {
				return &claims, nil
			}
		case !stderrors.Is(err, redis.Nil):
			v.logger.Warn("Claims cache lookup failed", map[string]interface{}{"error": err.Error()})
		}
	}

	info, err := v.introspector.Introspect(ctx, token)
	if err != nil {
		return nil, err
	}

	claims := &Claims{
		Subject:  info.Sub,
		TenantID: info.StringClaim(v.tenantClaim),
	}
	for _, r := range info.RealmAccess.Roles {
		if role := models.Role(r); role.Valid() {
			claims.Roles = append(claims.Roles, role)
		}
	}
	if claims.TenantID == "" {
		return nil, errors.NewAccessDeniedError("token carries no tenant claim")
	}
	if claims.Subject == "" {
		return nil, errors.NewAccessDeniedError("token carries no subject")
	}

	if v.cache != nil {
		v.store(ctx, token, claims, info.ExpiresAt())
	}
	return claims, nil
}

func (v *IntrospectionVerifier) store(ctx context.Context, token string, claims *Claims, expiresAt time.Time) {
	ttl := v.ttl
	if !expiresAt.IsZero() {
		if remaining := expiresAt.Sub(v.now()); remaining < ttl {
			ttl = remaining
		}
	}
	if ttl <= 0 {
		return
	}
	data, err := json.Marshal(claims)
	if err != nil {
		return
	}
	if err := v.cache.Set(ctx, claimsKey(token), data, ttl).Err(); err != nil {
		v.logger.Warn("Claims cache store failed", map[string]interface{}{"error": err.Error()})
	}
}
