package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"maritime-query-engine/internal/common/errors"
)

func introspectionServer(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/realms/maritime/protocol/openid-connect/token/introspect", r.URL.Path)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "query-engine", r.PostForm.Get("client_id"))
		assert.Equal(t, "access_token", r.PostForm.Get("token_type_hint"))
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestIntrospect_ActiveToken(t *testing.T) {
	srv := introspectionServer(t, http.StatusOK, `{
		"active": true,
		"sub": "user-7",
		"exp": 1900000000,
		"tenant_id": "vessel-a",
		"realm_access": {"roles": ["engineer", "offline_access"]}
	}`)
	kc := NewKeycloakClient(srv.URL+"/", "maritime", "query-engine", "secret")

	info, err := kc.Introspect(context.Background(), "tok")
	require.NoError(t, err)
	assert.Equal(t, "user-7", info.Sub)
	assert.Equal(t, "vessel-a", info.StringClaim("tenant_id"))
	assert.Equal(t, []string{"engineer", "offline_access"}, info.RealmAccess.Roles)
	assert.Equal(t, int64(1900000000), info.ExpiresAt().Unix())
}

func TestIntrospect_Failures(t *testing.T) {
	tests := []struct {
		name          string
		status        int
		body          string
		wantKind      errors.Kind
		wantRetryable bool
	}{
		{"inactive token", http.StatusOK, `{"active": false}`, errors.KindAccessDenied, false},
		{"unavailable", http.StatusServiceUnavailable, `down`, errors.KindInternal, true},
		{"bad credentials", http.StatusUnauthorized, `{"error":"invalid_client"}`, errors.KindInternal, false},
		{"garbage", http.StatusOK, `not json`, errors.KindInternal, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := introspectionServer(t, tt.status, tt.body)
			kc := NewKeycloakClient(srv.URL, "maritime", "query-engine", "secret")

			_, err := kc.Introspect(context.Background(), "tok")
			require.Error(t, err)
			assert.Equal(t, tt.wantKind, errors.KindOf(err))
			assert.Equal(t, tt.wantRetryable, errors.AsStandard(err).Retryable)
		})
	}
}
