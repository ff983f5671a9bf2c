package auth

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssueAndParse(t *testing.T) {
	signer := NewSigner("test-secret", time.Hour)

	token, err := signer.Issue("user-1", RolePharmacist, "ph-1")
	require.NoError(t, err)

	claims, err := signer.Parse(token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.UserID)
	assert.Equal(t, RolePharmacist, claims.Role)
	assert.Equal(t, "ph-1", claims.PartyID())
}

func TestParseRejects(t *testing.T) {
	signer := NewSigner("test-secret", time.Hour)

	other, _ := NewSigner("other-secret", time.Hour).Issue("user-1", RoleAdmin, "")
	_, err := signer.Parse(other)
	assert.ErrorIs(t, err, ErrInvalidToken)

	expired, _ := NewSigner("test-secret", -time.Minute).Issue("user-1", RoleAdmin, "")
	_, err = signer.Parse(expired)
	assert.ErrorIs(t, err, ErrInvalidToken)

	none, _ := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{UserID: "u", Role: RoleAdmin}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	_, err = signer.Parse(none)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestPartyID(t *testing.T) {
	assert.Equal(t, "pat-1", (&Claims{UserID: "pat-1", Role: RolePatient}).PartyID())
	assert.Equal(t, "u-2", (&Claims{UserID: "u-2", Role: RolePharmacist}).PartyID())
}

func TestMiddlewareAndRequireRole(t *testing.T) {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	signer := NewSigner("test-secret", time.Hour)

	handler := signer.Middleware(logger)(RequireRole(RoleAdmin, RoleSystem)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, ok := ClaimsFromContext(r.Context())
		require.True(t, ok)
		assert.Equal(t, claims.UserID, SubjectKey(r))
		w.WriteHeader(http.StatusNoContent)
	})))

	tests := []struct {
		name     string
		role     string
		header   string
		query    string
		expected int
	}{
		{name: "missing", expected: http.StatusUnauthorized},
		{name: "garbage", header: "Bearer nope", expected: http.StatusUnauthorized},
		{name: "patient_forbidden", role: RolePatient, expected: http.StatusForbidden},
		{name: "admin_allowed", role: RoleAdmin, expected: http.StatusNoContent},
		{name: "system_via_query", role: RoleSystem, query: "token", expected: http.StatusNoContent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/admin/orders/expire", nil)
			header := tt.header
			if tt.role != "" {
				token, err := signer.Issue("user-"+tt.role, tt.role, "")
				require.NoError(t, err)
				if tt.query != "" {
					req = httptest.NewRequest(http.MethodPost, "/admin/orders/expire?token="+token, nil)
				} else {
					header = "Bearer " + token
				}
			}
			if header != "" {
				req.Header.Set("Authorization", header)
			}

			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			assert.Equal(t, tt.expected, rec.Code)
		})
	}
}
