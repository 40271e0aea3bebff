package api

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTenantMiddleware(t *testing.T) {
	tenantID := uuid.New()

	var got uuid.UUID
	handler := TenantMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = TenantFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/bookings", nil)
	req.Header.Set(TenantHeader, tenantID.String())
	handler.ServeHTTP(httptest.NewRecorder(), req)
	assert.Equal(t, tenantID, got)

	// Absent or malformed headers leave the context tenant-less; the
	// service rejects the request downstream.
	req = httptest.NewRequest(http.MethodGet, "/bookings", nil)
	handler.ServeHTTP(httptest.NewRecorder(), req)
	assert.Equal(t, uuid.Nil, got)

	req = httptest.NewRequest(http.MethodGet, "/bookings", nil)
	req.Header.Set(TenantHeader, "not-a-uuid")
	handler.ServeHTTP(httptest.NewRecorder(), req)
	assert.Equal(t, uuid.Nil, got)
}

func TestRequestIDMiddleware(t *testing.T) {
	var got string
	handler := RequestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = GetRequestID(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "req-123")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, "req-123", got)
	assert.Equal(t, "req-123", rec.Header().Get("X-Request-ID"))

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.NotEmpty(t, got)
	_, err := uuid.Parse(got)
	assert.NoError(t, err)
}

func TestParseRangeParams(t *testing.T) {
	newReq := func(query url.Values) *http.Request {
		return httptest.NewRequest(http.MethodGet, "/bookings?"+query.Encode(), nil)
	}

	t.Run("valid range", func(t *testing.T) {
		rec := httptest.NewRecorder()
		from, to, ok := parseRangeParams(rec, newReq(url.Values{
			"from": {"2026-09-14T09:00:00Z"},
			"to":   {"2026-09-14T17:00:00Z"},
		}), "from", "to")

		require.True(t, ok)
		assert.True(t, to.After(from))
	})

	t.Run("missing param", func(t *testing.T) {
		rec := httptest.NewRecorder()
		_, _, ok := parseRangeParams(rec, newReq(url.Values{
			"from": {"2026-09-14T09:00:00Z"},
		}), "from", "to")

		assert.False(t, ok)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("inverted range", func(t *testing.T) {
		rec := httptest.NewRecorder()
		_, _, ok := parseRangeParams(rec, newReq(url.Values{
			"from": {"2026-09-14T17:00:00Z"},
			"to":   {"2026-09-14T09:00:00Z"},
		}), "from", "to")

		assert.False(t, ok)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}
