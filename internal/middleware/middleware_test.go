package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stustapay/stustapay-sub000/internal/apierror"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() { gin.SetMode(gin.TestMode) }

func serve(r *gin.Engine, method, path string, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	for k, v := range header {
		req.Header[k] = v
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestLimiter_WindowResets(t *testing.T) {
	now := time.Date(2026, 7, 1, 12, 0, 0, 0, time.UTC)
	l := NewLimiter("test", 2, time.Minute)
	l.now = func() time.Time { return now }

	ok, _ := l.Allow("a")
	assert.True(t, ok)
	ok, _ = l.Allow("a")
	assert.True(t, ok)
	ok, end := l.Allow("a")
	assert.False(t, ok)
	assert.Equal(t, now.Add(time.Minute), end)

	ok, _ = l.Allow("b")
	assert.True(t, ok, "keys are counted separately")

	now = now.Add(61 * time.Second)
	ok, _ = l.Allow("a")
	assert.True(t, ok)
}

func TestLimiter_PurgesExpiredWindows(t *testing.T) {
	now := time.Date(2026, 7, 1, 12, 0, 0, 0, time.UTC)
	l := NewLimiter("test", 5, time.Minute)
	l.now = func() time.Time { return now }

	l.Allow("a")
	l.Allow("b")
	now = now.Add(10 * time.Minute)
	l.Allow("c")
	assert.Len(t, l.windows, 1)
}

func TestLoginRateLimiter_PerRoute(t *testing.T) {
	r := gin.New()
	l := NewLimiter("login", 1, time.Minute)
	ok := func(c *gin.Context) { c.Status(http.StatusOK) }
	r.POST("/auth/login", LoginRateLimiter(l), ok)
	r.POST("/customer-portal/auth/login", LoginRateLimiter(l), ok)

	assert.Equal(t, http.StatusOK, serve(r, http.MethodPost, "/auth/login", nil).Code)
	w := serve(r, http.MethodPost, "/auth/login", nil)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))
	assert.Equal(t, http.StatusOK, serve(r, http.MethodPost, "/customer-portal/auth/login", nil).Code)
}

func TestCORS_EchoesListedOrigin(t *testing.T) {
	r := gin.New()
	r.Use(CORS([]string{"https://portal.example.org"}))
	r.GET("/customer", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := serve(r, http.MethodGet, "/customer", http.Header{"Origin": {"https://portal.example.org"}})
	assert.Equal(t, "https://portal.example.org", w.Header().Get("Access-Control-Allow-Origin"))

	w = serve(r, http.MethodGet, "/customer", http.Header{"Origin": {"https://evil.example"}})
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, http.StatusOK, w.Code)

	w = serve(r, http.MethodOptions, "/customer", http.Header{"Origin": {"https://portal.example.org"}})
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestRequestID_PropagatesHeader(t *testing.T) {
	r := gin.New()
	r.Use(RequestID())
	var seen string
	r.GET("/", func(c *gin.Context) { seen = c.GetString(RequestIDKey) })

	w := serve(r, http.MethodGet, "/", http.Header{"X-Request-Id": {"abc"}})
	assert.Equal(t, "abc", seen)
	assert.Equal(t, "abc", w.Header().Get("X-Request-ID"))

	w = serve(r, http.MethodGet, "/", nil)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestErrorHandler_RendersEnvelope(t *testing.T) {
	r := gin.New()
	r.Use(ErrorHandler())
	r.GET("/funds", func(c *gin.Context) {
		_ = c.Error(apierror.NotEnoughFunds(decimal.RequireFromString("5"), decimal.RequireFromString("2")))
	})
	r.GET("/boom", func(c *gin.Context) { _ = c.Error(apierror.Internal("db password is hunter2")) })

	w := serve(r, http.MethodGet, "/funds", nil)
	require.Equal(t, http.StatusBadRequest, w.Code)
	var body struct {
		Error map[string]any `json:"error"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "NotEnoughFunds", body.Error["id"])
	assert.Equal(t, "5", body.Error["needed"])

	w = serve(r, http.MethodGet, "/boom", nil)
	require.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), "hunter2")
}

func TestRecovery_TurnsPanicInto500(t *testing.T) {
	r := gin.New()
	r.Use(Recovery())
	r.GET("/", func(c *gin.Context) { panic("nil map") })

	w := serve(r, http.MethodGet, "/", nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "Internal")
}
