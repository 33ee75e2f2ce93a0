package router

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumenspa/receptionist/internal/booking"
	"github.com/lumenspa/receptionist/internal/http/handlers"
	"github.com/lumenspa/receptionist/internal/locks"
	"github.com/lumenspa/receptionist/internal/slots"
	"github.com/lumenspa/receptionist/internal/store"
	"github.com/lumenspa/receptionist/internal/timeutil"
	"github.com/lumenspa/receptionist/internal/turn"
	"github.com/lumenspa/receptionist/pkg/logging"
)

func testRouter(t *testing.T) http.Handler {
	t.Helper()
	logger := logging.Default()
	zone := timeutil.MustZone("America/New_York")
	mem := store.NewMemory()

	engine := slots.NewEngine(zone, slots.DefaultTTL, logger)
	bk := booking.NewOrchestrator(booking.NewTools(nil, zone, logger), engine, mem, zone, logger, nil)
	turnOrch := turn.NewOrchestrator(mem, nil, bk, zone, "Lumen Aesthetics", logger, nil)

	h := handlers.New(handlers.Deps{
		Store:  mem,
		Turn:   turnOrch,
		Locks:  locks.NewKeyed(),
		Dedup:  locks.NewDeduper(nil, 0, logger),
		Zone:   zone,
		Logger: logger,
	})

	reg := prometheus.NewRegistry()
	return New(&Config{
		Logger:         logger,
		Handlers:       h,
		MetricsHandler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
	})
}

func TestRouterRoutes(t *testing.T) {
	r := testRouter(t)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"ok"`)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/webhooks/sms", strings.NewReader("{not json")))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/webhooks/email", strings.NewReader(`{"from":""}`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nope", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
