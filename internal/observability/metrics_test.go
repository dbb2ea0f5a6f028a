package observability

import (
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/utils"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusClass(t *testing.T) {
	testCases := []struct {
		status   int
		expected string
	}{
		{200, "2xx"},
		{204, "2xx"},
		{301, "3xx"},
		{400, "4xx"},
		{404, "4xx"},
		{500, "5xx"},
		{503, "5xx"},
		{100, "unknown"},
		{0, "unknown"},
		{600, "5xx"},
	}

	for _, tc := range testCases {
		t.Run(fmt.Sprintf("status_%d", tc.status), func(t *testing.T) {
			assert.Equal(t, tc.expected, statusClass(tc.status))
		})
	}
}

func TestNormalizePath(t *testing.T) {
	assert.Equal(t, "/service/:name", normalizePath("/service/:name", "/service/webpack"))
	assert.Equal(t, "/status", normalizePath("/", "/status"))
	assert.Equal(t, "/status", normalizePath("", "/status"))
	assert.Equal(t, "long_path", normalizePath("", "/static/webpack/a/very/long/path/that/exceeds/fifty/characters.js"))
}

func TestMetrics_RecordBundle(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordBundle("success", 0, 120*time.Millisecond)
	m.RecordBundle("success", 2, 80*time.Millisecond)
	m.RecordBundle("compiler_error", 0, time.Second)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.bundleTotal.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.bundleTotal.WithLabelValues("compiler_error")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.bundleWarnings))
}

func TestMetrics_ObserveBuild(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.ObserveBuild(false, 0, 10*time.Millisecond)
	m.ObserveBuild(true, 0, 10*time.Millisecond)
	m.ObserveBuild(true, 3, 10*time.Millisecond)
	m.SetActiveWatchers(4)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.buildsTotal.WithLabelValues("once", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.buildsTotal.WithLabelValues("watch", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.buildsTotal.WithLabelValues("watch", "error")))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.activeWatchers))
}

func TestMetrics_Misc(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordRateLimitHit("/service/webpack")
	m.UpdateUptime(time.Now().Add(-time.Hour))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.rateLimitHitsTotal.WithLabelValues("/service/webpack")))
	assert.GreaterOrEqual(t, testutil.ToFloat64(m.systemUptime), 3600.0)
}

func TestMetrics_MiddlewareAndHandler(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	app := fiber.New()
	app.Use(m.MetricsMiddleware())
	app.Post("/service/:name", func(c *fiber.Ctx) error {
		return c.SendString("{}")
	})
	app.Get("/metrics", m.Handler())

	for _, name := range []string{"webpack", "other"} {
		resp, err := app.Test(httptest.NewRequest("POST", "/service/"+name, nil))
		require.NoError(t, err)
		assert.Equal(t, 200, resp.StatusCode)
	}
	resp, err := app.Test(httptest.NewRequest("GET", "/missing", nil))
	require.NoError(t, err)
	assert.Equal(t, 404, resp.StatusCode)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.httpRequestsTotal.WithLabelValues("POST", "/service/:name", "2xx")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.httpRequestsTotal.WithLabelValues("GET", "/missing", "4xx")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.httpRequestsInFlight))

	resp, err = app.Test(httptest.NewRequest("GET", "/metrics", nil))
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "bundlebridge_http_requests_total")
}

func TestMetrics_LabelsDoNotAliasRequestBuffers(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	buf := []byte("/service/webpack")
	m.RecordRateLimitHit(utils.UnsafeString(buf))
	copy(buf, "/metrics/xxxxxxx")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.rateLimitHitsTotal.WithLabelValues("/service/webpack")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.rateLimitHitsTotal))
}

func TestMetrics_MiddlewareKeepsLabelsAcrossRequests(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	app := fiber.New()
	app.Use(m.MetricsMiddleware())
	app.Post("/service/:name", func(c *fiber.Ctx) error { return c.SendString("{}") })
	app.Get("/status", func(c *fiber.Ctx) error { return c.SendString("OK") })

	for i := 0; i < 3; i++ {
		for _, req := range []*http.Request{
			httptest.NewRequest("POST", "/service/webpack", nil),
			httptest.NewRequest("GET", "/status", nil),
			httptest.NewRequest("GET", "/nothing-here", nil),
		} {
			resp, err := app.Test(req)
			require.NoError(t, err)
			resp.Body.Close()
		}
	}

	assert.Equal(t, 3.0, testutil.ToFloat64(m.httpRequestsTotal.WithLabelValues("POST", "/service/:name", "2xx")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.httpRequestsTotal.WithLabelValues("GET", "/status", "2xx")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.httpRequestsTotal.WithLabelValues("GET", "/nothing-here", "4xx")))
	assert.Equal(t, 3, testutil.CollectAndCount(m.httpRequestsTotal))
}
