package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.BookUpdate("SOLUSDT")
	m.Order("place", errors.New("boom"), 3)
	m.Panic("SOLUSDT", "stop_loss")
	require.Nil(t, m.Registry())
}

func TestCountersAndHandler(t *testing.T) {
	m := New()
	m.Order("place_limit", nil, 12)
	m.Order("place_limit", errors.New("rejected"), 40)
	m.Panic("SOLUSDT", "wall_breakout")
	m.SetTradeState("SOLUSDT", 2)

	require.Equal(t, 1.0, testutil.ToFloat64(m.Orders.WithLabelValues("place_limit", "ok")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.Orders.WithLabelValues("place_limit", "error")))
	require.Equal(t, 2.0, testutil.ToFloat64(m.TradeState.WithLabelValues("SOLUSDT")))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	require.True(t, strings.Contains(string(body), "wallbot_panic_exits_total"))
}
