package metrics

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nullbound/netcode-core/stats"
)

type fakeSampler struct {
	active int
	all    []*stats.ConnectionStats
}

func (f fakeSampler) ActiveSessions() int                { return f.active }
func (f fakeSampler) AllStats() []*stats.ConnectionStats { return f.all }

func TestSampleUpdatesGauges(t *testing.T) {
	c := NewCollector()
	defer c.Stop()

	s := stats.New()
	s.RecordSent(0, 1000)
	s.RecordReceived(0, 500)

	c.Sample(fakeSampler{active: 3, all: []*stats.ConnectionStats{s}})

	rr := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/metrics", nil)
	c.Handler().ServeHTTP(rr, req)

	body := rr.Body.String()
	require.Contains(t, body, "netcode_sessions_active 3")
}

func TestSampleWithNoSessionsZerosRates(t *testing.T) {
	c := NewCollector()
	defer c.Stop()
	c.Sample(fakeSampler{active: 0})

	rr := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/metrics", nil)
	c.Handler().ServeHTTP(rr, req)
	require.Contains(t, rr.Body.String(), "netcode_rtt_seconds 0")
}

func TestStartStopDoesNotPanic(t *testing.T) {
	c := NewCollector()
	c.Start(fakeSampler{})
	time.Sleep(5 * time.Millisecond)
	c.Stop()
	c.Stop()
}
