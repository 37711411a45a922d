// Package metrics exposes endpoint.Endpoint/Hub statistics as Prometheus
// collectors: a background goroutine on a ticker samples the live server
// state into gauge/counter values, scraped over promhttp.Handler(). The
// metric set is scoped to a Collector instance and its own
// prometheus.Registry rather than package-level globals, since a test
// suite or a library consumer may run more than one Hub in a process.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nullbound/netcode-core/endpoint"
	"github.com/nullbound/netcode-core/netcode"
	"github.com/nullbound/netcode-core/stats"
)

// sampleInterval paces the background sampling goroutine.
const sampleInterval = 2 * time.Second

// Sampler is the subset of Hub/Endpoint behavior Collector needs to pull a
// snapshot: the number of currently active sessions and a per-session
// stats source. endpoint.Hub (multi-session, server role) satisfies it
// directly; a client-role Endpoint satisfies it through ClientSampler
// below.
type Sampler interface {
	ActiveSessions() int
	AllStats() []*stats.ConnectionStats
}

// ClientSampler adapts a single client-role endpoint.Endpoint to Sampler,
// so the same Collector can monitor either a server Hub or a lone client.
type ClientSampler struct {
	Endpoint *endpoint.Endpoint
}

func (c ClientSampler) ActiveSessions() int {
	if c.Endpoint.DisconnectReason() != netcode.DisconnectNone {
		return 0
	}
	return 1
}

func (c ClientSampler) AllStats() []*stats.ConnectionStats {
	return []*stats.ConnectionStats{c.Endpoint.Stats()}
}

// Collector samples a Sampler on a ticker and exposes the result as
// Prometheus gauges/counters, matching ConnectionStats' RTT/packet-loss/
// bandwidth fields.
type Collector struct {
	registry *prometheus.Registry

	sessionsActive prometheus.Gauge
	sessionsTotal  prometheus.Counter
	rttSeconds     prometheus.Gauge
	packetLoss     prometheus.Gauge
	kbpsSent       prometheus.Gauge
	kbpsReceived   prometheus.Gauge

	mu           sync.Mutex
	maxSeenTotal int
	stop         chan struct{}
	stopped      sync.Once
}

// NewCollector builds a Collector with its own registry, registering
// every metric up front.
func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		sessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "netcode_sessions_active",
			Help: "Current number of connected sessions.",
		}),
		sessionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "netcode_sessions_total",
			Help: "Highest number of simultaneously active sessions seen at any sample; sessions that come and go between samples, or that replace earlier ones, are not counted.",
		}),
		rttSeconds: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "netcode_rtt_seconds",
			Help: "Most recently sampled smoothed round-trip time, averaged across sessions.",
		}),
		packetLoss: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "netcode_packet_loss_ratio",
			Help: "Most recently sampled packet loss ratio, averaged across sessions.",
		}),
		kbpsSent: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "netcode_kbps_sent",
			Help: "Aggregate outbound bandwidth across sessions, in kbps.",
		}),
		kbpsReceived: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "netcode_kbps_received",
			Help: "Aggregate inbound bandwidth across sessions, in kbps.",
		}),
		stop: make(chan struct{}),
	}
	c.registry.MustRegister(
		c.sessionsActive, c.sessionsTotal, c.rttSeconds,
		c.packetLoss, c.kbpsSent, c.kbpsReceived,
	)
	return c
}

// Handler returns the http.Handler promhttp builds for this Collector's
// registry, ready to mount at an operator-chosen scrape path.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// Start launches the background sampling goroutine, collecting from s
// every sampleInterval until Stop is called.
func (c *Collector) Start(s Sampler) {
	go func() {
		ticker := time.NewTicker(sampleInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				c.collect(s)
			case <-c.stop:
				return
			}
		}
	}()
}

// Stop halts the background sampling goroutine. Safe to call more than
// once.
func (c *Collector) Stop() {
	c.stopped.Do(func() { close(c.stop) })
}

// Sample immediately pulls one snapshot from s, useful in tests that don't
// want to wait out sampleInterval.
func (c *Collector) Sample(s Sampler) { c.collect(s) }

func (c *Collector) collect(s Sampler) {
	active := s.ActiveSessions()
	c.sessionsActive.Set(float64(active))

	c.mu.Lock()
	if active > c.maxSeenTotal {
		c.sessionsTotal.Add(float64(active - c.maxSeenTotal))
		c.maxSeenTotal = active
	}
	c.mu.Unlock()

	all := s.AllStats()
	if len(all) == 0 {
		c.rttSeconds.Set(0)
		c.packetLoss.Set(0)
		c.kbpsSent.Set(0)
		c.kbpsReceived.Set(0)
		return
	}

	const bytesPerSecToKbps = 8.0 / 1000.0
	var rttSum, lossSum, sentSum, recvSum float64
	for _, st := range all {
		rttSum += st.RTT().Seconds()
		lossSum += st.PacketLoss()
		sentSum += st.BytesSentPerSecond() * bytesPerSecToKbps
		recvSum += st.BytesReceivedPerSecond() * bytesPerSecToKbps
	}
	n := float64(len(all))
	c.rttSeconds.Set(rttSum / n)
	c.packetLoss.Set(lossSum / n)
	c.kbpsSent.Set(sentSum)
	c.kbpsReceived.Set(recvSum)
}
