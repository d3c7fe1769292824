// Package metrics implements contracts.StatisticsClient over Prometheus:
// every request outcome, agent outcome, and exit is a fire-and-forget
// counter update, plus a local per-spider snapshot Print() can log.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/deepcrawl/spidercore/internal/contracts"
	"github.com/deepcrawl/spidercore/internal/logging"
)

var (
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "spidercore_requests_total",
			Help: "Total number of requests admitted into a spider's scheduler.",
		},
		[]string{"spider_id"},
	)

	RequestsSuccessTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "spidercore_requests_success_total",
			Help: "Total number of requests that completed a successful response.",
		},
		[]string{"spider_id"},
	)

	RequestsFailureTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "spidercore_requests_failure_total",
			Help: "Total number of requests that ended in failure (non-200, decode error, or stage failure).",
		},
		[]string{"spider_id"},
	)

	AgentSuccessTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "spidercore_agent_success_total",
			Help: "Total number of successful agent responses.",
		},
		[]string{"spider_id"},
	)

	AgentFailureTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "spidercore_agent_failure_total",
			Help: "Total number of failed agent responses.",
		},
		[]string{"spider_id"},
	)

	AgentLatencySeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "spidercore_agent_latency_seconds",
			Help:    "Agent round-trip latency by outcome.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"spider_id", "outcome"},
	)

	ExitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "spidercore_exits_total",
			Help: "Total number of times a spider reached its exit sequence.",
		},
		[]string{"spider_id"},
	)

	QueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "spidercore_bus_queue_depth",
			Help: "Backlog depth of a message bus topic/channel, as last polled.",
		},
		[]string{"topic", "channel"},
	)
)

// MustRegister registers every metric above on reg.
func MustRegister(reg *prometheus.Registry) {
	reg.MustRegister(
		RequestsTotal,
		RequestsSuccessTotal,
		RequestsFailureTotal,
		AgentSuccessTotal,
		AgentFailureTotal,
		AgentLatencySeconds,
		ExitsTotal,
		QueueDepth,
	)
}

type snapshot struct {
	total, success, failure           int64
	agentSuccess, agentFailure, exits int64
}

// Prometheus implements contracts.StatisticsClient. Every method is safe to
// call concurrently and never returns an error: stats failures must never
// affect business flow (spec.md §7).
type Prometheus struct {
	logger *logging.Logger

	mu   sync.Mutex
	byID map[string]*snapshot
}

// New builds a Prometheus-backed StatisticsClient.
func New(logger *logging.Logger) *Prometheus {
	return &Prometheus{logger: logger, byID: make(map[string]*snapshot)}
}

func (p *Prometheus) entry(spiderID string) *snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.byID[spiderID]
	if !ok {
		s = &snapshot{}
		p.byID[spiderID] = s
	}
	return s
}

// Start implements contracts.StatisticsClient.
func (p *Prometheus) Start(spiderID, name string) {
	p.entry(spiderID)
	p.logger.WithSpider(spiderID).WithField("name", name).Info("spider started")
}

// IncreaseTotal implements contracts.StatisticsClient.
func (p *Prometheus) IncreaseTotal(spiderID string, n int) {
	s := p.entry(spiderID)
	p.mu.Lock()
	s.total += int64(n)
	p.mu.Unlock()
	RequestsTotal.WithLabelValues(spiderID).Add(float64(n))
}

// IncreaseSuccess implements contracts.StatisticsClient.
func (p *Prometheus) IncreaseSuccess(spiderID string) {
	s := p.entry(spiderID)
	p.mu.Lock()
	s.success++
	p.mu.Unlock()
	RequestsSuccessTotal.WithLabelValues(spiderID).Inc()
}

// IncreaseFailure implements contracts.StatisticsClient.
func (p *Prometheus) IncreaseFailure(spiderID string) {
	s := p.entry(spiderID)
	p.mu.Lock()
	s.failure++
	p.mu.Unlock()
	RequestsFailureTotal.WithLabelValues(spiderID).Inc()
}

// IncreaseAgentSuccess implements contracts.StatisticsClient.
func (p *Prometheus) IncreaseAgentSuccess(spiderID string, elapsed time.Duration) {
	s := p.entry(spiderID)
	p.mu.Lock()
	s.agentSuccess++
	p.mu.Unlock()
	AgentSuccessTotal.WithLabelValues(spiderID).Inc()
	AgentLatencySeconds.WithLabelValues(spiderID, "success").Observe(elapsed.Seconds())
}

// IncreaseAgentFailure implements contracts.StatisticsClient.
func (p *Prometheus) IncreaseAgentFailure(spiderID string, elapsed time.Duration) {
	s := p.entry(spiderID)
	p.mu.Lock()
	s.agentFailure++
	p.mu.Unlock()
	AgentFailureTotal.WithLabelValues(spiderID).Inc()
	AgentLatencySeconds.WithLabelValues(spiderID, "failure").Observe(elapsed.Seconds())
}

// Exit implements contracts.StatisticsClient.
func (p *Prometheus) Exit(spiderID string) {
	s := p.entry(spiderID)
	p.mu.Lock()
	s.exits++
	p.mu.Unlock()
	ExitsTotal.WithLabelValues(spiderID).Inc()
	p.logger.WithSpider(spiderID).Info("spider exited")
}

// Print implements contracts.StatisticsClient: logs the locally tracked
// counters for spiderID, a cheap human-readable summary independent of
// whatever scrapes the Prometheus registry.
func (p *Prometheus) Print(spiderID string) {
	p.mu.Lock()
	s, ok := p.byID[spiderID]
	var cp snapshot
	if ok {
		cp = *s
	}
	p.mu.Unlock()

	p.logger.WithSpider(spiderID).WithFields(map[string]any{
		"total":         cp.total,
		"success":       cp.success,
		"failure":       cp.failure,
		"agent_success": cp.agentSuccess,
		"agent_failure": cp.agentFailure,
		"exits":         cp.exits,
	}).Info("spider stats snapshot")
}

// SetQueueDepth implements mqbus.BacklogGauge.
func (p *Prometheus) SetQueueDepth(topic, channel string, depth int64) {
	QueueDepth.WithLabelValues(topic, channel).Set(float64(depth))
}

var _ contracts.StatisticsClient = (*Prometheus)(nil)
