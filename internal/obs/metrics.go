package obs

import (
	"sync"
	"sync/atomic"
	"time"

	"main/internal/schema"
)

// Metrics collects lightweight counters and latency stats for the
// execution pipeline.
type Metrics struct {
	mu           sync.Mutex
	eventCounts  map[schema.EventType]uint64
	rejectCounts map[schema.RejectReason]uint64

	queueDrops    uint64
	brokerRetries uint64

	validateLatency LatencyStats
	submitLatency   LatencyStats
	fillLatency     LatencyStats
}

// LatencyStats aggregates duration samples in nanoseconds.
type LatencyStats struct {
	count uint64
	sum   uint64
	min   uint64
	max   uint64
}

// LatencySnapshot is a point-in-time view of latency stats.
type LatencySnapshot struct {
	Count uint64
	Min   time.Duration
	Max   time.Duration
	Avg   time.Duration
}

// Snapshot captures the current metrics values.
type Snapshot struct {
	EventCounts     map[schema.EventType]uint64
	RejectCounts    map[schema.RejectReason]uint64
	QueueDrops      uint64
	BrokerRetries   uint64
	ValidateLatency LatencySnapshot
	SubmitLatency   LatencySnapshot
	FillLatency     LatencySnapshot
}

// NewMetrics allocates a metrics container.
func NewMetrics() *Metrics {
	return &Metrics{
		eventCounts:  make(map[schema.EventType]uint64),
		rejectCounts: make(map[schema.RejectReason]uint64),
	}
}

// IncEvent increments the counter for a published event type.
func (m *Metrics) IncEvent(eventType schema.EventType) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.eventCounts[eventType]++
	m.mu.Unlock()
}

// IncReject increments the counter for a rejection reason.
func (m *Metrics) IncReject(reason schema.RejectReason) {
	if m == nil || reason == schema.ReasonNone {
		return
	}
	m.mu.Lock()
	m.rejectCounts[reason]++
	m.mu.Unlock()
}

// IncQueueDrop records an event bus drop.
func (m *Metrics) IncQueueDrop() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.queueDrops, 1)
}

// IncBrokerRetry records a retried broker submission.
func (m *Metrics) IncBrokerRetry() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.brokerRetries, 1)
}

// ObserveValidate measures intent validation latency.
func (m *Metrics) ObserveValidate(d time.Duration) {
	if m == nil {
		return
	}
	m.validateLatency.Observe(d)
}

// ObserveSubmit measures order submission latency.
func (m *Metrics) ObserveSubmit(d time.Duration) {
	if m == nil {
		return
	}
	m.submitLatency.Observe(d)
}

// ObserveFill measures fill application latency.
func (m *Metrics) ObserveFill(d time.Duration) {
	if m == nil {
		return
	}
	m.fillLatency.Observe(d)
}

// Snapshot returns a copy of the current metrics values.
func (m *Metrics) Snapshot() Snapshot {
	if m == nil {
		return Snapshot{}
	}
	m.mu.Lock()
	eventCounts := make(map[schema.EventType]uint64, len(m.eventCounts))
	for k, v := range m.eventCounts {
		eventCounts[k] = v
	}
	rejectCounts := make(map[schema.RejectReason]uint64, len(m.rejectCounts))
	for k, v := range m.rejectCounts {
		rejectCounts[k] = v
	}
	m.mu.Unlock()
	return Snapshot{
		EventCounts:     eventCounts,
		RejectCounts:    rejectCounts,
		QueueDrops:      atomic.LoadUint64(&m.queueDrops),
		BrokerRetries:   atomic.LoadUint64(&m.brokerRetries),
		ValidateLatency: m.validateLatency.Snapshot(),
		SubmitLatency:   m.submitLatency.Snapshot(),
		FillLatency:     m.fillLatency.Snapshot(),
	}
}

// Observe records a duration sample.
func (l *LatencyStats) Observe(d time.Duration) {
	if d < 0 {
		return
	}
	nanos := uint64(d)
	atomic.AddUint64(&l.count, 1)
	atomic.AddUint64(&l.sum, nanos)

	for {
		min := atomic.LoadUint64(&l.min)
		if min != 0 && nanos >= min {
			break
		}
		if atomic.CompareAndSwapUint64(&l.min, min, nanos) {
			break
		}
	}

	for {
		max := atomic.LoadUint64(&l.max)
		if nanos <= max {
			break
		}
		if atomic.CompareAndSwapUint64(&l.max, max, nanos) {
			break
		}
	}
}

// Snapshot returns the aggregated latency stats.
func (l *LatencyStats) Snapshot() LatencySnapshot {
	count := atomic.LoadUint64(&l.count)
	if count == 0 {
		return LatencySnapshot{}
	}
	sum := atomic.LoadUint64(&l.sum)
	min := atomic.LoadUint64(&l.min)
	max := atomic.LoadUint64(&l.max)
	return LatencySnapshot{
		Count: count,
		Min:   time.Duration(min),
		Max:   time.Duration(max),
		Avg:   time.Duration(sum / count),
	}
}
