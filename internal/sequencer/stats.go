package sequencer

import (
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	emailsSentTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leads_emails_sent_total",
			Help: "Sequence emails accepted by the delivery gateway",
		},
		[]string{"sequence"},
	)

	emailsFailedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leads_emails_failed_total",
			Help: "Sequence emails that failed to render or send",
		},
		[]string{"sequence"},
	)

	passesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leads_sequence_passes_total",
			Help: "Aggregate sequence passes by outcome",
		},
		[]string{"result"},
	)

	passDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "leads_sequence_pass_duration_seconds",
			Help:    "Duration of aggregate sequence passes",
			Buckets: []float64{1, 5, 15, 30, 60, 300, 900, 1800},
		},
	)

	meetingsScheduledTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "leads_meetings_scheduled_total",
			Help: "Meeting responses recorded",
		},
	)
)

// Stats are running totals since start or the last ResetStats.
type Stats struct {
	Passes            int64         `json:"passes"`
	FailedPasses      int64         `json:"failedPasses"`
	EmailsSent        int64         `json:"emailsSent"`
	EmailsFailed      int64         `json:"emailsFailed"`
	LeadsProcessed    int64         `json:"leadsProcessed"`
	MeetingsScheduled int64         `json:"meetingsScheduled"`
	LastPassAt        time.Time     `json:"lastPassAt"`
	LastPassDuration  time.Duration `json:"lastPassDuration"`
	LastError         string        `json:"lastError,omitempty"`
}

type statsRecorder struct {
	mu sync.Mutex
	s  Stats
}

func (r *statsRecorder) sent(seq string) {
	emailsSentTotal.WithLabelValues(seq).Inc()
	r.mu.Lock()
	r.s.EmailsSent++
	r.mu.Unlock()
}

func (r *statsRecorder) failed(seq string) {
	emailsFailedTotal.WithLabelValues(seq).Inc()
	r.mu.Lock()
	r.s.EmailsFailed++
	r.mu.Unlock()
}

func (r *statsRecorder) leadProcessed() {
	r.mu.Lock()
	r.s.LeadsProcessed++
	r.mu.Unlock()
}

func (r *statsRecorder) meetingScheduled() {
	meetingsScheduledTotal.Inc()
	r.mu.Lock()
	r.s.MeetingsScheduled++
	r.mu.Unlock()
}

func (r *statsRecorder) pass(sum PassSummary, err error) {
	result := "ok"
	switch {
	case errors.Is(err, ErrStoreUnavailable):
		result = "store_unavailable"
	case err != nil:
		result = "error"
	}
	passesTotal.WithLabelValues(result).Inc()
	passDuration.Observe(sum.Duration.Seconds())

	r.mu.Lock()
	defer r.mu.Unlock()
	r.s.Passes++
	r.s.LastPassAt = sum.StartedAt
	r.s.LastPassDuration = sum.Duration
	r.s.LastError = ""
	if err != nil {
		r.s.FailedPasses++
		r.s.LastError = err.Error()
	}
}

// Stats returns a snapshot of the running totals.
func (e *Engine) Stats() Stats {
	e.stats.mu.Lock()
	defer e.stats.mu.Unlock()
	return e.stats.s
}

// ResetStats zeroes the running totals. Prometheus counters are untouched.
func (e *Engine) ResetStats() {
	e.stats.mu.Lock()
	e.stats.s = Stats{}
	e.stats.mu.Unlock()
}
