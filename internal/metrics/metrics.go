// Package metrics exposes coordinator counters to Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder receives coordinator events worth counting
type Recorder interface {
	EventReceived(eventType string)
	EventRejected(reason string)
	PopupDispatched(recipients int)
	PopupResponse(accepted bool)
	QuestionBroadcast()
	QuestionCompiled(responses int)
	Answer(outcome string)
	Signal(delivered bool)
	StorageFailure(job string)
}

// Answer outcomes
const (
	AnswerAccepted  = "accepted"
	AnswerDuplicate = "duplicate"
	AnswerLate      = "late"
	AnswerInvalid   = "invalid_option"
)

// Nop discards everything
type Nop struct{}

func (Nop) EventReceived(string)  {}
func (Nop) EventRejected(string)  {}
func (Nop) PopupDispatched(int)   {}
func (Nop) PopupResponse(bool)    {}
func (Nop) QuestionBroadcast()    {}
func (Nop) QuestionCompiled(int)  {}
func (Nop) Answer(string)         {}
func (Nop) Signal(bool)           {}
func (Nop) StorageFailure(string) {}

// Gauges are sampled at scrape time from the live registry
type Gauges interface {
	RoomCount() int
	ConnectionCount() int
}

// Prometheus implements Recorder on a dedicated prometheus registry
type Prometheus struct {
	registry *prometheus.Registry

	events          *prometheus.CounterVec
	rejected        *prometheus.CounterVec
	popups          prometheus.Counter
	popupRecipients prometheus.Counter
	popupResponses  *prometheus.CounterVec
	questions       prometheus.Counter
	compiled        prometheus.Counter
	responsesPerQ   prometheus.Histogram
	answers         *prometheus.CounterVec
	signals         *prometheus.CounterVec
	storageFailures *prometheus.CounterVec
}

var _ Recorder = (*Prometheus)(nil)

// NewPrometheus registers every collector; gauges may be nil
func NewPrometheus(gauges Gauges) *Prometheus {
	const ns = "classroom"
	p := &Prometheus{
		registry: prometheus.NewRegistry(),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Name: "events_received_total", Help: "Inbound frames by type.",
		}, []string{"type"}),
		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Name: "events_rejected_total", Help: "Inbound frames rejected before dispatch.",
		}, []string{"reason"}),
		popups: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Name: "popups_dispatched_total", Help: "Attendance popup cycles dispatched.",
		}),
		popupRecipients: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Name: "popup_recipients_total", Help: "Students addressed by popup cycles.",
		}),
		popupResponses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Name: "popup_responses_total", Help: "Popup responses by outcome.",
		}, []string{"outcome"}),
		questions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Name: "questions_broadcast_total", Help: "Question rounds opened.",
		}),
		compiled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Name: "questions_compiled_total", Help: "Question rounds closed with results.",
		}),
		responsesPerQ: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: ns, Name: "question_responses", Help: "Responses collected per question round.",
			Buckets: prometheus.LinearBuckets(0, 10, 10),
		}),
		answers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Name: "answers_total", Help: "Submitted answers by outcome.",
		}, []string{"outcome"}),
		signals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Name: "signals_total", Help: "Signaling messages by outcome.",
		}, []string{"outcome"}),
		storageFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Name: "storage_failures_total", Help: "Asynchronous storage jobs that failed or were dropped.",
		}, []string{"job"}),
	}

	p.registry.MustRegister(
		p.events, p.rejected, p.popups, p.popupRecipients, p.popupResponses,
		p.questions, p.compiled, p.responsesPerQ, p.answers, p.signals, p.storageFailures,
		prometheus.NewGoCollector(),
	)

	if gauges != nil {
		p.registry.MustRegister(
			prometheus.NewGaugeFunc(prometheus.GaugeOpts{
				Namespace: ns, Name: "active_rooms", Help: "Rooms with at least one member.",
			}, func() float64 { return float64(gauges.RoomCount()) }),
			prometheus.NewGaugeFunc(prometheus.GaugeOpts{
				Namespace: ns, Name: "connected_members", Help: "Connections bound to a room.",
			}, func() float64 { return float64(gauges.ConnectionCount()) }),
		)
	}

	return p
}

// Handler serves the registry in the Prometheus exposition format
func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for tests
func (p *Prometheus) Registry() *prometheus.Registry { return p.registry }

func (p *Prometheus) EventReceived(eventType string) { p.events.WithLabelValues(eventType).Inc() }
func (p *Prometheus) EventRejected(reason string)    { p.rejected.WithLabelValues(reason).Inc() }

func (p *Prometheus) PopupDispatched(recipients int) {
	p.popups.Inc()
	p.popupRecipients.Add(float64(recipients))
}

func (p *Prometheus) PopupResponse(accepted bool) {
	p.popupResponses.WithLabelValues(outcome(accepted, "accepted", "rejected")).Inc()
}

func (p *Prometheus) QuestionBroadcast() { p.questions.Inc() }

func (p *Prometheus) QuestionCompiled(responses int) {
	p.compiled.Inc()
	p.responsesPerQ.Observe(float64(responses))
}

func (p *Prometheus) Answer(o string) { p.answers.WithLabelValues(o).Inc() }

func (p *Prometheus) Signal(delivered bool) {
	p.signals.WithLabelValues(outcome(delivered, "delivered", "dropped")).Inc()
}

func (p *Prometheus) StorageFailure(job string) { p.storageFailures.WithLabelValues(job).Inc() }

func outcome(ok bool, yes, no string) string {
	if ok {
		return yes
	}
	return no
}
