package ftp

import (
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors a Client reports to. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	commands         *prometheus.CounterVec
	replies          *prometheus.CounterVec
	transferBytes    *prometheus.CounterVec
	transferDuration *prometheus.HistogramVec
	aborts           prometheus.Counter
	keepalives       prometheus.Counter
	handshakes       *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg. A nil reg
// means prometheus.DefaultRegisterer. Registering twice with the same
// registry panics, so share one *Metrics between clients.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Metrics{
		commands: f.NewCounterVec(prometheus.CounterOpts{
			Name: "ftp_commands_total", Help: "Commands sent on the control channel",
		}, []string{"command"}),
		replies: f.NewCounterVec(prometheus.CounterOpts{
			Name: "ftp_replies_total", Help: "Replies received by class",
		}, []string{"class"}),
		transferBytes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "ftp_transfer_bytes_total", Help: "Bytes moved over data channels",
		}, []string{"direction"}),
		transferDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name: "ftp_transfer_duration_seconds", Help: "Data transfer duration",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 16),
		}, []string{"command"}),
		aborts: f.NewCounter(prometheus.CounterOpts{
			Name: "ftp_aborts_total", Help: "Transfers aborted with ABOR",
		}),
		keepalives: f.NewCounter(prometheus.CounterOpts{
			Name: "ftp_keepalives_total", Help: "Keepalive NOOPs sent",
		}),
		handshakes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "ftp_tls_handshakes_total", Help: "TLS handshakes by channel and result",
		}, []string{"channel", "result"}),
	}
}

func (m *Metrics) command(cmd string) {
	if m == nil {
		return
	}
	m.commands.WithLabelValues(strings.ToUpper(cmd)).Inc()
}

func (m *Metrics) reply(r *Response) {
	if m == nil {
		return
	}
	class := "invalid"
	if c := r.class(); c >= '1' && c <= '5' {
		class = string(c) + "xx"
	}
	m.replies.WithLabelValues(class).Inc()
}

func (m *Metrics) transferred(direction string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.transferBytes.WithLabelValues(direction).Add(float64(n))
}

func (m *Metrics) transferDone(cmd string, start time.Time) {
	if m == nil {
		return
	}
	m.transferDuration.WithLabelValues(cmd).Observe(time.Since(start).Seconds())
}

func (m *Metrics) abort() {
	if m == nil {
		return
	}
	m.aborts.Inc()
}

func (m *Metrics) keepalive() {
	if m == nil {
		return
	}
	m.keepalives.Inc()
}

// handshakeHook returns a securetransport OnHandshake callback.
func (m *Metrics) handshakeHook(channel string) func(resumed bool, err error) {
	if m == nil {
		return nil
	}
	return func(resumed bool, err error) {
		result := "ok"
		switch {
		case err != nil:
			result = "error"
		case resumed:
			result = "resumed"
		}
		m.handshakes.WithLabelValues(channel, result).Inc()
	}
}
