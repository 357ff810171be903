package chrdev

import (
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/srediag/plugin-chrdev/pkg/globalmem"
)

const metricsNamespace = "globalmem"

const (
	opOpen  = "open"
	opRead  = "read"
	opWrite = "write"
)

// Metrics holds the prometheus collectors of a registration.
type Metrics struct {
	opened *prometheus.CounterVec
	open   *prometheus.GaugeVec
	bytes  *prometheus.CounterVec
	short  *prometheus.CounterVec
	errs   *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg when reg is not nil.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		opened: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "sessions_opened_total",
			Help:      "Total number of sessions opened per device node.",
		}, []string{"node"}),
		open: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "sessions_open",
			Help:      "Number of currently open sessions per device node.",
		}, []string{"node"}),
		bytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "bytes_total",
			Help:      "Bytes transferred per device node and operation.",
		}, []string{"node", "op"}),
		short: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "short_transfers_total",
			Help:      "Transfers that moved fewer bytes than requested.",
		}, []string{"node", "op"}),
		errs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "errors_total",
			Help:      "Failed operations per device node, operation and error kind.",
		}, []string{"node", "op", "kind"}),
	}
	if reg != nil {
		for _, c := range []prometheus.Collector{m.opened, m.open, m.bytes, m.short, m.errs} {
			if err := reg.Register(c); err != nil {
				return nil, err
			}
		}
	}
	return m, nil
}

func (m *Metrics) fileOpened(node string) {
	if m == nil {
		return
	}
	m.opened.WithLabelValues(node).Inc()
	m.open.WithLabelValues(node).Inc()
}

func (m *Metrics) fileClosed(node string) {
	if m == nil {
		return
	}
	m.open.WithLabelValues(node).Dec()
}

func (m *Metrics) transfer(node, op string, requested, n int, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.failed(node, op, err)
		return
	}
	m.bytes.WithLabelValues(node, op).Add(float64(n))
	if n < requested {
		m.short.WithLabelValues(node, op).Inc()
	}
}

func (m *Metrics) failed(node, op string, err error) {
	if m == nil {
		return
	}
	m.errs.WithLabelValues(node, op, ErrorKind(err)).Inc()
}

// ErrorKind classifies err into a short label value.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, globalmem.ErrAllocation):
		return "allocation"
	case errors.Is(err, globalmem.ErrInvalidOffset):
		return "invalid_offset"
	case errors.Is(err, globalmem.ErrInvalidState):
		return "invalid_state"
	case errors.Is(err, globalmem.ErrIOTransfer):
		return "io_transfer"
	case errors.Is(err, globalmem.ErrReleased):
		return "released"
	case errors.Is(err, ErrUnregistered):
		return "unregistered"
	case errors.Is(err, ErrNoSuchDevice):
		return "no_such_device"
	}
	return "other"
}
