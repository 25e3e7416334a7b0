package core

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

type engineMetrics struct {
	operations *prometheus.CounterVec
}

func newEngineMetrics(reg prometheus.Registerer) *engineMetrics {
	m := &engineMetrics{
		operations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "govledger_operations_total",
				Help: "governance operations by name and result",
			},
			[]string{"op", "result"},
		),
	}
	reg.MustRegister(m.operations)
	return m
}

func (m *engineMetrics) observe(op string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
		var coreErr *Error
		if errors.As(err, &coreErr) {
			result = coreErr.Name()
		}
	}
	m.operations.WithLabelValues(op, result).Inc()
}
