package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/Spok95/binledger/internal/errs"
)

func TestObserveOp(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ObserveOp("receive", "external_new", nil, time.Millisecond)
	m.ObserveOp("receive", "external_new", nil, time.Millisecond)
	m.ObserveOp("issue", "to_line", errs.New(errs.InsufficientStock, "short"), time.Millisecond)
	m.ObserveOp("issue", "to_line", errors.New("db down"), time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.ops.WithLabelValues("receive", "external_new", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ops.WithLabelValues("issue", "to_line", "insufficient_stock")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ops.WithLabelValues("issue", "to_line", "internal")))
}

func TestImportRows(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.ImportRows("materials", "inserted", 3)
	m.ImportRows("materials", "inserted", 0)
	assert.Equal(t, 3.0, testutil.ToFloat64(m.importRows.WithLabelValues("materials", "inserted")))
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveOp("receive", "staging", nil, time.Second)
		m.ImportRows("bins", "skipped", 1)
	})
}
