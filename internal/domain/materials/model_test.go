package materials

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Spok95/binledger/internal/errs"
)

func TestRecalculateTotal(t *testing.T) {
	tests := []struct {
		name    string
		buckets Buckets
		want    int64
	}{
		{name: "empty", buckets: Buckets{}, want: 0},
		{name: "all buckets", buckets: Buckets{1, 2, 3, 4, 5, 6}, want: 21},
		{name: "clamped", buckets: Buckets{Available: -10, Defective: 3}, want: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := Material{Buckets: tt.buckets, Total: 999}
			m.RecalculateTotal()
			assert.Equal(t, tt.want, m.Total)
		})
	}
}

func TestValidateRejectsNegativeBucket(t *testing.T) {
	m := Material{Key: Key{Code: "M-1"}, Buckets: Buckets{Available: 5, Borrowed: -1}}
	err := m.Validate()
	require.Error(t, err)
	assert.Equal(t, errs.Validation, errs.KindOf(err))

	m.Borrowed = 0
	assert.NoError(t, m.Validate())
}

func TestBucketRef(t *testing.T) {
	var b Buckets
	for i, name := range AllBuckets {
		*b.Ref(name) = int64(i + 1)
	}
	assert.Equal(t, Buckets{1, 2, 3, 4, 5, 6}, b)
	assert.Nil(t, b.Ref("unknown"))
	assert.Equal(t, int64(0), b.Get("unknown"))
}

func TestTouch(t *testing.T) {
	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	m := Material{Buckets: Buckets{Available: 4, LineReserved: 1}}
	m.Touch("u-7", now)
	assert.Equal(t, "u-7", m.UpdatedBy)
	assert.Equal(t, now, m.UpdatedAt)
	assert.Equal(t, int64(5), m.Total)
}

func TestBelowMinAndSameUnit(t *testing.T) {
	threshold := int64(10)
	m := Material{Buckets: Buckets{Available: 9}, MinThreshold: &threshold}
	assert.True(t, m.BelowMin())
	m.Available = 10
	assert.False(t, m.BelowMin())

	assert.True(t, SameUnit("PCS", "pcs"))
	assert.True(t, SameUnit("", "kg"))
	assert.False(t, SameUnit("kg", "pcs"))
}

func TestKeyString(t *testing.T) {
	assert.Equal(t, "M-1", Key{Code: "M-1"}.String())
	assert.Equal(t, "M-1/V9", Key{Code: " M-1 ", Vendor: "V9 "}.Trim().String())
}
