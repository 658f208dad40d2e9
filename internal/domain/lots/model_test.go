package lots

import (
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func day(s string) *time.Time {
	t, _ := time.Parse("2006-01-02", s)
	return &t
}

func TestBeforeOrdersByExpiryThenSequence(t *testing.T) {
	list := []Lot{
		{ID: "no-expiry-early", ReceivedSeq: 1},
		{ID: "march", ExpiryDate: day("2024-03-01"), ReceivedSeq: 2},
		{ID: "january-late", ExpiryDate: day("2024-01-01"), ReceivedSeq: 5},
		{ID: "january-early", ExpiryDate: day("2024-01-01"), ReceivedSeq: 3},
		{ID: "no-expiry-late", ReceivedSeq: 9},
	}
	sort.SliceStable(list, func(i, j int) bool { return Before(list[i], list[j]) })

	var ids []string
	for _, l := range list {
		ids = append(ids, l.ID)
	}
	assert.Equal(t, []string{"january-early", "january-late", "march", "no-expiry-early", "no-expiry-late"}, ids)
}

func TestDrawable(t *testing.T) {
	assert.True(t, (&Lot{Usable: true, RemainingQty: 1}).Drawable())
	assert.False(t, (&Lot{Usable: false, RemainingQty: 1}).Drawable())
	assert.False(t, (&Lot{Usable: true}).Drawable())
}

func TestParseExpiry(t *testing.T) {
	for _, in := range []string{"2024-03-01", "01.03.2024", "01/03/2024", "2024-03-01T00:00:00Z"} {
		got, err := ParseExpiry(in)
		if assert.NoError(t, err, in) {
			assert.Equal(t, "2024-03-01", got.Format("2006-01-02"), in)
		}
	}

	got, err := ParseExpiry("  ")
	assert.NoError(t, err)
	assert.Nil(t, got)

	_, err = ParseExpiry("soon")
	assert.Error(t, err)
}
