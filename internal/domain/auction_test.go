package domain

import (
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSubmittedBid_RoundTrip(t *testing.T) {
	tests := []struct {
		net       int64
		submitted int64
	}{
		{100, 101},
		{1, 1},
		{99, 99},
		{250, 252},
		{1000, 1010},
	}
	for _, tt := range tests {
		sub := SubmittedBid(big.NewInt(tt.net))
		assert.Equal(t, tt.submitted, sub.Int64(), "submitted for net %d", tt.net)
	}

	// The Ledger's inverse recovers the intended net bid.
	assert.Equal(t, int64(100), NetBid(big.NewInt(101)).Int64())
	assert.Equal(t, int64(1000), NetBid(big.NewInt(1010)).Int64())
}

func TestAuction_ActiveAt(t *testing.T) {
	end := time.Date(2025, 3, 1, 23, 0, 0, 0, time.UTC)
	a := Auction{EndTime: end}

	assert.True(t, a.ActiveAt(end.Add(-time.Second)))
	assert.False(t, a.ActiveAt(end))

	a.Finalized = true
	assert.False(t, a.ActiveAt(end.Add(-time.Hour)))
}

func TestSellOrder_CloneIsDeep(t *testing.T) {
	o := SellOrder{Amount: big.NewInt(10), Remaining: big.NewInt(4), UnitPrice: big.NewInt(7), Active: true}
	c := o.Clone()
	c.Remaining.SetInt64(0)

	assert.Equal(t, int64(4), o.Remaining.Int64())
	assert.True(t, o.Open())
	assert.False(t, SellOrder{Active: true, Remaining: big.NewInt(0)}.Open())
}
