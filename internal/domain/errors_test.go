package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrors_Categories(t *testing.T) {
	tests := []struct {
		err  error
		kind error
	}{
		{ErrInvalidAmount, ErrValidation},
		{ErrBidTooLow, ErrValidation},
		{ErrOrderNotFound, ErrNotFound},
		{ErrAuctionNotFound, ErrNotFound},
		{ErrNotOwner, ErrForbidden},
		{ErrNotSeller, ErrForbidden},
		{ErrAlreadyFinalized, ErrConflict},
		{ErrDuplicateWallet, ErrConflict},
		{ErrInvalidCredentials, ErrUnauthorized},
		{ErrCapacityCheckUnavailable, ErrExternalService},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			assert.ErrorIs(t, tt.err, tt.kind)
			wrapped := fmt.Errorf("service: op: %w", tt.err)
			assert.ErrorIs(t, wrapped, tt.err)
			assert.ErrorIs(t, wrapped, tt.kind)
		})
	}
}

func TestErrors_DistinctWithinCategory(t *testing.T) {
	assert.False(t, errors.Is(ErrTooEarly, ErrAlreadyFinalized))
	assert.False(t, errors.Is(ErrOrderNotFound, ErrAuctionNotFound))
}
