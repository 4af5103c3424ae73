package domain

import "math/big"

// SellOrder mirrors a partial-fill sell order held by the Ledger.
// Remaining never exceeds Amount; an order with Remaining == 0 is inactive.
type SellOrder struct {
	ID            uint64   `json:"id"`
	Seller        string   `json:"seller"`
	Amount        *big.Int `json:"totalAmount"`
	Remaining     *big.Int `json:"remainingAmount"`
	UnitPrice     *big.Int `json:"unitPrice"`
	LocationToken string   `json:"locationToken"`
	Active        bool     `json:"active"`
}

// Open reports whether the order can still be filled.
func (o SellOrder) Open() bool {
	return o.Active && o.Remaining != nil && o.Remaining.Sign() > 0
}

// Clone returns a deep copy so callers never share big.Int pointers.
func (o SellOrder) Clone() SellOrder {
	o.Amount = cloneInt(o.Amount)
	o.Remaining = cloneInt(o.Remaining)
	o.UnitPrice = cloneInt(o.UnitPrice)
	return o
}

func cloneInt(v *big.Int) *big.Int {
	if v == nil {
		return nil
	}
	return new(big.Int).Set(v)
}
