package domain

import "time"

// User is a located identity held by the Directory. LocationToken is derived
// from Latitude/Longitude and recomputed on every location change.
type User struct {
	Identity      string    `json:"identity,omitempty"`
	Name          string    `json:"name,omitempty"`
	WalletAddress string    `json:"walletAddress"`
	Latitude      float64   `json:"latitude"`
	Longitude     float64   `json:"longitude"`
	LocationToken string    `json:"locationToken"`
	PasswordHash  string    `json:"-"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}
