// Package account manages user accounts and their spark balances, including
// the daily refill and the clamped settlement deduction.
package account

import "time"

// Account represents a registered account with a spendable spark balance.
type Account struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	Name         string    `json:"name"`
	PasswordHash string    `json:"-"`
	KeyHash      string    `json:"-"`
	KeyPrefix    string    `json:"key_prefix"`
	Sparks       float64   `json:"sparks"`
	RefillCount  int       `json:"refill_count"`
	LastRefillAt time.Time `json:"last_refill_at"`
	CreatedAt    time.Time `json:"created_at"`
}

// CreateInput holds the fields required to create a new account. The API key
// is generated by the caller; only its hash and prefix are stored.
type CreateInput struct {
	Email     string
	Password  string
	Name      string
	KeyHash   string
	KeyPrefix string
}
