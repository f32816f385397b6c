package models

import "github.com/shopspring/decimal"

// Account holds the funds for a single account holder, keyed by identity
// (an email address). Balances are only ever changed by the transaction
// processor as part of a committed transfer.
type Account struct {
	Identity string          `json:"identity"`
	Balance  decimal.Decimal `json:"balance"`
}
