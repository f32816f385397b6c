package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Transaction is the durable audit record of a committed transfer. It
// snapshots both balances as they were at the moment of transfer; later
// balance changes never alter a past record.
type Transaction struct {
	ID          int64           `json:"id"` // assigned by the store on insert
	Sender      string          `json:"sender"`
	Receiver    string          `json:"receiver"`
	Amount      decimal.Decimal `json:"amount"`
	Timestamp   time.Time       `json:"timestamp"`
	Description string          `json:"description"`
	Type        TransferType    `json:"type"`

	// Balance snapshot for both parties, before and after.
	OldBalanceOrg  decimal.Decimal `json:"old_balance_org"`
	NewBalanceOrig decimal.Decimal `json:"new_balance_orig"`
	OldBalanceDest decimal.Decimal `json:"old_balance_dest"`
	NewBalanceDest decimal.Decimal `json:"new_balance_dest"`

	// Outcome of the fraud assessment that accompanied the transfer.
	IsFraudSuspected bool    `json:"is_fraud_suspected"`
	FraudProbability float64 `json:"fraud_probability"`
	FraudError       string  `json:"fraud_error,omitempty"`
}

// BalanceUpdate describes one side of a transfer handed to the store:
// the balance the account is expected to still hold, and the balance to
// write. A commit must fail if the expectation no longer holds.
type BalanceUpdate struct {
	Identity   string
	OldBalance decimal.Decimal
	NewBalance decimal.Decimal
}
