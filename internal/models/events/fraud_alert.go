package events

import (
	"time"

	"github.com/shopspring/decimal"
)

// FraudAlert is emitted whenever the fraud oracle flagged a transfer for
// review or blocked it outright. Blocked transfers have no transaction
// record, so TransactionID is zero for them.
type FraudAlert struct {
	EventID          string          `json:"event_id"`
	TransactionID    int64           `json:"transaction_id,omitempty"`
	Sender           string          `json:"sender"`
	Receiver         string          `json:"receiver"`
	Amount           decimal.Decimal `json:"amount"`
	Type             string          `json:"type"`
	Blocked          bool            `json:"blocked"`
	FraudProbability float64         `json:"fraud_probability"`
	OccurredAt       time.Time       `json:"occurred_at"`
}
