package events

import (
	"time"

	"github.com/shopspring/decimal"
)

// Topics the processor publishes to.
const (
	TopicTransferCompleted = "transfer_completed"
	TopicFraudAlerts       = "fraud_alerts"
)

// TransferCompleted is emitted once for every committed transfer.
type TransferCompleted struct {
	EventID       string          `json:"event_id"`
	TransactionID int64           `json:"transaction_id"`
	Sender        string          `json:"sender"`
	Receiver      string          `json:"receiver"`
	Amount        decimal.Decimal `json:"amount"`
	Type          string          `json:"type"`
	Flagged       bool            `json:"flagged"`
	OccurredAt    time.Time       `json:"occurred_at"`
}
