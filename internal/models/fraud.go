package models

import "github.com/shopspring/decimal"

// FraudAssessment is the input handed to the fraud oracle: the transfer
// type plus the pre/post balances of both parties as they would be if the
// transfer went through.
type FraudAssessment struct {
	Type           TransferType
	Amount         decimal.Decimal
	OldBalanceOrg  decimal.Decimal
	NewBalanceOrig decimal.Decimal
	OldBalanceDest decimal.Decimal
	NewBalanceDest decimal.Decimal
}

// FraudVerdict is the oracle's answer for a single transfer attempt. It is
// produced fresh per attempt and never cached across transactions.
//
// When the oracle could not be reached or returned garbage, the verdict is
// a fail-open one: IsFraud=false, probability 0, Confidence "error" and
// Error carrying the reason. The transfer proceeds and the reason ends up
// in the audit record.
type FraudVerdict struct {
	IsFraud          bool    `json:"is_fraud"`
	FraudProbability float64 `json:"fraud_probability"`
	Confidence       string  `json:"confidence"`
	Error            string  `json:"error,omitempty"`
}
