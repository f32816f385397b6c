package models

import "strings"

// TransferType enumerates the transfer categories the fraud model was
// trained on.
type TransferType string

const (
	TypeTransfer TransferType = "TRANSFER"
	TypePayment  TransferType = "PAYMENT"
	TypeDebit    TransferType = "DEBIT"
	TypeCashOut  TransferType = "CASH_OUT"
	TypeCashIn   TransferType = "CASH_IN"
)

// ParseTransferType matches the input case-insensitively against the known
// types. Unrecognized input falls back to TRANSFER with ok=false so the
// caller can log and count the fallback instead of absorbing it silently.
func ParseTransferType(s string) (TransferType, bool) {
	switch TransferType(strings.ToUpper(strings.TrimSpace(s))) {
	case TypeTransfer:
		return TypeTransfer, true
	case TypePayment:
		return TypePayment, true
	case TypeDebit:
		return TypeDebit, true
	case TypeCashOut:
		return TypeCashOut, true
	case TypeCashIn:
		return TypeCashIn, true
	default:
		return TypeTransfer, false
	}
}
