package interfaces

import (
	"context"

	"github.com/finsecure/fraudguard-ledger/internal/models"
)

// AccountStore resolves and provisions accounts by identity.
// Balance mutations do not go through Save; they only happen inside
// TransferStore.CommitTransfer so both sides move together.
type AccountStore interface {
	GetByIdentity(ctx context.Context, identity string) (models.Account, error)
	Save(ctx context.Context, account models.Account) error
}

// LedgerStore reads the append-only record of committed transfers.
// Records are only ever written through CommitTransfer and are immutable
// after insert.
type LedgerStore interface {
	FindAll(ctx context.Context) ([]models.Transaction, error)
	FindByAccount(ctx context.Context, identity string) ([]models.Transaction, error)
}

// TransferStore is the unit of work the processor commits through. Both
// balance writes and the ledger insert succeed together or not at all.
//
// CommitTransfer is conditional: if either account's balance no longer
// equals the OldBalance in its update, the store must change nothing and
// return storage.ErrStaleBalance so the caller can re-read and retry.
// On success it returns the record with its store-assigned id.
type TransferStore interface {
	AccountStore
	LedgerStore
	CommitTransfer(ctx context.Context, debit, credit models.BalanceUpdate, record models.Transaction) (models.Transaction, error)
}
