package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/finsecure/fraudguard-ledger/internal/interfaces"
	"github.com/finsecure/fraudguard-ledger/internal/models"
	"github.com/finsecure/fraudguard-ledger/internal/storage"
)

// MemoryTransferStore is an in-memory implementation of
// interfaces.TransferStore. It keeps accounts in a map and the ledger in
// an append-only slice, and is safe for concurrent use. It backs the
// tests and the default server wiring when no database is configured.
type MemoryTransferStore struct {
	mu       sync.Mutex // protects everything below
	accounts map[string]models.Account
	ledger   []models.Transaction
	nextID   int64 // ids are assigned on insert, monotonically
}

// NewMemoryTransferStore creates an empty store.
func NewMemoryTransferStore() *MemoryTransferStore {
	return &MemoryTransferStore{
		accounts: make(map[string]models.Account),
		ledger:   make([]models.Transaction, 0),
		nextID:   1,
	}
}

func (m *MemoryTransferStore) GetByIdentity(ctx context.Context, identity string) (models.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	account, ok := m.accounts[identity]
	if !ok {
		return models.Account{}, fmt.Errorf("%w: %s", storage.ErrNotFound, identity)
	}
	return account, nil
}

func (m *MemoryTransferStore) Save(ctx context.Context, account models.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.accounts[account.Identity] = account
	return nil
}

// CommitTransfer applies both balance updates and appends the ledger
// record under one lock, so the whole unit of work is atomic. If either
// account's current balance differs from the expected pre-balance,
// nothing is written and storage.ErrStaleBalance is returned.
func (m *MemoryTransferStore) CommitTransfer(ctx context.Context, debit, credit models.BalanceUpdate, record models.Transaction) (models.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sender, ok := m.accounts[debit.Identity]
	if !ok {
		return models.Transaction{}, fmt.Errorf("%w: %s", storage.ErrNotFound, debit.Identity)
	}
	receiver, ok := m.accounts[credit.Identity]
	if !ok {
		return models.Transaction{}, fmt.Errorf("%w: %s", storage.ErrNotFound, credit.Identity)
	}

	if !sender.Balance.Equal(debit.OldBalance) || !receiver.Balance.Equal(credit.OldBalance) {
		return models.Transaction{}, storage.ErrStaleBalance
	}

	sender.Balance = debit.NewBalance
	receiver.Balance = credit.NewBalance
	m.accounts[debit.Identity] = sender
	m.accounts[credit.Identity] = receiver

	record.ID = m.nextID
	m.nextID++
	m.ledger = append(m.ledger, record)

	return record, nil
}

// FindAll returns a copy of the ledger so callers can't mutate internal
// state.
func (m *MemoryTransferStore) FindAll(ctx context.Context) ([]models.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	copied := make([]models.Transaction, len(m.ledger))
	copy(copied, m.ledger)
	return copied, nil
}

func (m *MemoryTransferStore) FindByAccount(ctx context.Context, identity string) ([]models.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var result []models.Transaction
	for _, tx := range m.ledger {
		if tx.Sender == identity || tx.Receiver == identity {
			result = append(result, tx)
		}
	}
	return result, nil
}

// Compile-time check: ensure MemoryTransferStore implements TransferStore
var _ interfaces.TransferStore = (*MemoryTransferStore)(nil)
