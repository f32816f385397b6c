package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/finsecure/fraudguard-ledger/internal/interfaces"
	"github.com/finsecure/fraudguard-ledger/internal/models"
	"github.com/finsecure/fraudguard-ledger/internal/storage"
	"github.com/shopspring/decimal"
)

// PostgresTransferStore implements interfaces.TransferStore on top of
// database/sql with the lib/pq driver.
//
// Expected schema:
//
//	accounts(identity TEXT PRIMARY KEY, balance NUMERIC NOT NULL)
//	transactions(id BIGSERIAL PRIMARY KEY, sender TEXT, receiver TEXT,
//	    amount NUMERIC, ts TIMESTAMPTZ, description TEXT, type TEXT,
//	    old_balance_org NUMERIC, new_balance_orig NUMERIC,
//	    old_balance_dest NUMERIC, new_balance_dest NUMERIC,
//	    is_fraud_suspected BOOLEAN, fraud_probability DOUBLE PRECISION,
//	    fraud_error TEXT)
type PostgresTransferStore struct {
	db *sql.DB
}

func NewPostgresTransferStore(db *sql.DB) *PostgresTransferStore {
	return &PostgresTransferStore{
		db: db,
	}
}

func (p *PostgresTransferStore) GetByIdentity(ctx context.Context, identity string) (models.Account, error) {
	const query = `SELECT identity, balance FROM accounts WHERE identity = $1`

	var account models.Account
	err := p.db.QueryRowContext(ctx, query, identity).Scan(&account.Identity, &account.Balance)

	if err == sql.ErrNoRows {
		return models.Account{}, fmt.Errorf("%w: %s", storage.ErrNotFound, identity)
	}
	if err != nil {
		return models.Account{}, err
	}
	return account, nil
}

func (p *PostgresTransferStore) Save(ctx context.Context, account models.Account) error {
	const query = `INSERT INTO accounts (identity, balance) VALUES ($1, $2)
	ON CONFLICT (identity) DO UPDATE SET balance = EXCLUDED.balance`

	_, err := p.db.ExecContext(ctx, query, account.Identity, account.Balance)
	return err
}

// CommitTransfer runs the whole unit of work in one database transaction:
// both account rows are locked with FOR UPDATE (in identity order, to
// avoid deadlocks between concurrent transfers), the expected pre-balances
// are verified, both balances are updated and the ledger record inserted.
// Any failure rolls the whole thing back.
func (p *PostgresTransferStore) CommitTransfer(ctx context.Context, debit, credit models.BalanceUpdate, record models.Transaction) (models.Transaction, error) {
	dbTx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return models.Transaction{}, err
	}

	defer func() {
		if err != nil {
			dbTx.Rollback()
		}
	}()

	// Lock both rows in a deterministic order.
	first, second := debit, credit
	if second.Identity < first.Identity {
		first, second = second, first
	}
	for _, side := range []models.BalanceUpdate{first, second} {
		var current decimal.Decimal
		err = dbTx.QueryRowContext(ctx,
			`SELECT balance FROM accounts WHERE identity = $1 FOR UPDATE`,
			side.Identity).Scan(&current)
		if err == sql.ErrNoRows {
			err = fmt.Errorf("%w: %s", storage.ErrNotFound, side.Identity)
			return models.Transaction{}, err
		}
		if err != nil {
			return models.Transaction{}, err
		}
		if !current.Equal(side.OldBalance) {
			err = storage.ErrStaleBalance
			return models.Transaction{}, err
		}
	}

	for _, side := range []models.BalanceUpdate{debit, credit} {
		if _, err = dbTx.ExecContext(ctx,
			`UPDATE accounts SET balance = $1 WHERE identity = $2`,
			side.NewBalance, side.Identity); err != nil {
			return models.Transaction{}, err
		}
	}

	const insert = `INSERT INTO transactions
	(sender, receiver, amount, ts, description, type,
	 old_balance_org, new_balance_orig, old_balance_dest, new_balance_dest,
	 is_fraud_suspected, fraud_probability, fraud_error)
	VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
	RETURNING id`

	err = dbTx.QueryRowContext(ctx, insert,
		record.Sender, record.Receiver, record.Amount, record.Timestamp,
		record.Description, string(record.Type),
		record.OldBalanceOrg, record.NewBalanceOrig,
		record.OldBalanceDest, record.NewBalanceDest,
		record.IsFraudSuspected, record.FraudProbability, record.FraudError,
	).Scan(&record.ID)
	if err != nil {
		return models.Transaction{}, err
	}

	if err = dbTx.Commit(); err != nil {
		return models.Transaction{}, err
	}
	return record, nil
}

const selectColumns = `SELECT id, sender, receiver, amount, ts, description, type,
	old_balance_org, new_balance_orig, old_balance_dest, new_balance_dest,
	is_fraud_suspected, fraud_probability, fraud_error FROM transactions`

func (p *PostgresTransferStore) FindAll(ctx context.Context) ([]models.Transaction, error) {
	rows, err := p.db.QueryContext(ctx, selectColumns+` ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanTransactions(rows)
}

func (p *PostgresTransferStore) FindByAccount(ctx context.Context, identity string) ([]models.Transaction, error) {
	rows, err := p.db.QueryContext(ctx,
		selectColumns+` WHERE sender = $1 OR receiver = $1 ORDER BY id`, identity)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanTransactions(rows)
}

func scanTransactions(rows *sql.Rows) ([]models.Transaction, error) {
	var records []models.Transaction

	for rows.Next() {
		var tx models.Transaction
		var txType string
		if err := rows.Scan(
			&tx.ID, &tx.Sender, &tx.Receiver, &tx.Amount, &tx.Timestamp,
			&tx.Description, &txType,
			&tx.OldBalanceOrg, &tx.NewBalanceOrig,
			&tx.OldBalanceDest, &tx.NewBalanceDest,
			&tx.IsFraudSuspected, &tx.FraudProbability, &tx.FraudError,
		); err != nil {
			return nil, err
		}
		tx.Type = models.TransferType(txType)
		records = append(records, tx)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}
	return records, nil
}

var _ interfaces.TransferStore = (*PostgresTransferStore)(nil)
