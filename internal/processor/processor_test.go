package processor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/finsecure/fraudguard-ledger/internal/interfaces"
	"github.com/finsecure/fraudguard-ledger/internal/models"
	"github.com/finsecure/fraudguard-ledger/internal/storage/memory"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// ---- Mocks ----

// stubOracle returns a fixed verdict, optionally after a delay to widen
// race windows in concurrency tests.
type stubOracle struct {
	verdict models.FraudVerdict
	delay   time.Duration
}

func (o *stubOracle) Assess(ctx context.Context, a models.FraudAssessment) models.FraudVerdict {
	if o.delay > 0 {
		time.Sleep(o.delay)
	}
	return o.verdict
}

func (o *stubOracle) Healthy(ctx context.Context) bool { return true }

// recordingPublisher collects published events.
type recordingPublisher struct {
	mu     sync.Mutex
	topics []string
	events []any
}

func (r *recordingPublisher) Publish(ctx context.Context, topic string, event any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.topics = append(r.topics, topic)
	r.events = append(r.events, event)
	return nil
}

func (r *recordingPublisher) published(topic string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, t := range r.topics {
		if t == topic {
			n++
		}
	}
	return n
}

// failingStore wraps the memory store and fails every commit.
type failingStore struct {
	interfaces.TransferStore
}

func (f *failingStore) CommitTransfer(ctx context.Context, debit, credit models.BalanceUpdate, record models.Transaction) (models.Transaction, error) {
	return models.Transaction{}, errors.New("connection reset")
}

// ---- Helpers ----

const (
	alice = "alice@example.com"
	bob   = "bob@example.com"
)

func newStore(t *testing.T, balances map[string]string) *memory.MemoryTransferStore {
	t.Helper()
	store := memory.NewMemoryTransferStore()
	for identity, balance := range balances {
		if err := store.Save(context.Background(), models.Account{
			Identity: identity,
			Balance:  decimal.RequireFromString(balance),
		}); err != nil {
			t.Fatalf("seed account %s: %v", identity, err)
		}
	}
	return store
}

func newProcessor(store interfaces.TransferStore, oracle interfaces.FraudOracle, publisher interfaces.EventPublisher) *Processor {
	return NewProcessor(store, oracle, publisher, zerolog.Nop())
}

func balanceOf(t *testing.T, store interfaces.TransferStore, identity string) decimal.Decimal {
	t.Helper()
	account, err := store.GetByIdentity(context.Background(), identity)
	if err != nil {
		t.Fatalf("get account %s: %v", identity, err)
	}
	return account.Balance
}

func ledgerLen(t *testing.T, store interfaces.TransferStore) int {
	t.Helper()
	records, err := store.FindAll(context.Background())
	if err != nil {
		t.Fatalf("find all: %v", err)
	}
	return len(records)
}

func request(amount string) TransferRequest {
	return TransferRequest{
		Sender:      alice,
		Receiver:    bob,
		Amount:      decimal.RequireFromString(amount),
		Description: "rent",
		Type:        "TRANSFER",
	}
}

// ---- Tests ----

func TestTransferMovesBalancesAndRecordsSnapshot(t *testing.T) {
	store := newStore(t, map[string]string{alice: "100", bob: "25"})
	proc := newProcessor(store, &stubOracle{}, nil)

	record, err := proc.Transfer(context.Background(), request("40"))
	if err != nil {
		t.Fatalf("transfer: %v", err)
	}

	if record.ID == 0 {
		t.Error("expected a store-assigned id")
	}
	if got, want := record.OldBalanceOrg.String(), "100"; got != want {
		t.Errorf("OldBalanceOrg = %s, want %s", got, want)
	}
	if got, want := record.NewBalanceOrig.String(), "60"; got != want {
		t.Errorf("NewBalanceOrig = %s, want %s", got, want)
	}
	if got, want := record.OldBalanceDest.String(), "25"; got != want {
		t.Errorf("OldBalanceDest = %s, want %s", got, want)
	}
	if got, want := record.NewBalanceDest.String(), "65"; got != want {
		t.Errorf("NewBalanceDest = %s, want %s", got, want)
	}
	if record.IsFraudSuspected {
		t.Error("clean transfer should not be flagged")
	}

	// The stored balances must match the snapshot in the record.
	if got := balanceOf(t, store, alice); !got.Equal(record.NewBalanceOrig) {
		t.Errorf("sender balance = %s, want %s", got, record.NewBalanceOrig)
	}
	if got := balanceOf(t, store, bob); !got.Equal(record.NewBalanceDest) {
		t.Errorf("receiver balance = %s, want %s", got, record.NewBalanceDest)
	}
	if n := ledgerLen(t, store); n != 1 {
		t.Errorf("ledger entries = %d, want 1", n)
	}
}

func TestTransferInsufficientBalance(t *testing.T) {
	store := newStore(t, map[string]string{alice: "30", bob: "0"})
	proc := newProcessor(store, &stubOracle{}, nil)

	_, err := proc.Transfer(context.Background(), request("40"))
	if !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("err = %v, want ErrInsufficientBalance", err)
	}

	if got := balanceOf(t, store, alice); !got.Equal(decimal.RequireFromString("30")) {
		t.Errorf("sender balance changed to %s", got)
	}
	if n := ledgerLen(t, store); n != 0 {
		t.Errorf("ledger entries = %d, want 0", n)
	}
}

func TestTransferRejectsNonPositiveAmount(t *testing.T) {
	store := newStore(t, map[string]string{alice: "100", bob: "0"})
	proc := newProcessor(store, &stubOracle{}, nil)

	for _, amount := range []string{"0", "-5"} {
		_, err := proc.Transfer(context.Background(), request(amount))
		if !errors.Is(err, ErrInvalidAmount) {
			t.Errorf("amount %s: err = %v, want ErrInvalidAmount", amount, err)
		}
	}
	if n := ledgerLen(t, store); n != 0 {
		t.Errorf("ledger entries = %d, want 0", n)
	}
}

func TestTransferUnknownAccount(t *testing.T) {
	store := newStore(t, map[string]string{alice: "100"})
	proc := newProcessor(store, &stubOracle{}, nil)

	_, err := proc.Transfer(context.Background(), request("10"))
	if !errors.Is(err, ErrAccountNotFound) {
		t.Fatalf("err = %v, want ErrAccountNotFound", err)
	}
}

func TestTransferRejectsSelfTransfer(t *testing.T) {
	store := newStore(t, map[string]string{alice: "100"})
	proc := newProcessor(store, &stubOracle{}, nil)

	req := request("10")
	req.Receiver = alice
	if _, err := proc.Transfer(context.Background(), req); !errors.Is(err, ErrSameAccount) {
		t.Fatalf("err = %v, want ErrSameAccount", err)
	}
}

func TestTransferBlockedOnNearCertainFraud(t *testing.T) {
	store := newStore(t, map[string]string{alice: "100", bob: "0"})
	publisher := &recordingPublisher{}
	oracle := &stubOracle{verdict: models.FraudVerdict{IsFraud: true, FraudProbability: 0.95, Confidence: "high"}}
	proc := newProcessor(store, oracle, publisher)

	_, err := proc.Transfer(context.Background(), request("40"))
	if !errors.Is(err, ErrTransactionBlocked) {
		t.Fatalf("err = %v, want ErrTransactionBlocked", err)
	}

	// A hard block leaves zero observable state change.
	if got := balanceOf(t, store, alice); !got.Equal(decimal.RequireFromString("100")) {
		t.Errorf("sender balance changed to %s", got)
	}
	if got := balanceOf(t, store, bob); !got.Equal(decimal.Zero) {
		t.Errorf("receiver balance changed to %s", got)
	}
	if n := ledgerLen(t, store); n != 0 {
		t.Errorf("ledger entries = %d, want 0", n)
	}
	if n := publisher.published("fraud_alerts"); n != 1 {
		t.Errorf("fraud alerts published = %d, want 1", n)
	}
}

func TestTransferFlaggedForReview(t *testing.T) {
	cases := []struct {
		name    string
		verdict models.FraudVerdict
	}{
		{"fraud with moderate probability", models.FraudVerdict{IsFraud: true, FraudProbability: 0.75, Confidence: "medium"}},
		{"high probability without fraud call", models.FraudVerdict{IsFraud: false, FraudProbability: 0.85, Confidence: "high"}},
		// Exactly at the block threshold: flagged, not blocked.
		{"fraud at block threshold", models.FraudVerdict{IsFraud: true, FraudProbability: 0.9, Confidence: "high"}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store := newStore(t, map[string]string{alice: "100", bob: "0"})
			publisher := &recordingPublisher{}
			proc := newProcessor(store, &stubOracle{verdict: tc.verdict}, publisher)

			record, err := proc.Transfer(context.Background(), request("40"))
			if err != nil {
				t.Fatalf("transfer: %v", err)
			}
			if !record.IsFraudSuspected {
				t.Error("record should be flagged for review")
			}
			if record.FraudProbability != tc.verdict.FraudProbability {
				t.Errorf("FraudProbability = %v, want %v", record.FraudProbability, tc.verdict.FraudProbability)
			}
			if got := balanceOf(t, store, alice); !got.Equal(decimal.RequireFromString("60")) {
				t.Errorf("sender balance = %s, want 60", got)
			}
			if n := publisher.published("fraud_alerts"); n != 1 {
				t.Errorf("fraud alerts published = %d, want 1", n)
			}
			if n := publisher.published("transfer_completed"); n != 1 {
				t.Errorf("completed events published = %d, want 1", n)
			}
		})
	}
}

func TestTransferFailsOpenOnOracleError(t *testing.T) {
	store := newStore(t, map[string]string{alice: "100", bob: "0"})
	oracle := &stubOracle{verdict: models.FraudVerdict{
		Confidence: "error",
		Error:      "fraud detection service is not available",
	}}
	proc := newProcessor(store, oracle, nil)

	record, err := proc.Transfer(context.Background(), request("40"))
	if err != nil {
		t.Fatalf("transfer should proceed when the oracle is down, got %v", err)
	}
	if record.IsFraudSuspected {
		t.Error("fail-open transfer must not be flagged")
	}
	if record.FraudError == "" {
		t.Error("record should carry the oracle failure reason")
	}
	if got := balanceOf(t, store, alice); !got.Equal(decimal.RequireFromString("60")) {
		t.Errorf("sender balance = %s, want 60", got)
	}
}

func TestTransferPersistenceFailureLeavesNoState(t *testing.T) {
	inner := newStore(t, map[string]string{alice: "100", bob: "0"})
	proc := newProcessor(&failingStore{inner}, &stubOracle{}, nil)

	_, err := proc.Transfer(context.Background(), request("40"))
	if err == nil {
		t.Fatal("expected an error when the commit fails")
	}
	if got := balanceOf(t, inner, alice); !got.Equal(decimal.RequireFromString("100")) {
		t.Errorf("sender balance changed to %s", got)
	}
	if n := ledgerLen(t, inner); n != 0 {
		t.Errorf("ledger entries = %d, want 0", n)
	}
}

func TestTransferReplayCreatesSecondEntry(t *testing.T) {
	store := newStore(t, map[string]string{alice: "100", bob: "0"})
	proc := newProcessor(store, &stubOracle{}, nil)

	first, err := proc.Transfer(context.Background(), request("10"))
	if err != nil {
		t.Fatalf("first transfer: %v", err)
	}
	second, err := proc.Transfer(context.Background(), request("10"))
	if err != nil {
		t.Fatalf("second transfer: %v", err)
	}

	// Replaying an identical request is a second transfer, not a no-op.
	if first.ID == second.ID {
		t.Error("replayed transfer must get a distinct id")
	}
	if n := ledgerLen(t, store); n != 2 {
		t.Errorf("ledger entries = %d, want 2", n)
	}
	if got := balanceOf(t, store, alice); !got.Equal(decimal.RequireFromString("80")) {
		t.Errorf("sender balance = %s, want 80", got)
	}
}

func TestConcurrentTransfersNeverOverdraw(t *testing.T) {
	// Two transfers that individually fit but jointly exceed the
	// balance: exactly one must commit. The oracle delay keeps both
	// in flight at once.
	store := newStore(t, map[string]string{alice: "100", bob: "0"})
	proc := newProcessor(store, &stubOracle{delay: 20 * time.Millisecond}, nil)

	errs := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() {
			_, err := proc.Transfer(context.Background(), request("60"))
			errs <- err
		}()
	}

	var succeeded, insufficient int
	for i := 0; i < 2; i++ {
		switch err := <-errs; {
		case err == nil:
			succeeded++
		case errors.Is(err, ErrInsufficientBalance):
			insufficient++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}

	if succeeded != 1 || insufficient != 1 {
		t.Fatalf("succeeded = %d, insufficient = %d, want 1 and 1", succeeded, insufficient)
	}
	if got := balanceOf(t, store, alice); !got.Equal(decimal.RequireFromString("40")) {
		t.Errorf("sender balance = %s, want 40", got)
	}
	if got := balanceOf(t, store, alice); got.IsNegative() {
		t.Errorf("sender balance went negative: %s", got)
	}
	if n := ledgerLen(t, store); n != 1 {
		t.Errorf("ledger entries = %d, want 1", n)
	}
}

func TestCheckFraudDoesNotMutateState(t *testing.T) {
	store := newStore(t, map[string]string{alice: "100", bob: "0"})
	oracle := &stubOracle{verdict: models.FraudVerdict{IsFraud: true, FraudProbability: 0.95, Confidence: "high"}}
	proc := newProcessor(store, oracle, nil)

	verdict, err := proc.CheckFraud(context.Background(), request("40"))
	if err != nil {
		t.Fatalf("check fraud: %v", err)
	}
	if !verdict.IsFraud || verdict.FraudProbability != 0.95 {
		t.Errorf("verdict = %+v, want the oracle's verdict passed through", verdict)
	}

	if got := balanceOf(t, store, alice); !got.Equal(decimal.RequireFromString("100")) {
		t.Errorf("sender balance changed to %s", got)
	}
	if n := ledgerLen(t, store); n != 0 {
		t.Errorf("ledger entries = %d, want 0", n)
	}
}

func TestCheckFraudUnknownAccount(t *testing.T) {
	store := newStore(t, map[string]string{alice: "100"})
	proc := newProcessor(store, &stubOracle{}, nil)

	if _, err := proc.CheckFraud(context.Background(), request("10")); !errors.Is(err, ErrAccountNotFound) {
		t.Fatalf("err = %v, want ErrAccountNotFound", err)
	}
}
