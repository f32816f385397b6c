// Package processor holds the transaction core: it validates a transfer,
// obtains a fraud verdict, applies the block/flag decision and commits
// both balance mutations plus the audit record as one unit of work.
package processor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/finsecure/fraudguard-ledger/internal/interfaces"
	"github.com/finsecure/fraudguard-ledger/internal/metrics"
	"github.com/finsecure/fraudguard-ledger/internal/models"
	"github.com/finsecure/fraudguard-ledger/internal/models/events"
	"github.com/finsecure/fraudguard-ledger/internal/storage"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

var (
	ErrAccountNotFound     = errors.New("account not found")
	ErrInvalidAmount       = errors.New("amount must be positive")
	ErrSameAccount         = errors.New("sender and receiver must differ")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrTransactionBlocked  = errors.New("transaction blocked due to fraud detection")
)

const (
	// A verdict blocks the transfer only when the oracle is both
	// positive and near certain. Flagging kicks in on a positive
	// verdict or a high probability alone.
	blockProbability  = 0.9
	reviewProbability = 0.7

	// How often a commit may lose the optimistic balance check before
	// the conflict is surfaced as a failure.
	maxCommitAttempts = 5
)

// TransferRequest is a single requested transfer between two identities.
type TransferRequest struct {
	Sender      string          `json:"sender"`
	Receiver    string          `json:"receiver"`
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description"`
	Type        string          `json:"type"`
	Timestamp   time.Time       `json:"timestamp"`
}

// Processor orchestrates the store, the fraud oracle and the event
// publisher to execute transfers. All collaborators are injected; the
// processor keeps no state besides its per-account locks.
type Processor struct {
	store     interfaces.TransferStore
	oracle    interfaces.FraudOracle
	publisher interfaces.EventPublisher // optional; nil disables events
	log       zerolog.Logger

	muMap map[string]*sync.Mutex // one lock per account identity
	mapMu sync.Mutex             // protects the muMap itself
}

func NewProcessor(store interfaces.TransferStore, oracle interfaces.FraudOracle, publisher interfaces.EventPublisher, logger zerolog.Logger) *Processor {
	return &Processor{
		store:     store,
		oracle:    oracle,
		publisher: publisher,
		log:       logger,
		muMap:     make(map[string]*sync.Mutex),
	}
}

func (p *Processor) getAccountLock(identity string) *sync.Mutex {
	p.mapMu.Lock()
	defer p.mapMu.Unlock()

	if _, exists := p.muMap[identity]; !exists {
		p.muMap[identity] = &sync.Mutex{}
	}
	return p.muMap[identity]
}

// lockPair takes both account locks in identity order to avoid deadlocks
// and returns the matching unlock function.
func (p *Processor) lockPair(a, b string) func() {
	first, second := p.getAccountLock(a), p.getAccountLock(b)
	if b < a {
		first, second = second, first
	}
	first.Lock()
	second.Lock()
	return func() {
		second.Unlock()
		first.Unlock()
	}
}

// Transfer executes one transfer end to end and returns the persisted
// audit record.
//
// The sufficiency check and the commit are serialized per account pair,
// but the oracle round trip happens with no locks held: the snapshot the
// verdict was computed from is re-verified by the store at commit time,
// and a stale snapshot restarts the whole attempt with fresh balances and
// a fresh verdict.
func (p *Processor) Transfer(ctx context.Context, req TransferRequest) (models.Transaction, error) {
	if req.Amount.Cmp(decimal.Zero) <= 0 {
		metrics.TransfersTotal.WithLabelValues("rejected").Inc()
		return models.Transaction{}, fmt.Errorf("%w: %s", ErrInvalidAmount, req.Amount)
	}
	if req.Sender == req.Receiver {
		metrics.TransfersTotal.WithLabelValues("rejected").Inc()
		return models.Transaction{}, ErrSameAccount
	}
	transferType := p.normalizeType(req.Type)

	for attempt := 0; attempt < maxCommitAttempts; attempt++ {
		record, err := p.attemptTransfer(ctx, req, transferType)
		if errors.Is(err, storage.ErrStaleBalance) {
			p.log.Debug().Str("sender", req.Sender).Str("receiver", req.Receiver).
				Int("attempt", attempt+1).Msg("balance changed mid-transfer, retrying")
			continue
		}
		return record, err
	}

	metrics.TransfersTotal.WithLabelValues("failed").Inc()
	return models.Transaction{}, fmt.Errorf("transfer not committed after %d attempts: %w", maxCommitAttempts, storage.ErrStaleBalance)
}

func (p *Processor) attemptTransfer(ctx context.Context, req TransferRequest, transferType models.TransferType) (models.Transaction, error) {
	// Snapshot and validate under the pair lock.
	unlock := p.lockPair(req.Sender, req.Receiver)
	sender, err := p.store.GetByIdentity(ctx, req.Sender)
	if err != nil {
		unlock()
		metrics.TransfersTotal.WithLabelValues("rejected").Inc()
		return models.Transaction{}, p.resolveErr(err, req.Sender)
	}
	receiver, err := p.store.GetByIdentity(ctx, req.Receiver)
	if err != nil {
		unlock()
		metrics.TransfersTotal.WithLabelValues("rejected").Inc()
		return models.Transaction{}, p.resolveErr(err, req.Receiver)
	}

	oldBalanceOrg := sender.Balance
	oldBalanceDest := receiver.Balance

	if oldBalanceOrg.LessThan(req.Amount) {
		unlock()
		metrics.TransfersTotal.WithLabelValues("rejected").Inc()
		return models.Transaction{}, fmt.Errorf("%w: balance %s, requested %s", ErrInsufficientBalance, oldBalanceOrg, req.Amount)
	}

	newBalanceOrig := oldBalanceOrg.Sub(req.Amount)
	newBalanceDest := oldBalanceDest.Add(req.Amount)

	// Release before the oracle round trip so a slow classifier never
	// serializes unrelated transfers.
	unlock()

	verdict := p.oracle.Assess(ctx, models.FraudAssessment{
		Type:           transferType,
		Amount:         req.Amount,
		OldBalanceOrg:  oldBalanceOrg,
		NewBalanceOrig: newBalanceOrig,
		OldBalanceDest: oldBalanceDest,
		NewBalanceDest: newBalanceDest,
	})

	p.log.Info().
		Str("sender", req.Sender).Str("receiver", req.Receiver).
		Bool("is_fraud", verdict.IsFraud).
		Float64("fraud_probability", verdict.FraudProbability).
		Str("confidence", verdict.Confidence).
		Msg("fraud detection result")

	// Hard block: near-certain fraud aborts with zero state change.
	if verdict.IsFraud && verdict.FraudProbability > blockProbability {
		p.log.Warn().Str("sender", req.Sender).Str("receiver", req.Receiver).
			Float64("fraud_probability", verdict.FraudProbability).
			Msg("transfer blocked by fraud detection")
		metrics.TransfersTotal.WithLabelValues("blocked").Inc()
		p.publish(ctx, events.TopicFraudAlerts, events.FraudAlert{
			EventID:          uuid.NewString(),
			Sender:           req.Sender,
			Receiver:         req.Receiver,
			Amount:           req.Amount,
			Type:             string(transferType),
			Blocked:          true,
			FraudProbability: verdict.FraudProbability,
			OccurredAt:       time.Now().UTC(),
		})
		return models.Transaction{}, ErrTransactionBlocked
	}

	flagged := verdict.IsFraud || verdict.FraudProbability > reviewProbability

	timestamp := req.Timestamp
	if timestamp.IsZero() {
		timestamp = time.Now().UTC()
	}

	record := models.Transaction{
		Sender:           req.Sender,
		Receiver:         req.Receiver,
		Amount:           req.Amount,
		Timestamp:        timestamp,
		Description:      req.Description,
		Type:             transferType,
		OldBalanceOrg:    oldBalanceOrg,
		NewBalanceOrig:   newBalanceOrig,
		OldBalanceDest:   oldBalanceDest,
		NewBalanceDest:   newBalanceDest,
		IsFraudSuspected: flagged,
		FraudProbability: verdict.FraudProbability,
		FraudError:       verdict.Error,
	}

	// Commit under the pair lock, conditioned on the snapshot the
	// verdict was computed from.
	unlock = p.lockPair(req.Sender, req.Receiver)
	saved, err := p.store.CommitTransfer(ctx,
		models.BalanceUpdate{Identity: req.Sender, OldBalance: oldBalanceOrg, NewBalance: newBalanceOrig},
		models.BalanceUpdate{Identity: req.Receiver, OldBalance: oldBalanceDest, NewBalance: newBalanceDest},
		record)
	unlock()

	if errors.Is(err, storage.ErrStaleBalance) {
		return models.Transaction{}, err
	}
	if err != nil {
		metrics.TransfersTotal.WithLabelValues("failed").Inc()
		return models.Transaction{}, fmt.Errorf("persist transfer: %w", err)
	}

	outcome := "completed"
	if flagged {
		outcome = "flagged"
	}
	metrics.TransfersTotal.WithLabelValues(outcome).Inc()

	p.publish(ctx, events.TopicTransferCompleted, events.TransferCompleted{
		EventID:       uuid.NewString(),
		TransactionID: saved.ID,
		Sender:        saved.Sender,
		Receiver:      saved.Receiver,
		Amount:        saved.Amount,
		Type:          string(saved.Type),
		Flagged:       flagged,
		OccurredAt:    time.Now().UTC(),
	})
	if flagged {
		p.publish(ctx, events.TopicFraudAlerts, events.FraudAlert{
			EventID:          uuid.NewString(),
			TransactionID:    saved.ID,
			Sender:           saved.Sender,
			Receiver:         saved.Receiver,
			Amount:           saved.Amount,
			Type:             string(saved.Type),
			Blocked:          false,
			FraudProbability: verdict.FraudProbability,
			OccurredAt:       time.Now().UTC(),
		})
	}

	return saved, nil
}

// CheckFraud is the read-only pre-flight: it resolves both accounts,
// computes the balances the transfer would produce and returns the
// oracle's verdict. No state is mutated and nothing is persisted; it
// deliberately skips the sufficiency check, mirroring the transfer path's
// assessment inputs only.
func (p *Processor) CheckFraud(ctx context.Context, req TransferRequest) (models.FraudVerdict, error) {
	sender, err := p.store.GetByIdentity(ctx, req.Sender)
	if err != nil {
		return models.FraudVerdict{}, p.resolveErr(err, req.Sender)
	}
	receiver, err := p.store.GetByIdentity(ctx, req.Receiver)
	if err != nil {
		return models.FraudVerdict{}, p.resolveErr(err, req.Receiver)
	}

	verdict := p.oracle.Assess(ctx, models.FraudAssessment{
		Type:           p.normalizeType(req.Type),
		Amount:         req.Amount,
		OldBalanceOrg:  sender.Balance,
		NewBalanceOrig: sender.Balance.Sub(req.Amount),
		OldBalanceDest: receiver.Balance,
		NewBalanceDest: receiver.Balance.Add(req.Amount),
	})
	return verdict, nil
}

func (p *Processor) normalizeType(raw string) models.TransferType {
	transferType, ok := models.ParseTransferType(raw)
	if !ok {
		p.log.Warn().Str("type", raw).Msg("unknown transfer type, defaulting to TRANSFER")
		metrics.TypeFallbacks.Inc()
	}
	return transferType
}

func (p *Processor) resolveErr(err error, identity string) error {
	if errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("%w: %s", ErrAccountNotFound, identity)
	}
	return fmt.Errorf("resolve account %s: %w", identity, err)
}

// publish is best effort: a failing broker is logged, never surfaced.
func (p *Processor) publish(ctx context.Context, topic string, event any) {
	if p.publisher == nil {
		return
	}
	if err := p.publisher.Publish(ctx, topic, event); err != nil {
		p.log.Error().Err(err).Str("topic", topic).Msg("failed to publish event")
	}
}
