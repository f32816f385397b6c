package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/finsecure/fraudguard-ledger/internal/config"
	"github.com/finsecure/fraudguard-ledger/internal/events/kafka"
	"github.com/finsecure/fraudguard-ledger/internal/fraud"
	"github.com/finsecure/fraudguard-ledger/internal/interfaces"
	"github.com/finsecure/fraudguard-ledger/internal/models"
	"github.com/finsecure/fraudguard-ledger/internal/processor"
	"github.com/finsecure/fraudguard-ledger/internal/storage/memory"
	"github.com/finsecure/fraudguard-ledger/internal/storage/postgres"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	cfg := config.Load()
	logger := log.With().Str("service", "fraudguard-ledger").Logger()

	var store interfaces.TransferStore
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("open database")
		}
		if err := db.Ping(); err != nil {
			logger.Fatal().Err(err).Msg("connect to database")
		}
		defer db.Close()
		store = postgres.NewPostgresTransferStore(db)
	} else {
		logger.Warn().Msg("DATABASE_URL not set, using in-memory store")
		store = memory.NewMemoryTransferStore()
	}

	oracle := fraud.NewClient(cfg.FraudAPIURL, cfg.FraudAPITimeout, logger)

	var publisher interfaces.EventPublisher
	if len(cfg.KafkaBrokers) > 0 {
		kafkaPublisher := kafka.NewPublisher(cfg.KafkaBrokers)
		defer kafkaPublisher.Close()
		publisher = kafkaPublisher
	}

	proc := processor.NewProcessor(store, oracle, publisher, logger)

	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		// Oracle health is informational; a sick oracle never takes
		// the service down.
		writeJSON(w, http.StatusOK, map[string]any{
			"status":       "ok",
			"fraud_oracle": oracle.Healthy(r.Context()),
		})
	})

	mux.HandleFunc("/accounts", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}

		var req struct {
			Identity string          `json:"identity"`
			Balance  decimal.Decimal `json:"balance"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
		if req.Identity == "" {
			http.Error(w, "identity is a mandatory field", http.StatusBadRequest)
			return
		}

		account := models.Account{Identity: req.Identity, Balance: req.Balance}
		if err := store.Save(r.Context(), account); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusCreated, account)
	})

	mux.HandleFunc("/accounts/balance", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}

		identity := r.URL.Query().Get("identity")
		if identity == "" {
			http.Error(w, "identity is a mandatory field", http.StatusBadRequest)
			return
		}

		account, err := store.GetByIdentity(r.Context(), identity)
		if err != nil {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, account)
	})

	mux.HandleFunc("/transfers", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}

		var req processor.TransferRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}

		record, err := proc.Transfer(r.Context(), req)
		if err != nil {
			http.Error(w, err.Error(), statusForError(err))
			return
		}
		writeJSON(w, http.StatusCreated, record)
	})

	mux.HandleFunc("/transfers/check", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}

		var req processor.TransferRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}

		verdict, err := proc.CheckFraud(r.Context(), req)
		if err != nil {
			http.Error(w, err.Error(), statusForError(err))
			return
		}
		writeJSON(w, http.StatusOK, verdict)
	})

	mux.HandleFunc("/ledger", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}

		var (
			records []models.Transaction
			err     error
		)
		if identity := r.URL.Query().Get("account"); identity != "" {
			records, err = store.FindByAccount(r.Context(), identity)
		} else {
			records, err = store.FindAll(r.Context())
		}
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, records)
	})

	mux.Handle("/metrics", promhttp.Handler())

	server := &http.Server{Addr: ":" + cfg.Port, Handler: mux}

	go func() {
		logger.Info().Str("port", cfg.Port).Str("env", cfg.Env).Msg("server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	logger.Info().Msg("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
	}
}

// statusForError maps the processor's error taxonomy to HTTP statuses.
func statusForError(err error) int {
	switch {
	case errors.Is(err, processor.ErrAccountNotFound):
		return http.StatusNotFound
	case errors.Is(err, processor.ErrInvalidAmount),
		errors.Is(err, processor.ErrSameAccount),
		errors.Is(err, processor.ErrInsufficientBalance):
		return http.StatusBadRequest
	case errors.Is(err, processor.ErrTransactionBlocked):
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}
