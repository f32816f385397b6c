// Package fraud contains the HTTP client for the external fraud
// classifier service.
package fraud

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/finsecure/fraudguard-ledger/internal/interfaces"
	"github.com/finsecure/fraudguard-ledger/internal/metrics"
	"github.com/finsecure/fraudguard-ledger/internal/models"
	"github.com/rs/zerolog"
)

// DefaultTimeout bounds the classifier round trip when no explicit
// timeout is configured.
const DefaultTimeout = 5000 * time.Millisecond

// Client calls the fraud classifier over HTTP. The classifier is a black
// box scoring oracle; the client's job is mapping the domain request to
// its wire format, the wire response back to a verdict, and any failure
// to a fail-open verdict. A failing oracle never fails a transfer.
type Client struct {
	baseURL string
	http    *http.Client
	log     zerolog.Logger
}

// NewClient creates a client against baseURL (e.g. http://localhost:5000).
// A non-positive timeout falls back to DefaultTimeout.
func NewClient(baseURL string, timeout time.Duration, logger zerolog.Logger) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		log:     logger,
	}
}

// predictionRequest is the classifier's wire format. The balance field
// names are the ones the model was trained on, quirky casing included.
type predictionRequest struct {
	Type           string  `json:"type"`
	Amount         float64 `json:"amount"`
	OldBalanceOrg  float64 `json:"oldbalanceOrg"`
	NewBalanceOrig float64 `json:"newbalanceOrig"`
	OldBalanceDest float64 `json:"oldbalanceDest"`
	NewBalanceDest float64 `json:"newbalanceDest"`
}

// Assess performs one scoring round trip and returns the verdict.
//
// Connectivity failures and timeouts, non-2xx statuses and undecodable
// bodies all produce a fail-open verdict carrying the reason; they are
// logged and counted under distinct reasons but never returned as errors.
func (c *Client) Assess(ctx context.Context, a models.FraudAssessment) models.FraudVerdict {
	body, err := json.Marshal(predictionRequest{
		Type:           string(a.Type),
		Amount:         a.Amount.InexactFloat64(),
		OldBalanceOrg:  a.OldBalanceOrg.InexactFloat64(),
		NewBalanceOrig: a.NewBalanceOrig.InexactFloat64(),
		OldBalanceDest: a.OldBalanceDest.InexactFloat64(),
		NewBalanceDest: a.NewBalanceDest.InexactFloat64(),
	})
	if err != nil {
		return c.failOpen("bad_body", fmt.Sprintf("encode fraud request: %v", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/predict", bytes.NewReader(body))
	if err != nil {
		return c.failOpen("unreachable", fmt.Sprintf("build fraud request: %v", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		// Covers refused connections and elapsed timeouts alike.
		return c.failOpen("unreachable", "fraud detection service is not available: "+err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return c.failOpen("bad_status", fmt.Sprintf("fraud detection service returned status %d", resp.StatusCode))
	}

	var verdict models.FraudVerdict
	if err := json.NewDecoder(resp.Body).Decode(&verdict); err != nil {
		return c.failOpen("bad_body", "malformed fraud detection response: "+err.Error())
	}

	c.log.Debug().
		Bool("is_fraud", verdict.IsFraud).
		Float64("fraud_probability", verdict.FraudProbability).
		Str("confidence", verdict.Confidence).
		Msg("fraud oracle verdict")
	return verdict
}

// Healthy reports whether the classifier's /health endpoint answers with
// a success status. Best effort only.
func (c *Client) Healthy(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := c.http.Do(req)
	if err != nil {
		c.log.Debug().Err(err).Msg("fraud oracle health check failed")
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

func (c *Client) failOpen(reason, message string) models.FraudVerdict {
	c.log.Error().Str("reason", reason).Str("error", message).Msg("fraud oracle call failed, failing open")
	metrics.OracleFailures.WithLabelValues(reason).Inc()
	return models.FraudVerdict{
		IsFraud:          false,
		FraudProbability: 0.0,
		Confidence:       "error",
		Error:            message,
	}
}

var _ interfaces.FraudOracle = (*Client)(nil)
