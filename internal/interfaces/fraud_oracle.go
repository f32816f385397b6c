package interfaces

import (
	"context"

	"github.com/finsecure/fraudguard-ledger/internal/models"
)

// FraudOracle is the outbound port to the external fraud classifier.
//
// Assess never returns an error: oracle failures are absorbed into a
// fail-open verdict (see models.FraudVerdict) rather than surfaced as a
// transfer failure. Healthy is best effort and used by operational
// tooling only; it never gates the transfer path.
type FraudOracle interface {
	Assess(ctx context.Context, a models.FraudAssessment) models.FraudVerdict
	Healthy(ctx context.Context) bool
}
