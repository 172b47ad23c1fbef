package fraud_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/hossam-create/mnbara-trustplane/pkg/fraud"
)

func cleanSignals() fraud.Signals {
	return fraud.Signals{
		IP:                 "196.129.10.4",
		DeviceFingerprint:  "fp-9c1b",
		UserAgent:          "Mozilla/5.0",
		ClaimedName:        "Omar Hassan",
		VerifiedName:       "Omar Hassan",
		RiskScore:          12,
		CounterpartyStatus: fraud.StatusVerified,
	}
}

func TestEvaluate_CleanSignalsAllow(t *testing.T) {
	d := fraud.Evaluate(cleanSignals())
	assert.Equal(t, fraud.Allow, d.Allowance)
	assert.Empty(t, d.Reasons)
}

func TestEvaluate_MissingFingerprintAndIP(t *testing.T) {
	sig := cleanSignals()
	sig.DeviceFingerprint = ""
	sig.IP = ""

	d := fraud.Evaluate(sig)
	assert.Equal(t, fraud.ManualReview, d.Allowance)
	assert.Contains(t, d.Reasons, "Missing device fingerprint")
	assert.Contains(t, d.Reasons, "Missing IP address")
}

func TestEvaluate_NameMismatchIsNormalized(t *testing.T) {
	sig := cleanSignals()
	sig.ClaimedName = "  omar   HASSAN "
	sig.VerifiedName = "Omar Hassan"

	d := fraud.Evaluate(sig)
	assert.Equal(t, fraud.Allow, d.Allowance, "case and whitespace differences are not a mismatch")

	sig.ClaimedName = "Omar H."
	d = fraud.Evaluate(sig)
	assert.Equal(t, fraud.ManualReview, d.Allowance)
	assert.Contains(t, d.Reasons, "Provided name does not match verified legal name")
}

func TestEvaluate_HighRiskScoreBlocks(t *testing.T) {
	sig := cleanSignals()
	sig.RiskScore = 75

	d := fraud.Evaluate(sig)
	assert.Equal(t, fraud.Block, d.Allowance)
	assert.Contains(t, d.Reasons, "Backend risk score exceeded threshold")
}

func TestEvaluate_MidRiskScoreReviews(t *testing.T) {
	sig := cleanSignals()
	sig.RiskScore = 55

	d := fraud.Evaluate(sig)
	assert.Equal(t, fraud.ManualReview, d.Allowance)
	assert.Contains(t, d.Reasons, "Backend risk score requires manual review")
}

func TestEvaluate_BannedOverridesEverything(t *testing.T) {
	sig := cleanSignals()
	sig.CounterpartyStatus = fraud.StatusBanned
	sig.RiskScore = 0

	d := fraud.Evaluate(sig)
	assert.Equal(t, fraud.Block, d.Allowance)
	assert.Contains(t, d.Reasons, "Counterparty account is banned")

	// A ban reason alone blocks even with an otherwise clean profile.
	sig = cleanSignals()
	sig.CounterpartyBanReason = "chargeback fraud"
	d = fraud.Evaluate(sig)
	assert.Equal(t, fraud.Block, d.Allowance)
}

func TestEvaluate_UnverifiedCounterparty(t *testing.T) {
	for _, status := range []string{"PENDING", fraud.StatusUnknown} {
		sig := cleanSignals()
		sig.CounterpartyStatus = status

		d := fraud.Evaluate(sig)
		assert.Equal(t, fraud.ManualReview, d.Allowance, "status %s", status)
		assert.Contains(t, d.Reasons, "Counterparty account is not verified")
	}
}

func TestEvaluate_RiskFeedFlagDoesNotDowngradeBlock(t *testing.T) {
	sig := cleanSignals()
	sig.RiskScore = 90
	sig.FlaggedByRiskFeed = true

	d := fraud.Evaluate(sig)
	assert.Equal(t, fraud.Block, d.Allowance)
	assert.Contains(t, d.Reasons, "Backend risk score exceeded threshold")
	assert.Contains(t, d.Reasons, "Counterparty flagged by upstream risk feed")
}

func TestEvaluate_ReasonsAccumulateAcrossRules(t *testing.T) {
	sig := fraud.Signals{
		RiskScore:          75,
		CounterpartyStatus: "PENDING",
		FlaggedByRiskFeed:  true,
	}

	d := fraud.Evaluate(sig)
	assert.Equal(t, fraud.Block, d.Allowance)
	// Every triggered rule contributes a reason, even those that did not
	// set the final allowance.
	assert.Len(t, d.Reasons, 5)
}

func TestEvaluate_Deterministic(t *testing.T) {
	sig := cleanSignals()
	sig.RiskScore = 44
	sig.FlaggedByRiskFeed = true

	first := fraud.Evaluate(sig)
	for i := 0; i < 50; i++ {
		assert.Equal(t, first, fraud.Evaluate(sig))
	}
}
