// Package fraud gates new payment intents with a deterministic, side-effect
// free rule evaluation. Identical inputs always produce the identical
// decision, which is what makes later audit replay possible.
package fraud

import (
	"strings"

	"golang.org/x/text/cases"
)

// Allowance is the ordered outcome of an evaluation. Severity ordering:
// Block > ManualReview > Allow.
type Allowance string

const (
	Allow        Allowance = "allow"
	ManualReview Allowance = "manual_review"
	Block        Allowance = "block"
)

// severity maps an allowance to its rank for worst-outcome combination.
func severity(a Allowance) int {
	switch a {
	case Block:
		return 2
	case ManualReview:
		return 1
	default:
		return 0
	}
}

// ProfileStatus values mirrored from the user directory. StatusUnknown
// is the caller-injected sentinel for a counterparty the directory has
// no record of; it evaluates as not-verified.
const (
	StatusVerified = "VERIFIED"
	StatusBanned   = "BANNED"
	StatusUnknown  = "UNKNOWN"
)

// Risk score thresholds. At or above RiskScoreBlock the intent is blocked;
// between RiskScoreReview and RiskScoreBlock it goes to manual review.
const (
	RiskScoreReview = 40
	RiskScoreBlock  = 70
)

// Signals is the request-time snapshot the evaluator operates on. It is
// embedded unchanged in the resulting Decision so operators and audit
// entries see exactly what was evaluated.
type Signals struct {
	IP                string `json:"ip"`
	DeviceFingerprint string `json:"device_fingerprint"`
	UserAgent         string `json:"user_agent"`
	ClaimedName       string `json:"claimed_name"`
	VerifiedName      string `json:"verified_name"`
	RiskScore         int    `json:"risk_score"`

	// Counterparty profile as reported by the user directory.
	CounterpartyStatus    string `json:"counterparty_status,omitempty"`
	CounterpartyBanReason string `json:"counterparty_ban_reason,omitempty"`

	// FlaggedByRiskFeed is set when an upstream risk feed flagged the
	// counterparty.
	FlaggedByRiskFeed bool `json:"flagged_by_risk_feed"`
}

// Decision is the outcome of evaluating one set of signals. Reasons
// accumulate for every triggered rule, regardless of which rule set the
// final allowance.
type Decision struct {
	Allowance Allowance `json:"allowance"`
	Reasons   []string  `json:"reasons"`
	Signals   Signals   `json:"signals"`
}

var foldCaser = cases.Fold()

// normalizeName lowercases (Unicode case folding) and collapses whitespace
// so "  Omar  HASSAN " and "omar hassan" compare equal.
func normalizeName(name string) string {
	folded := foldCaser.String(name)
	return strings.Join(strings.Fields(folded), " ")
}

// Evaluate runs the full rule set against the signals and combines the
// triggered outcomes by worst result. It is a pure function.
func Evaluate(sig Signals) Decision {
	d := Decision{Allowance: Allow, Signals: sig}

	upgrade := func(to Allowance, reason string) {
		d.Reasons = append(d.Reasons, reason)
		if severity(to) > severity(d.Allowance) {
			d.Allowance = to
		}
	}

	if sig.DeviceFingerprint == "" {
		upgrade(ManualReview, "Missing device fingerprint")
	}
	if sig.IP == "" {
		upgrade(ManualReview, "Missing IP address")
	}
	if sig.ClaimedName != "" && sig.VerifiedName != "" &&
		normalizeName(sig.ClaimedName) != normalizeName(sig.VerifiedName) {
		upgrade(ManualReview, "Provided name does not match verified legal name")
	}

	// A banned counterparty overrides everything else.
	if sig.CounterpartyStatus == StatusBanned || sig.CounterpartyBanReason != "" {
		upgrade(Block, "Counterparty account is banned")
	} else if sig.CounterpartyStatus != "" && sig.CounterpartyStatus != StatusVerified {
		upgrade(ManualReview, "Counterparty account is not verified")
	}

	if sig.RiskScore >= RiskScoreBlock {
		upgrade(Block, "Backend risk score exceeded threshold")
	} else if sig.RiskScore >= RiskScoreReview {
		upgrade(ManualReview, "Backend risk score requires manual review")
	}

	if sig.FlaggedByRiskFeed {
		upgrade(ManualReview, "Counterparty flagged by upstream risk feed")
	}

	return d
}
