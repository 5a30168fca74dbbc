package classify

import (
	"context"
	"strings"

	"leadqual-orchestrator/internal/vapi"
)

// Outcome is the qualification verdict for one completed call attempt.
type Outcome string

const (
	OutcomeQualified    Outcome = "qualified"
	OutcomeUnqualified  Outcome = "unqualified"
	OutcomeOther        Outcome = "other"
	OutcomeUndetermined Outcome = "undetermined"
)

// NoConnectSummary is the fixed summary category used when the call never
// reached a human.
const NoConnectSummary = "Attempted to Contact - No Connect"

// Signals is the structured extraction the voice platform derives from a
// call: budget, decision authority, need, and purchase timeline.
// Pointer fields distinguish "explicitly false" from "not extracted".
type Signals struct {
	Budget     string `json:"budget"`
	Authority  *bool  `json:"authority"`
	Need       *bool  `json:"need"`
	TimingDays *int   `json:"timing_days"`
}

type Input struct {
	Transcript  string
	Signals     *Signals
	EndedReason string

	// PlatformSummary is the voice platform's own call summary, used as the
	// default CRM summary text.
	PlatformSummary string
}

type Result struct {
	Outcome Outcome
	Summary string
}

// Classifier maps a call's artifacts to a qualification outcome. Strategies
// must never fail the pipeline over missing signal: no usable input yields
// OutcomeUndetermined, not an error.
type Classifier interface {
	Classify(ctx context.Context, in Input) (Result, error)
}

// RuleClassifier is the deterministic strategy. Decision policy, in priority
// order:
//  1. no-connect ended reason: OutcomeOther with the fixed no-connect summary
//  2. strong budget + authority + timeline within QualifyWithinDays: Qualified
//  3. explicit no-budget / no-authority / no-need: Unqualified
//  4. anything else: Other (never defaults to Qualified)
type RuleClassifier struct {
	// QualifyWithinDays is the purchase-timeline threshold for rule 2.
	QualifyWithinDays int
}

func NewRuleClassifier(qualifyWithinDays int) *RuleClassifier {
	if qualifyWithinDays <= 0 {
		qualifyWithinDays = 7
	}
	return &RuleClassifier{QualifyWithinDays: qualifyWithinDays}
}

func (r *RuleClassifier) Classify(_ context.Context, in Input) (Result, error) {
	if vapi.NoConnect(in.EndedReason) {
		return Result{Outcome: OutcomeOther, Summary: NoConnectSummary}, nil
	}

	if s := in.Signals; s != nil {
		if strongBudget(s.Budget) && isTrue(s.Authority) && s.TimingDays != nil && *s.TimingDays <= r.QualifyWithinDays {
			return Result{Outcome: OutcomeQualified, Summary: summaryOr(in, "Qualified: budget, authority and timeline confirmed.")}, nil
		}
		if noBudget(s.Budget) || isFalse(s.Authority) || isFalse(s.Need) {
			return Result{Outcome: OutcomeUnqualified, Summary: summaryOr(in, "Unqualified: disqualifying signals on the call.")}, nil
		}
		return Result{Outcome: OutcomeOther, Summary: summaryOr(in, "Outcome ambiguous; needs human review.")}, nil
	}

	if text := strings.ToLower(in.Transcript); text != "" {
		switch {
		case containsAny(text, "move forward", "approved", "qualified", "send the contract"):
			return Result{Outcome: OutcomeQualified, Summary: summaryOr(in, "Qualified per conversation.")}, nil
		case containsAny(text, "not interested", "no budget", "wrong number", "stop calling"):
			return Result{Outcome: OutcomeUnqualified, Summary: summaryOr(in, "Unqualified per conversation.")}, nil
		}
		return Result{Outcome: OutcomeUndetermined, Summary: summaryOr(in, "")}, nil
	}

	// No structured data, no transcript: nothing to decide on.
	return Result{Outcome: OutcomeUndetermined, Summary: summaryOr(in, "No usable signal from call.")}, nil
}

func summaryOr(in Input, fallback string) string {
	if s := strings.TrimSpace(in.PlatformSummary); s != "" {
		return s
	}
	if t := strings.TrimSpace(in.Transcript); t != "" {
		if len(t) > 950 {
			return t[:950]
		}
		return t
	}
	return fallback
}

func strongBudget(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "high", "strong", "approved", "confirmed", "yes":
		return true
	default:
		return false
	}
}

func noBudget(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "none", "no", "zero":
		return true
	default:
		return false
	}
}

func isTrue(b *bool) bool  { return b != nil && *b }
func isFalse(b *bool) bool { return b != nil && !*b }

func containsAny(text string, needles ...string) bool {
	for _, n := range needles {
		if strings.Contains(text, n) {
			return true
		}
	}
	return false
}
