package classify

import (
	"context"
	"errors"
	"log/slog"
	"testing"
)

func boolPtr(b bool) *bool { return &b }
func intPtr(n int) *int    { return &n }

func TestRuleClassifier_NoConnectShortCircuits(t *testing.T) {
	r := NewRuleClassifier(7)
	for _, reason := range []string{"voicemail", "no-answer", "busy"} {
		res, err := r.Classify(context.Background(), Input{
			EndedReason: reason,
			Transcript:  "this transcript must be ignored, sounds very qualified and approved",
			Signals:     &Signals{Budget: "high", Authority: boolPtr(true), TimingDays: intPtr(1)},
		})
		if err != nil {
			t.Fatalf("%s: %v", reason, err)
		}
		if res.Outcome != OutcomeOther {
			t.Fatalf("%s: outcome = %s, want other", reason, res.Outcome)
		}
		if res.Summary != NoConnectSummary {
			t.Fatalf("%s: summary = %q", reason, res.Summary)
		}
	}
}

func TestRuleClassifier_StrongSignalsQualify(t *testing.T) {
	r := NewRuleClassifier(7)
	res, err := r.Classify(context.Background(), Input{
		EndedReason: "completed",
		Signals:     &Signals{Budget: "high", Authority: boolPtr(true), TimingDays: intPtr(5)},
	})
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if res.Outcome != OutcomeQualified {
		t.Fatalf("outcome = %s, want qualified", res.Outcome)
	}
}

func TestRuleClassifier_TimelineBeyondThresholdIsNotQualified(t *testing.T) {
	r := NewRuleClassifier(7)
	res, _ := r.Classify(context.Background(), Input{
		EndedReason: "completed",
		Signals:     &Signals{Budget: "high", Authority: boolPtr(true), TimingDays: intPtr(30)},
	})
	if res.Outcome == OutcomeQualified {
		t.Fatalf("timeline 30d must not qualify with threshold 7d")
	}
	if res.Outcome != OutcomeOther {
		t.Fatalf("outcome = %s, want other (ambiguous)", res.Outcome)
	}
}

func TestRuleClassifier_ExplicitDisqualifiers(t *testing.T) {
	r := NewRuleClassifier(7)
	cases := []struct {
		name string
		s    Signals
	}{
		{"no budget", Signals{Budget: "none"}},
		{"no authority", Signals{Budget: "high", Authority: boolPtr(false)}},
		{"no need", Signals{Budget: "high", Authority: boolPtr(true), Need: boolPtr(false)}},
	}
	for _, tc := range cases {
		res, _ := r.Classify(context.Background(), Input{EndedReason: "completed", Signals: &tc.s})
		if res.Outcome != OutcomeUnqualified {
			t.Fatalf("%s: outcome = %s, want unqualified", tc.name, res.Outcome)
		}
	}
}

func TestRuleClassifier_AmbiguousNeverQualifies(t *testing.T) {
	r := NewRuleClassifier(7)
	res, _ := r.Classify(context.Background(), Input{
		EndedReason: "completed",
		Signals:     &Signals{Budget: "medium"},
	})
	if res.Outcome != OutcomeOther {
		t.Fatalf("outcome = %s, want other", res.Outcome)
	}
}

func TestRuleClassifier_NoSignalIsUndetermined(t *testing.T) {
	r := NewRuleClassifier(7)
	res, err := r.Classify(context.Background(), Input{EndedReason: "completed"})
	if err != nil {
		t.Fatalf("Classify must not fail on empty input: %v", err)
	}
	if res.Outcome != OutcomeUndetermined {
		t.Fatalf("outcome = %s, want undetermined", res.Outcome)
	}
	if res.Summary == "" {
		t.Fatalf("expected a fallback summary")
	}
}

func TestRuleClassifier_TranscriptKeywords(t *testing.T) {
	r := NewRuleClassifier(7)

	res, _ := r.Classify(context.Background(), Input{
		EndedReason: "completed",
		Transcript:  "Sounds great, let's move forward with the pilot.",
	})
	if res.Outcome != OutcomeQualified {
		t.Fatalf("outcome = %s, want qualified", res.Outcome)
	}

	res, _ = r.Classify(context.Background(), Input{
		EndedReason: "completed",
		Transcript:  "We are not interested, please stop calling.",
	})
	if res.Outcome != OutcomeUnqualified {
		t.Fatalf("outcome = %s, want unqualified", res.Outcome)
	}

	res, _ = r.Classify(context.Background(), Input{
		EndedReason: "completed",
		Transcript:  "Let me think about it and talk to my team.",
	})
	if res.Outcome != OutcomeUndetermined {
		t.Fatalf("outcome = %s, want undetermined", res.Outcome)
	}
}

func newTestLLM(t *testing.T, reply string, err error) *LLMClassifier {
	t.Helper()
	c := NewLLMClassifier("test-key", NewRuleClassifier(7), slog.Default())
	c.complete = func(ctx context.Context, prompt string) (string, error) {
		return reply, err
	}
	return c
}

func TestLLMClassifier_StructuredOutcomeNotOverridden(t *testing.T) {
	// The model says unqualified, structured signals say qualified.
	c := newTestLLM(t, `{"qualified":"unqualified","crm_summary":"Model summary"}`, nil)

	res, err := c.Classify(context.Background(), Input{
		EndedReason: "completed",
		Transcript:  "hello",
		Signals:     &Signals{Budget: "high", Authority: boolPtr(true), TimingDays: intPtr(3)},
	})
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if res.Outcome != OutcomeQualified {
		t.Fatalf("outcome = %s, structured signals must win", res.Outcome)
	}
	if res.Summary != "Model summary" {
		t.Fatalf("summary = %q, model may refine the summary", res.Summary)
	}
}

func TestLLMClassifier_OwnsOutcomeWithoutSignals(t *testing.T) {
	c := newTestLLM(t, "Here you go:\n```json\n{\"qualified\":\"qualified\",\"crm_summary\":\"Ready to buy\"}\n```", nil)

	res, err := c.Classify(context.Background(), Input{
		EndedReason: "completed",
		Transcript:  "long conversation",
	})
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if res.Outcome != OutcomeQualified || res.Summary != "Ready to buy" {
		t.Fatalf("result = %+v", res)
	}
}

func TestLLMClassifier_InvalidVerdictMapsToOther(t *testing.T) {
	c := newTestLLM(t, `{"qualified":"definitely maybe"}`, nil)
	res, err := c.Classify(context.Background(), Input{EndedReason: "completed", Transcript: "chat"})
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if res.Outcome != OutcomeOther {
		t.Fatalf("outcome = %s, want other (never silently qualified)", res.Outcome)
	}
}

func TestLLMClassifier_FailureFallsBackToRules(t *testing.T) {
	c := newTestLLM(t, "", errors.New("rate limited"))
	res, err := c.Classify(context.Background(), Input{
		EndedReason: "completed",
		Signals:     &Signals{Budget: "none"},
		Transcript:  "some text",
	})
	if err != nil {
		t.Fatalf("LLM failure must not fail the pipeline: %v", err)
	}
	if res.Outcome != OutcomeUnqualified {
		t.Fatalf("outcome = %s, want rule fallback unqualified", res.Outcome)
	}
}

func TestLLMClassifier_NoConnectSkipsModel(t *testing.T) {
	called := false
	c := NewLLMClassifier("test-key", NewRuleClassifier(7), slog.Default())
	c.complete = func(ctx context.Context, prompt string) (string, error) {
		called = true
		return `{}`, nil
	}

	res, err := c.Classify(context.Background(), Input{EndedReason: "voicemail", Transcript: "beep"})
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if called {
		t.Fatalf("model must not be invoked for no-connect calls")
	}
	if res.Summary != NoConnectSummary {
		t.Fatalf("summary = %q", res.Summary)
	}
}
