package classify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"leadqual-orchestrator/internal/vapi"
)

// LLMClassifier is the natural-language strategy. It refines the CRM summary
// text, and owns the outcome only when no structured extraction is available;
// a structured-signal outcome from the rule policy is never overridden.
//
// Any LLM failure degrades to the rule result instead of failing the
// pipeline.
type LLMClassifier struct {
	rules *RuleClassifier
	log   *slog.Logger
	model openai.ChatModel

	// complete is injectable for tests; the default sends a chat completion.
	complete func(ctx context.Context, prompt string) (string, error)
}

func NewLLMClassifier(apiKey string, rules *RuleClassifier, log *slog.Logger) *LLMClassifier {
	if log == nil {
		log = slog.Default()
	}
	client := openai.NewClient(option.WithAPIKey(apiKey))
	c := &LLMClassifier{
		rules: rules,
		log:   log,
		model: openai.ChatModelGPT4oMini,
	}
	c.complete = func(ctx context.Context, prompt string) (string, error) {
		resp, err := client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
			Model: c.model,
			Messages: []openai.ChatCompletionMessageParamUnion{
				openai.SystemMessage("You classify sales call outcomes. Return ONLY valid JSON."),
				openai.UserMessage(prompt),
			},
			Temperature: openai.Float(0),
		})
		if err != nil {
			return "", err
		}
		if len(resp.Choices) == 0 {
			return "", fmt.Errorf("empty completion")
		}
		return resp.Choices[0].Message.Content, nil
	}
	return c
}

type llmVerdict struct {
	Qualified  string `json:"qualified"`
	Reasoning  string `json:"reasoning"`
	CRMSummary string `json:"crm_summary"`
}

func (c *LLMClassifier) Classify(ctx context.Context, in Input) (Result, error) {
	base, err := c.rules.Classify(ctx, in)
	if err != nil {
		return Result{}, err
	}

	// No human contact: the fixed category stands, analysis is skipped.
	if vapi.NoConnect(in.EndedReason) {
		return base, nil
	}
	// Nothing for a language model to read.
	if strings.TrimSpace(in.Transcript) == "" && strings.TrimSpace(in.PlatformSummary) == "" {
		return base, nil
	}

	raw, err := c.complete(ctx, c.prompt(in))
	if err != nil {
		c.log.Warn("llm classification failed, using rule result", "err", err)
		return base, nil
	}

	var v llmVerdict
	if err := json.Unmarshal(extractJSON(raw), &v); err != nil {
		c.log.Warn("llm returned unparseable verdict, using rule result", "err", err)
		return base, nil
	}

	out := base
	if s := strings.TrimSpace(v.CRMSummary); s != "" {
		out.Summary = s
	}

	// The model decides the outcome only when structured signals are absent.
	if in.Signals == nil {
		switch strings.ToLower(strings.TrimSpace(v.Qualified)) {
		case "qualified":
			out.Outcome = OutcomeQualified
		case "unqualified":
			out.Outcome = OutcomeUnqualified
		default:
			out.Outcome = OutcomeOther
		}
	}
	return out, nil
}

func (c *LLMClassifier) prompt(in Input) string {
	var b strings.Builder
	b.WriteString("Classify this outbound sales qualification call.\n")
	fmt.Fprintf(&b, "EndedReason: %s\n", in.EndedReason)
	fmt.Fprintf(&b, "Summary: %s\n", in.PlatformSummary)
	fmt.Fprintf(&b, "Transcript: %s\n\n", in.Transcript)
	b.WriteString(`Respond with JSON fields:
- qualified: "qualified" | "unqualified" | "not_applicable"
- reasoning: short string
- crm_summary: compact professional summary for the CRM record
`)
	return b.String()
}

// extractJSON trims prose and code fences around a JSON object; models do not
// always honor "JSON only".
func extractJSON(s string) []byte {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start == -1 || end == -1 || end < start {
		return []byte("{}")
	}
	return []byte(s[start : end+1])
}
