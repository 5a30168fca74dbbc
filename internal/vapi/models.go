package vapi

import (
	"encoding/json"
	"errors"
	"strconv"
	"strings"
)

// Webhook events arrive nested under a "message" object. Only
// end-of-call-report drives orchestration; other types (status-update,
// transcript fragments) are acknowledged and ignored.
const EventTypeEndOfCallReport = "end-of-call-report"

// Ended reasons that mean no human was reached. The classifier
// short-circuits on these regardless of transcript content.
var noConnectReasons = map[string]bool{
	"voicemail":           true,
	"no-answer":           true,
	"customer-did-not-answer": true,
	"busy":                true,
	"failed-to-connect":   true,
	"assistant-error":     true,
}

// NoConnect reports whether endedReason means the call never reached a human.
func NoConnect(endedReason string) bool {
	return noConnectReasons[strings.ToLower(strings.TrimSpace(endedReason))]
}

// webhookEnvelope is the raw wire shape of a platform webhook delivery.
type webhookEnvelope struct {
	Message struct {
		Type        string `json:"type"`
		Timestamp   int64  `json:"timestamp"`
		EndedReason string `json:"endedReason"`
		Call        struct {
			ID       string `json:"id"`
			Metadata struct {
				LeadID string `json:"lead_id"`
			} `json:"metadata"`
		} `json:"call"`
		Artifact struct {
			Transcript string `json:"transcript"`
			Summary    string `json:"summary"`
		} `json:"artifact"`
		Analysis struct {
			Summary        string          `json:"summary"`
			StructuredData json.RawMessage `json:"structuredData"`
		} `json:"analysis"`
	} `json:"message"`
}

// WebhookEvent is the tagged, normalized form handed past the gateway
// boundary. Loosely-typed provider payloads stop here.
type WebhookEvent struct {
	Type        string
	EventID     string
	CallID      string
	LeadID      string
	EndedReason string
	Transcript  string
	Summary     string

	// StructuredData is the platform's extraction output (budget, authority,
	// need, timeline). Kept raw; the classifier owns its interpretation.
	StructuredData json.RawMessage
}

var ErrMalformedEvent = errors.New("vapi: malformed webhook payload")

// ParseWebhookEvent normalizes a raw webhook body. Unknown message types are
// returned as-is (callers acknowledge and skip them); a missing call id on an
// end-of-call report is malformed.
func ParseWebhookEvent(body []byte) (WebhookEvent, error) {
	var env webhookEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return WebhookEvent{}, ErrMalformedEvent
	}
	m := env.Message
	if m.Type == "" {
		return WebhookEvent{}, ErrMalformedEvent
	}

	ev := WebhookEvent{
		Type:        m.Type,
		CallID:      m.Call.ID,
		LeadID:      m.Call.Metadata.LeadID,
		EndedReason: m.EndedReason,
		Transcript:  m.Artifact.Transcript,
		Summary:     m.Analysis.Summary,
	}
	if ev.Summary == "" {
		ev.Summary = m.Artifact.Summary
	}
	if len(m.Analysis.StructuredData) > 0 && string(m.Analysis.StructuredData) != "null" {
		ev.StructuredData = m.Analysis.StructuredData
	}

	if ev.Type == EventTypeEndOfCallReport && ev.CallID == "" {
		return WebhookEvent{}, ErrMalformedEvent
	}

	// Providers may retry a delivery; the (type, call id, timestamp) triple
	// identifies it for dedup.
	ev.EventID = deliveryID(m.Type, m.Call.ID, m.Timestamp)
	return ev, nil
}

func deliveryID(typ, callID string, ts int64) string {
	return typ + ":" + callID + ":" + strconv.FormatInt(ts, 10)
}
