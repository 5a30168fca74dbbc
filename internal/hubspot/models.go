package hubspot

import (
	"strings"
	"time"
)

// Contact is the subset of a HubSpot CRM contact this service reads.
//
// The contact id is owned by HubSpot and never generated locally.
type Contact struct {
	ID         string            `json:"id"`
	Properties ContactProperties `json:"properties"`
}

type ContactProperties struct {
	FirstName  string `json:"firstname"`
	LastName   string `json:"lastname"`
	Phone      string `json:"phone"`
	LeadStatus string `json:"hs_lead_status"`
}

// FullName returns a display name for call metadata; falls back to "there"
// so voice scripts always have something to address the lead with.
func (c Contact) FullName() string {
	name := strings.TrimSpace(strings.TrimSpace(c.Properties.FirstName) + " " + strings.TrimSpace(c.Properties.LastName))
	if name == "" {
		return "there"
	}
	return name
}

// Engagement is a "logged call" timeline card (engagements v1).
type Engagement struct {
	Body       string
	Status     string
	Direction  string
	Timestamp  time.Time
	DurationMS int64
	FromNumber string
	ToNumber   string
}

const (
	EngagementStatusCompleted = "COMPLETED"
	EngagementDirectionOut    = "OUTBOUND"
)

// engagementPayload mirrors the engagements v1 wire shape.
type engagementPayload struct {
	Engagement   engagementHeader   `json:"engagement"`
	Associations engagementAssoc    `json:"associations"`
	Metadata     engagementMetadata `json:"metadata"`
}

type engagementHeader struct {
	Active    bool   `json:"active"`
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"`
}

type engagementAssoc struct {
	ContactIDs []string `json:"contactIds"`
}

type engagementMetadata struct {
	Body       string `json:"body"`
	Status     string `json:"status"`
	FromNumber string `json:"fromNumber"`
	ToNumber   string `json:"toNumber"`
	DurationMS int64  `json:"durationMilliseconds"`
}

type engagementResponse struct {
	Engagement struct {
		ID int64 `json:"id"`
	} `json:"engagement"`
}

type contactPatch struct {
	Properties map[string]string `json:"properties"`
}
