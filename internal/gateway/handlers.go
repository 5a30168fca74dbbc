package gateway

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync"

	"github.com/gin-gonic/gin"

	"leadqual-orchestrator/internal/orchestrator"
	"leadqual-orchestrator/internal/vapi"
)

// LeadOrchestrator is the pipeline surface the gateway drives.
type LeadOrchestrator interface {
	HandleContactCreated(ctx context.Context, ev orchestrator.ContactEvent) error
	HandleCallReport(ctx context.Context, ev vapi.WebhookEvent) error
}

// Handlers terminates the two inbound webhook surfaces.
//
// Both endpoints acknowledge fast and treat redelivery as normal: dedup is
// claimed per event before processing, marked processed only on success, and
// released on failure so the provider's retry gets another chance.
type Handlers struct {
	Orch  LeadOrchestrator
	Dedup Deduper
	Log   *slog.Logger

	// HubSpotSecret validates X-HubSpot-Signature (v1: hex sha256 of
	// secret + raw body). Empty disables validation.
	HubSpotSecret string
	// VapiSecret validates the X-Vapi-Secret header. Empty disables
	// validation.
	VapiSecret string

	// Async processes CRM notifications off the request goroutine so the
	// webhook can be acknowledged within the provider's timeout. Tests run
	// synchronous.
	Async bool

	wg sync.WaitGroup
}

// hubspotNotification is one entry of a CRM webhook delivery. Deliveries
// arrive as an array; a single bare object is tolerated.
type hubspotNotification struct {
	EventID          int64  `json:"eventId"`
	SubscriptionType string `json:"subscriptionType"`
	ObjectID         int64  `json:"objectId"`
	ChangeFlag       string `json:"changeFlag"`
}

const (
	subscriptionContactCreation = "contact.creation"
	changeFlagNew               = "NEW"
)

// HubSpotWebhook ingests contact-creation notifications and starts the
// qualification pipeline for each new contact.
func (h *Handlers) HubSpotWebhook(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, 1<<20))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
		return
	}
	if !h.validHubSpotSignature(c, body) {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid signature"})
		return
	}

	notifications, err := parseHubSpotNotifications(body)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}

	accepted := 0
	for _, n := range notifications {
		if n.SubscriptionType != "" && n.SubscriptionType != subscriptionContactCreation {
			continue
		}
		if n.ChangeFlag != "" && n.ChangeFlag != changeFlagNew {
			continue
		}
		if n.ObjectID == 0 {
			continue
		}
		accepted++
		if h.Async {
			h.wg.Add(1)
			go func() {
				defer h.wg.Done()
				h.processContact(context.WithoutCancel(c.Request.Context()), n)
			}()
		} else {
			h.processContact(c.Request.Context(), n)
		}
	}

	c.JSON(http.StatusAccepted, gin.H{"accepted": accepted})
}

func (h *Handlers) processContact(ctx context.Context, n hubspotNotification) {
	eventID := hubspotEventID(n)
	leadID := strconv.FormatInt(n.ObjectID, 10)
	log := h.log().With("lead_id", leadID, "event_id", eventID)

	ok, err := h.Dedup.Claim(ctx, eventID)
	if err != nil {
		log.Error("dedup claim failed", "err", err)
		return
	}
	if !ok {
		log.Info("duplicate contact notification, skipping")
		return
	}

	err = h.Orch.HandleContactCreated(ctx, orchestrator.ContactEvent{LeadID: leadID})
	switch {
	case err == nil, errors.Is(err, orchestrator.ErrNoPhone):
		// No-phone is permanent; retrying the same notification cannot fix it.
		if mErr := h.Dedup.MarkProcessed(ctx, eventID); mErr != nil {
			log.Error("dedup mark failed", "err", mErr)
		}
	default:
		log.Error("contact processing failed, releasing for redelivery", "err", err)
		if rErr := h.Dedup.Release(ctx, eventID); rErr != nil {
			log.Error("dedup release failed", "err", rErr)
		}
	}
}

// VapiWebhook ingests voice-platform events. Only end-of-call reports are
// processed; everything else is acknowledged and dropped.
func (h *Handlers) VapiWebhook(c *gin.Context) {
	if h.VapiSecret != "" {
		if !subtleEqual(c.GetHeader("X-Vapi-Secret"), h.VapiSecret) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid secret"})
			return
		}
	}

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, 4<<20))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
		return
	}

	ev, err := vapi.ParseWebhookEvent(body)
	if err != nil {
		// Malformed deliveries are rejected, never marked processed; a
		// corrected redelivery must still be able to go through.
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "malformed event"})
		return
	}
	if ev.Type != vapi.EventTypeEndOfCallReport {
		c.JSON(http.StatusOK, gin.H{"status": "ignored"})
		return
	}

	ctx := c.Request.Context()
	log := h.log().With("call_id", ev.CallID, "event_id", ev.EventID)

	ok, err := h.Dedup.Claim(ctx, ev.EventID)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "dedup unavailable"})
		return
	}
	if !ok {
		log.Info("duplicate end-of-call report, skipping")
		c.JSON(http.StatusOK, gin.H{"status": "duplicate"})
		return
	}

	if err := h.Orch.HandleCallReport(ctx, ev); err != nil {
		log.Error("call report processing failed, releasing for redelivery", "err", err)
		if rErr := h.Dedup.Release(ctx, ev.EventID); rErr != nil {
			log.Error("dedup release failed", "err", rErr)
		}
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "processing failed"})
		return
	}

	if err := h.Dedup.MarkProcessed(ctx, ev.EventID); err != nil {
		log.Error("dedup mark failed", "err", err)
	}
	c.JSON(http.StatusOK, gin.H{"status": "processed"})
}

// Drain waits for in-flight async dispatches to finish, up to the context
// deadline. Call after the HTTP server has stopped accepting requests.
func (h *Handlers) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *Handlers) validHubSpotSignature(c *gin.Context, body []byte) bool {
	if h.HubSpotSecret == "" {
		return true
	}
	sum := sha256.Sum256(append([]byte(h.HubSpotSecret), body...))
	want := hex.EncodeToString(sum[:])
	return subtleEqual(c.GetHeader("X-HubSpot-Signature"), want)
}

func (h *Handlers) log() *slog.Logger {
	if h.Log != nil {
		return h.Log
	}
	return slog.Default()
}

func parseHubSpotNotifications(body []byte) ([]hubspotNotification, error) {
	var list []hubspotNotification
	if err := json.Unmarshal(body, &list); err == nil {
		return list, nil
	}
	var single hubspotNotification
	if err := json.Unmarshal(body, &single); err != nil {
		return nil, err
	}
	return []hubspotNotification{single}, nil
}

// hubspotEventID keys dedup on the provider's delivery id; notifications
// without one fall back to the subscription/object pair.
func hubspotEventID(n hubspotNotification) string {
	if n.EventID != 0 {
		return "hubspot:" + strconv.FormatInt(n.EventID, 10)
	}
	return fmt.Sprintf("hubspot:%s:%d", n.SubscriptionType, n.ObjectID)
}

func subtleEqual(a, b string) bool {
	return hmac.Equal([]byte(a), []byte(b))
}
