package telephony

import (
	"context"
	"errors"
	"io"
	"net/http"

	"call-insights/pkg/logger"

	"github.com/gin-gonic/gin"
)

// maxWebhookBody bounds how much of a webhook body is read.
const maxWebhookBody = 1 << 20

// Receiver is implemented by Gate.
type Receiver interface {
	Receive(ctx context.Context, raw []byte, signature string) (Result, error)
}

// WebhookResponse is the body returned to the provider.
type WebhookResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	CallID  string `json:"call_id,omitempty"`
}

// WebhookHandler adapts the gin request to the Gate. No business logic here.
type WebhookHandler struct {
	Gate Receiver
}

func (h WebhookHandler) HandleCallEnded(c *gin.Context) {
	log := logger.FromGin(c)

	if h.Gate == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, WebhookResponse{Status: "error", Message: "webhook gate not configured"})
		return
	}

	raw, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, WebhookResponse{Status: "error", Message: "unreadable body"})
		return
	}

	res, err := h.Gate.Receive(c.Request.Context(), raw, c.GetHeader(SignatureHeader))
	switch {
	case errors.Is(err, ErrInvalidSignature):
		log.Warn("webhook signature rejected")
		c.AbortWithStatusJSON(http.StatusUnauthorized, WebhookResponse{Status: "error", Message: "invalid signature"})
		return
	case errors.Is(err, ErrMalformedPayload):
		log.Warn("webhook payload rejected", "err", err)
		c.AbortWithStatusJSON(http.StatusBadRequest, WebhookResponse{Status: "error", Message: err.Error()})
		return
	case err != nil:
		log.Error("webhook ingest failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, WebhookResponse{Status: "error", Message: "ingest failed"})
		return
	}

	out := WebhookResponse{Status: string(res.Outcome), CallID: res.CallID}
	switch res.Outcome {
	case OutcomeAccepted:
		out.Message = "call accepted for processing"
	case OutcomeDuplicate:
		out.Message = "call already received"
	case OutcomeIgnored:
		out.Message = "event type " + res.EventType + " not handled"
		log.Info("webhook event ignored", "event_type", res.EventType)
	}
	c.JSON(http.StatusOK, out)
}
