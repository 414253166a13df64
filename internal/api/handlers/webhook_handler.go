package handlers

import (
	"io"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"greendrake/referral/internal/services"
)

const (
	// SignatureHeader carries the provider's signature of the raw body.
	SignatureHeader = "Stripe-Signature"
	maxWebhookBody  = 64 << 10
)

// WebhookHandler receives payment provider events.
type WebhookHandler struct {
	workflow services.IGrantAccessWorkflowService
}

func NewWebhookHandler(workflow services.IGrantAccessWorkflowService) *WebhookHandler {
	return &WebhookHandler{workflow: workflow}
}

// HandlePayment handles POST /v1/webhooks/payments. The body is read raw
// because the signature covers the exact bytes sent. Verified events that
// need no action still get 200 so the provider stops redelivering them;
// processing errors get 500 so it retries.
func (h *WebhookHandler) HandlePayment(c *gin.Context) {
	payload, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBody))
	if err != nil {
		sendErrorResponse(c, http.StatusRequestEntityTooLarge, services.CodeValidation, "Webhook body too large or unreadable")
		return
	}

	outcome, err := h.workflow.HandlePaymentWebhook(c.Request.Context(), payload, c.GetHeader(SignatureHeader))
	if err != nil {
		log.Printf("WARN: payment webhook rejected: %v", err)
		handleServiceError(c, err)
		return
	}
	sendSuccessResponse(c, http.StatusOK, "", gin.H{"received": true, "outcome": outcome})
}
