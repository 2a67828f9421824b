package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/akshay2d/rxtrace/internal/payment"
	"github.com/gin-gonic/gin"
)

// PaymentHandler handles gateway payment confirmations.
type PaymentHandler struct {
	reconciler *payment.Reconciler
}

// NewPaymentHandler constructs a PaymentHandler.
func NewPaymentHandler(reconciler *payment.Reconciler) *PaymentHandler {
	return &PaymentHandler{reconciler: reconciler}
}

// paymentConfirmRequest is the payload shared by callback and webhook.
type paymentConfirmRequest struct {
	OrderID   string `json:"order_id"`   // Gateway order identifier.
	PaymentID string `json:"payment_id"` // Gateway payment identifier.
	Signature string `json:"signature"`  // Gateway HMAC signature.
}

// Callback handles the synchronous client confirmation redirect.
func (h *PaymentHandler) Callback(c *gin.Context) {
	h.reconcile(c, payment.ActorCallback, "")
}

// Webhook handles asynchronous gateway delivery. The signature may arrive in
// the X-Gateway-Signature header instead of the body.
func (h *PaymentHandler) Webhook(c *gin.Context) {
	h.reconcile(c, payment.ActorWebhook, c.GetHeader("X-Gateway-Signature"))
}

// reconcile binds the request and maps reconciler outcomes to HTTP responses.
func (h *PaymentHandler) reconcile(c *gin.Context, actor, headerSignature string) {
	var body paymentConfirmRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	body.OrderID = strings.TrimSpace(body.OrderID)
	body.PaymentID = strings.TrimSpace(body.PaymentID)
	if body.OrderID == "" || body.PaymentID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "order_id and payment_id are required"})
		return
	}
	signature := strings.TrimSpace(body.Signature)
	if signature == "" {
		signature = strings.TrimSpace(headerSignature)
	}
	// Unsigned confirmations are rejected here; only the JWT-guarded admin
	// retry may reconcile without a gateway signature.
	if signature == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "INVALID_SIGNATURE"})
		return
	}

	outcome, errReconcile := h.reconciler.Reconcile(c.Request.Context(), body.OrderID, body.PaymentID, signature, actor)
	if errReconcile != nil {
		switch {
		case errors.Is(errReconcile, payment.ErrInvalidSignature):
			c.JSON(http.StatusBadRequest, gin.H{"error": "INVALID_SIGNATURE"})
		case errors.Is(errReconcile, payment.ErrOrderNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "ORDER_NOT_FOUND"})
		case errors.Is(errReconcile, payment.ErrUnsupportedOrder):
			c.JSON(http.StatusBadRequest, gin.H{"error": "UNSUPPORTED_ORDER"})
		case errors.Is(errReconcile, payment.ErrAmountMismatch):
			c.JSON(http.StatusBadRequest, gin.H{"error": "AMOUNT_MISMATCH"})
		case errors.Is(errReconcile, payment.ErrCartOrderConflict):
			c.JSON(http.StatusConflict, gin.H{"error": "CART_ORDER_CONFLICT"})
		case errors.Is(errReconcile, payment.ErrCartContended):
			c.JSON(http.StatusConflict, gin.H{"error": "RETRY_LATER"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "reconcile failed"})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"ok":                true,
		"already_processed": outcome.AlreadyProcessed,
	})
}
