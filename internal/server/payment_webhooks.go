package server

import (
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	paymentdomain "github.com/smallbiznis/admitpay/internal/payment/domain"
)

// HandlePaymentWebhook verifies and reconciles a gateway notification. Only a
// 200 tells the gateway to stop retrying, so every failure maps to non-200.
func (s *Server) HandlePaymentWebhook(c *gin.Context) {
	provider := strings.TrimSpace(c.Param("provider"))
	payload, err := io.ReadAll(c.Request.Body)
	if err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	result, err := s.webhookSvc.Handle(c.Request.Context(), paymentdomain.WebhookRequest{
		Provider:  provider,
		Body:      payload,
		SourceIP:  c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.Set("merchant_reference", result.MerchantReference)
	c.String(http.StatusOK, "OK")
}
