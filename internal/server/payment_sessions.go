package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	paymentdomain "github.com/smallbiznis/admitpay/internal/payment/domain"
)

func (s *Server) CreatePaymentSession(c *gin.Context) {
	var req paymentdomain.CreateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.sessionSvc.CreateSession(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.Set("merchant_reference", resp.MerchantReference)
	c.JSON(http.StatusOK, resp)
}
