package server

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/classpay/internal/authorization"
	paymentdomain "github.com/smallbiznis/classpay/internal/payment/domain"
)

type createPaymentResponse struct {
	ID           string               `json:"id"`
	State        paymentdomain.State  `json:"state"`
	Amount       decimal.Decimal      `json:"amount"`
	Currency     string               `json:"currency"`
	Method       paymentdomain.Method `json:"method"`
	ClientSecret string               `json:"client_secret"`
	ClassID      *string              `json:"class_id,omitempty"`
	ExpiresAt    *time.Time           `json:"expires_at,omitempty"`
}

func (s *Server) CreatePayment(c *gin.Context) {
	var req paymentdomain.CreatePaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError("body"))
		return
	}
	if err := s.authorizeOwner(c, authorization.ObjectPayment, authorization.ActionPaymentCreate, strings.TrimSpace(req.StudentID)); err != nil {
		AbortWithError(c, err)
		return
	}

	result, err := s.paymentSvc.CreatePayment(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	p := result.Payment
	c.Set("payment_id", p.ID.String())
	c.JSON(http.StatusCreated, createPaymentResponse{
		ID:           p.ID.String(),
		State:        p.State,
		Amount:       p.Amount,
		Currency:     p.Currency,
		Method:       p.Method,
		ClientSecret: result.ClientSecret,
		ClassID:      p.ClassID,
		ExpiresAt:    p.ExpiresAt,
	})
}

func (s *Server) CreateSettledPayment(c *gin.Context) {
	var req paymentdomain.CreateSettledPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError("body"))
		return
	}

	p, err := s.paymentSvc.CreateSettledPayment(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.Set("payment_id", p.ID.String())
	c.JSON(http.StatusCreated, gin.H{"data": p})
}

func (s *Server) GetPayment(c *gin.Context) {
	id := strings.TrimSpace(c.Param("id"))
	c.Set("payment_id", id)

	view, err := s.paymentSvc.GetPayment(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if err := s.authorizeOwner(c, authorization.ObjectPayment, authorization.ActionPaymentView, view.StudentID); err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": view})
}

func (s *Server) RefundPayment(c *gin.Context) {
	id := strings.TrimSpace(c.Param("id"))
	c.Set("payment_id", id)

	p, err := s.paymentSvc.Refund(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": p})
}

func (s *Server) AddLineItem(c *gin.Context) {
	id := strings.TrimSpace(c.Param("id"))
	c.Set("payment_id", id)

	var item paymentdomain.LineItem
	if err := c.ShouldBindJSON(&item); err != nil {
		AbortWithError(c, invalidRequestError("body"))
		return
	}

	p, err := s.paymentSvc.AddLineItem(c.Request.Context(), id, item)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": p})
}

func (s *Server) RemoveLineItem(c *gin.Context) {
	id := strings.TrimSpace(c.Param("id"))
	c.Set("payment_id", id)

	index, err := strconv.Atoi(strings.TrimSpace(c.Param("index")))
	if err != nil {
		AbortWithError(c, invalidRequestError("index"))
		return
	}

	p, err := s.paymentSvc.RemoveLineItem(c.Request.Context(), id, index)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": p})
}
