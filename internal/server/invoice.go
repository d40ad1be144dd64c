package server

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/classpay/internal/authorization"
)

type issueBatchRequest struct {
	PaymentIDs []string `json:"payment_ids"`
}

func (s *Server) IssueInvoice(c *gin.Context) {
	id := strings.TrimSpace(c.Param("id"))
	c.Set("payment_id", id)

	doc, err := s.invoiceSvc.IssueInvoice(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": doc})
}

func (s *Server) IssueInvoiceBatch(c *gin.Context) {
	var req issueBatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError("body"))
		return
	}

	result, err := s.invoiceSvc.IssueBatch(c.Request.Context(), req.PaymentIDs)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	failed := make(map[string]string, len(result.Failed))
	for id, ferr := range result.Failed {
		_, payload := mapError(ferr)
		failed[id] = payload.Type
	}
	c.JSON(http.StatusOK, gin.H{
		"issued":  result.Issued,
		"skipped": result.Skipped,
		"failed":  failed,
	})
}

func (s *Server) CountPendingInvoices(c *gin.Context) {
	count, err := s.invoiceSvc.CountPendingInvoices(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"pending": count})
}

func (s *Server) DownloadInvoicePDF(c *gin.Context) {
	id := strings.TrimSpace(c.Param("id"))
	c.Set("payment_id", id)
	ctx := c.Request.Context()

	payment, err := s.paymentSvc.GetPayment(ctx, id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if err := s.authorizeOwner(c, authorization.ObjectInvoice, authorization.ActionInvoiceView, payment.StudentID); err != nil {
		AbortWithError(c, err)
		return
	}

	doc, err := s.invoiceSvc.GetInvoice(ctx, id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	pdf, err := s.invoiceSvc.RenderPDF(ctx, id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", doc.InvoiceNumber+".pdf"))
	c.DataFromReader(http.StatusOK, -1, "application/pdf", pdf, nil)
}
