package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"github.com/tanamio/dashboard/internal/gateway"
	"github.com/tanamio/dashboard/internal/ledger"
	"github.com/tanamio/dashboard/internal/models"
	"gorm.io/gorm"
)

// historyPageSize is the fixed page size for transaction and payment
// listings.
const historyPageSize = 5

// BalanceFrontHandler handles balance, history, and top-up endpoints for
// users.
type BalanceFrontHandler struct {
	db     *gorm.DB
	reader *ledger.Reader
	gw     *gateway.Client
}

// NewBalanceFrontHandler constructs a BalanceFrontHandler.
func NewBalanceFrontHandler(db *gorm.DB, gw *gateway.Client) *BalanceFrontHandler {
	return &BalanceFrontHandler{db: db, reader: ledger.NewReader(db), gw: gw}
}

// Get returns the user's balance, reconciling it from the transaction
// log when no cached row exists.
func (h *BalanceFrontHandler) Get(c *gin.Context) {
	userID := getUserID(c)
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	balance, errRead := h.reader.ReadReconciled(c.Request.Context(), userID)
	if errRead != nil {
		// Read failures degrade to "unknown" rather than an error page;
		// the client retries on its next refresh.
		log.WithError(errRead).Warn("balance: read failed")
		c.JSON(http.StatusOK, gin.H{"balance": nil})
		return
	}

	c.JSON(http.StatusOK, gin.H{"balance": balance})
}

// ListTransactions returns one page of the user's transaction history,
// newest first.
func (h *BalanceFrontHandler) ListTransactions(c *gin.Context) {
	userID := getUserID(c)
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	page := parsePage(c.Query("page"))
	var total int64
	if errCount := h.db.WithContext(c.Request.Context()).
		Model(&models.Transaction{}).
		Where("user_id = ?", userID).
		Count(&total).Error; errCount != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list transactions failed"})
		return
	}

	var rows []models.Transaction
	if errFind := h.db.WithContext(c.Request.Context()).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Limit(historyPageSize).
		Offset((page - 1) * historyPageSize).
		Find(&rows).Error; errFind != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list transactions failed"})
		return
	}

	out := make([]gin.H, 0, len(rows))
	for _, row := range rows {
		out = append(out, gin.H{
			"id":          row.ID,
			"type":        row.Type,
			"amount":      row.Amount,
			"description": row.Description,
			"created_at":  row.CreatedAt,
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"transactions": out,
		"page":         page,
		"page_size":    historyPageSize,
		"total":        total,
	})
}

// ListPayments returns one page of the user's payment history, newest
// first.
func (h *BalanceFrontHandler) ListPayments(c *gin.Context) {
	userID := getUserID(c)
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	page := parsePage(c.Query("page"))
	var total int64
	if errCount := h.db.WithContext(c.Request.Context()).
		Model(&models.Payment{}).
		Where("user_id = ?", userID).
		Count(&total).Error; errCount != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list payments failed"})
		return
	}

	var rows []models.Payment
	if errFind := h.db.WithContext(c.Request.Context()).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Limit(historyPageSize).
		Offset((page - 1) * historyPageSize).
		Find(&rows).Error; errFind != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list payments failed"})
		return
	}

	out := make([]gin.H, 0, len(rows))
	for _, row := range rows {
		out = append(out, gin.H{
			"id":          row.ID,
			"external_id": row.ExternalID,
			"amount":      row.Amount,
			"status":      row.Status,
			"invoice_url": row.InvoiceURL,
			"created_at":  row.CreatedAt,
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"payments":  out,
		"page":      page,
		"page_size": historyPageSize,
		"total":     total,
	})
}

// topUpRequest defines the request body for starting a top-up.
type topUpRequest struct {
	Amount int64 `json:"amount"`
}

// TopUp asks the gateway for a payment invoice and returns its redirect
// URL. The invoice and the eventual topup transaction are written by the
// payment provider's webhook, not here.
func (h *BalanceFrontHandler) TopUp(c *gin.Context) {
	userID := getUserID(c)
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	var body topUpRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if body.Amount <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "amount must be positive"})
		return
	}

	result, errInvoke := h.gw.Invoke(c.Request.Context(), getSessionToken(c), userID, gateway.ActionTopUp, gin.H{
		"user_id": userID,
		"amount":  body.Amount,
	})
	if errInvoke != nil {
		log.WithError(errInvoke).Warn("balance: topup invoke failed")
	}
	writeGatewayResult(c, result)
}

// parsePage clamps the page query parameter to a 1-based page number.
func parsePage(raw string) int {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 1
	}
	page, errParse := strconv.Atoi(raw)
	if errParse != nil || page < 1 {
		return 1
	}
	return page
}

// writeGatewayResult maps a normalized gateway result to an HTTP reply.
func writeGatewayResult(c *gin.Context, result gateway.Result) {
	switch result.Outcome {
	case gateway.OutcomeSuccess:
		c.JSON(http.StatusOK, gin.H{
			"status":       "success",
			"redirect_url": result.RedirectURL,
		})
	case gateway.OutcomePending:
		c.JSON(http.StatusAccepted, gin.H{
			"status":  "pending",
			"message": result.Message,
		})
	default:
		message := result.Message
		if message == "" {
			message = "action failed"
		}
		c.JSON(http.StatusBadGateway, gin.H{
			"status":  "failure",
			"message": message,
		})
	}
}
