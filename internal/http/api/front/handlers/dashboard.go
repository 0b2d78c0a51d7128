package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/tanamio/dashboard/internal/dashboard"
)

// DashboardFrontHandler serves the aggregated per-user snapshot.
type DashboardFrontHandler struct {
	registry *dashboard.Registry
}

// NewDashboardFrontHandler constructs a DashboardFrontHandler.
func NewDashboardFrontHandler(registry *dashboard.Registry) *DashboardFrontHandler {
	return &DashboardFrontHandler{registry: registry}
}

// Snapshot returns the latest published snapshot for the user.
//
// All fields come from the same refresh cycle, so the balance shown is
// always consistent with the listed transactions and payments.
func (h *DashboardFrontHandler) Snapshot(c *gin.Context) {
	userID := getUserID(c)
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	if h.registry == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "dashboard unavailable"})
		return
	}

	holder := h.registry.Acquire(userID)
	if holder == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "dashboard unavailable"})
		return
	}

	snap := holder.Snapshot()
	transactions := make([]gin.H, 0, len(snap.Transactions))
	for _, row := range snap.Transactions {
		transactions = append(transactions, gin.H{
			"id":          row.ID,
			"type":        row.Type,
			"amount":      row.Amount,
			"description": row.Description,
			"created_at":  row.CreatedAt,
		})
	}
	payments := make([]gin.H, 0, len(snap.Payments))
	for _, row := range snap.Payments {
		payments = append(payments, gin.H{
			"id":          row.ID,
			"amount":      row.Amount,
			"status":      row.Status,
			"invoice_url": row.InvoiceURL,
			"created_at":  row.CreatedAt,
		})
	}
	chatbots := make([]gin.H, 0, len(snap.Chatbots))
	for _, row := range snap.Chatbots {
		entry := gin.H{
			"id":         row.ID,
			"name":       row.Name,
			"status":     row.Status,
			"ai_usages":  row.AIUsages,
			"ai_quota":   row.AIQuota,
			"expired_at": row.ExpiredAt,
		}
		if row.Plan != nil {
			entry["plan"] = gin.H{
				"id":   row.Plan.ID,
				"name": row.Plan.Name,
			}
		}
		chatbots = append(chatbots, entry)
	}

	c.JSON(http.StatusOK, gin.H{
		"balance":      snap.Balance,
		"transactions": transactions,
		"payments":     payments,
		"chatbots":     chatbots,
		"refreshed_at": snap.RefreshedAt,
	})
}
