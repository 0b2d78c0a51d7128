package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/tanamio/dashboard/internal/models"
	"gorm.io/gorm"
)

// PlanFrontHandler serves the plan catalog to users.
type PlanFrontHandler struct {
	db *gorm.DB
}

// NewPlanFrontHandler constructs a PlanFrontHandler.
func NewPlanFrontHandler(db *gorm.DB) *PlanFrontHandler {
	return &PlanFrontHandler{db: db}
}

// List returns all plans, cheapest first.
func (h *PlanFrontHandler) List(c *gin.Context) {
	var rows []models.Plan
	if errFind := h.db.WithContext(c.Request.Context()).
		Order("price_per_month ASC").
		Find(&rows).Error; errFind != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list plans failed"})
		return
	}

	out := make([]gin.H, 0, len(rows))
	for _, row := range rows {
		out = append(out, gin.H{
			"id":              row.ID,
			"name":            row.Name,
			"price_per_month": row.PricePerMonth,
			"ai_quota":        row.AIQuota,
			"description":     row.Description,
		})
	}
	c.JSON(http.StatusOK, gin.H{"plans": out})
}
