package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/tanamio/dashboard/internal/gateway"
	"github.com/tanamio/dashboard/internal/models"
	"gorm.io/gorm"
)

// QRFrontHandler fronts the remote QR endpoint on a same-origin route.
type QRFrontHandler struct {
	db *gorm.DB
	gw *gateway.Client
}

// NewQRFrontHandler constructs a QRFrontHandler.
func NewQRFrontHandler(db *gorm.DB, gw *gateway.Client) *QRFrontHandler {
	return &QRFrontHandler{db: db, gw: gw}
}

// Fetch retrieves the WhatsApp link QR for one of the user's chatbots.
func (h *QRFrontHandler) Fetch(c *gin.Context) {
	userID := getUserID(c)
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	chatbotID := strings.TrimSpace(c.Query("chatbot_id"))
	if chatbotID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "chatbot_id is required"})
		return
	}

	// Ownership check before any upstream call.
	var bot models.Chatbot
	if errFind := h.db.WithContext(c.Request.Context()).
		Select("id").
		Where("id = ? AND user_id = ?", chatbotID, userID).
		First(&bot).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "chatbot not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query chatbot failed"})
		return
	}

	qr, errFetch := h.gw.FetchQR(c.Request.Context(), getSessionToken(c), userID, chatbotID)
	if errFetch != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": "qr not available"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"qr": qr})
}
