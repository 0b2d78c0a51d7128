package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"github.com/tanamio/dashboard/internal/gateway"
	"github.com/tanamio/dashboard/internal/ledger"
	"github.com/tanamio/dashboard/internal/models"
	"github.com/tanamio/dashboard/internal/renewal"
	"gorm.io/gorm"
)

// ChatbotFrontHandler handles chatbot endpoints for users.
//
// Provisioning, linking, and renewal happen in the remote gateway; this
// handler validates, forwards, and keeps the local rows consistent.
type ChatbotFrontHandler struct {
	db     *gorm.DB
	gw     *gateway.Client
	poller *renewal.Poller
	reader *ledger.Reader
	comp   *ledger.Compensator
}

// NewChatbotFrontHandler constructs a ChatbotFrontHandler.
func NewChatbotFrontHandler(db *gorm.DB, gw *gateway.Client, poller *renewal.Poller) *ChatbotFrontHandler {
	return &ChatbotFrontHandler{
		db:     db,
		gw:     gw,
		poller: poller,
		reader: ledger.NewReader(db),
		comp:   ledger.NewCompensator(db),
	}
}

// List returns the user's chatbots with their plans, newest first.
func (h *ChatbotFrontHandler) List(c *gin.Context) {
	userID := getUserID(c)
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	var rows []models.Chatbot
	if errFind := h.db.WithContext(c.Request.Context()).
		Preload("Plan").
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&rows).Error; errFind != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list chatbots failed"})
		return
	}

	out := make([]gin.H, 0, len(rows))
	for _, row := range rows {
		out = append(out, h.formatChatbot(&row))
	}
	c.JSON(http.StatusOK, gin.H{"chatbots": out})
}

// Detail returns one chatbot owned by the user.
func (h *ChatbotFrontHandler) Detail(c *gin.Context) {
	userID := getUserID(c)
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	bot, ok := h.findOwned(c, userID)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, h.formatChatbot(bot))
}

// Usage returns only the quota counters for one chatbot. The client
// polls this at a tighter interval than the full listing.
func (h *ChatbotFrontHandler) Usage(c *gin.Context) {
	userID := getUserID(c)
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	var bot models.Chatbot
	if errFind := h.db.WithContext(c.Request.Context()).
		Select("id", "ai_usages", "ai_quota").
		Where("id = ? AND user_id = ?", c.Param("id"), userID).
		First(&bot).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "chatbot not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query chatbot failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"id":        bot.ID,
		"ai_usages": bot.AIUsages,
		"ai_quota":  bot.AIQuota,
	})
}

// createChatbotRequest defines the request body for creating a chatbot.
type createChatbotRequest struct {
	Name   string `json:"name"`
	PlanID string `json:"plan_id"`
	Prompt string `json:"prompt"`
}

// Create provisions a chatbot through the gateway and records the first
// month's fee against the user's balance.
func (h *ChatbotFrontHandler) Create(c *gin.Context) {
	userID := getUserID(c)
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	var body createChatbotRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	name := strings.TrimSpace(body.Name)
	if name == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "name is required"})
		return
	}
	if strings.TrimSpace(body.PlanID) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "plan_id is required"})
		return
	}

	var plan models.Plan
	if errFindPlan := h.db.WithContext(c.Request.Context()).
		Where("id = ?", body.PlanID).
		First(&plan).Error; errFindPlan != nil {
		if errors.Is(errFindPlan, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "plan not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query plan failed"})
		return
	}

	var duplicates int64
	if errCount := h.db.WithContext(c.Request.Context()).
		Model(&models.Chatbot{}).
		Where("user_id = ? AND name = ?", userID, name).
		Count(&duplicates).Error; errCount != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query chatbots failed"})
		return
	}
	if duplicates > 0 {
		c.JSON(http.StatusConflict, gin.H{"error": "chatbot name already exists"})
		return
	}

	balance, errBalance := h.reader.ReadReconciled(c.Request.Context(), userID)
	if errBalance != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "read balance failed"})
		return
	}
	if balance < plan.PricePerMonth {
		c.JSON(http.StatusBadRequest, gin.H{"error": "insufficient balance"})
		return
	}

	result, errInvoke := h.gw.Invoke(c.Request.Context(), getSessionToken(c), userID, gateway.ActionCreateBot, gin.H{
		"user_id": userID,
		"name":    name,
		"plan_id": plan.ID,
		"prompt":  body.Prompt,
	})
	if errInvoke != nil {
		log.WithError(errInvoke).Warn("chatbots: create invoke failed")
	}
	if result.Outcome != gateway.OutcomeSuccess {
		writeGatewayResult(c, result)
		return
	}

	// The gateway does not confirm the charge synchronously; the fee is
	// recorded here with an idempotency guard so a retried create never
	// debits twice.
	description := fmt.Sprintf("Monthly fee for %s", name)
	if _, errComp := h.comp.RecordUsage(c.Request.Context(), userID, plan.PricePerMonth, description, gateway.ActionCreateBot, name); errComp != nil {
		log.WithError(errComp).Warn("chatbots: fee compensation failed")
	}

	c.JSON(http.StatusCreated, gin.H{
		"status": "success",
		"name":   name,
	})
}

// Delete removes a chatbot owned by the user.
func (h *ChatbotFrontHandler) Delete(c *gin.Context) {
	userID := getUserID(c)
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	result := h.db.WithContext(c.Request.Context()).
		Where("id = ? AND user_id = ?", c.Param("id"), userID).
		Delete(&models.Chatbot{})
	if result.Error != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "delete chatbot failed"})
		return
	}
	if result.RowsAffected == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "chatbot not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

// toggleAutoRenewalRequest defines the request body for the renewal flag.
type toggleAutoRenewalRequest struct {
	IsAutoRenewal *bool `json:"is_auto_renewal"`
}

// ToggleAutoRenewal sets the automatic renewal flag on a chatbot.
func (h *ChatbotFrontHandler) ToggleAutoRenewal(c *gin.Context) {
	userID := getUserID(c)
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	var body toggleAutoRenewalRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil || body.IsAutoRenewal == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "is_auto_renewal is required"})
		return
	}

	result := h.db.WithContext(c.Request.Context()).
		Model(&models.Chatbot{}).
		Where("id = ? AND user_id = ?", c.Param("id"), userID).
		Update("is_auto_renewal", *body.IsAutoRenewal)
	if result.Error != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "update chatbot failed"})
		return
	}
	if result.RowsAffected == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "chatbot not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"is_auto_renewal": *body.IsAutoRenewal})
}

// updatePromptRequest defines the request body for a prompt change.
type updatePromptRequest struct {
	Prompt string `json:"prompt"`
}

// UpdatePrompt pushes a new system prompt to the gateway and mirrors it
// locally once accepted.
func (h *ChatbotFrontHandler) UpdatePrompt(c *gin.Context) {
	userID := getUserID(c)
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	var body updatePromptRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	prompt := strings.TrimSpace(body.Prompt)
	if prompt == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "prompt is required"})
		return
	}

	bot, ok := h.findOwned(c, userID)
	if !ok {
		return
	}

	result, errInvoke := h.gw.Invoke(c.Request.Context(), getSessionToken(c), userID, gateway.ActionUpdatePrompt, gin.H{
		"id":     bot.ID,
		"prompt": prompt,
	})
	if errInvoke != nil {
		log.WithError(errInvoke).Warn("chatbots: prompt invoke failed")
	}
	if result.Outcome != gateway.OutcomeSuccess {
		writeGatewayResult(c, result)
		return
	}

	if errUpdate := h.db.WithContext(c.Request.Context()).
		Model(&models.Chatbot{}).
		Where("id = ? AND user_id = ?", bot.ID, userID).
		Update("prompt", prompt).Error; errUpdate != nil {
		// The gateway accepted the prompt; the local mirror catches up
		// on the next sync.
		log.WithError(errUpdate).Warn("chatbots: prompt mirror failed")
	}

	c.JSON(http.StatusOK, gin.H{"status": "success"})
}

// Renew requests a subscription renewal and waits for confirmation.
//
// A confirmed renewal returns 200 with the observed values; an
// unconfirmed one returns 202 with the optimistic fallback, since the
// gateway has accepted the request and only the commit is outstanding.
func (h *ChatbotFrontHandler) Renew(c *gin.Context) {
	userID := getUserID(c)
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	bot, ok := h.findOwned(c, userID)
	if !ok {
		return
	}

	baseline, errSnap := h.poller.Snapshot(c.Request.Context(), bot.ID, userID)
	if errSnap != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "read chatbot failed"})
		return
	}

	result, errInvoke := h.gw.Invoke(c.Request.Context(), getSessionToken(c), userID, gateway.ActionRenewBot, gin.H{
		"id":      bot.ID,
		"user_id": userID,
	})
	if errInvoke != nil {
		log.WithError(errInvoke).Warn("chatbots: renew invoke failed")
	}
	if result.Outcome == gateway.OutcomeFailure {
		writeGatewayResult(c, result)
		return
	}

	outcome, errConfirm := h.poller.Confirm(c.Request.Context(), bot.ID, userID, baseline)
	if errConfirm != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "renewal confirmation failed"})
		return
	}

	payload := gin.H{
		"expired_at": outcome.ExpiredAt,
		"ai_quota":   outcome.AIQuota,
	}
	if outcome.State == renewal.StateConfirmed {
		payload["status"] = "confirmed"
		c.JSON(http.StatusOK, payload)
		return
	}
	payload["status"] = "pending"
	payload["message"] = "renewal accepted, confirmation pending"
	c.JSON(http.StatusAccepted, payload)
}

// findOwned loads a chatbot by path param scoped to the user, writing
// the error response itself on failure.
func (h *ChatbotFrontHandler) findOwned(c *gin.Context, userID string) (*models.Chatbot, bool) {
	var bot models.Chatbot
	errFind := h.db.WithContext(c.Request.Context()).
		Preload("Plan").
		Where("id = ? AND user_id = ?", c.Param("id"), userID).
		First(&bot).Error
	if errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "chatbot not found"})
			return nil, false
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query chatbot failed"})
		return nil, false
	}
	return &bot, true
}

// formatChatbot converts a chatbot model to a response payload.
func (h *ChatbotFrontHandler) formatChatbot(bot *models.Chatbot) gin.H {
	out := gin.H{
		"id":              bot.ID,
		"name":            bot.Name,
		"is_active":       bot.IsActive,
		"status":          bot.Status,
		"plan_id":         bot.PlanID,
		"is_auto_renewal": bot.IsAutoRenewal,
		"ai_usages":       bot.AIUsages,
		"ai_quota":        bot.AIQuota,
		"prompt":          bot.Prompt,
		"expired_at":      bot.ExpiredAt,
		"created_at":      bot.CreatedAt,
	}
	if bot.Plan != nil {
		out["plan"] = gin.H{
			"id":              bot.Plan.ID,
			"name":            bot.Plan.Name,
			"price_per_month": bot.Plan.PricePerMonth,
			"ai_quota":        bot.Plan.AIQuota,
		}
	}
	return out
}
