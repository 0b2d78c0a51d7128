package handlers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/tanamio/dashboard/internal/db"
	"github.com/tanamio/dashboard/internal/gateway"
	"github.com/tanamio/dashboard/internal/models"
	"github.com/tanamio/dashboard/internal/renewal"
	"gorm.io/gorm"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	conn, errOpen := db.Open(":memory:")
	if errOpen != nil {
		t.Fatalf("open test db: %v", errOpen)
	}
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		t.Fatalf("migrate test db: %v", errMigrate)
	}
	return conn
}

// newTestRouter builds a gin engine whose middleware injects the user
// identity the way the session middleware does in production.
func newTestRouter(userID string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set("userID", userID)
		c.Set("sessionToken", "test-session")
		c.Next()
	})
	return r
}

// stubGateway returns a gateway client pointed at a server that always
// replies with the given status and body.
func stubGateway(t *testing.T, conn *gorm.DB, status int, body string) *gateway.Client {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(server.Close)
	return gateway.NewClient(server.URL, "", conn)
}

func doJSON(t *testing.T, r *gin.Engine, method, path string, payload any) *httptest.ResponseRecorder {
	t.Helper()
	var body bytes.Buffer
	if payload != nil {
		if errEncode := json.NewEncoder(&body).Encode(payload); errEncode != nil {
			t.Fatalf("encode payload: %v", errEncode)
		}
	}
	req := httptest.NewRequest(method, path, &body)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if errDecode := json.Unmarshal(w.Body.Bytes(), &out); errDecode != nil {
		t.Fatalf("decode response: %v", errDecode)
	}
	return out
}

func seedPlan(t *testing.T, conn *gorm.DB, price int64) models.Plan {
	t.Helper()
	plan := models.Plan{ID: uuid.NewString(), Name: "Starter", PricePerMonth: price, AIQuota: 100}
	if errSeed := conn.Create(&plan).Error; errSeed != nil {
		t.Fatalf("seed plan: %v", errSeed)
	}
	return plan
}

func seedTopup(t *testing.T, conn *gorm.DB, userID string, amount int64) {
	t.Helper()
	entry := models.Transaction{ID: uuid.NewString(), UserID: userID, Type: models.TransactionTypeTopup, Amount: amount}
	if errSeed := conn.Create(&entry).Error; errSeed != nil {
		t.Fatalf("seed topup: %v", errSeed)
	}
}

func TestBalanceGetReconcilesMissingRow(t *testing.T) {
	conn := openTestDB(t)
	userID := uuid.NewString()
	seedTopup(t, conn, userID, 50000)
	entry := models.Transaction{ID: uuid.NewString(), UserID: userID, Type: models.TransactionTypeUsage, Amount: 20000}
	if errSeed := conn.Create(&entry).Error; errSeed != nil {
		t.Fatalf("seed usage: %v", errSeed)
	}

	r := newTestRouter(userID)
	h := NewBalanceFrontHandler(conn, nil)
	r.GET("/api/balance", h.Get)

	w := doJSON(t, r, http.MethodGet, "/api/balance", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if got := decodeBody(t, w)["balance"]; got != float64(30000) {
		t.Fatalf("balance = %v, want 30000", got)
	}

	// The reconciled value is now cached.
	var row models.Balance
	if errFind := conn.Where("user_id = ?", userID).First(&row).Error; errFind != nil {
		t.Fatalf("read balance row: %v", errFind)
	}
	if row.Balance != 30000 {
		t.Fatalf("cached balance = %d, want 30000", row.Balance)
	}
}

func TestTransactionsPagination(t *testing.T) {
	conn := openTestDB(t)
	userID := uuid.NewString()
	base := time.Now().UTC().Add(-time.Hour)
	for i := 0; i < 7; i++ {
		entry := models.Transaction{
			ID:          uuid.NewString(),
			UserID:      userID,
			Type:        models.TransactionTypeTopup,
			Amount:      int64(1000 * (i + 1)),
			Description: fmt.Sprintf("entry %d", i),
			CreatedAt:   base.Add(time.Duration(i) * time.Minute),
		}
		if errSeed := conn.Create(&entry).Error; errSeed != nil {
			t.Fatalf("seed transaction: %v", errSeed)
		}
	}

	r := newTestRouter(userID)
	h := NewBalanceFrontHandler(conn, nil)
	r.GET("/api/transactions", h.ListTransactions)

	first := decodeBody(t, doJSON(t, r, http.MethodGet, "/api/transactions", nil))
	if got := len(first["transactions"].([]any)); got != 5 {
		t.Fatalf("page 1 size = %d, want 5", got)
	}
	if first["total"] != float64(7) {
		t.Fatalf("total = %v, want 7", first["total"])
	}

	second := decodeBody(t, doJSON(t, r, http.MethodGet, "/api/transactions?page=2", nil))
	if got := len(second["transactions"].([]any)); got != 2 {
		t.Fatalf("page 2 size = %d, want 2", got)
	}

	// Newest first: page one starts with the latest entry.
	top := first["transactions"].([]any)[0].(map[string]any)
	if top["description"] != "entry 6" {
		t.Fatalf("first entry = %v, want entry 6", top["description"])
	}
}

func TestTopUpNormalizesGatewayShapes(t *testing.T) {
	cases := []struct {
		name         string
		status       int
		body         string
		wantCode     int
		wantRedirect string
	}{
		{"success envelope", http.StatusOK, `{"success":true,"payment_url":"https://x"}`, http.StatusOK, "https://x"},
		{"payment array", http.StatusOK, `[{"invoice_url":"https://y"}]`, http.StatusOK, "https://y"},
		{"bare payment", http.StatusOK, `{"id":"inv-1","invoice_url":"https://z"}`, http.StatusOK, "https://z"},
		{"failure object", http.StatusOK, `{"error":"bad"}`, http.StatusBadGateway, ""},
		{"server error", http.StatusInternalServerError, `oops`, http.StatusBadGateway, ""},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			conn := openTestDB(t)
			userID := uuid.NewString()
			r := newTestRouter(userID)
			h := NewBalanceFrontHandler(conn, stubGateway(t, conn, tc.status, tc.body))
			r.POST("/api/topup", h.TopUp)

			w := doJSON(t, r, http.MethodPost, "/api/topup", gin.H{"amount": 50000})
			if w.Code != tc.wantCode {
				t.Fatalf("status = %d, want %d", w.Code, tc.wantCode)
			}
			if tc.wantRedirect != "" {
				if got := decodeBody(t, w)["redirect_url"]; got != tc.wantRedirect {
					t.Fatalf("redirect = %v, want %s", got, tc.wantRedirect)
				}
			}
		})
	}
}

func TestTopUpRejectsNonPositiveAmount(t *testing.T) {
	conn := openTestDB(t)
	r := newTestRouter(uuid.NewString())
	h := NewBalanceFrontHandler(conn, nil)
	r.POST("/api/topup", h.TopUp)

	if w := doJSON(t, r, http.MethodPost, "/api/topup", gin.H{"amount": 0}); w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func newChatbotRouter(t *testing.T, conn *gorm.DB, userID string, gw *gateway.Client) *gin.Engine {
	t.Helper()
	poller := renewal.NewPoller(conn)
	r := newTestRouter(userID)
	h := NewChatbotFrontHandler(conn, gw, poller)
	r.GET("/api/chatbots", h.List)
	r.GET("/api/chatbots/:id", h.Detail)
	r.GET("/api/chatbots/:id/usage", h.Usage)
	r.POST("/api/chatbots", h.Create)
	r.DELETE("/api/chatbots/:id", h.Delete)
	r.PATCH("/api/chatbots/:id/auto-renewal", h.ToggleAutoRenewal)
	r.PATCH("/api/chatbots/:id/prompt", h.UpdatePrompt)
	return r
}

func TestChatbotCreateDebitsFeeOnce(t *testing.T) {
	conn := openTestDB(t)
	userID := uuid.NewString()
	plan := seedPlan(t, conn, 50000)
	seedTopup(t, conn, userID, 120000)

	gw := stubGateway(t, conn, http.StatusOK, `{"success":true}`)
	r := newChatbotRouter(t, conn, userID, gw)

	w := doJSON(t, r, http.MethodPost, "/api/chatbots", gin.H{"name": "support-bot", "plan_id": plan.ID})
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201: %s", w.Code, w.Body.String())
	}

	var usageCount int64
	if errCount := conn.Model(&models.Transaction{}).
		Where("user_id = ? AND type = ?", userID, models.TransactionTypeUsage).
		Count(&usageCount).Error; errCount != nil {
		t.Fatalf("count usage: %v", errCount)
	}
	if usageCount != 1 {
		t.Fatalf("usage entries = %d, want 1", usageCount)
	}

	var row models.Balance
	if errFind := conn.Where("user_id = ?", userID).First(&row).Error; errFind != nil {
		t.Fatalf("read balance: %v", errFind)
	}
	if row.Balance != 70000 {
		t.Fatalf("balance = %d, want 70000", row.Balance)
	}
}

func TestChatbotCreateRejectsDuplicateName(t *testing.T) {
	conn := openTestDB(t)
	userID := uuid.NewString()
	plan := seedPlan(t, conn, 50000)
	seedTopup(t, conn, userID, 120000)

	existing := models.Chatbot{ID: uuid.NewString(), UserID: userID, Name: "support-bot", PlanID: plan.ID}
	if errSeed := conn.Create(&existing).Error; errSeed != nil {
		t.Fatalf("seed chatbot: %v", errSeed)
	}

	r := newChatbotRouter(t, conn, userID, nil)
	w := doJSON(t, r, http.MethodPost, "/api/chatbots", gin.H{"name": "support-bot", "plan_id": plan.ID})
	if w.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", w.Code)
	}
}

func TestChatbotCreateRejectsInsufficientBalance(t *testing.T) {
	conn := openTestDB(t)
	userID := uuid.NewString()
	plan := seedPlan(t, conn, 50000)
	seedTopup(t, conn, userID, 10000)

	r := newChatbotRouter(t, conn, userID, nil)
	w := doJSON(t, r, http.MethodPost, "/api/chatbots", gin.H{"name": "support-bot", "plan_id": plan.ID})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestChatbotCreateGatewayFailureSkipsDebit(t *testing.T) {
	conn := openTestDB(t)
	userID := uuid.NewString()
	plan := seedPlan(t, conn, 50000)
	seedTopup(t, conn, userID, 120000)

	gw := stubGateway(t, conn, http.StatusOK, `{"error":"provisioning unavailable"}`)
	r := newChatbotRouter(t, conn, userID, gw)

	w := doJSON(t, r, http.MethodPost, "/api/chatbots", gin.H{"name": "support-bot", "plan_id": plan.ID})
	if w.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", w.Code)
	}

	var usageCount int64
	if errCount := conn.Model(&models.Transaction{}).
		Where("user_id = ? AND type = ?", userID, models.TransactionTypeUsage).
		Count(&usageCount).Error; errCount != nil {
		t.Fatalf("count usage: %v", errCount)
	}
	if usageCount != 0 {
		t.Fatalf("usage entries = %d, want 0", usageCount)
	}
}

func TestChatbotListScopedToUser(t *testing.T) {
	conn := openTestDB(t)
	userID := uuid.NewString()
	otherID := uuid.NewString()
	plan := seedPlan(t, conn, 50000)

	mine := models.Chatbot{ID: uuid.NewString(), UserID: userID, Name: "mine", PlanID: plan.ID}
	theirs := models.Chatbot{ID: uuid.NewString(), UserID: otherID, Name: "theirs", PlanID: plan.ID}
	if errSeed := conn.Create(&mine).Error; errSeed != nil {
		t.Fatalf("seed: %v", errSeed)
	}
	if errSeed := conn.Create(&theirs).Error; errSeed != nil {
		t.Fatalf("seed: %v", errSeed)
	}

	r := newChatbotRouter(t, conn, userID, nil)
	body := decodeBody(t, doJSON(t, r, http.MethodGet, "/api/chatbots", nil))
	bots := body["chatbots"].([]any)
	if len(bots) != 1 {
		t.Fatalf("chatbots = %d, want 1", len(bots))
	}
	if bots[0].(map[string]any)["name"] != "mine" {
		t.Fatal("listed another user's chatbot")
	}
}

func TestChatbotUsageEndpoint(t *testing.T) {
	conn := openTestDB(t)
	userID := uuid.NewString()
	plan := seedPlan(t, conn, 50000)
	bot := models.Chatbot{ID: uuid.NewString(), UserID: userID, Name: "support-bot", PlanID: plan.ID, AIUsages: 42, AIQuota: 100}
	if errSeed := conn.Create(&bot).Error; errSeed != nil {
		t.Fatalf("seed: %v", errSeed)
	}

	r := newChatbotRouter(t, conn, userID, nil)
	body := decodeBody(t, doJSON(t, r, http.MethodGet, "/api/chatbots/"+bot.ID+"/usage", nil))
	if body["ai_usages"] != float64(42) || body["ai_quota"] != float64(100) {
		t.Fatalf("usage = %v/%v, want 42/100", body["ai_usages"], body["ai_quota"])
	}
}

func TestChatbotDeleteScopedToUser(t *testing.T) {
	conn := openTestDB(t)
	userID := uuid.NewString()
	plan := seedPlan(t, conn, 50000)
	bot := models.Chatbot{ID: uuid.NewString(), UserID: uuid.NewString(), Name: "theirs", PlanID: plan.ID}
	if errSeed := conn.Create(&bot).Error; errSeed != nil {
		t.Fatalf("seed: %v", errSeed)
	}

	r := newChatbotRouter(t, conn, userID, nil)
	if w := doJSON(t, r, http.MethodDelete, "/api/chatbots/"+bot.ID, nil); w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
}

func TestChatbotPromptUpdateMirrorsLocally(t *testing.T) {
	conn := openTestDB(t)
	userID := uuid.NewString()
	plan := seedPlan(t, conn, 50000)
	bot := models.Chatbot{ID: uuid.NewString(), UserID: userID, Name: "support-bot", PlanID: plan.ID, Prompt: "old"}
	if errSeed := conn.Create(&bot).Error; errSeed != nil {
		t.Fatalf("seed: %v", errSeed)
	}

	gw := stubGateway(t, conn, http.StatusOK, `{"success":true}`)
	r := newChatbotRouter(t, conn, userID, gw)

	w := doJSON(t, r, http.MethodPatch, "/api/chatbots/"+bot.ID+"/prompt", gin.H{"prompt": "be helpful"})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", w.Code, w.Body.String())
	}

	var stored models.Chatbot
	if errFind := conn.Where("id = ?", bot.ID).First(&stored).Error; errFind != nil {
		t.Fatalf("reload: %v", errFind)
	}
	if stored.Prompt != "be helpful" {
		t.Fatalf("prompt = %q, want be helpful", stored.Prompt)
	}
}

func TestChatbotRenewPendingFallback(t *testing.T) {
	conn := openTestDB(t)
	userID := uuid.NewString()
	plan := seedPlan(t, conn, 50000)
	expiry := time.Now().UTC().AddDate(0, 0, 3)
	bot := models.Chatbot{ID: uuid.NewString(), UserID: userID, Name: "support-bot", PlanID: plan.ID, AIQuota: 100, ExpiredAt: &expiry}
	if errSeed := conn.Create(&bot).Error; errSeed != nil {
		t.Fatalf("seed: %v", errSeed)
	}

	// The gateway accepts the renewal but nothing updates the row, so
	// the poller times out and falls back.
	gw := stubGateway(t, conn, http.StatusOK, `{"success":true}`)
	poller := renewal.NewPollerWithTimings(conn, time.Millisecond, 2)

	r := newTestRouter(userID)
	h := NewChatbotFrontHandler(conn, gw, poller)
	r.POST("/api/chatbots/:id/renew", h.Renew)

	w := doJSON(t, r, http.MethodPost, "/api/chatbots/"+bot.ID+"/renew", nil)
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202: %s", w.Code, w.Body.String())
	}
	body := decodeBody(t, w)
	if body["status"] != "pending" {
		t.Fatalf("status field = %v, want pending", body["status"])
	}
	if body["ai_quota"] != float64(110) {
		t.Fatalf("ai_quota = %v, want 110", body["ai_quota"])
	}
}

func TestChatbotRenewConfirmed(t *testing.T) {
	conn := openTestDB(t)
	userID := uuid.NewString()
	plan := seedPlan(t, conn, 50000)
	bot := models.Chatbot{ID: uuid.NewString(), UserID: userID, Name: "support-bot", PlanID: plan.ID, AIQuota: 100}
	if errSeed := conn.Create(&bot).Error; errSeed != nil {
		t.Fatalf("seed: %v", errSeed)
	}

	// Stub gateway applies the renewal to the row before replying, so
	// the poller's first read observes the change.
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if errUpd := conn.Model(&models.Chatbot{}).Where("id = ?", bot.ID).Update("ai_quota", 110).Error; errUpd != nil {
			http.Error(w, errUpd.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"success":true}`))
	}))
	defer server.Close()

	gw := gateway.NewClient(server.URL, "", conn)
	poller := renewal.NewPollerWithTimings(conn, time.Millisecond, 5)

	r := newTestRouter(userID)
	h := NewChatbotFrontHandler(conn, gw, poller)
	r.POST("/api/chatbots/:id/renew", h.Renew)

	w := doJSON(t, r, http.MethodPost, "/api/chatbots/"+bot.ID+"/renew", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", w.Code, w.Body.String())
	}
	body := decodeBody(t, w)
	if body["status"] != "confirmed" {
		t.Fatalf("status field = %v, want confirmed", body["status"])
	}
	if body["ai_quota"] != float64(110) {
		t.Fatalf("ai_quota = %v, want 110", body["ai_quota"])
	}
}

func TestPlansSortedByPrice(t *testing.T) {
	conn := openTestDB(t)
	expensive := models.Plan{ID: uuid.NewString(), Name: "Pro", PricePerMonth: 150000, AIQuota: 500}
	cheap := models.Plan{ID: uuid.NewString(), Name: "Starter", PricePerMonth: 50000, AIQuota: 100}
	if errSeed := conn.Create(&expensive).Error; errSeed != nil {
		t.Fatalf("seed: %v", errSeed)
	}
	if errSeed := conn.Create(&cheap).Error; errSeed != nil {
		t.Fatalf("seed: %v", errSeed)
	}

	r := newTestRouter(uuid.NewString())
	h := NewPlanFrontHandler(conn)
	r.GET("/api/plans", h.List)

	body := decodeBody(t, doJSON(t, r, http.MethodGet, "/api/plans", nil))
	plans := body["plans"].([]any)
	if len(plans) != 2 {
		t.Fatalf("plans = %d, want 2", len(plans))
	}
	if plans[0].(map[string]any)["name"] != "Starter" {
		t.Fatal("plans not sorted by price ascending")
	}
}

func TestQRFetchChecksOwnership(t *testing.T) {
	conn := openTestDB(t)
	userID := uuid.NewString()

	r := newTestRouter(userID)
	h := NewQRFrontHandler(conn, nil)
	r.GET("/api/qr", h.Fetch)

	w := doJSON(t, r, http.MethodGet, "/api/qr?chatbot_id="+uuid.NewString(), nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
}

func TestQRFetchProxiesUpstream(t *testing.T) {
	conn := openTestDB(t)
	userID := uuid.NewString()
	plan := seedPlan(t, conn, 50000)
	bot := models.Chatbot{ID: uuid.NewString(), UserID: userID, Name: "support-bot", PlanID: plan.ID, Status: models.ChatbotStatusNeedScanQR}
	if errSeed := conn.Create(&bot).Error; errSeed != nil {
		t.Fatalf("seed: %v", errSeed)
	}

	gw := stubGateway(t, conn, http.StatusOK, `{"qr":"data:image/png;base64,abc"}`)
	r := newTestRouter(userID)
	h := NewQRFrontHandler(conn, gw)
	r.GET("/api/qr", h.Fetch)

	w := doJSON(t, r, http.MethodGet, "/api/qr?chatbot_id="+bot.ID, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", w.Code, w.Body.String())
	}
	if decodeBody(t, w)["qr"] != "data:image/png;base64,abc" {
		t.Fatal("qr payload not proxied")
	}
}
