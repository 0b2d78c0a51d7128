package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/tanamio/dashboard/internal/models"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Remote action names, relative to the webhook base URL. The topup path
// spelling matches the deployed endpoint.
const (
	ActionTopUp        = "biling/topup-balance"
	ActionCreateBot    = "chatbot/create"
	ActionUpdatePrompt = "tanam.io/bot/update-prompt"
	ActionRenewBot     = "bot/renew"
	ActionFetchQR      = "tanam.io/bot/QR"
)

const (
	// defaultRequestTimeout bounds regular action calls.
	defaultRequestTimeout = 15 * time.Second
	// qrRequestTimeout bounds QR retrieval, which hangs when the linking
	// service is mid-restart.
	qrRequestTimeout = 10 * time.Second
	// maxResponseBytes caps how much of an upstream body is read.
	maxResponseBytes = 1 << 20
)

// Client invokes remote webhook actions on behalf of a user.
//
// The gateway performs all state-changing business logic; this client
// only authenticates, posts JSON, and normalizes the reply.
type Client struct {
	baseURL    string
	serviceKey string
	db         *gorm.DB
	client     *http.Client
}

// NewClient constructs a gateway Client. The db connection is used for
// action audit logging and may be nil in tests.
func NewClient(baseURL, serviceKey string, db *gorm.DB) *Client {
	return &Client{
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		serviceKey: strings.TrimSpace(serviceKey),
		db:         db,
		client:     &http.Client{Timeout: defaultRequestTimeout},
	}
}

// Invoke posts a JSON payload to a named action with the user's bearer
// credential and returns the normalized result.
//
// Transport failures and unknown response shapes are returned as failure
// Results, never as panics into the HTTP layer; the error return carries
// the underlying cause for logging.
func (c *Client) Invoke(ctx context.Context, token, userID, action string, payload any) (Result, error) {
	result, err := c.do(ctx, token, action, payload, defaultRequestTimeout)
	c.record(ctx, userID, action, result)
	return result, err
}

// FetchQR retrieves the WhatsApp link QR for a chatbot.
//
// The QR service is the one upstream with a hard abort deadline: a QR
// that takes longer than the refresh window is useless anyway.
func (c *Client) FetchQR(ctx context.Context, token, userID, chatbotID string) (string, error) {
	result, errDo := c.do(ctx, token, ActionFetchQR, map[string]string{"id": chatbotID}, qrRequestTimeout)
	c.record(ctx, userID, ActionFetchQR, result)
	// The QR body is its own shape, so an unknown-shape verdict from the
	// generic decoder is expected here.
	if errDo != nil && !errors.Is(errDo, ErrUnknownShape) {
		return "", errDo
	}
	if result.StatusCode < 200 || result.StatusCode > 299 {
		return "", fmt.Errorf("gateway: qr fetch failed: %s", result.Message)
	}

	// qrBody matches the QR service response.
	type qrBody struct {
		QR    string `json:"qr"`
		Error string `json:"error"`
	}
	var body qrBody
	if errDecode := json.Unmarshal(result.Raw, &body); errDecode != nil {
		return "", fmt.Errorf("gateway: decode qr response: %w", errDecode)
	}
	if body.Error != "" {
		return "", fmt.Errorf("gateway: qr service error: %s", body.Error)
	}
	if strings.TrimSpace(body.QR) == "" {
		return "", fmt.Errorf("gateway: qr code not available in response")
	}
	return body.QR, nil
}

// do posts the payload and decodes the response within the given timeout.
func (c *Client) do(ctx context.Context, token, action string, payload any, timeout time.Duration) (Result, error) {
	if c == nil {
		return Result{Outcome: OutcomeFailure, Message: "gateway client not initialized"}, fmt.Errorf("gateway: nil client")
	}

	body, errMarshal := json.Marshal(payload)
	if errMarshal != nil {
		return Result{Outcome: OutcomeFailure, Message: "invalid request payload"}, fmt.Errorf("gateway: marshal payload: %w", errMarshal)
	}

	requestCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	url := c.baseURL + "/" + strings.TrimLeft(action, "/")
	req, errBuild := http.NewRequestWithContext(requestCtx, http.MethodPost, url, bytes.NewReader(body))
	if errBuild != nil {
		return Result{Outcome: OutcomeFailure, Message: "failed to build request"}, fmt.Errorf("gateway: build request: %w", errBuild)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	if c.serviceKey != "" {
		// Identifies this service to the gateway alongside the user's
		// own credential.
		req.Header.Set("X-Service-Key", c.serviceKey)
	}

	client := c.client
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}
	resp, errDo := client.Do(req)
	if errDo != nil {
		return Result{Outcome: OutcomeFailure, Message: "gateway unreachable"}, fmt.Errorf("gateway: %s request failed: %w", action, errDo)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	responseBody, errRead := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if errRead != nil {
		return Result{Outcome: OutcomeFailure, StatusCode: resp.StatusCode, Message: "failed to read response"}, fmt.Errorf("gateway: read %s response: %w", action, errRead)
	}

	return decodeResult(resp.StatusCode, responseBody)
}

// record archives the invocation for auditing. Failures to log never
// affect the caller.
func (c *Client) record(ctx context.Context, userID, action string, result Result) {
	if c == nil || c.db == nil || userID == "" {
		return
	}

	entry := models.ActionLog{
		UserID:     userID,
		Action:     action,
		Outcome:    string(result.Outcome),
		StatusCode: result.StatusCode,
		CreatedAt:  time.Now().UTC(),
	}
	if len(result.Raw) > 0 {
		entry.Response = datatypes.JSON(result.Raw)
	}
	if errCreate := c.db.WithContext(ctx).Create(&entry).Error; errCreate != nil {
		log.WithError(errCreate).Warn("gateway: record action log failed")
	}
}
