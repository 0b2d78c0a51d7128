package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Outcome classifies a normalized gateway response.
type Outcome string

// Outcome constants define normalized gateway results.
const (
	// OutcomeSuccess marks an acknowledged action.
	OutcomeSuccess Outcome = "success"
	// OutcomeFailure marks a rejected or failed action.
	OutcomeFailure Outcome = "failure"
	// OutcomePending marks an action likely applied but unconfirmed.
	OutcomePending Outcome = "pending"
)

// ErrUnknownShape reports a response body that matched none of the known
// payload shapes. It is its own variant rather than a generic parse
// failure so callers can distinguish provider drift from transport noise.
var ErrUnknownShape = errors.New("gateway: unrecognized response shape")

// Result is the single normalized form of every gateway response.
type Result struct {
	Outcome     Outcome         // Normalized outcome.
	RedirectURL string          // Payment or invoice URL to hand off to, when present.
	Message     string          // Human-readable message, populated on failure.
	StatusCode  int             // Upstream HTTP status code.
	Raw         json.RawMessage // Raw body when it was valid JSON.
}

// successEnvelope matches the `{success: ..., payment_url: ...}` shape.
type successEnvelope struct {
	Success    *bool  `json:"success"`
	PaymentURL string `json:"payment_url"`
	InvoiceURL string `json:"invoice_url"`
	Message    string `json:"message"`
	Error      string `json:"error"`
}

// paymentObject matches bare payment payloads, alone or in an array.
type paymentObject struct {
	ID         string `json:"id"`
	InvoiceURL string `json:"invoice_url"`
	PaymentURL string `json:"payment_url"`
}

// failureObject matches `{message: ...}` / `{error: ...}` bodies.
type failureObject struct {
	Message string `json:"message"`
	Error   string `json:"error"`
	Code    *int   `json:"code"`
}

// decodeResult normalizes an upstream response into a Result.
//
// The provider does not fix its response contract, so known shapes are
// attempted in priority order: success envelope, payment array, bare
// payment object, failure object. A body matching none of them is an
// ErrUnknownShape failure, never a silent success.
func decodeResult(statusCode int, body []byte) (Result, error) {
	result := Result{StatusCode: statusCode}

	trimmed := strings.TrimSpace(string(body))
	if json.Valid(body) {
		result.Raw = json.RawMessage(body)
	}

	if statusCode < 200 || statusCode > 299 {
		result.Outcome = OutcomeFailure
		result.Message = failureMessage(statusCode, body)
		return result, nil
	}

	if result.Raw == nil {
		result.Outcome = OutcomeFailure
		result.Message = fmt.Sprintf("invalid JSON response: %s", trimmed)
		return result, nil
	}

	// Shape 1: success envelope.
	var envelope successEnvelope
	if errDecode := json.Unmarshal(body, &envelope); errDecode == nil && envelope.Success != nil {
		if *envelope.Success {
			result.Outcome = OutcomeSuccess
			if envelope.PaymentURL != "" {
				result.RedirectURL = envelope.PaymentURL
			} else {
				result.RedirectURL = envelope.InvoiceURL
			}
			return result, nil
		}
		result.Outcome = OutcomeFailure
		result.Message = firstNonEmpty(envelope.Message, envelope.Error, "action rejected by gateway")
		return result, nil
	}

	// Shape 2: array of payment objects.
	var payments []paymentObject
	if errDecode := json.Unmarshal(body, &payments); errDecode == nil && strings.HasPrefix(trimmed, "[") {
		result.Outcome = OutcomeSuccess
		if len(payments) > 0 {
			result.RedirectURL = firstNonEmpty(payments[0].InvoiceURL, payments[0].PaymentURL)
		}
		return result, nil
	}

	// Shape 3: bare payment object carrying an invoice URL or ID.
	var payment paymentObject
	if errDecode := json.Unmarshal(body, &payment); errDecode == nil && (payment.InvoiceURL != "" || payment.PaymentURL != "" || payment.ID != "") {
		result.Outcome = OutcomeSuccess
		result.RedirectURL = firstNonEmpty(payment.InvoiceURL, payment.PaymentURL)
		return result, nil
	}

	// Shape 4: failure object.
	var failure failureObject
	if errDecode := json.Unmarshal(body, &failure); errDecode == nil && (failure.Message != "" || failure.Error != "" || failure.Code != nil) {
		result.Outcome = OutcomeFailure
		message := firstNonEmpty(failure.Message, failure.Error)
		if message == "" && failure.Code != nil {
			message = fmt.Sprintf("error %d", *failure.Code)
		}
		result.Message = message
		return result, nil
	}

	result.Outcome = OutcomeFailure
	result.Message = ErrUnknownShape.Error()
	return result, ErrUnknownShape
}

// failureMessage builds a readable message for a non-2xx response.
func failureMessage(statusCode int, body []byte) string {
	var failure failureObject
	if errDecode := json.Unmarshal(body, &failure); errDecode == nil {
		if message := firstNonEmpty(failure.Message, failure.Error); message != "" {
			return message
		}
	}
	text := strings.TrimSpace(string(body))
	if text == "" {
		return fmt.Sprintf("HTTP %d", statusCode)
	}
	return fmt.Sprintf("HTTP %d: %s", statusCode, text)
}

// firstNonEmpty returns the first non-empty string argument.
func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}
