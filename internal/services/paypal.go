package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"festival-platform/internal/models"
)

// PayPalConfig represents PayPal payment gateway configuration
type PayPalConfig struct {
	ClientID     string
	ClientSecret string
	Environment  string // "sandbox" or "live"
	WebhookID    string
	BaseURL      string // overridden in tests
}

// PayPalGateway implements the Orders v2 create/capture flow
type PayPalGateway struct {
	config  PayPalConfig
	client  *http.Client
	baseURL string

	tokenMu        sync.Mutex
	cachedToken    string
	tokenExpiresAt time.Time
}

// NewPayPalGateway creates a new PayPal gateway
func NewPayPalGateway(config PayPalConfig) *PayPalGateway {
	baseURL := config.BaseURL
	if baseURL == "" {
		baseURL = "https://api-m.sandbox.paypal.com"
		if config.Environment == "live" {
			baseURL = "https://api-m.paypal.com"
		}
	}
	return &PayPalGateway{
		config:  config,
		client:  &http.Client{Timeout: 30 * time.Second},
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

// Name implements PaymentGateway
func (p *PayPalGateway) Name() string {
	return "paypal"
}

type payPalTokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

type payPalAmount struct {
	CurrencyCode string `json:"currency_code"`
	Value        string `json:"value"`
}

type payPalCapture struct {
	ID            string       `json:"id"`
	Status        string       `json:"status"`
	Amount        payPalAmount `json:"amount"`
	StatusDetails *struct {
		Reason string `json:"reason"`
	} `json:"status_details"`
}

// PayPalOrder is the subset of an Orders v2 resource the checkout reads
type PayPalOrder struct {
	ID            string `json:"id"`
	Status        string `json:"status"`
	PurchaseUnits []struct {
		ReferenceID string       `json:"reference_id"`
		Amount      payPalAmount `json:"amount"`
		Payments    struct {
			Captures []payPalCapture `json:"captures"`
		} `json:"payments"`
	} `json:"purchase_units"`
	Links []struct {
		Href string `json:"href"`
		Rel  string `json:"rel"`
	} `json:"links"`
}

// PayPalError represents an error response from the PayPal API
type PayPalError struct {
	Name    string `json:"name"`
	Message string `json:"message"`
	DebugID string `json:"debug_id"`
	Details []struct {
		Issue       string `json:"issue"`
		Description string `json:"description"`
	} `json:"details"`
}

func (e *PayPalError) hasIssue(issue string) bool {
	for _, d := range e.Details {
		if d.Issue == issue {
			return true
		}
	}
	return false
}

func (e *PayPalError) reason() string {
	if len(e.Details) > 0 && e.Details[0].Description != "" {
		return e.Details[0].Description
	}
	return e.Message
}

func (e *PayPalError) Error() string {
	return fmt.Sprintf("PayPal error %s: %s", e.Name, e.reason())
}

// accessToken returns a cached OAuth token, renewing it a minute before expiry
func (p *PayPalGateway) accessToken(ctx context.Context) (string, error) {
	p.tokenMu.Lock()
	defer p.tokenMu.Unlock()

	if p.cachedToken != "" && time.Now().Before(p.tokenExpiresAt) {
		return p.cachedToken, nil
	}

	form := url.Values{}
	form.Set("grant_type", "client_credentials")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/v1/oauth2/token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("failed to create paypal auth request: %w", err)
	}
	req.SetBasicAuth(p.config.ClientID, p.config.ClientSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to send paypal auth request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read paypal auth response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		log.Printf("paypal: auth error (HTTP %d): %s", resp.StatusCode, string(body))
		return "", &models.GatewayError{Gateway: p.Name()}
	}

	var token payPalTokenResponse
	if err := json.Unmarshal(body, &token); err != nil {
		return "", fmt.Errorf("failed to decode paypal auth response: %w", err)
	}
	if token.AccessToken == "" {
		return "", fmt.Errorf("access token not found in paypal response")
	}

	p.cachedToken = token.TokenType + " " + token.AccessToken
	p.tokenExpiresAt = time.Now().Add(time.Duration(token.ExpiresIn-60) * time.Second)
	return p.cachedToken, nil
}

// do sends an authenticated JSON request. Non-2xx responses are returned as *PayPalError.
func (p *PayPalGateway) do(ctx context.Context, method, path string, payload, out any) error {
	token, err := p.accessToken(ctx)
	if err != nil {
		return err
	}

	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to encode paypal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create paypal request: %w", err)
	}
	req.Header.Set("Authorization", token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send paypal request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read paypal response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &PayPalError{}
		if err := json.Unmarshal(respBody, apiErr); err != nil || apiErr.Name == "" {
			log.Printf("paypal: API error (HTTP %d): %s", resp.StatusCode, string(respBody))
			return &models.GatewayError{Gateway: p.Name()}
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to decode paypal response: %w", err)
	}
	return nil
}

// CreateIntent creates a PayPal order the buyer approves in the PayPal UI
func (p *PayPalGateway) CreateIntent(ctx context.Context, amount models.Money, currency, customerRef string) (*models.IntentHandle, error) {
	if _, err := models.ToCents(amount); err != nil {
		return nil, err
	}

	payload := map[string]any{
		"intent": "CAPTURE",
		"purchase_units": []map[string]any{{
			"reference_id": customerRef,
			"amount": payPalAmount{
				CurrencyCode: strings.ToUpper(currency),
				Value:        models.FormatMoney(amount),
			},
		}},
	}

	var order PayPalOrder
	if err := p.do(ctx, http.MethodPost, "/v2/checkout/orders", payload, &order); err != nil {
		return nil, p.gatewayError(err)
	}

	handle := &models.IntentHandle{
		Gateway:  p.Name(),
		IntentID: order.ID,
		Amount:   amount,
		Currency: strings.ToUpper(currency),
	}
	for _, link := range order.Links {
		if link.Rel == "approve" || link.Rel == "payer-action" {
			handle.ApprovalURL = link.Href
			break
		}
	}

	log.Printf("paypal: created order %s for %s %s", order.ID, models.FormatMoney(amount), currency)
	return handle, nil
}

// Confirm captures the order. An order captured earlier (by a webhook or a
// previous request) is read back instead of failing.
func (p *PayPalGateway) Confirm(ctx context.Context, handle models.IntentHandle) (*Confirmation, error) {
	var order PayPalOrder
	err := p.do(ctx, http.MethodPost, "/v2/checkout/orders/"+url.PathEscape(handle.IntentID)+"/capture", map[string]any{}, &order)
	if err != nil {
		apiErr, ok := err.(*PayPalError)
		if !ok {
			return nil, err
		}
		switch {
		case apiErr.hasIssue("ORDER_ALREADY_CAPTURED"):
			if err := p.do(ctx, http.MethodGet, "/v2/checkout/orders/"+url.PathEscape(handle.IntentID), nil, &order); err != nil {
				return nil, p.gatewayError(err)
			}
		case apiErr.hasIssue("ORDER_NOT_APPROVED"), apiErr.hasIssue("PAYER_ACTION_REQUIRED"):
			return &Confirmation{Status: ConfirmationPending}, nil
		case apiErr.hasIssue("INSTRUMENT_DECLINED"), apiErr.hasIssue("TRANSACTION_REFUSED"):
			return &Confirmation{Status: ConfirmationFailed, Reason: apiErr.reason()}, nil
		default:
			return nil, p.gatewayError(err)
		}
	}
	return order.confirmation()
}

func (o *PayPalOrder) confirmation() (*Confirmation, error) {
	switch o.Status {
	case "COMPLETED":
	case "VOIDED":
		return &Confirmation{Status: ConfirmationFailed, Reason: "PayPal order was voided"}, nil
	default:
		return &Confirmation{Status: ConfirmationPending}, nil
	}

	for _, unit := range o.PurchaseUnits {
		for _, capture := range unit.Payments.Captures {
			switch capture.Status {
			case "COMPLETED":
				captured, err := models.ParseMoney(capture.Amount.Value)
				if err != nil {
					return nil, err
				}
				return &Confirmation{
					Status:        ConfirmationSucceeded,
					TransactionID: capture.ID,
					Captured:      captured,
					Currency:      capture.Amount.CurrencyCode,
				}, nil
			case "DECLINED", "FAILED":
				reason := "payment was declined"
				if capture.StatusDetails != nil && capture.StatusDetails.Reason != "" {
					reason = capture.StatusDetails.Reason
				}
				return &Confirmation{Status: ConfirmationFailed, Reason: reason}, nil
			}
		}
	}
	return &Confirmation{Status: ConfirmationPending}, nil
}

func (p *PayPalGateway) gatewayError(err error) error {
	if apiErr, ok := err.(*PayPalError); ok {
		return &models.GatewayError{Gateway: p.Name(), Reason: apiErr.reason()}
	}
	return err
}

// PayPalWebhookEvent is the envelope of a PayPal webhook delivery
type PayPalWebhookEvent struct {
	ID           string `json:"id"`
	EventType    string `json:"event_type"`
	ResourceType string `json:"resource_type"`
	Resource     struct {
		ID                string `json:"id"`
		SupplementaryData struct {
			RelatedIDs struct {
				OrderID string `json:"order_id"`
			} `json:"related_ids"`
		} `json:"supplementary_data"`
	} `json:"resource"`
}

// OrderID returns the checkout order a webhook refers to
func (e *PayPalWebhookEvent) OrderID() string {
	if e.Resource.SupplementaryData.RelatedIDs.OrderID != "" {
		return e.Resource.SupplementaryData.RelatedIDs.OrderID
	}
	return e.Resource.ID
}

// VerifyWebhook asks PayPal to validate a webhook delivery and decodes it
func (p *PayPalGateway) VerifyWebhook(ctx context.Context, headers http.Header, body []byte) (*PayPalWebhookEvent, error) {
	if p.config.WebhookID == "" {
		return nil, fmt.Errorf("%w: paypal webhook id is not configured", models.ErrUnauthorized)
	}

	payload := map[string]any{
		"auth_algo":         headers.Get("PAYPAL-AUTH-ALGO"),
		"cert_url":          headers.Get("PAYPAL-CERT-URL"),
		"transmission_id":   headers.Get("PAYPAL-TRANSMISSION-ID"),
		"transmission_sig":  headers.Get("PAYPAL-TRANSMISSION-SIG"),
		"transmission_time": headers.Get("PAYPAL-TRANSMISSION-TIME"),
		"webhook_id":        p.config.WebhookID,
		"webhook_event":     json.RawMessage(body),
	}

	var result struct {
		VerificationStatus string `json:"verification_status"`
	}
	if err := p.do(ctx, http.MethodPost, "/v1/notifications/verify-webhook-signature", payload, &result); err != nil {
		return nil, p.gatewayError(err)
	}
	if result.VerificationStatus != "SUCCESS" {
		return nil, fmt.Errorf("%w: paypal webhook verification %s", models.ErrUnauthorized, result.VerificationStatus)
	}

	var event PayPalWebhookEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return nil, fmt.Errorf("%w: invalid paypal webhook body", models.ErrInvalidInput)
	}
	return &event, nil
}
