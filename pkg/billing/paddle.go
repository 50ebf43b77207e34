package billing

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	paddle "github.com/PaddleHQ/paddle-go-sdk/v4"
	"github.com/google/uuid"
)

// PaddleConfig holds configuration for the Paddle billing provider.
type PaddleConfig struct {
	APIKey        string `env:"PADDLE_API_KEY,required"`
	WebhookSecret string `env:"PADDLE_WEBHOOK_SECRET,required"`
	Environment   string `env:"PADDLE_ENVIRONMENT" envDefault:"production"`
}

// PaddleProvider implements Provider for Paddle.
type PaddleProvider struct {
	client   *paddle.SDK
	verifier *paddle.WebhookVerifier
	config   PaddleConfig
}

// NewPaddleProvider creates a new Paddle billing provider.
func NewPaddleProvider(config PaddleConfig) (*PaddleProvider, error) {
	if config.APIKey == "" {
		return nil, errors.New("paddle API key is required")
	}
	if config.WebhookSecret == "" {
		return nil, errors.New("paddle webhook secret is required")
	}

	var client *paddle.SDK
	var err error

	switch strings.ToLower(config.Environment) {
	case "sandbox":
		client, err = paddle.NewSandbox(config.APIKey)
	case "production", "":
		client, err = paddle.New(config.APIKey)
	default:
		return nil, fmt.Errorf("invalid paddle environment: %s", config.Environment)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create paddle client: %w", err)
	}

	return &PaddleProvider{
		client:   client,
		verifier: paddle.NewWebhookVerifier(config.WebhookSecret),
		config:   config,
	}, nil
}

// CreateCustomer creates a Paddle customer carrying the account ID as custom
// data, so webhooks can always be correlated back even when the local ref
// was lost.
func (p *PaddleProvider) CreateCustomer(ctx context.Context, accountID uuid.UUID, email string) (string, error) {
	if accountID == uuid.Nil {
		return "", ErrMissingAccount
	}

	customer, err := p.client.CustomersClient.CreateCustomer(ctx, &paddle.CreateCustomerRequest{
		Email: email,
		CustomData: paddle.CustomData{
			"account_id": accountID.String(),
		},
	})
	if err != nil {
		return "", errors.Join(ErrProviderUnreachable, err)
	}
	return customer.ID, nil
}

// CreateCheckout creates a hosted checkout transaction in Paddle. The
// account ID, purchase type and optional listing ID ride along as custom
// data and come back on the completion webhook.
func (p *PaddleProvider) CreateCheckout(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error) {
	if req.PriceRef == "" {
		return nil, ErrMissingPriceRef
	}
	if req.AccountID == uuid.Nil {
		return nil, ErrMissingAccount
	}

	item := paddle.NewCreateTransactionItemsTransactionItemFromCatalog(&paddle.TransactionItemFromCatalog{
		PriceID:  req.PriceRef,
		Quantity: 1,
	})

	customData := paddle.CustomData{
		"account_id":    req.AccountID.String(),
		"purchase_type": string(req.PurchaseType),
	}
	if req.ListingID != uuid.Nil {
		customData["listing_id"] = req.ListingID.String()
	}

	transactionReq := &paddle.CreateTransactionRequest{
		Items:      []paddle.CreateTransactionItems{*item},
		CustomData: customData,
	}
	if req.CustomerRef != "" {
		transactionReq.CustomerID = paddle.PtrTo(req.CustomerRef)
	}
	if req.SuccessURL != "" {
		transactionReq.Checkout = &paddle.TransactionCheckout{
			URL: paddle.PtrTo(req.SuccessURL),
		}
	}

	transaction, err := p.client.TransactionsClient.CreateTransaction(ctx, transactionReq)
	if err != nil {
		return nil, errors.Join(ErrProviderUnreachable, err)
	}

	if transaction.Checkout == nil || transaction.Checkout.URL == nil {
		return nil, ErrNoCheckoutURL
	}

	return &CheckoutSession{
		RedirectURL: *transaction.Checkout.URL,
		SessionID:   transaction.ID,
		// Paddle checkout links expire after 24 hours
		ExpiresAt: time.Now().Add(24 * time.Hour),
	}, nil
}

// GetSubscription fetches the authoritative subscription state. The price
// ref is not extracted here; the caller already has it from the triggering
// event, and the period end is the field that must come from the provider.
func (p *PaddleProvider) GetSubscription(ctx context.Context, subscriptionRef string) (*SubscriptionDetail, error) {
	sub, err := p.client.SubscriptionsClient.GetSubscription(ctx, &paddle.GetSubscriptionRequest{
		SubscriptionID: subscriptionRef,
	})
	if err != nil {
		return nil, errors.Join(ErrProviderUnreachable, err)
	}

	detail := &SubscriptionDetail{
		SubscriptionRef: sub.ID,
		CustomerRef:     sub.CustomerID,
		Status:          string(sub.Status),
	}
	if sub.CurrentBillingPeriod != nil {
		if end, err := time.Parse(time.RFC3339, sub.CurrentBillingPeriod.EndsAt); err == nil {
			detail.PeriodEnd = end.UTC()
		}
	}
	return detail, nil
}

// ParseWebhook verifies the Paddle signature and normalizes the payload.
// Verification happens against the raw body before any JSON parsing.
func (p *PaddleProvider) ParseWebhook(ctx context.Context, payload []byte, signature string) (*Event, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "/webhooks/billing", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request for verification: %w", err)
	}
	req.Header.Set("Paddle-Signature", signature)

	valid, err := p.verifier.Verify(req)
	if err != nil {
		return nil, errors.Join(ErrSignatureInvalid, err)
	}
	if !valid {
		return nil, ErrSignatureInvalid
	}

	var paddleEvent struct {
		EventID    string         `json:"event_id"`
		EventType  string         `json:"event_type"`
		OccurredAt string         `json:"occurred_at"`
		Data       map[string]any `json:"data"`
	}
	if err := json.Unmarshal(payload, &paddleEvent); err != nil {
		return nil, fmt.Errorf("failed to parse webhook payload: %w", err)
	}

	event := &Event{
		ID:            paddleEvent.EventID,
		Type:          mapPaddleEventType(paddleEvent.EventType),
		ProviderEvent: paddleEvent.EventType,
		Raw:           paddleEvent.Data,
	}
	if occurred, err := time.Parse(time.RFC3339, paddleEvent.OccurredAt); err == nil {
		event.OccurredAt = occurred.UTC()
	}

	data := paddleEvent.Data

	// Subscription events carry their own ID in data.id; transaction events
	// reference the subscription via subscription_id.
	if strings.HasPrefix(paddleEvent.EventType, "subscription.") {
		if id, ok := data["id"].(string); ok {
			event.SubscriptionRef = id
		}
	} else if subID, ok := data["subscription_id"].(string); ok {
		event.SubscriptionRef = subID
	}

	if customerID, ok := data["customer_id"].(string); ok {
		event.CustomerRef = customerID
	}

	if customData, ok := data["custom_data"].(map[string]any); ok {
		if raw, ok := customData["account_id"].(string); ok {
			if id, err := uuid.Parse(raw); err == nil {
				event.AccountID = id
			}
		}
		if raw, ok := customData["listing_id"].(string); ok {
			if id, err := uuid.Parse(raw); err == nil {
				event.ListingID = id
			}
		}
		if raw, ok := customData["purchase_type"].(string); ok {
			event.PurchaseType = PurchaseType(raw)
		}
	}

	if items, ok := data["items"].([]any); ok && len(items) > 0 {
		if item, ok := items[0].(map[string]any); ok {
			// Transaction items nest the price object; subscription items
			// may flatten it to price_id.
			if price, ok := item["price"].(map[string]any); ok {
				if priceID, ok := price["id"].(string); ok {
					event.PriceRef = priceID
				}
			} else if priceID, ok := item["price_id"].(string); ok {
				event.PriceRef = priceID
			}
		}
	}

	// Absolute period end: billing_period on transactions,
	// current_billing_period on subscriptions.
	for _, key := range []string{"billing_period", "current_billing_period"} {
		if period, ok := data[key].(map[string]any); ok {
			if raw, ok := period["ends_at"].(string); ok {
				if end, err := time.Parse(time.RFC3339, raw); err == nil {
					event.PeriodEnd = end.UTC()
					break
				}
			}
		}
	}

	return event, nil
}

// mapPaddleEventType maps Paddle event names to normalized types. Events the
// engine does not act on map to the empty type and are acknowledged as
// no-ops.
func mapPaddleEventType(paddleEvent string) EventType {
	switch paddleEvent {
	case "transaction.completed":
		return EventCheckoutCompleted
	case "transaction.payment_succeeded":
		return EventPaymentSucceeded
	case "transaction.payment_failed":
		return EventPaymentFailed
	case "subscription.canceled":
		return EventSubscriptionCanceled
	default:
		return ""
	}
}
