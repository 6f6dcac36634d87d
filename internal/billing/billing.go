// Package billing sells credit packs through Stripe Checkout. A pack is a
// Stripe price ID mapped to a credit amount in configuration; the completed
// checkout webhook grants the credits exactly once per session.
package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"

	"github.com/rs/zerolog"
	stripeapi "github.com/stripe/stripe-go/v72"
	"github.com/stripe/stripe-go/v72/checkout/session"
	"github.com/stripe/stripe-go/v72/webhook"

	"github.com/IndexPilot/server/internal/config"
	"github.com/IndexPilot/server/internal/metrics"
	"github.com/IndexPilot/server/internal/storage"
)

// ErrUnknownPack is returned when a checkout targets a price ID that is not
// in the configured pack catalogue.
var ErrUnknownPack = errors.New("billing: unknown credit pack")

// Client wraps the stripe-go operations used by the server.
type Client struct {
	cfg     config.StripeConfig
	store   storage.Store
	metrics *metrics.Metrics
	logger  zerolog.Logger

	constructEvent func(payload []byte, header, secret string) (stripeapi.Event, error)
	newSession     func(params *stripeapi.CheckoutSessionParams) (*stripeapi.CheckoutSession, error)
}

// NewClient sets up stripe-go with the configured secret key.
func NewClient(cfg config.StripeConfig, store storage.Store, metricsCollector *metrics.Metrics, logger zerolog.Logger) *Client {
	stripeapi.Key = cfg.SecretKey
	return &Client{
		cfg:            cfg,
		store:          store,
		metrics:        metricsCollector,
		logger:         logger.With().Str("component", "billing").Logger(),
		constructEvent: webhook.ConstructEvent,
		newSession:     session.New,
	}
}

// Enabled reports whether credit purchases are configured.
func (c *Client) Enabled() bool {
	return c.cfg.SecretKey != "" && len(c.cfg.Packs) > 0
}

// Pack describes one purchasable credit bundle.
type Pack struct {
	PriceID string `json:"price_id"`
	Credits int    `json:"credits"`
}

// Packs returns the configured catalogue ordered by credit amount.
func (c *Client) Packs() []Pack {
	packs := make([]Pack, 0, len(c.cfg.Packs))
	for priceID, credits := range c.cfg.Packs {
		packs = append(packs, Pack{PriceID: priceID, Credits: credits})
	}
	sort.Slice(packs, func(i, j int) bool {
		if packs[i].Credits != packs[j].Credits {
			return packs[i].Credits < packs[j].Credits
		}
		return packs[i].PriceID < packs[j].PriceID
	})
	return packs
}

// CreateCheckoutSession builds a Stripe Checkout session for one credit pack.
// The buyer and the pack size travel in the session metadata so the webhook
// can grant credits without a second catalogue lookup.
func (c *Client) CreateCheckoutSession(ctx context.Context, userID, priceID, customerEmail string) (*stripeapi.CheckoutSession, error) {
	credits, ok := c.cfg.Packs[priceID]
	if !ok {
		return nil, ErrUnknownPack
	}

	params := &stripeapi.CheckoutSessionParams{
		Mode:               stripeapi.String(string(stripeapi.CheckoutSessionModePayment)),
		PaymentMethodTypes: stripeapi.StringSlice([]string{"card"}),
		SuccessURL:         stripeapi.String(c.cfg.SuccessURL),
		CancelURL:          stripeapi.String(c.cfg.CancelURL),
		LineItems: []*stripeapi.CheckoutSessionLineItemParams{
			{
				Price:    stripeapi.String(priceID),
				Quantity: stripeapi.Int64(1),
			},
		},
	}
	params.Metadata = map[string]string{
		"user_id": userID,
		"credits": strconv.Itoa(credits),
	}
	if customerEmail != "" {
		params.CustomerEmail = stripeapi.String(customerEmail)
	}

	s, err := c.newSession(params)
	if err != nil {
		return nil, fmt.Errorf("billing: create checkout session: %w", err)
	}

	c.logger.Info().
		Str("user_id", userID).
		Str("price_id", priceID).
		Int("credits", credits).
		Str("session_id", s.ID).
		Msg("billing.checkout_created")
	return s, nil
}

// CompletedCheckout is the normalised payload of a completed checkout event.
type CompletedCheckout struct {
	SessionID string
	UserID    string
	Credits   int
}

// ParseWebhook validates the event signature and extracts the completed
// checkout, if any. Other event types return a nil checkout and no error.
func (c *Client) ParseWebhook(payload []byte, signature string) (*CompletedCheckout, error) {
	if c.cfg.WebhookSecret == "" {
		return nil, errors.New("billing: webhook secret not configured")
	}
	event, err := c.constructEvent(payload, signature, c.cfg.WebhookSecret)
	if err != nil {
		return nil, fmt.Errorf("billing: construct event: %w", err)
	}
	if event.Type != "checkout.session.completed" {
		return nil, nil
	}

	var checkout stripeapi.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &checkout); err != nil {
		return nil, fmt.Errorf("billing: decode checkout session: %w", err)
	}

	userID := ""
	creditsRaw := ""
	if checkout.Metadata != nil {
		userID = checkout.Metadata["user_id"]
		creditsRaw = checkout.Metadata["credits"]
	}
	if userID == "" {
		return nil, errors.New("billing: webhook missing user_id in metadata")
	}
	credits, err := strconv.Atoi(creditsRaw)
	if err != nil || credits <= 0 {
		return nil, fmt.Errorf("billing: invalid credits metadata %q", creditsRaw)
	}

	return &CompletedCheckout{
		SessionID: checkout.ID,
		UserID:    userID,
		Credits:   credits,
	}, nil
}

// HandleCompletion grants the purchased credits. Stripe retries webhooks, so
// the grant is keyed by session ID and a replay is a silent no-op.
func (c *Client) HandleCompletion(ctx context.Context, checkout CompletedCheckout) error {
	if checkout.SessionID == "" {
		return errors.New("billing: completion missing session id")
	}

	description := fmt.Sprintf("Credit pack purchase (%d credits)", checkout.Credits)
	balance, duplicate, err := c.store.RecordPurchase(ctx, checkout.UserID, checkout.Credits, checkout.SessionID, description)
	if err != nil {
		return fmt.Errorf("billing: record purchase: %w", err)
	}
	if duplicate {
		c.logger.Info().
			Str("session_id", checkout.SessionID).
			Msg("billing.webhook_replayed")
		return nil
	}

	if c.metrics != nil {
		c.metrics.CreditGrantsTotal.WithLabelValues("purchase").Add(float64(checkout.Credits))
	}
	c.logger.Info().
		Str("user_id", checkout.UserID).
		Str("session_id", checkout.SessionID).
		Int("credits", checkout.Credits).
		Int("balance", balance).
		Msg("billing.purchase_granted")
	return nil
}
