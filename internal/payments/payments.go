package payments

import (
	"context"
	"errors"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
)

// ErrUnknownModule means the client asked for a price of a module that is
// not in the table.
var ErrUnknownModule = errors.New("unknown module id")

// DefaultPrice applies when the client does not name a module. Amounts are
// minor currency units.
const DefaultPrice int64 = 299

var modulePrices = map[string]int64{
	"intersection-basic":  99,
	"wall-art-basic":      99,
	"geo-sculptor-basic":  199,
	"resonance-basic":     99,
	"typography-basic":    99,
}

// PriceFor resolves a module id to its price. An empty id gets the default
// price; an unrecognized one is an error.
func PriceFor(moduleID string) (int64, error) {
	if moduleID == "" {
		return DefaultPrice, nil
	}
	price, ok := modulePrices[moduleID]
	if !ok {
		return 0, ErrUnknownModule
	}
	return price, nil
}

// Provider creates payment intents. The concrete Stripe client lives behind
// this interface so handlers can be tested without network access.
type Provider interface {
	CreateIntent(ctx context.Context, amount int64) (clientSecret string, err error)
}

// StripeProvider creates real Stripe payment intents. The API key is held
// by an injected client rather than the package-level stripe.Key global.
type StripeProvider struct {
	api *client.API
}

func NewStripeProvider(secretKey string) *StripeProvider {
	api := &client.API{}
	api.Init(secretKey, nil)
	return &StripeProvider{api: api}
}

func (p *StripeProvider) CreateIntent(_ context.Context, amount int64) (string, error) {
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(amount),
		Currency: stripe.String(string(stripe.CurrencyUSD)),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	pi, err := p.api.PaymentIntents.New(params)
	if err != nil {
		return "", err
	}
	return pi.ClientSecret, nil
}
