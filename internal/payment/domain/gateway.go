package domain

import "context"

//go:generate mockgen -source=gateway.go -destination=../mocks/mock_gateway.go -package=mocks

// IntentRequest is what the gateway needs to open a payment intent.
type IntentRequest struct {
	AmountMinor int64
	Currency    string
	Description string
}

type Intent struct {
	ID           string
	ClientSecret string
}

// Gateway opens payment intents on the external processor.
type Gateway interface {
	CreateIntent(ctx context.Context, req IntentRequest) (Intent, error)
}
