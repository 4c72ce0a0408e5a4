package escrow

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/taskhub/escrow/internal/money"
)

type OutcomeStatus string

const (
	// OutcomePending means the provider accepted the request but has not
	// settled it; a later reconciliation call carries the terminal result.
	OutcomePending OutcomeStatus = "accepted-pending"
	OutcomeSuccess OutcomeStatus = "success"
	OutcomeFailed  OutcomeStatus = "failed"
)

type Outcome struct {
	Status      OutcomeStatus
	ProviderRef string
	Code        string
	Message     string
}

// Provider is the external payment capability. The orchestrator never
// assumes synchronous success; intents are persisted before any call here.
type Provider interface {
	Capture(ctx context.Context, amount money.Money, reference string) (Outcome, error)
	Payout(ctx context.Context, amount money.Money, destination string) (Outcome, error)
	Refund(ctx context.Context, providerRef string) (Outcome, error)
}

// StubProvider settles everything synchronously. It stands in for a real
// payment integration in development and in the default wiring.
type StubProvider struct {
	Name string
}

func (s StubProvider) Capture(_ context.Context, _ money.Money, reference string) (Outcome, error) {
	return Outcome{Status: OutcomeSuccess, ProviderRef: stubRef("cap", reference)}, nil
}

func (s StubProvider) Payout(_ context.Context, _ money.Money, destination string) (Outcome, error) {
	return Outcome{Status: OutcomeSuccess, ProviderRef: stubRef("po", destination)}, nil
}

func (s StubProvider) Refund(_ context.Context, providerRef string) (Outcome, error) {
	return Outcome{Status: OutcomeSuccess, ProviderRef: stubRef("ref", providerRef)}, nil
}

func stubRef(kind, seed string) string {
	return fmt.Sprintf("stub_%s_%s", kind, uuid.NewSHA1(uuid.NameSpaceOID, []byte(seed)))
}
