package mesh

import (
	"context"
	"log"
)

// BalanceChecker reads the remaining credit balance from the provider.
type BalanceChecker interface {
	Balance(ctx context.Context) (int, error)
}

// Availability is the result of a pre-flight credit check.
type Availability struct {
	Available bool   `json:"available"`
	Balance   int    `json:"balance,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

// CreditGate checks whether enough credits remain to run one paid job. Any
// provider failure reads as unavailable: better to deny a job than start
// one that fails after payment.
type CreditGate struct {
	checker BalanceChecker
	minimum int
}

func NewCreditGate(checker BalanceChecker, minimum int) *CreditGate {
	return &CreditGate{checker: checker, minimum: minimum}
}

func (g *CreditGate) CheckAvailability(ctx context.Context) Availability {
	if g.checker == nil {
		return Availability{Available: false, Reason: "api_error"}
	}
	balance, err := g.checker.Balance(ctx)
	if err != nil {
		log.Printf("credit check failed: %v", err)
		return Availability{Available: false, Reason: "api_error"}
	}
	if balance < g.minimum {
		return Availability{Available: false, Balance: balance, Reason: "insufficient_credits"}
	}
	return Availability{Available: true, Balance: balance}
}
