package banking

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"
)

// =============================================================================
// NUMBER GENERATION
// =============================================================================
//
// Account numbers:     "CB" + YYMM + 8 random digits   (CB2410 12345678)
// Transaction numbers: "TX" + YYMMDD + 6 random digits (TX241015 123456)
//
// Generation is an explicit call made by the service before insert.

const (
	accountNumberPrefix     = "CB"
	transactionNumberPrefix = "TX"

	// DefaultNumberAttempts bounds collision retries for account numbers.
	DefaultNumberAttempts = 10
)

// NumberGenerator produces account and transaction numbers. The random
// source is injectable so tests can force collisions.
type NumberGenerator struct {
	mu       sync.Mutex
	rnd      *rand.Rand
	attempts int
}

func NewNumberGenerator() *NumberGenerator {
	return &NumberGenerator{
		rnd:      rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
		attempts: DefaultNumberAttempts,
	}
}

// NewSeededNumberGenerator returns a deterministic generator.
func NewSeededNumberGenerator(seed uint64, attempts int) *NumberGenerator {
	if attempts <= 0 {
		attempts = DefaultNumberAttempts
	}
	return &NumberGenerator{rnd: rand.New(rand.NewPCG(seed, seed)), attempts: attempts}
}

func (g *NumberGenerator) digits(n int) string {
	g.mu.Lock()
	defer g.mu.Unlock()
	max := 1
	for i := 0; i < n; i++ {
		max *= 10
	}
	return fmt.Sprintf("%0*d", n, g.rnd.IntN(max))
}

// AccountNumber formats a candidate account number for the given month.
func (g *NumberGenerator) AccountNumber(at time.Time) string {
	return accountNumberPrefix + at.Format("0601") + g.digits(8)
}

// TransactionNumber formats a transaction number for the given day.
func (g *NumberGenerator) TransactionNumber(at time.Time) string {
	return transactionNumberPrefix + at.Format("060102") + g.digits(6)
}

// UniqueAccountNumber draws candidates until exists reports a free one.
// After the attempt budget it returns ErrDuplicateAccountNumber.
func (g *NumberGenerator) UniqueAccountNumber(ctx context.Context, at time.Time, exists func(context.Context, string) (bool, error)) (string, error) {
	for i := 0; i < g.attempts; i++ {
		candidate := g.AccountNumber(at)
		taken, err := exists(ctx, candidate)
		if err != nil {
			return "", err
		}
		if !taken {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("%w: %d attempts exhausted", ErrDuplicateAccountNumber, g.attempts)
}
