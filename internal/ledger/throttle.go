package ledger

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"
)

// ThrottledGateway limits the submit rate of one organization. Evaluate is not throttled.
type ThrottledGateway struct {
	Gateway
	limiter *rate.Limiter
}

// NewThrottledGateway wraps gw with a token bucket of perSecond submits and
// the given burst. A non-positive rate returns gw unchanged.
func NewThrottledGateway(gw Gateway, perSecond float64, burst int) Gateway {
	if perSecond <= 0 {
		return gw
	}
	if burst < 1 {
		burst = 1
	}
	return &ThrottledGateway{
		Gateway: gw,
		limiter: rate.NewLimiter(rate.Limit(perSecond), burst),
	}
}

// Submit waits for a token, then submits through the wrapped gateway
func (g *ThrottledGateway) Submit(ctx context.Context, function string, args []string) (*SubmitResult, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return nil, &Error{
			Kind:     KindConnectivity,
			Op:       "submit",
			Function: function,
			Err:      fmt.Errorf("failed to wait for submit slot: %w", err),
		}
	}
	return g.Gateway.Submit(ctx, function, args)
}
