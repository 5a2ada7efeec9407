package sources

import (
	"context"
	"errors"
	"log/slog"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/lepinkainen/folio/internal/book"
	"github.com/lepinkainen/folio/internal/config"
	ferrors "github.com/lepinkainen/folio/internal/errors"
	"github.com/lepinkainen/folio/internal/metrics"
)

// errSearchFailed marks a degraded result to the breaker.
var errSearchFailed = errors.New("source search failed")

type breakerSet struct {
	cfg config.BreakerConfig
}

func newBreakerSet(cfg config.BreakerConfig) breakerSet {
	return breakerSet{cfg: cfg}
}

// wrap guards a with a circuit breaker when breakers are enabled.
func (b breakerSet) wrap(a Adapter) Adapter {
	if !b.cfg.Enabled || b.cfg.ConsecutiveFailures <= 0 {
		return a
	}
	return NewGuarded(a, b.cfg)
}

// Guarded short-circuits an adapter after repeated consecutive failures.
// While open, searches return the degraded result immediately without
// touching the network.
type Guarded struct {
	Adapter
	cb *gobreaker.CircuitBreaker[book.Result]
}

// NewGuarded wraps a with a breaker configured from cfg.
func NewGuarded(a Adapter, cfg config.BreakerConfig) *Guarded {
	name := a.Info().ID
	threshold := uint32(max(cfg.ConsecutiveFailures, 1))

	metrics.CircuitBreakerState.WithLabelValues(name).Set(0)

	cb := gobreaker.NewCircuitBreaker[book.Result](gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Info("Circuit breaker state change", "source", name, "from", stateToString(from), "to", stateToString(to))
			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateToFloat(to))
			metrics.CircuitBreakerTransitions.WithLabelValues(name, stateToString(from), stateToString(to)).Inc()
		},
	})
	return &Guarded{Adapter: a, cb: cb}
}

// Search implements Adapter.
func (g *Guarded) Search(ctx context.Context, q book.Query) book.Result {
	res, err := g.cb.Execute(func() (book.Result, error) {
		res := g.Adapter.Search(ctx, q)
		// A caller hanging up says nothing about the source's health.
		if res.Error != "" && ctx.Err() == nil {
			return res, errSearchFailed
		}
		return res, nil
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		q = q.Normalized()
		return degraded(g.Info(), g.DirectSearchURL(q.Terms()), q, &ferrors.CircuitOpenError{Source: g.Info().ID})
	}
	return res
}

// State reports the breaker state, for diagnostics.
func (g *Guarded) State() string {
	return stateToString(g.cb.State())
}

func stateToFloat(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}

func stateToString(state gobreaker.State) string {
	switch state {
	case gobreaker.StateClosed:
		return "closed"
	case gobreaker.StateHalfOpen:
		return "half-open"
	case gobreaker.StateOpen:
		return "open"
	default:
		return "unknown"
	}
}
