package store

import (
	"context"

	"golang.org/x/time/rate"

	"github.com/stackalign/stackalign/tile"
)

// RateLimited wraps a MatchStore with a global request rate limit. Assembly
// fans out one query per worker task; against a shared match service that can
// be an unneighborly burst, so the limiter spaces the queries out.
type RateLimited struct {
	inner   MatchStore
	limiter *rate.Limiter
}

// NewRateLimited wraps inner with a limit of rps requests per second and the
// given burst size.
func NewRateLimited(inner MatchStore, rps float64, burst int) *RateLimited {
	return &RateLimited{
		inner:   inner,
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
	}
}

// Matches implements MatchStore. It blocks until the limiter grants a slot or
// the context is canceled.
func (s *RateLimited) Matches(ctx context.Context, z1, z2 int) ([]tile.PointMatch, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return s.inner.Matches(ctx, z1, z2)
}
