package ops

import (
	"context"

	"github.com/ugoodapp/ugood/internal/config"
	"github.com/ugoodapp/ugood/internal/domain"
	"github.com/ugoodapp/ugood/internal/store"
)

// RolloverOutput reports what a cycle rollover changed.
type RolloverOutput struct {
	// MatchDate is the cycle day now in effect; earlier active matches were expired
	MatchDate string `json:"match_date"`
	Expired   int    `json:"expired"`
}

// Rollover expires active matches from earlier cycle days. Unmatched troubles
// are left active and stay in the queue.
func Rollover(ctx context.Context, st store.Store, cfg *config.Config) (*RolloverOutput, error) {
	ctx, cancel := withTimeout(ctx, cfg)
	defer cancel()

	now := nowFunc()
	today := domain.MatchDate(now, cfg.Location())

	n, err := st.ExpireMatchesBefore(ctx, today, now.UnixMilli())
	if err != nil {
		return nil, err
	}
	return &RolloverOutput{MatchDate: today, Expired: n}, nil
}
