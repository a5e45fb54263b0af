package metrics

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/ugoodapp/ugood/internal/domain"
	"github.com/ugoodapp/ugood/internal/store"
)

// instrumentedStore times write paths and counts lost claims.
type instrumentedStore struct {
	store.Store
	rec Recorder
}

// InstrumentStore wraps st so claims, blessings and expiries are measured.
func InstrumentStore(st store.Store, rec Recorder) store.Store {
	if _, ok := rec.(noopMetrics); ok {
		return st
	}
	return &instrumentedStore{Store: st, rec: rec}
}

func (s *instrumentedStore) ClaimTroubleAndCreateMatch(ctx context.Context, m *domain.Match) (*domain.Match, error) {
	start := time.Now()
	claimed, err := s.Store.ClaimTroubleAndCreateMatch(ctx, m)
	s.rec.ObserveStoreDuration("claim", time.Since(start))
	if stderrors.Is(err, store.ErrTroubleUnavailable) {
		s.rec.IncClaimConflicts()
	}
	return claimed, err
}

func (s *instrumentedStore) UpsertActiveTrouble(ctx context.Context, t *domain.Trouble) (*domain.Trouble, bool, error) {
	start := time.Now()
	defer func() { s.rec.ObserveStoreDuration("upsert_trouble", time.Since(start)) }()
	return s.Store.UpsertActiveTrouble(ctx, t)
}

func (s *instrumentedStore) InsertBlessing(ctx context.Context, b *domain.Blessing) error {
	start := time.Now()
	err := s.Store.InsertBlessing(ctx, b)
	s.rec.ObserveStoreDuration("insert_blessing", time.Since(start))
	if err == nil {
		s.rec.IncBlessings()
	}
	return err
}

func (s *instrumentedStore) ExpireMatchesBefore(ctx context.Context, matchDate string, now int64) (int, error) {
	start := time.Now()
	n, err := s.Store.ExpireMatchesBefore(ctx, matchDate, now)
	s.rec.ObserveStoreDuration("expire_matches", time.Since(start))
	if err == nil {
		s.rec.AddExpiredMatches(n)
	}
	return n, err
}
