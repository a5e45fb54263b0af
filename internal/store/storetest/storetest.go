// Package storetest is a conformance suite for store.Store implementations.
package storetest

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ugoodapp/ugood/internal/domain"
	"github.com/ugoodapp/ugood/internal/errors"
	"github.com/ugoodapp/ugood/internal/store"
)

// Factory returns a fresh, empty store. Cleanup is the factory's job.
type Factory func(t *testing.T) store.Store

// Run executes every conformance case against stores built by newStore.
func Run(t *testing.T, newStore Factory) {
	cases := []struct {
		name string
		fn   func(*testing.T, store.Store)
	}{
		{"UpsertInsertsThenReplaces", testUpsertInsertsThenReplaces},
		{"UpsertAfterMatchCreatesNew", testUpsertAfterMatchCreatesNew},
		{"UpdateTroubleContent", testUpdateTroubleContent},
		{"GetTroubleNotFound", testGetTroubleNotFound},
		{"OldestActiveOrdering", testOldestActiveOrdering},
		{"OldestActiveExcludesPriorPairing", testOldestActiveExcludesPriorPairing},
		{"ClaimCreatesMatch", testClaimCreatesMatch},
		{"ClaimOwnTrouble", testClaimOwnTrouble},
		{"ClaimMatchedTrouble", testClaimMatchedTrouble},
		{"ClaimMissingTrouble", testClaimMissingTrouble},
		{"ClaimDailyMatchExists", testClaimDailyMatchExists},
		{"ConcurrentClaimsSingleWinner", testConcurrentClaimsSingleWinner},
		{"FindLatestActiveMatch", testFindLatestActiveMatch},
		{"InsertBlessingCompletesMatch", testInsertBlessingCompletesMatch},
		{"InsertBlessingMissingMatch", testInsertBlessingMissingMatch},
		{"GetBlessing", testGetBlessing},
		{"ExpireMatchesBefore", testExpireMatchesBefore},
		{"ListsPaginate", testListsPaginate},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			c.fn(t, newStore(t))
		})
	}
}

func trouble(id, author, content string, createdAt int64) *domain.Trouble {
	return &domain.Trouble{
		ID:        id,
		AuthorID:  author,
		Content:   content,
		Status:    domain.TroubleActive,
		CreatedAt: createdAt,
		UpdatedAt: createdAt,
	}
}

func match(id, troubleID, matcher, date string, createdAt int64) *domain.Match {
	return &domain.Match{
		ID:        id,
		TroubleID: troubleID,
		MatcherID: matcher,
		MatchDate: date,
		CreatedAt: createdAt,
	}
}

func mustUpsert(t *testing.T, s store.Store, tr *domain.Trouble) *domain.Trouble {
	t.Helper()
	stored, _, err := s.UpsertActiveTrouble(context.Background(), tr)
	require.NoError(t, err)
	return stored
}

func mustClaim(t *testing.T, s store.Store, m *domain.Match) *domain.Match {
	t.Helper()
	claimed, err := s.ClaimTroubleAndCreateMatch(context.Background(), m)
	require.NoError(t, err)
	return claimed
}

func testUpsertInsertsThenReplaces(t *testing.T, s store.Store) {
	ctx := context.Background()

	first, replaced, err := s.UpsertActiveTrouble(ctx, trouble("T1", "alice", "first", 100))
	require.NoError(t, err)
	assert.False(t, replaced)
	assert.Equal(t, "T1", first.ID)
	assert.Equal(t, domain.TroubleActive, first.Status)

	second, replaced, err := s.UpsertActiveTrouble(ctx, trouble("T2", "alice", "second", 200))
	require.NoError(t, err)
	assert.True(t, replaced)
	assert.Equal(t, "T1", second.ID, "existing row keeps its id")
	assert.Equal(t, "second", second.Content)
	assert.Equal(t, int64(100), second.CreatedAt, "replace keeps queue position")
	assert.Equal(t, int64(200), second.UpdatedAt)

	_, err = s.GetTrouble(ctx, "T2")
	assert.True(t, errors.Is(err, errors.ErrNotFound))

	active, err := s.FindActiveTroubleByAuthor(ctx, "alice")
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, "T1", active.ID)
}

func testUpsertAfterMatchCreatesNew(t *testing.T, s store.Store) {
	ctx := context.Background()

	mustUpsert(t, s, trouble("T1", "alice", "first", 100))
	mustClaim(t, s, match("M1", "T1", "bob", "2026-01-01", 150))

	stored, replaced, err := s.UpsertActiveTrouble(ctx, trouble("T2", "alice", "again", 200))
	require.NoError(t, err)
	assert.False(t, replaced)
	assert.Equal(t, "T2", stored.ID)

	old, err := s.GetTrouble(ctx, "T1")
	require.NoError(t, err)
	assert.Equal(t, domain.TroubleMatched, old.Status)
}

func testUpdateTroubleContent(t *testing.T, s store.Store) {
	ctx := context.Background()

	mustUpsert(t, s, trouble("T1", "alice", "before", 100))
	require.NoError(t, s.UpdateTroubleContent(ctx, "T1", "after", 300))

	got, err := s.GetTrouble(ctx, "T1")
	require.NoError(t, err)
	assert.Equal(t, "after", got.Content)
	assert.Equal(t, int64(300), got.UpdatedAt)

	mustClaim(t, s, match("M1", "T1", "bob", "2026-01-01", 400))
	err = s.UpdateTroubleContent(ctx, "T1", "too late", 500)
	assert.True(t, stderrors.Is(err, store.ErrTroubleUnavailable))

	err = s.UpdateTroubleContent(ctx, "missing", "x", 500)
	assert.True(t, errors.Is(err, errors.ErrNotFound))
}

func testGetTroubleNotFound(t *testing.T, s store.Store) {
	_, err := s.GetTrouble(context.Background(), "nope")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrNotFound))

	got, err := s.FindActiveTroubleByAuthor(context.Background(), "nobody")
	assert.NoError(t, err)
	assert.Nil(t, got)
}

func testOldestActiveOrdering(t *testing.T, s store.Store) {
	ctx := context.Background()

	mustUpsert(t, s, trouble("T3", "carol", "c", 300))
	mustUpsert(t, s, trouble("T2", "bob", "b", 100))
	mustUpsert(t, s, trouble("T1", "alice", "a", 100))

	got, err := s.FindOldestActiveTroubleExcluding(ctx, "dave")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "T1", got.ID, "equal created_at breaks ties by id")

	got, err = s.FindOldestActiveTroubleExcluding(ctx, "alice")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "T2", got.ID, "own trouble is never selected")

	mustClaim(t, s, match("M1", "T1", "dave", "2026-01-01", 400))
	mustClaim(t, s, match("M2", "T2", "carol", "2026-01-01", 410))
	mustClaim(t, s, match("M3", "T3", "bob", "2026-01-01", 420))

	got, err = s.FindOldestActiveTroubleExcluding(ctx, "erin")
	assert.NoError(t, err)
	assert.Nil(t, got, "matched troubles are not selectable")
}

func testOldestActiveExcludesPriorPairing(t *testing.T, s store.Store) {
	ctx := context.Background()

	mustUpsert(t, s, trouble("T1", "alice", "a", 100))
	mustClaim(t, s, match("M1", "T1", "bob", "2026-01-01", 200))

	// Alice's next trouble is a different row, so bob may be paired with it
	mustUpsert(t, s, trouble("T2", "alice", "again", 300))
	got, err := s.FindOldestActiveTroubleExcluding(ctx, "bob")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "T2", got.ID)
}

func testClaimCreatesMatch(t *testing.T, s store.Store) {
	ctx := context.Background()

	mustUpsert(t, s, trouble("T1", "alice", "a", 100))
	m := mustClaim(t, s, match("M1", "T1", "bob", "2026-01-01", 200))

	assert.Equal(t, "alice", m.AuthorID)
	assert.Equal(t, domain.MatchActive, m.Status)
	assert.Equal(t, int64(200), m.UpdatedAt)

	got, err := s.GetMatch(ctx, "M1")
	require.NoError(t, err)
	assert.Equal(t, *m, *got)

	tr, err := s.GetTrouble(ctx, "T1")
	require.NoError(t, err)
	assert.Equal(t, domain.TroubleMatched, tr.Status)

	byDate, err := s.FindMatchForUserOnDate(ctx, "bob", "2026-01-01")
	require.NoError(t, err)
	require.NotNil(t, byDate)
	assert.Equal(t, "M1", byDate.ID)

	none, err := s.FindMatchForUserOnDate(ctx, "bob", "2026-01-02")
	assert.NoError(t, err)
	assert.Nil(t, none)
}

func testClaimOwnTrouble(t *testing.T, s store.Store) {
	mustUpsert(t, s, trouble("T1", "alice", "a", 100))

	_, err := s.ClaimTroubleAndCreateMatch(context.Background(), match("M1", "T1", "alice", "2026-01-01", 200))
	assert.True(t, errors.Is(err, errors.ErrInvalidRequest))
}

func testClaimMatchedTrouble(t *testing.T, s store.Store) {
	mustUpsert(t, s, trouble("T1", "alice", "a", 100))
	mustClaim(t, s, match("M1", "T1", "bob", "2026-01-01", 200))

	_, err := s.ClaimTroubleAndCreateMatch(context.Background(), match("M2", "T1", "carol", "2026-01-01", 210))
	assert.True(t, stderrors.Is(err, store.ErrTroubleUnavailable))
	assert.True(t, errors.Is(err, errors.ErrConflict))
}

func testClaimMissingTrouble(t *testing.T, s store.Store) {
	_, err := s.ClaimTroubleAndCreateMatch(context.Background(), match("M1", "missing", "bob", "2026-01-01", 200))
	assert.True(t, errors.Is(err, errors.ErrNotFound))
}

func testClaimDailyMatchExists(t *testing.T, s store.Store) {
	ctx := context.Background()

	mustUpsert(t, s, trouble("T1", "alice", "a", 100))
	mustUpsert(t, s, trouble("T2", "carol", "c", 110))
	mustClaim(t, s, match("M1", "T1", "bob", "2026-01-01", 200))

	_, err := s.ClaimTroubleAndCreateMatch(ctx, match("M2", "T2", "bob", "2026-01-01", 210))
	assert.True(t, stderrors.Is(err, store.ErrDailyMatchExists))

	// The failed claim rolled back: T2 is still active
	tr, err := s.GetTrouble(ctx, "T2")
	require.NoError(t, err)
	assert.Equal(t, domain.TroubleActive, tr.Status)

	// A new day is a new allowance
	mustClaim(t, s, match("M3", "T2", "bob", "2026-01-02", 300))
}

func testConcurrentClaimsSingleWinner(t *testing.T, s store.Store) {
	ctx := context.Background()
	mustUpsert(t, s, trouble("T1", "alice", "a", 100))

	const n = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners int
		errs    []error
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			m := match(fmt.Sprintf("M%d", i), "T1", fmt.Sprintf("user-%d", i), "2026-01-01", int64(200+i))
			_, err := s.ClaimTroubleAndCreateMatch(ctx, m)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				winners++
				return
			}
			errs = append(errs, err)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, winners)
	for _, err := range errs {
		assert.True(t, stderrors.Is(err, store.ErrTroubleUnavailable), "loser got %v", err)
	}
}

func testFindLatestActiveMatch(t *testing.T, s store.Store) {
	ctx := context.Background()

	got, err := s.FindLatestActiveMatchForMatcher(ctx, "bob")
	assert.NoError(t, err)
	assert.Nil(t, got)

	mustUpsert(t, s, trouble("T1", "alice", "a", 100))
	mustUpsert(t, s, trouble("T2", "carol", "c", 110))
	mustClaim(t, s, match("M1", "T1", "bob", "2026-01-01", 200))
	mustClaim(t, s, match("M2", "T2", "bob", "2026-01-02", 300))

	got, err = s.FindLatestActiveMatchForMatcher(ctx, "bob")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "M2", got.ID)
}

func testInsertBlessingCompletesMatch(t *testing.T, s store.Store) {
	ctx := context.Background()

	mustUpsert(t, s, trouble("T1", "alice", "a", 100))
	mustClaim(t, s, match("M1", "T1", "bob", "2026-01-01", 200))

	caption := "hang in there"
	b := &domain.Blessing{
		ID:          "B1",
		MatchID:     "M1",
		FromUserID:  "bob",
		ToUserID:    "alice",
		AudioRef:    "blessings/bob/x.m4a",
		TextContent: &caption,
		CreatedAt:   300,
	}
	require.NoError(t, s.InsertBlessing(ctx, b))

	m, err := s.GetMatch(ctx, "M1")
	require.NoError(t, err)
	assert.Equal(t, domain.MatchCompleted, m.Status)
	assert.Equal(t, int64(300), m.UpdatedAt)

	inbox, total, err := s.ListBlessingsForRecipient(ctx, "alice", 10, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, inbox, 1)
	assert.Equal(t, *b, inbox[0])

	again := *b
	again.ID = "B2"
	err = s.InsertBlessing(ctx, &again)
	assert.True(t, stderrors.Is(err, store.ErrMatchNotActive))
}

func testInsertBlessingMissingMatch(t *testing.T, s store.Store) {
	err := s.InsertBlessing(context.Background(), &domain.Blessing{
		ID:         "B1",
		MatchID:    "missing",
		FromUserID: "bob",
		ToUserID:   "alice",
		AudioRef:   "x",
		CreatedAt:  1,
	})
	assert.True(t, errors.Is(err, errors.ErrNotFound))
}

func testGetBlessing(t *testing.T, s store.Store) {
	ctx := context.Background()

	mustUpsert(t, s, trouble("T1", "alice", "a", 100))
	mustClaim(t, s, match("M1", "T1", "bob", "2026-01-01", 200))

	b := &domain.Blessing{
		ID:         "B1",
		MatchID:    "M1",
		FromUserID: "bob",
		ToUserID:   "alice",
		AudioRef:   "blessings/bob/x.m4a",
		CreatedAt:  300,
	}
	require.NoError(t, s.InsertBlessing(ctx, b))

	got, err := s.GetBlessing(ctx, "B1")
	require.NoError(t, err)
	assert.Equal(t, *b, *got)
	assert.Nil(t, got.TextContent)

	_, err = s.GetBlessing(ctx, "missing")
	assert.True(t, errors.Is(err, errors.ErrNotFound))
}

func testExpireMatchesBefore(t *testing.T, s store.Store) {
	ctx := context.Background()

	mustUpsert(t, s, trouble("T1", "alice", "a", 100))
	mustUpsert(t, s, trouble("T2", "carol", "c", 110))
	mustUpsert(t, s, trouble("T3", "dave", "d", 120))
	mustClaim(t, s, match("M1", "T1", "bob", "2026-01-01", 200))
	mustClaim(t, s, match("M2", "T2", "erin", "2026-01-01", 210))
	mustClaim(t, s, match("M3", "T3", "bob", "2026-01-02", 300))

	require.NoError(t, s.InsertBlessing(ctx, &domain.Blessing{
		ID: "B1", MatchID: "M2", FromUserID: "erin", ToUserID: "carol", AudioRef: "x", CreatedAt: 250,
	}))

	n, err := s.ExpireMatchesBefore(ctx, "2026-01-02", 400)
	require.NoError(t, err)
	assert.Equal(t, 1, n, "only active matches from earlier days expire")

	m1, err := s.GetMatch(ctx, "M1")
	require.NoError(t, err)
	assert.Equal(t, domain.MatchExpired, m1.Status)

	m2, err := s.GetMatch(ctx, "M2")
	require.NoError(t, err)
	assert.Equal(t, domain.MatchCompleted, m2.Status)

	m3, err := s.GetMatch(ctx, "M3")
	require.NoError(t, err)
	assert.Equal(t, domain.MatchActive, m3.Status)

	n, err = s.ExpireMatchesBefore(ctx, "2026-01-02", 500)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func testListsPaginate(t *testing.T, s store.Store) {
	ctx := context.Background()

	for i, matcher := range []string{"bob", "carol", "dave"} {
		id := fmt.Sprintf("T%d", i)
		mustUpsert(t, s, trouble(id, "alice", "a", int64(100+i)))
		mustClaim(t, s, match(fmt.Sprintf("M%d", i), id, matcher, "2026-01-01", int64(200+i)))
	}

	troubles, total, err := s.ListTroublesByAuthor(ctx, "alice", 2, 0)
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	require.Len(t, troubles, 2)
	assert.Equal(t, "T2", troubles[0].ID, "newest first")
	assert.Equal(t, "T1", troubles[1].ID)

	matches, total, err := s.ListMatchesForAuthor(ctx, "alice", 2, 2)
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	require.Len(t, matches, 1)
	assert.Equal(t, "M0", matches[0].ID)

	empty, total, err := s.ListBlessingsForRecipient(ctx, "alice", 10, 0)
	require.NoError(t, err)
	assert.Equal(t, 0, total)
	assert.NotNil(t, empty)
	assert.Empty(t, empty)
}
