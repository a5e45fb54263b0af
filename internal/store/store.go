// Package store defines the persistence contract the operations layer depends on.
// internal/db (SQLite) and internal/pgstore (Postgres) implement it; storetest
// holds the conformance suite both must pass.
package store

import (
	"context"

	"github.com/ugoodapp/ugood/internal/domain"
	"github.com/ugoodapp/ugood/internal/errors"
)

// Sentinel conflicts returned by implementations. Callers compare with errors.Is
// from the standard library; errors.Is(err, errors.ErrConflict) also matches.
var (
	// ErrTroubleUnavailable means the trouble was no longer active when the claim ran.
	ErrTroubleUnavailable = &errors.UGoodError{
		Code:    errors.ErrConflict,
		Status:  409,
		Message: "trouble is no longer active",
	}

	// ErrDailyMatchExists means the matcher already holds a match for that cycle day.
	ErrDailyMatchExists = &errors.UGoodError{
		Code:    errors.ErrConflict,
		Status:  409,
		Message: "a match already exists for this user and date",
	}

	// ErrMatchNotActive means a blessing was recorded against a completed or expired match.
	ErrMatchNotActive = &errors.UGoodError{
		Code:    errors.ErrConflict,
		Status:  409,
		Message: "match is not active",
	}
)

// Store is the storage collaborator for troubles, matches and blessings.
//
// Lookups that may legitimately find nothing (Find*) return (nil, nil).
// Lookups by id (Get*) return a NOT_FOUND error instead.
type Store interface {
	// UpsertActiveTrouble inserts t, or replaces the content of the author's
	// existing active trouble. The returned trouble is the persisted row;
	// replaced reports whether an existing row was updated.
	UpsertActiveTrouble(ctx context.Context, t *domain.Trouble) (stored *domain.Trouble, replaced bool, err error)

	// UpdateTroubleContent edits a trouble only while it is active.
	// Returns ErrTroubleUnavailable once matched, NOT_FOUND if missing.
	UpdateTroubleContent(ctx context.Context, troubleID, content string, now int64) error

	GetTrouble(ctx context.Context, id string) (*domain.Trouble, error)
	FindActiveTroubleByAuthor(ctx context.Context, authorID string) (*domain.Trouble, error)

	// FindOldestActiveTroubleExcluding returns the active trouble with the smallest
	// created_at (ties by id) not authored by matcherID and never paired with matcherID.
	FindOldestActiveTroubleExcluding(ctx context.Context, matcherID string) (*domain.Trouble, error)

	// ClaimTroubleAndCreateMatch atomically flips m.TroubleID from active to matched
	// and inserts m. m.AuthorID is filled from the trouble. Returns
	// ErrTroubleUnavailable when the trouble is no longer claimable and
	// ErrDailyMatchExists when (matcher, match date) is taken.
	ClaimTroubleAndCreateMatch(ctx context.Context, m *domain.Match) (*domain.Match, error)

	FindMatchForUserOnDate(ctx context.Context, userID, matchDate string) (*domain.Match, error)
	FindLatestActiveMatchForMatcher(ctx context.Context, userID string) (*domain.Match, error)
	GetMatch(ctx context.Context, id string) (*domain.Match, error)
	ListMatchesForAuthor(ctx context.Context, authorID string, limit, offset int) ([]domain.Match, int, error)

	// InsertBlessing stores b and completes its match in one transaction.
	// Returns ErrMatchNotActive if the match already completed or expired.
	InsertBlessing(ctx context.Context, b *domain.Blessing) error

	GetBlessing(ctx context.Context, id string) (*domain.Blessing, error)

	ListTroublesByAuthor(ctx context.Context, authorID string, limit, offset int) ([]domain.Trouble, int, error)
	ListBlessingsForRecipient(ctx context.Context, userID string, limit, offset int) ([]domain.Blessing, int, error)

	// ExpireMatchesBefore marks active matches with match_date < matchDate as expired.
	ExpireMatchesBefore(ctx context.Context, matchDate string, now int64) (int, error)

	Close() error
}
