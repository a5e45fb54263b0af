package db

import (
	"context"
	"database/sql"

	"github.com/ugoodapp/ugood/internal/config"
	"github.com/ugoodapp/ugood/internal/domain"
	"github.com/ugoodapp/ugood/internal/store"
)

// Store adapts the SQLite query functions to store.Store.
type Store struct {
	db *sql.DB
}

var _ store.Store = (*Store)(nil)

// NewStore wraps an initialized database.
func NewStore(database *sql.DB) *Store {
	return &Store{db: database}
}

// Open initializes baseDir/ugood.db, applies pool settings and returns a Store.
func Open(baseDir string, cfg *config.Config) (*Store, error) {
	database, err := Init(baseDir)
	if err != nil {
		return nil, err
	}
	ConfigurePool(database, cfg)
	return NewStore(database), nil
}

// DB exposes the underlying handle for tests and maintenance commands.
func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) UpsertActiveTrouble(ctx context.Context, t *domain.Trouble) (*domain.Trouble, bool, error) {
	return UpsertActiveTrouble(ctx, s.db, t)
}

func (s *Store) UpdateTroubleContent(ctx context.Context, troubleID, content string, now int64) error {
	return UpdateTroubleContent(ctx, s.db, troubleID, content, now)
}

func (s *Store) GetTrouble(ctx context.Context, id string) (*domain.Trouble, error) {
	return GetTrouble(ctx, s.db, id)
}

func (s *Store) FindActiveTroubleByAuthor(ctx context.Context, authorID string) (*domain.Trouble, error) {
	return FindActiveTroubleByAuthor(ctx, s.db, authorID)
}

func (s *Store) FindOldestActiveTroubleExcluding(ctx context.Context, matcherID string) (*domain.Trouble, error) {
	return FindOldestActiveTroubleExcluding(ctx, s.db, matcherID)
}

func (s *Store) ClaimTroubleAndCreateMatch(ctx context.Context, m *domain.Match) (*domain.Match, error) {
	return ClaimTroubleAndCreateMatch(ctx, s.db, m)
}

func (s *Store) FindMatchForUserOnDate(ctx context.Context, userID, matchDate string) (*domain.Match, error) {
	return FindMatchForUserOnDate(ctx, s.db, userID, matchDate)
}

func (s *Store) FindLatestActiveMatchForMatcher(ctx context.Context, userID string) (*domain.Match, error) {
	return FindLatestActiveMatchForMatcher(ctx, s.db, userID)
}

func (s *Store) GetMatch(ctx context.Context, id string) (*domain.Match, error) {
	return GetMatch(ctx, s.db, id)
}

func (s *Store) ListMatchesForAuthor(ctx context.Context, authorID string, limit, offset int) ([]domain.Match, int, error) {
	return ListMatchesForAuthor(ctx, s.db, authorID, limit, offset)
}

func (s *Store) InsertBlessing(ctx context.Context, b *domain.Blessing) error {
	return InsertBlessing(ctx, s.db, b)
}

func (s *Store) GetBlessing(ctx context.Context, id string) (*domain.Blessing, error) {
	return GetBlessing(ctx, s.db, id)
}

func (s *Store) ListTroublesByAuthor(ctx context.Context, authorID string, limit, offset int) ([]domain.Trouble, int, error) {
	return ListTroublesByAuthor(ctx, s.db, authorID, limit, offset)
}

func (s *Store) ListBlessingsForRecipient(ctx context.Context, userID string, limit, offset int) ([]domain.Blessing, int, error) {
	return ListBlessingsForRecipient(ctx, s.db, userID, limit, offset)
}

func (s *Store) ExpireMatchesBefore(ctx context.Context, matchDate string, now int64) (int, error) {
	return ExpireMatchesBefore(ctx, s.db, matchDate, now)
}
