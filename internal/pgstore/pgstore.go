// Package pgstore implements store.Store on PostgreSQL through gorm.
package pgstore

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/ugoodapp/ugood/internal/config"
	"github.com/ugoodapp/ugood/internal/domain"
	"github.com/ugoodapp/ugood/internal/errors"
	"github.com/ugoodapp/ugood/internal/store"
)

const (
	active  = "active"
	matched = "matched"
)

// Store is the PostgreSQL store.
type Store struct {
	db *gorm.DB
}

var _ store.Store = (*Store)(nil)

// Open connects to cfg.Store.PostgresDSN and applies the schema.
func Open(ctx context.Context, cfg *config.Config) (*Store, error) {
	db, err := gorm.Open(postgres.Open(cfg.Store.PostgresDSN), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	if cfg.Store.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.Store.MaxOpenConns)
	}
	if cfg.Store.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.Store.MaxIdleConns)
	}

	s := &Store{db: db}
	if err := s.Migrate(ctx); err != nil {
		sqlDB.Close()
		return nil, err
	}
	return s, nil
}

// Migrate creates tables and indexes if missing. Partial unique indexes carry
// the one-active-trouble and one-active-match rules, so the DDL is explicit
// rather than AutoMigrate.
func (s *Store) Migrate(ctx context.Context) error {
	for i, stmt := range schema {
		if err := s.db.WithContext(ctx).Exec(stmt).Error; err != nil {
			return fmt.Errorf("migration step %d failed: %w", i+1, err)
		}
	}
	return nil
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS troubles (
	  id          TEXT PRIMARY KEY,
	  author_id   TEXT NOT NULL,
	  content     TEXT NOT NULL,
	  status      TEXT NOT NULL CHECK (status IN ('active', 'matched')),
	  created_at  BIGINT NOT NULL,
	  updated_at  BIGINT NOT NULL
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_troubles_active_author ON troubles(author_id) WHERE status = 'active'`,
	`CREATE INDEX IF NOT EXISTS idx_troubles_active_created ON troubles(created_at, id) WHERE status = 'active'`,
	`CREATE INDEX IF NOT EXISTS idx_troubles_author_created ON troubles(author_id, created_at DESC)`,
	`CREATE TABLE IF NOT EXISTS matches (
	  id          TEXT PRIMARY KEY,
	  trouble_id  TEXT NOT NULL REFERENCES troubles(id),
	  matcher_id  TEXT NOT NULL,
	  author_id   TEXT NOT NULL,
	  match_date  TEXT NOT NULL,
	  status      TEXT NOT NULL CHECK (status IN ('active', 'completed', 'expired')),
	  created_at  BIGINT NOT NULL,
	  updated_at  BIGINT NOT NULL,
	  CHECK (matcher_id <> author_id)
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_matches_trouble_matcher ON matches(trouble_id, matcher_id)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_matches_active_trouble ON matches(trouble_id) WHERE status = 'active'`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_matches_matcher_date ON matches(matcher_id, match_date)`,
	`CREATE INDEX IF NOT EXISTS idx_matches_author_created ON matches(author_id, created_at DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_matches_active_date ON matches(match_date) WHERE status = 'active'`,
	`CREATE TABLE IF NOT EXISTS blessings (
	  id            TEXT PRIMARY KEY,
	  match_id      TEXT NOT NULL REFERENCES matches(id),
	  from_user_id  TEXT NOT NULL,
	  to_user_id    TEXT NOT NULL,
	  audio_ref     TEXT NOT NULL,
	  text_content  TEXT,
	  created_at    BIGINT NOT NULL
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_blessings_match_from ON blessings(match_id, from_user_id)`,
	`CREATE INDEX IF NOT EXISTS idx_blessings_to_created ON blessings(to_user_id, created_at DESC)`,
}

// DB exposes the gorm handle for tests.
func (s *Store) DB() *gorm.DB { return s.db }

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *Store) UpsertActiveTrouble(ctx context.Context, t *domain.Trouble) (*domain.Trouble, bool, error) {
	var row troubleRow
	err := s.db.WithContext(ctx).Raw(`
		INSERT INTO troubles (id, author_id, content, status, created_at, updated_at)
		VALUES (?, ?, ?, 'active', ?, ?)
		ON CONFLICT (author_id) WHERE status = 'active'
		DO UPDATE SET content = EXCLUDED.content, updated_at = EXCLUDED.updated_at
		RETURNING id, author_id, content, status, created_at, updated_at
	`, t.ID, t.AuthorID, t.Content, t.CreatedAt, t.UpdatedAt).Scan(&row).Error
	if err != nil {
		return nil, false, storeErr(err)
	}
	return row.toDomain(), row.ID != t.ID, nil
}

func (s *Store) UpdateTroubleContent(ctx context.Context, troubleID, content string, now int64) error {
	result := s.db.WithContext(ctx).Model(&troubleRow{}).
		Where("id = ? AND status = ?", troubleID, active).
		Updates(map[string]interface{}{"content": content, "updated_at": now})
	if result.Error != nil {
		return storeErr(result.Error)
	}
	if result.RowsAffected == 0 {
		if _, err := s.GetTrouble(ctx, troubleID); err != nil {
			return err
		}
		return store.ErrTroubleUnavailable
	}
	return nil
}

func (s *Store) GetTrouble(ctx context.Context, id string) (*domain.Trouble, error) {
	var row troubleRow
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&row).Error
	if stderrors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errors.NewNotFound("trouble", id)
	}
	if err != nil {
		return nil, storeErr(err)
	}
	return row.toDomain(), nil
}

func (s *Store) FindActiveTroubleByAuthor(ctx context.Context, authorID string) (*domain.Trouble, error) {
	var row troubleRow
	err := s.db.WithContext(ctx).Where("author_id = ? AND status = ?", authorID, active).First(&row).Error
	return optionalTrouble(row, err)
}

func (s *Store) FindOldestActiveTroubleExcluding(ctx context.Context, matcherID string) (*domain.Trouble, error) {
	var row troubleRow
	err := s.db.WithContext(ctx).
		Where("status = ? AND author_id <> ?", active, matcherID).
		Where("NOT EXISTS (SELECT 1 FROM matches m WHERE m.trouble_id = troubles.id AND m.matcher_id = ?)", matcherID).
		Order("created_at ASC, id ASC").
		First(&row).Error
	return optionalTrouble(row, err)
}

func (s *Store) ListTroublesByAuthor(ctx context.Context, authorID string, limit, offset int) ([]domain.Trouble, int, error) {
	scope := func() *gorm.DB {
		return s.db.WithContext(ctx).Model(&troubleRow{}).Where("author_id = ?", authorID)
	}

	var total int64
	if err := scope().Count(&total).Error; err != nil {
		return nil, 0, storeErr(err)
	}

	var rows []troubleRow
	if err := scope().Order("created_at DESC, id DESC").Limit(limit).Offset(offset).Find(&rows).Error; err != nil {
		return nil, 0, storeErr(err)
	}

	items := make([]domain.Trouble, 0, len(rows))
	for _, r := range rows {
		items = append(items, *r.toDomain())
	}
	return items, int(total), nil
}

// ClaimTroubleAndCreateMatch locks the trouble row FOR UPDATE, so concurrent
// claimers queue on the lock and re-read the committed status.
func (s *Store) ClaimTroubleAndCreateMatch(ctx context.Context, m *domain.Match) (*domain.Match, error) {
	var claimed *domain.Match
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var tr troubleRow
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ?", m.TroubleID).First(&tr).Error
		if stderrors.Is(err, gorm.ErrRecordNotFound) {
			return errors.NewNotFound("trouble", m.TroubleID)
		}
		if err != nil {
			return err
		}
		if tr.AuthorID == m.MatcherID {
			return errors.NewInvalidRequest("cannot match your own trouble")
		}
		if tr.Status != active {
			return store.ErrTroubleUnavailable
		}

		if err := tx.Model(&troubleRow{}).Where("id = ?", tr.ID).
			Updates(map[string]interface{}{"status": matched, "updated_at": m.CreatedAt}).Error; err != nil {
			return err
		}

		c := *m
		c.AuthorID = tr.AuthorID
		c.Status = domain.MatchActive
		c.UpdatedAt = c.CreatedAt
		row := matchFromDomain(&c)
		if err := tx.Create(&row).Error; err != nil {
			switch uniqueConstraint(err) {
			case "idx_matches_matcher_date":
				return store.ErrDailyMatchExists
			case "":
				return err
			default:
				return store.ErrTroubleUnavailable
			}
		}
		claimed = &c
		return nil
	})
	if err != nil {
		return nil, storeErr(err)
	}
	return claimed, nil
}

func (s *Store) FindMatchForUserOnDate(ctx context.Context, userID, matchDate string) (*domain.Match, error) {
	var row matchRow
	err := s.db.WithContext(ctx).Where("matcher_id = ? AND match_date = ?", userID, matchDate).First(&row).Error
	return optionalMatch(row, err)
}

func (s *Store) FindLatestActiveMatchForMatcher(ctx context.Context, userID string) (*domain.Match, error) {
	var row matchRow
	err := s.db.WithContext(ctx).
		Where("matcher_id = ? AND status = ?", userID, active).
		Order("created_at DESC, id DESC").
		First(&row).Error
	return optionalMatch(row, err)
}

func (s *Store) GetMatch(ctx context.Context, id string) (*domain.Match, error) {
	var row matchRow
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&row).Error
	if stderrors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errors.NewNotFound("match", id)
	}
	if err != nil {
		return nil, storeErr(err)
	}
	return row.toDomain(), nil
}

func (s *Store) ListMatchesForAuthor(ctx context.Context, authorID string, limit, offset int) ([]domain.Match, int, error) {
	scope := func() *gorm.DB {
		return s.db.WithContext(ctx).Model(&matchRow{}).Where("author_id = ?", authorID)
	}

	var total int64
	if err := scope().Count(&total).Error; err != nil {
		return nil, 0, storeErr(err)
	}

	var rows []matchRow
	if err := scope().Order("created_at DESC, id DESC").Limit(limit).Offset(offset).Find(&rows).Error; err != nil {
		return nil, 0, storeErr(err)
	}

	items := make([]domain.Match, 0, len(rows))
	for _, r := range rows {
		items = append(items, *r.toDomain())
	}
	return items, int(total), nil
}

func (s *Store) InsertBlessing(ctx context.Context, b *domain.Blessing) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&matchRow{}).
			Where("id = ? AND status = ?", b.MatchID, active).
			Updates(map[string]interface{}{"status": string(domain.MatchCompleted), "updated_at": b.CreatedAt})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			var count int64
			if err := tx.Model(&matchRow{}).Where("id = ?", b.MatchID).Count(&count).Error; err != nil {
				return err
			}
			if count == 0 {
				return errors.NewNotFound("match", b.MatchID)
			}
			return store.ErrMatchNotActive
		}

		row := blessingFromDomain(b)
		if err := tx.Create(&row).Error; err != nil {
			if uniqueConstraint(err) != "" {
				return errors.NewConflict("blessing already recorded for this match")
			}
			return err
		}
		return nil
	})
	return storeErr(err)
}

func (s *Store) GetBlessing(ctx context.Context, id string) (*domain.Blessing, error) {
	var row blessingRow
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&row).Error
	if stderrors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errors.NewNotFound("blessing", id)
	}
	if err != nil {
		return nil, storeErr(err)
	}
	b := row.toDomain()
	return &b, nil
}

func (s *Store) ListBlessingsForRecipient(ctx context.Context, userID string, limit, offset int) ([]domain.Blessing, int, error) {
	scope := func() *gorm.DB {
		return s.db.WithContext(ctx).Model(&blessingRow{}).Where("to_user_id = ?", userID)
	}

	var total int64
	if err := scope().Count(&total).Error; err != nil {
		return nil, 0, storeErr(err)
	}

	var rows []blessingRow
	if err := scope().Order("created_at DESC, id DESC").Limit(limit).Offset(offset).Find(&rows).Error; err != nil {
		return nil, 0, storeErr(err)
	}

	items := make([]domain.Blessing, 0, len(rows))
	for _, r := range rows {
		items = append(items, r.toDomain())
	}
	return items, int(total), nil
}

func (s *Store) ExpireMatchesBefore(ctx context.Context, matchDate string, now int64) (int, error) {
	result := s.db.WithContext(ctx).Model(&matchRow{}).
		Where("status = ? AND match_date < ?", active, matchDate).
		Updates(map[string]interface{}{"status": string(domain.MatchExpired), "updated_at": now})
	if result.Error != nil {
		return 0, storeErr(result.Error)
	}
	return int(result.RowsAffected), nil
}

func optionalTrouble(row troubleRow, err error) (*domain.Trouble, error) {
	if stderrors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, storeErr(err)
	}
	return row.toDomain(), nil
}

func optionalMatch(row matchRow, err error) (*domain.Match, error) {
	if stderrors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, storeErr(err)
	}
	return row.toDomain(), nil
}

// uniqueConstraint returns the violated index name for a unique_violation, or "".
func uniqueConstraint(err error) string {
	var pgErr *pgconn.PgError
	if stderrors.As(err, &pgErr) && pgErr.Code == "23505" {
		if pgErr.ConstraintName == "" {
			return "unknown"
		}
		return pgErr.ConstraintName
	}
	return ""
}

// storeErr classifies a driver error. Cancellation, deadlines, serialization
// failures and lock timeouts are transient; anything else is internal.
func storeErr(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := errors.As(err); ok {
		return err
	}
	if stderrors.Is(err, context.DeadlineExceeded) || stderrors.Is(err, context.Canceled) {
		return errors.NewUnavailable(err)
	}

	var pgErr *pgconn.PgError
	if stderrors.As(err, &pgErr) {
		switch strings.TrimSpace(pgErr.Code) {
		case "40001", "40P01", "55P03", "57014":
			return errors.NewUnavailable(err)
		}
	}
	return errors.NewInternal(err)
}
