package db

import (
	"context"
	"database/sql"
	stderrors "errors"
	"strings"

	"github.com/ugoodapp/ugood/internal/domain"
	"github.com/ugoodapp/ugood/internal/errors"
	"github.com/ugoodapp/ugood/internal/store"
)

const troubleColumns = `id, author_id, content, status, created_at, updated_at`

const matchColumns = `id, trouble_id, matcher_id, author_id, match_date, status, created_at, updated_at`

const blessingColumns = `id, match_id, from_user_id, to_user_id, audio_ref, text_content, created_at`

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// UpsertActiveTrouble inserts t as the author's active trouble, or replaces the
// content of the one that already exists. The partial unique index on
// (author_id) WHERE status = 'active' makes this a single atomic statement.
func UpsertActiveTrouble(ctx context.Context, db *sql.DB, t *domain.Trouble) (*domain.Trouble, bool, error) {
	query := `
		INSERT INTO troubles (` + troubleColumns + `)
		VALUES (?, ?, ?, 'active', ?, ?)
		ON CONFLICT(author_id) WHERE status = 'active'
		DO UPDATE SET content = excluded.content, updated_at = excluded.updated_at
		RETURNING ` + troubleColumns

	row := db.QueryRowContext(ctx, query, t.ID, t.AuthorID, t.Content, t.CreatedAt, t.UpdatedAt)
	stored, err := scanTrouble(row)
	if err != nil {
		return nil, false, storeErr(err)
	}

	return stored, stored.ID != t.ID, nil
}

// UpdateTroubleContent edits an active trouble's content.
func UpdateTroubleContent(ctx context.Context, db *sql.DB, troubleID, content string, now int64) error {
	result, err := db.ExecContext(ctx, `
		UPDATE troubles
		SET content = ?, updated_at = ?
		WHERE id = ? AND status = 'active'
	`, content, now, troubleID)
	if err != nil {
		return storeErr(err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return storeErr(err)
	}
	if rowsAffected == 0 {
		// Distinguish a missing trouble from one that has been matched
		if _, err := GetTrouble(ctx, db, troubleID); err != nil {
			return err
		}
		return store.ErrTroubleUnavailable
	}

	return nil
}

// GetTrouble retrieves a trouble by its ULID.
func GetTrouble(ctx context.Context, db *sql.DB, id string) (*domain.Trouble, error) {
	row := db.QueryRowContext(ctx, `SELECT `+troubleColumns+` FROM troubles WHERE id = ?`, id)
	t, err := scanTrouble(row)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFound("trouble", id)
	}
	if err != nil {
		return nil, storeErr(err)
	}
	return t, nil
}

// FindActiveTroubleByAuthor returns the author's active trouble, or nil.
func FindActiveTroubleByAuthor(ctx context.Context, db *sql.DB, authorID string) (*domain.Trouble, error) {
	row := db.QueryRowContext(ctx, `
		SELECT `+troubleColumns+`
		FROM troubles
		WHERE author_id = ? AND status = 'active'
	`, authorID)
	return optionalTrouble(scanTrouble(row))
}

// FindOldestActiveTroubleExcluding returns the oldest active trouble that
// matcherID did not author and was never paired with, or nil.
func FindOldestActiveTroubleExcluding(ctx context.Context, db *sql.DB, matcherID string) (*domain.Trouble, error) {
	row := db.QueryRowContext(ctx, `
		SELECT `+troubleColumns+`
		FROM troubles t
		WHERE t.status = 'active'
		  AND t.author_id <> ?
		  AND NOT EXISTS (
		    SELECT 1 FROM matches m
		    WHERE m.trouble_id = t.id AND m.matcher_id = ?
		  )
		ORDER BY t.created_at ASC, t.id ASC
		LIMIT 1
	`, matcherID, matcherID)
	return optionalTrouble(scanTrouble(row))
}

// ListTroublesByAuthor returns an author's troubles newest first, with the total count.
func ListTroublesByAuthor(ctx context.Context, db *sql.DB, authorID string, limit, offset int) ([]domain.Trouble, int, error) {
	var total int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM troubles WHERE author_id = ?`, authorID).Scan(&total); err != nil {
		return nil, 0, storeErr(err)
	}

	rows, err := db.QueryContext(ctx, `
		SELECT `+troubleColumns+`
		FROM troubles
		WHERE author_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ? OFFSET ?
	`, authorID, limit, offset)
	if err != nil {
		return nil, 0, storeErr(err)
	}
	defer rows.Close()

	items := make([]domain.Trouble, 0)
	for rows.Next() {
		t, err := scanTrouble(rows)
		if err != nil {
			return nil, 0, storeErr(err)
		}
		items = append(items, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, storeErr(err)
	}

	return items, total, nil
}

// ClaimTroubleAndCreateMatch flips the trouble to matched and inserts m in one
// transaction. Transactions begin IMMEDIATE (see Init), so competing claims are
// serialized by the busy handler and the losers see status = 'matched'.
func ClaimTroubleAndCreateMatch(ctx context.Context, db *sql.DB, m *domain.Match) (*domain.Match, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, storeErr(err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
		UPDATE troubles
		SET status = 'matched', updated_at = ?
		WHERE id = ? AND status = 'active' AND author_id <> ?
	`, m.CreatedAt, m.TroubleID, m.MatcherID)
	if err != nil {
		return nil, storeErr(err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, storeErr(err)
	}

	var authorID string
	err = tx.QueryRowContext(ctx, `SELECT author_id FROM troubles WHERE id = ?`, m.TroubleID).Scan(&authorID)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFound("trouble", m.TroubleID)
	}
	if err != nil {
		return nil, storeErr(err)
	}

	if rowsAffected == 0 {
		if authorID == m.MatcherID {
			return nil, errors.NewInvalidRequest("cannot match your own trouble")
		}
		return nil, store.ErrTroubleUnavailable
	}

	claimed := *m
	claimed.AuthorID = authorID
	claimed.Status = domain.MatchActive
	claimed.UpdatedAt = claimed.CreatedAt

	_, err = tx.ExecContext(ctx, `
		INSERT INTO matches (`+matchColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, claimed.ID, claimed.TroubleID, claimed.MatcherID, claimed.AuthorID,
		claimed.MatchDate, claimed.Status, claimed.CreatedAt, claimed.UpdatedAt)
	if err != nil {
		if isUniqueConstraintError(err) {
			if strings.Contains(err.Error(), "matches.match_date") {
				return nil, store.ErrDailyMatchExists
			}
			return nil, store.ErrTroubleUnavailable
		}
		return nil, storeErr(err)
	}

	if err := tx.Commit(); err != nil {
		return nil, storeErr(err)
	}

	return &claimed, nil
}

// FindMatchForUserOnDate returns the match the user requested on matchDate, or nil.
func FindMatchForUserOnDate(ctx context.Context, db *sql.DB, userID, matchDate string) (*domain.Match, error) {
	row := db.QueryRowContext(ctx, `
		SELECT `+matchColumns+`
		FROM matches
		WHERE matcher_id = ? AND match_date = ?
	`, userID, matchDate)
	return optionalMatch(scanMatch(row))
}

// FindLatestActiveMatchForMatcher returns the user's most recent active match, or nil.
func FindLatestActiveMatchForMatcher(ctx context.Context, db *sql.DB, userID string) (*domain.Match, error) {
	row := db.QueryRowContext(ctx, `
		SELECT `+matchColumns+`
		FROM matches
		WHERE matcher_id = ? AND status = 'active'
		ORDER BY created_at DESC, id DESC
		LIMIT 1
	`, userID)
	return optionalMatch(scanMatch(row))
}

// GetMatch retrieves a match by its ULID.
func GetMatch(ctx context.Context, db *sql.DB, id string) (*domain.Match, error) {
	row := db.QueryRowContext(ctx, `SELECT `+matchColumns+` FROM matches WHERE id = ?`, id)
	m, err := scanMatch(row)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFound("match", id)
	}
	if err != nil {
		return nil, storeErr(err)
	}
	return m, nil
}

// ListMatchesForAuthor returns matches made against the author's troubles, newest first.
func ListMatchesForAuthor(ctx context.Context, db *sql.DB, authorID string, limit, offset int) ([]domain.Match, int, error) {
	var total int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM matches WHERE author_id = ?`, authorID).Scan(&total); err != nil {
		return nil, 0, storeErr(err)
	}

	rows, err := db.QueryContext(ctx, `
		SELECT `+matchColumns+`
		FROM matches
		WHERE author_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ? OFFSET ?
	`, authorID, limit, offset)
	if err != nil {
		return nil, 0, storeErr(err)
	}
	defer rows.Close()

	items := make([]domain.Match, 0)
	for rows.Next() {
		m, err := scanMatch(rows)
		if err != nil {
			return nil, 0, storeErr(err)
		}
		items = append(items, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, storeErr(err)
	}

	return items, total, nil
}

// InsertBlessing stores b and marks its match completed in one transaction.
func InsertBlessing(ctx context.Context, db *sql.DB, b *domain.Blessing) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return storeErr(err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
		UPDATE matches
		SET status = 'completed', updated_at = ?
		WHERE id = ? AND status = 'active'
	`, b.CreatedAt, b.MatchID)
	if err != nil {
		return storeErr(err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return storeErr(err)
	}
	if rowsAffected == 0 {
		var exists int
		err := tx.QueryRowContext(ctx, `SELECT 1 FROM matches WHERE id = ?`, b.MatchID).Scan(&exists)
		if err == sql.ErrNoRows {
			return errors.NewNotFound("match", b.MatchID)
		}
		if err != nil {
			return storeErr(err)
		}
		return store.ErrMatchNotActive
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO blessings (`+blessingColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, b.ID, b.MatchID, b.FromUserID, b.ToUserID, b.AudioRef, toNullString(b.TextContent), b.CreatedAt)
	if err != nil {
		if isUniqueConstraintError(err) {
			return errors.NewConflict("blessing already recorded for this match")
		}
		return storeErr(err)
	}

	if err := tx.Commit(); err != nil {
		return storeErr(err)
	}
	return nil
}

// GetBlessing retrieves a blessing by its ULID.
func GetBlessing(ctx context.Context, db *sql.DB, id string) (*domain.Blessing, error) {
	row := db.QueryRowContext(ctx, `SELECT `+blessingColumns+` FROM blessings WHERE id = ?`, id)
	b, err := scanBlessing(row)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFound("blessing", id)
	}
	if err != nil {
		return nil, storeErr(err)
	}
	return b, nil
}

// ListBlessingsForRecipient returns blessings sent to userID, newest first.
func ListBlessingsForRecipient(ctx context.Context, db *sql.DB, userID string, limit, offset int) ([]domain.Blessing, int, error) {
	var total int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM blessings WHERE to_user_id = ?`, userID).Scan(&total); err != nil {
		return nil, 0, storeErr(err)
	}

	rows, err := db.QueryContext(ctx, `
		SELECT `+blessingColumns+`
		FROM blessings
		WHERE to_user_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ? OFFSET ?
	`, userID, limit, offset)
	if err != nil {
		return nil, 0, storeErr(err)
	}
	defer rows.Close()

	items := make([]domain.Blessing, 0)
	for rows.Next() {
		b, err := scanBlessing(rows)
		if err != nil {
			return nil, 0, storeErr(err)
		}
		items = append(items, *b)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, storeErr(err)
	}

	return items, total, nil
}

// ExpireMatchesBefore expires active matches from cycle days before matchDate.
func ExpireMatchesBefore(ctx context.Context, db *sql.DB, matchDate string, now int64) (int, error) {
	result, err := db.ExecContext(ctx, `
		UPDATE matches
		SET status = 'expired', updated_at = ?
		WHERE status = 'active' AND match_date < ?
	`, now, matchDate)
	if err != nil {
		return 0, storeErr(err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, storeErr(err)
	}
	return int(n), nil
}

// scanTrouble scans a single row into a Trouble.
func scanTrouble(row rowScanner) (*domain.Trouble, error) {
	var t domain.Trouble
	if err := row.Scan(&t.ID, &t.AuthorID, &t.Content, &t.Status, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return nil, err
	}
	return &t, nil
}

// scanMatch scans a single row into a Match.
func scanMatch(row rowScanner) (*domain.Match, error) {
	var m domain.Match
	err := row.Scan(&m.ID, &m.TroubleID, &m.MatcherID, &m.AuthorID,
		&m.MatchDate, &m.Status, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// scanBlessing scans a single row into a Blessing.
func scanBlessing(row rowScanner) (*domain.Blessing, error) {
	var (
		b    domain.Blessing
		text sql.NullString
	)
	err := row.Scan(&b.ID, &b.MatchID, &b.FromUserID, &b.ToUserID, &b.AudioRef, &text, &b.CreatedAt)
	if err != nil {
		return nil, err
	}
	b.TextContent = fromNullString(text)
	return &b, nil
}

func optionalTrouble(t *domain.Trouble, err error) (*domain.Trouble, error) {
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, storeErr(err)
	}
	return t, nil
}

func optionalMatch(m *domain.Match, err error) (*domain.Match, error) {
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, storeErr(err)
	}
	return m, nil
}

// storeErr classifies a driver error. Cancellation, deadlines and lock
// contention are transient; anything else is internal.
func storeErr(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := errors.As(err); ok {
		return err
	}
	if stderrors.Is(err, context.DeadlineExceeded) || stderrors.Is(err, context.Canceled) || isBusyError(err) {
		return errors.NewUnavailable(err)
	}
	return errors.NewInternal(err)
}

// isUniqueConstraintError checks if the error is a SQLite UNIQUE constraint violation.
func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	// SQLite returns "UNIQUE constraint failed: ..." for unique violations
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// isBusyError checks for SQLITE_BUSY / SQLITE_LOCKED after busy_timeout elapsed.
func isBusyError(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "SQLITE_BUSY") ||
		strings.Contains(msg, "database table is locked")
}

// toNullString converts a *string to sql.NullString.
func toNullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

// fromNullString converts a sql.NullString to *string.
func fromNullString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	return &ns.String
}
