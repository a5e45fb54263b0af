package pgstore

import (
	"database/sql"

	"github.com/ugoodapp/ugood/internal/domain"
)

type troubleRow struct {
	ID        string `gorm:"primaryKey"`
	AuthorID  string
	Content   string
	Status    string
	CreatedAt int64 `gorm:"autoCreateTime:false"`
	UpdatedAt int64 `gorm:"autoUpdateTime:false"`
}

func (troubleRow) TableName() string { return "troubles" }

func (r troubleRow) toDomain() *domain.Trouble {
	return &domain.Trouble{
		ID:        r.ID,
		AuthorID:  r.AuthorID,
		Content:   r.Content,
		Status:    domain.TroubleStatus(r.Status),
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
}

type matchRow struct {
	ID        string `gorm:"primaryKey"`
	TroubleID string
	MatcherID string
	AuthorID  string
	MatchDate string
	Status    string
	CreatedAt int64 `gorm:"autoCreateTime:false"`
	UpdatedAt int64 `gorm:"autoUpdateTime:false"`
}

func (matchRow) TableName() string { return "matches" }

func matchFromDomain(m *domain.Match) matchRow {
	return matchRow{
		ID:        m.ID,
		TroubleID: m.TroubleID,
		MatcherID: m.MatcherID,
		AuthorID:  m.AuthorID,
		MatchDate: m.MatchDate,
		Status:    string(m.Status),
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
}

func (r matchRow) toDomain() *domain.Match {
	return &domain.Match{
		ID:        r.ID,
		TroubleID: r.TroubleID,
		MatcherID: r.MatcherID,
		AuthorID:  r.AuthorID,
		MatchDate: r.MatchDate,
		Status:    domain.MatchStatus(r.Status),
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
}

type blessingRow struct {
	ID          string `gorm:"primaryKey"`
	MatchID     string
	FromUserID  string
	ToUserID    string
	AudioRef    string
	TextContent sql.NullString
	CreatedAt   int64 `gorm:"autoCreateTime:false"`
}

func (blessingRow) TableName() string { return "blessings" }

func blessingFromDomain(b *domain.Blessing) blessingRow {
	row := blessingRow{
		ID:         b.ID,
		MatchID:    b.MatchID,
		FromUserID: b.FromUserID,
		ToUserID:   b.ToUserID,
		AudioRef:   b.AudioRef,
		CreatedAt:  b.CreatedAt,
	}
	if b.TextContent != nil {
		row.TextContent = sql.NullString{String: *b.TextContent, Valid: true}
	}
	return row
}

func (r blessingRow) toDomain() domain.Blessing {
	b := domain.Blessing{
		ID:         r.ID,
		MatchID:    r.MatchID,
		FromUserID: r.FromUserID,
		ToUserID:   r.ToUserID,
		AudioRef:   r.AudioRef,
		CreatedAt:  r.CreatedAt,
	}
	if r.TextContent.Valid {
		text := r.TextContent.String
		b.TextContent = &text
	}
	return b
}
