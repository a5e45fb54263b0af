package ops

import (
	"context"

	"github.com/ugoodapp/ugood/internal/config"
	"github.com/ugoodapp/ugood/internal/domain"
	"github.com/ugoodapp/ugood/internal/errors"
	"github.com/ugoodapp/ugood/internal/store"
)

// ShareTroubleInput contains parameters for the ShareTrouble operation.
type ShareTroubleInput struct {
	AuthorID string // required
	Content  string // required, trimmed, <= cfg.Trouble.MaxChars runes
}

// ShareTroubleOutput contains the result of the ShareTrouble operation.
type ShareTroubleOutput struct {
	Trouble  *domain.Trouble `json:"trouble"`
	Replaced bool            `json:"replaced"`
}

// ShareTrouble submits the author's trouble. An existing active trouble has its
// content replaced in place and keeps its id and queue position.
func ShareTrouble(ctx context.Context, st store.Store, cfg *config.Config, input ShareTroubleInput) (*ShareTroubleOutput, error) {
	authorID, err := requireID("author_id", input.AuthorID)
	if err != nil {
		return nil, err
	}

	content, err := validateContent("content", input.Content, cfg)
	if err != nil {
		return nil, err
	}

	id, err := generateULID()
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	now := nowFunc().UnixMilli()

	ctx, cancel := withTimeout(ctx, cfg)
	defer cancel()

	stored, replaced, err := st.UpsertActiveTrouble(ctx, &domain.Trouble{
		ID:        id,
		AuthorID:  authorID,
		Content:   content,
		Status:    domain.TroubleActive,
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		return nil, err
	}

	return &ShareTroubleOutput{Trouble: stored, Replaced: replaced}, nil
}

// validateContent trims s and enforces the configured length bound.
func validateContent(field, s string, cfg *config.Config) (string, error) {
	check := domain.CheckContent(s, cfg.Trouble.MaxChars)
	if check.Empty {
		return "", errors.NewInvalidRequest(field + " is required")
	}
	if check.TooLong {
		return "", errors.NewContentTooLong(field, check.MaxChars, check.ActualChars)
	}
	return check.Content, nil
}
