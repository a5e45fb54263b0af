package ops

import (
	"context"

	"github.com/ugoodapp/ugood/internal/config"
	"github.com/ugoodapp/ugood/internal/domain"
	"github.com/ugoodapp/ugood/internal/errors"
	"github.com/ugoodapp/ugood/internal/store"
)

// EditTroubleInput contains parameters for the EditTrouble operation.
type EditTroubleInput struct {
	TroubleID string // required
	AuthorID  string // required, must own the trouble
	Content   string // required
}

// EditTroubleOutput contains the result of the EditTrouble operation.
type EditTroubleOutput struct {
	Trouble *domain.Trouble `json:"trouble"`
}

// EditTrouble rewrites the content of the caller's own trouble. Editing is
// allowed only until the trouble is matched.
func EditTrouble(ctx context.Context, st store.Store, cfg *config.Config, input EditTroubleInput) (*EditTroubleOutput, error) {
	troubleID, err := requireID("trouble_id", input.TroubleID)
	if err != nil {
		return nil, err
	}
	authorID, err := requireID("author_id", input.AuthorID)
	if err != nil {
		return nil, err
	}
	content, err := validateContent("content", input.Content, cfg)
	if err != nil {
		return nil, err
	}

	ctx, cancel := withTimeout(ctx, cfg)
	defer cancel()

	t, err := st.GetTrouble(ctx, troubleID)
	if err != nil {
		return nil, err
	}
	if t.AuthorID != authorID {
		return nil, errors.NewUnauthorized("trouble belongs to another user")
	}
	if t.Status != domain.TroubleActive {
		return nil, store.ErrTroubleUnavailable
	}

	now := nowFunc().UnixMilli()
	if err := st.UpdateTroubleContent(ctx, troubleID, content, now); err != nil {
		return nil, err
	}

	t.Content = content
	t.UpdatedAt = now
	return &EditTroubleOutput{Trouble: t}, nil
}
