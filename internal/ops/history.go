package ops

import (
	"context"

	"github.com/ugoodapp/ugood/internal/config"
	"github.com/ugoodapp/ugood/internal/domain"
	"github.com/ugoodapp/ugood/internal/store"
)

// TroubleHistoryInput contains parameters for the TroubleHistory operation.
type TroubleHistoryInput struct {
	AuthorID string // required
	Limit    int    // default: 20, max: 100
	Offset   int    // default: 0
}

// TroubleHistoryOutput contains the author's troubles, newest first.
type TroubleHistoryOutput struct {
	Items      []domain.Trouble `json:"items"`
	Pagination Pagination       `json:"pagination"`
}

// TroubleHistory lists every trouble the author has shared, active or matched.
func TroubleHistory(ctx context.Context, st store.Store, cfg *config.Config, input TroubleHistoryInput) (*TroubleHistoryOutput, error) {
	authorID, err := requireID("author_id", input.AuthorID)
	if err != nil {
		return nil, err
	}
	limit, offset := pageBounds(input.Limit, input.Offset)

	ctx, cancel := withTimeout(ctx, cfg)
	defer cancel()

	items, total, err := st.ListTroublesByAuthor(ctx, authorID, limit, offset)
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []domain.Trouble{}
	}

	return &TroubleHistoryOutput{
		Items:      items,
		Pagination: newPagination(limit, offset, len(items), total),
	}, nil
}
