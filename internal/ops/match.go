package ops

import (
	"context"
	stderrors "errors"

	"github.com/ugoodapp/ugood/internal/config"
	"github.com/ugoodapp/ugood/internal/domain"
	"github.com/ugoodapp/ugood/internal/errors"
	"github.com/ugoodapp/ugood/internal/store"
)

// FindMatchInput contains parameters for the FindMatch operation.
type FindMatchInput struct {
	UserID string // required, the requesting matcher
}

// FindMatchOutput is the matcher's result. NoMatch is a normal outcome, not an error.
type FindMatchOutput struct {
	Match   *domain.Match   `json:"match,omitempty"`
	Trouble *domain.Trouble `json:"trouble,omitempty"`

	// Created is false when today's existing match was returned
	Created bool `json:"created"`

	NoMatch bool `json:"no_match"`
}

// FindMatch pairs the user with the oldest eligible trouble for today's cycle.
//
// Repeated calls on the same cycle day return the same match. Losing a claim
// race retries selection cfg.Match.Retries times before reporting NoMatch.
func FindMatch(ctx context.Context, st store.Store, cfg *config.Config, input FindMatchInput) (*FindMatchOutput, error) {
	userID, err := requireID("user_id", input.UserID)
	if err != nil {
		return nil, err
	}

	ctx, cancel := withTimeout(ctx, cfg)
	defer cancel()

	today := domain.MatchDate(nowFunc(), cfg.Location())

	existing, err := st.FindMatchForUserOnDate(ctx, userID, today)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existingMatch(ctx, st, existing)
	}

	for attempt := 0; attempt <= max(cfg.Match.Retries, 0); attempt++ {
		candidate, err := st.FindOldestActiveTroubleExcluding(ctx, userID)
		if err != nil {
			return nil, err
		}
		if candidate == nil {
			return &FindMatchOutput{NoMatch: true}, nil
		}

		id, err := generateULID()
		if err != nil {
			return nil, errors.NewInternal(err)
		}
		now := nowFunc().UnixMilli()

		claimed, err := st.ClaimTroubleAndCreateMatch(ctx, &domain.Match{
			ID:        id,
			TroubleID: candidate.ID,
			MatcherID: userID,
			MatchDate: today,
			CreatedAt: now,
		})
		switch {
		case err == nil:
			candidate.Status = domain.TroubleMatched
			candidate.UpdatedAt = now
			return &FindMatchOutput{Match: claimed, Trouble: candidate, Created: true}, nil

		case stderrors.Is(err, store.ErrTroubleUnavailable):
			// Another matcher won this trouble
			continue

		case stderrors.Is(err, store.ErrDailyMatchExists):
			// A concurrent request from the same user got there first
			m, err := st.FindMatchForUserOnDate(ctx, userID, today)
			if err != nil {
				return nil, err
			}
			if m == nil {
				return nil, errors.NewInternal(stderrors.New("daily match vanished after unique violation"))
			}
			return existingMatch(ctx, st, m)

		default:
			return nil, err
		}
	}

	return &FindMatchOutput{NoMatch: true}, nil
}

func existingMatch(ctx context.Context, st store.Store, m *domain.Match) (*FindMatchOutput, error) {
	t, err := st.GetTrouble(ctx, m.TroubleID)
	if err != nil {
		return nil, err
	}
	return &FindMatchOutput{Match: m, Trouble: t}, nil
}

// CurrentMatchInput contains parameters for the CurrentMatch operation.
type CurrentMatchInput struct {
	UserID string // required
}

// CurrentMatchOutput holds the matcher's latest active match. Both fields are
// nil when the user has nothing pending.
type CurrentMatchOutput struct {
	Match   *domain.Match   `json:"match"`
	Trouble *domain.Trouble `json:"trouble"`
}

// CurrentMatch returns the user's most recent active match with the trouble
// they are expected to answer.
func CurrentMatch(ctx context.Context, st store.Store, cfg *config.Config, input CurrentMatchInput) (*CurrentMatchOutput, error) {
	userID, err := requireID("user_id", input.UserID)
	if err != nil {
		return nil, err
	}

	ctx, cancel := withTimeout(ctx, cfg)
	defer cancel()

	m, err := st.FindLatestActiveMatchForMatcher(ctx, userID)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return &CurrentMatchOutput{}, nil
	}

	t, err := st.GetTrouble(ctx, m.TroubleID)
	if err != nil {
		return nil, err
	}
	return &CurrentMatchOutput{Match: m, Trouble: t}, nil
}

// MatchInboxInput contains parameters for the MatchInbox operation.
type MatchInboxInput struct {
	AuthorID string // required
	Limit    int    // default: 20, max: 100
	Offset   int    // default: 0
}

// MatchInboxOutput lists matches made against the author's troubles.
type MatchInboxOutput struct {
	Items      []domain.Match `json:"items"`
	Pagination Pagination     `json:"pagination"`
}

// MatchInbox is the author's view: who has picked up their troubles, newest first.
func MatchInbox(ctx context.Context, st store.Store, cfg *config.Config, input MatchInboxInput) (*MatchInboxOutput, error) {
	authorID, err := requireID("author_id", input.AuthorID)
	if err != nil {
		return nil, err
	}
	limit, offset := pageBounds(input.Limit, input.Offset)

	ctx, cancel := withTimeout(ctx, cfg)
	defer cancel()

	items, total, err := st.ListMatchesForAuthor(ctx, authorID, limit, offset)
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []domain.Match{}
	}

	return &MatchInboxOutput{
		Items:      items,
		Pagination: newPagination(limit, offset, len(items), total),
	}, nil
}
