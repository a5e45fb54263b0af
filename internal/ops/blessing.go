package ops

import (
	"context"
	"strings"

	"github.com/ugoodapp/ugood/internal/audio"
	"github.com/ugoodapp/ugood/internal/config"
	"github.com/ugoodapp/ugood/internal/domain"
	"github.com/ugoodapp/ugood/internal/errors"
	"github.com/ugoodapp/ugood/internal/store"
)

// RecordBlessingInput contains parameters for the RecordBlessing operation.
type RecordBlessingInput struct {
	MatchID     string  // required
	FromUserID  string  // required, must be the match's matcher
	AudioRef    string  // required, opaque URL or storage key
	TextContent *string // optional caption
}

// RecordBlessingOutput contains the persisted blessing.
type RecordBlessingOutput struct {
	Blessing *domain.Blessing `json:"blessing"`
}

// RecordBlessing attaches an audio reference to the sender's active match and
// completes the match.
func RecordBlessing(ctx context.Context, st store.Store, cfg *config.Config, input RecordBlessingInput) (*RecordBlessingOutput, error) {
	matchID, err := requireID("match_id", input.MatchID)
	if err != nil {
		return nil, err
	}
	fromUserID, err := requireID("from_user_id", input.FromUserID)
	if err != nil {
		return nil, err
	}
	audioRef := strings.TrimSpace(input.AudioRef)
	if audioRef == "" {
		return nil, errors.NewInvalidRequest("audio_ref is required")
	}

	// Blank captions are dropped rather than rejected
	var caption *string
	if input.TextContent != nil && domain.NormalizeContent(*input.TextContent) != "" {
		text, err := validateContent("text_content", *input.TextContent, cfg)
		if err != nil {
			return nil, err
		}
		caption = &text
	}

	ctx, cancel := withTimeout(ctx, cfg)
	defer cancel()

	m, err := st.GetMatch(ctx, matchID)
	if err != nil {
		return nil, err
	}
	if m.MatcherID != fromUserID {
		return nil, errors.NewUnauthorized("only the matcher can bless this match")
	}
	if m.Status != domain.MatchActive {
		return nil, store.ErrMatchNotActive
	}

	id, err := generateULID()
	if err != nil {
		return nil, errors.NewInternal(err)
	}

	b := &domain.Blessing{
		ID:          id,
		MatchID:     m.ID,
		FromUserID:  m.MatcherID,
		ToUserID:    m.AuthorID,
		AudioRef:    audioRef,
		TextContent: caption,
		CreatedAt:   nowFunc().UnixMilli(),
	}
	if err := st.InsertBlessing(ctx, b); err != nil {
		return nil, err
	}

	return &RecordBlessingOutput{Blessing: b}, nil
}

// BlessingInboxInput contains parameters for the BlessingInbox operation.
type BlessingInboxInput struct {
	UserID string // required
	Limit  int    // default: 20, max: 100
	Offset int    // default: 0
}

// BlessingInboxOutput lists blessings received by the user, newest first.
type BlessingInboxOutput struct {
	Items      []domain.Blessing `json:"items"`
	Pagination Pagination        `json:"pagination"`
}

// BlessingInbox lists the blessings sent to the user.
func BlessingInbox(ctx context.Context, st store.Store, cfg *config.Config, input BlessingInboxInput) (*BlessingInboxOutput, error) {
	userID, err := requireID("user_id", input.UserID)
	if err != nil {
		return nil, err
	}
	limit, offset := pageBounds(input.Limit, input.Offset)

	ctx, cancel := withTimeout(ctx, cfg)
	defer cancel()

	items, total, err := st.ListBlessingsForRecipient(ctx, userID, limit, offset)
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []domain.Blessing{}
	}

	return &BlessingInboxOutput{
		Items:      items,
		Pagination: newPagination(limit, offset, len(items), total),
	}, nil
}

// BlessingAudioInput contains parameters for the BlessingAudio operation.
type BlessingAudioInput struct {
	BlessingID string // required
	UserID     string // required, the sender or the recipient
}

// BlessingAudioOutput carries a playable URL for a blessing's recording.
type BlessingAudioOutput struct {
	BlessingID string `json:"blessing_id"`
	AudioRef   string `json:"audio_ref"`
	URL        string `json:"url"`
	ExpiresAt  int64  `json:"expires_at,omitempty"`
}

// BlessingAudio resolves a blessing's audio_ref to a URL the caller can play.
// Only the two parties of the blessing may ask. A nil presigner means
// playback is not configured.
func BlessingAudio(ctx context.Context, st store.Store, cfg *config.Config, presigner *audio.Presigner, input BlessingAudioInput) (*BlessingAudioOutput, error) {
	blessingID, err := requireID("blessing_id", input.BlessingID)
	if err != nil {
		return nil, err
	}
	userID, err := requireID("user_id", input.UserID)
	if err != nil {
		return nil, err
	}

	ctx, cancel := withTimeout(ctx, cfg)
	defer cancel()

	b, err := st.GetBlessing(ctx, blessingID)
	if err != nil {
		return nil, err
	}
	if userID != b.ToUserID && userID != b.FromUserID {
		return nil, errors.NewUnauthorized("only the sender or recipient can play this blessing")
	}
	if presigner == nil {
		return nil, errors.NewAudioUnconfigured()
	}

	pb, err := presigner.ReadURL(ctx, b.AudioRef)
	if err != nil {
		return nil, err
	}
	return &BlessingAudioOutput{
		BlessingID: b.ID,
		AudioRef:   b.AudioRef,
		URL:        pb.URL,
		ExpiresAt:  pb.ExpiresAt,
	}, nil
}
