// Package domain holds the UGood entities shared by the stores and the operations layer.
package domain

// TroubleStatus is the lifecycle state of a Trouble.
type TroubleStatus string

const (
	TroubleActive  TroubleStatus = "active"
	TroubleMatched TroubleStatus = "matched"
)

// MatchStatus is the lifecycle state of a Match.
type MatchStatus string

const (
	MatchActive    MatchStatus = "active"
	MatchCompleted MatchStatus = "completed" // a blessing was recorded
	MatchExpired   MatchStatus = "expired"   // its cycle ended without a blessing
)

// Trouble is a user's anonymous daily submission seeking support.
type Trouble struct {
	// ID is a ULID assigned by the server
	ID string `json:"id"`

	// AuthorID is the identity-provider user id of the submitter
	AuthorID string `json:"author_id"`

	// Content is the trimmed free text (1..MaxContentChars runes)
	Content string `json:"content"`

	Status TroubleStatus `json:"status"`

	// CreatedAt is Unix milliseconds; it is the oldest-first ordering key
	CreatedAt int64 `json:"created_at"`

	// UpdatedAt is Unix milliseconds of the last content edit or status change
	UpdatedAt int64 `json:"updated_at"`
}

// Match pairs a requesting user (the matcher) with one trouble.
type Match struct {
	ID        string `json:"id"`
	TroubleID string `json:"trouble_id"`

	// MatcherID is the user who will send the blessing
	MatcherID string `json:"matcher_id"`

	// AuthorID is copied from the trouble so either party can load the match without a join
	AuthorID string `json:"author_id"`

	// MatchDate is the cycle day (YYYY-MM-DD) in the configured timezone
	MatchDate string `json:"match_date"`

	Status    MatchStatus `json:"status"`
	CreatedAt int64       `json:"created_at"`
	UpdatedAt int64       `json:"updated_at"`
}

// Blessing is a voice message reference sent from the matcher to the trouble author.
type Blessing struct {
	ID         string `json:"id"`
	MatchID    string `json:"match_id"`
	FromUserID string `json:"from_user_id"`
	ToUserID   string `json:"to_user_id"`

	// AudioRef is an opaque URL or storage key; it is never interpreted here
	AudioRef string `json:"audio_ref"`

	TextContent *string `json:"text_content,omitempty"`
	CreatedAt   int64   `json:"created_at"`
}
