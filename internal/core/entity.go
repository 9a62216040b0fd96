package core

import "time"

// ChatKind is the provider-reported chat type.
type ChatKind string

const (
	ChatKindChannel    ChatKind = "channel"
	ChatKindSupergroup ChatKind = "supergroup"
	ChatKindGroup      ChatKind = "group"
	ChatKindPrivate    ChatKind = "private"
	ChatKindUnknown    ChatKind = "unknown"
)

// Entity is a resolved remote chat. Optional attributes are nil when the
// provider did not report them.
type Entity struct {
	ID        int64
	Title     string
	Username  string
	Kind      ChatKind
	CreatedAt *time.Time

	// ParticipantsCount is the count carried on the entity itself, if any.
	ParticipantsCount *int
}

// FullInfo holds attributes only available through the extended lookup.
type FullInfo struct {
	ParticipantsCount *int
	OnlineCount       *int
	SlowModeSeconds   *int
	PinnedMessageID   *int64
	LinkedChatID      *int64
}

// Permissions is what the provider reports about the caller inside a chat.
type Permissions struct {
	// CanSendMessages is nil when the provider gave no answer.
	CanSendMessages *bool
	Banned          bool
}

// Int returns a pointer to v.
func Int(v int) *int { return &v }

// Int64 returns a pointer to v.
func Int64(v int64) *int64 { return &v }

// Bool returns a pointer to v.
func Bool(v bool) *bool { return &v }
