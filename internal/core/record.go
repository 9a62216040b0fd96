package core

import (
	"strconv"
	"time"
	"unicode/utf8"
)

// Canonical input columns.
const (
	ColID       = "id"
	ColUsername = "username"
	ColTitle    = "title"
	ColDate     = "date"
)

// Output columns appended to the input columns.
const (
	ColActualTitle        = "actual_title"
	ColActualUsername     = "actual_username"
	ColMembersCount       = "members_count"
	ColMembersCountSource = "members_count_source"
	ColChatType           = "chat_type"
	ColCreatedDate        = "created_date"
	ColCheckDate          = "check_date"
	ColOnlineCount        = "online_count"
	ColSlowModeDelay      = "slow_mode_delay"
	ColPinnedMessageID    = "pinned_message_id"
	ColLinkedChatID       = "linked_chat_id"
	ColCanSendMessages    = "can_send_messages"
	ColAccessStatus       = "access_status"
	ColErrorMessage       = "error_message"
)

// OutputColumns lists the columns every output table carries, in order.
var OutputColumns = []string{
	ColID,
	ColActualTitle,
	ColActualUsername,
	ColMembersCount,
	ColMembersCountSource,
	ColChatType,
	ColCreatedDate,
	ColCheckDate,
	ColOnlineCount,
	ColSlowModeDelay,
	ColPinnedMessageID,
	ColLinkedChatID,
	ColCanSendMessages,
	ColAccessStatus,
	ColErrorMessage,
}

// TimeLayout is used for check_date and created_date cells.
const TimeLayout = "2006-01-02 15:04:05"

// MaxErrorMessageLength bounds error_message cells.
const MaxErrorMessageLength = 200

// HandleURLPrefix is prepended to handles in actual_username.
const HandleURLPrefix = "https://t.me/"

// AccessStatus is the terminal outcome of fetching one identifier.
type AccessStatus string

const (
	AccessSuccess AccessStatus = "success"
	AccessDenied  AccessStatus = "access_denied"
	AccessError   AccessStatus = "error"
)

// SendPermission is the tri-state answer to "may the caller post here".
type SendPermission string

const (
	SendAllowed SendPermission = "allowed"
	SendDenied  SendPermission = "denied"
	SendUnknown SendPermission = "unknown"
)

// Member count sources, in fallback order.
const (
	CountSourceEntity    = "entity"
	CountSourceEnumerate = "participants"
	CountSourceFullInfo  = "full_info"
	CountSourceLookup    = "bot_api"
)

// FetchRecord is the result of the last attempt to fetch one identifier.
type FetchRecord struct {
	Identifier ChatIdentifier
	// Input holds the original input columns.
	Input map[string]string

	ResolvedID        int64
	Title             string
	Handle            string
	MemberCount       *int // nil means unknown
	MemberCountSource string
	ChatKind          ChatKind
	CreatedAt         *time.Time
	CheckedAt         time.Time
	OnlineCount       *int
	SlowModeDelay     *int
	PinnedMessageID   *int64
	LinkedChatID      *int64
	CanSend           SendPermission
	AccessStatus      AccessStatus
	ErrorMessage      string
	Attempts          int
}

// HandleURL renders the handle in canonical URL form, or "".
func (r *FetchRecord) HandleURL() string {
	if r.Handle == "" {
		return ""
	}
	return HandleURLPrefix + r.Handle
}

// Row renders the record as an output row: input columns overlaid with the
// output columns. Unknown optional values become empty cells.
func (r *FetchRecord) Row() map[string]string {
	row := make(map[string]string, len(r.Input)+len(OutputColumns))
	for k, v := range r.Input {
		row[k] = v
	}

	id := r.ResolvedID
	if id == 0 {
		id = r.Identifier.ID
	}
	row[ColID] = ""
	if id != 0 {
		row[ColID] = strconv.FormatInt(id, 10)
	} else if v, ok := r.Input[ColID]; ok {
		row[ColID] = v
	}

	row[ColActualTitle] = r.Title
	row[ColActualUsername] = r.HandleURL()
	row[ColMembersCount] = formatIntPtr(r.MemberCount)
	row[ColMembersCountSource] = r.MemberCountSource
	row[ColChatType] = string(r.ChatKind)
	row[ColCreatedDate] = ""
	if r.CreatedAt != nil {
		row[ColCreatedDate] = r.CreatedAt.Format(TimeLayout)
	}
	row[ColCheckDate] = r.CheckedAt.Format(TimeLayout)
	row[ColOnlineCount] = formatIntPtr(r.OnlineCount)
	row[ColSlowModeDelay] = formatIntPtr(r.SlowModeDelay)
	row[ColPinnedMessageID] = formatInt64Ptr(r.PinnedMessageID)
	row[ColLinkedChatID] = formatInt64Ptr(r.LinkedChatID)
	row[ColCanSendMessages] = string(r.CanSend)
	row[ColAccessStatus] = string(r.AccessStatus)
	row[ColErrorMessage] = TruncateMessage(r.ErrorMessage)
	return row
}

// TruncateMessage limits msg to MaxErrorMessageLength runes.
func TruncateMessage(msg string) string {
	if utf8.RuneCountInString(msg) <= MaxErrorMessageLength {
		return msg
	}
	runes := []rune(msg)
	return string(runes[:MaxErrorMessageLength])
}

func formatIntPtr(v *int) string {
	if v == nil {
		return ""
	}
	return strconv.Itoa(*v)
}

func formatInt64Ptr(v *int64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatInt(*v, 10)
}
