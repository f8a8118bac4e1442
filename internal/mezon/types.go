// Package mezon talks to the Mezon chat platform: a REST surface for
// sending messages and listing voice participants, and a websocket gateway
// delivering inbound channel-message events.
package mezon

// Message modes (wire values from the platform SDK).
const (
	ModeChannelMessage = 2
	ModeDirectMessage  = 4
)

// ChannelTypeVoice filters voice channels in participant listings.
const ChannelTypeVoice = 4

// Mention marks a member mention inside a message body. S and E are the
// character offsets of the mention substring inside Msg.T.
type Mention struct {
	UserID string `json:"user_id"`
	S      int    `json:"s"`
	E      int    `json:"e"`
}

type MessageContent struct {
	T string `json:"t"`
}

// ReplyMessage is the outbound envelope the dispatcher produces.
type ReplyMessage struct {
	ClanID         string           `json:"clan_id"`
	ChannelID      string           `json:"channel_id"`
	Mode           int              `json:"mode"`
	IsPublic       bool             `json:"is_public"`
	IsParentPublic bool             `json:"is_parent_public"`
	ParentID       string           `json:"parent_id"`
	Msg            MessageContent   `json:"msg"`
	Mentions       []Mention        `json:"mentions,omitempty"`
	Attachments    []map[string]any `json:"attachments,omitempty"`
	Ref            []map[string]any `json:"ref,omitempty"`
}

// ChannelMessage is one inbound message event from the gateway.
type ChannelMessage struct {
	MessageID  string         `json:"message_id"`
	ClanID     string         `json:"clan_id"`
	ChannelID  string         `json:"channel_id"`
	SenderID   string         `json:"sender_id"`
	Mode       int            `json:"mode"`
	CreateTime string         `json:"create_time"`
	Content    MessageContent `json:"content"`
	Mentions   []Mention      `json:"mentions,omitempty"`
}

type voiceChannelUser struct {
	Participant string `json:"participant"`
}

type voiceUsersResponse struct {
	VoiceChannelUsers []voiceChannelUser `json:"voice_channel_users"`
}
