package mezon

import "context"

// Client is the platform surface the bot consumes. The websocket gateway
// implements it; tests stub it.
type Client interface {
	// SendMessage posts one envelope to its channel.
	SendMessage(ctx context.Context, msg ReplyMessage) error

	// ListVoiceParticipants returns the display names currently joined to
	// the clan's voice channels matching the filter ("" means all).
	ListVoiceParticipants(ctx context.Context, clanID, channelFilter string) ([]string, error)
}

// MessageHandler receives inbound channel messages from the gateway.
type MessageHandler interface {
	HandleChannelMessage(ctx context.Context, msg ChannelMessage)
}
