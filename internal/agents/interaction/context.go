package interaction

import "context"

type channelKey struct{}

// WithChannel tags a context with the outbound channel the current turn
// arrived on, so tool handlers can deliver replies to the right place.
func WithChannel(ctx context.Context, channelID string) context.Context {
	return context.WithValue(ctx, channelKey{}, channelID)
}

// ChannelID returns the channel attached to the context, or "".
func ChannelID(ctx context.Context) string {
	id, _ := ctx.Value(channelKey{}).(string)
	return id
}
