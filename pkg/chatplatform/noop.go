package chatplatform

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
)

// NoopClient satisfies Client without talking to any real chat platform. It
// exists so cmd/botworker has something concrete to wire until a deployment
// swaps in an SDK-backed implementation; RecentImages always returns empty
// and the Post* calls only log.
type NoopClient struct {
	Log zerolog.Logger
}

func (n NoopClient) RecentImages(ctx context.Context, channelID string, limit int) ([]ImageAttachment, error) {
	n.Log.Warn().Str("channel_id", channelID).Msg("chatplatform: no client configured, returning no images")
	return nil, nil
}

func (n NoopClient) PostMessage(ctx context.Context, channelID, text string) error {
	n.Log.Info().Str("channel_id", channelID).Str("text", text).Msg("chatplatform: message suppressed, no client configured")
	return nil
}

func (n NoopClient) PostInteractiveConfirmation(ctx context.Context, channelID string, detected []DetectedPlayerView) (string, error) {
	n.Log.Info().Str("channel_id", channelID).Int("detected_count", len(detected)).Msg("chatplatform: confirmation prompt suppressed, no client configured")
	return fmt.Sprintf("noop-%d", len(detected)), nil
}

func (n NoopClient) GuildIDForChannel(ctx context.Context, channelID string) (string, error) {
	return "", fmt.Errorf("chatplatform: no client configured to resolve channel %q", channelID)
}
