// Package chatplatform declares the boundary between pkg/botworker and
// whichever chat platform SDK the deployment wires in. The platform's
// actual gateway/event-loop client is out of scope: this package only
// names the shape pkg/botworker depends on, grounded on how a bridge
// isolates its network calls behind a small interface rather than
// importing the underlying SDK directly into command-handling code.
package chatplatform

import (
	"context"
	"io"
	"time"
)

// ImageAttachment is one image posted to a channel, already downloaded by
// the platform adapter.
type ImageAttachment struct {
	Filename  string
	URL       string
	Data      io.Reader
	PostedAt  time.Time
	MessageID string
}

// Client is the subset of chat-platform operations pkg/botworker needs.
// A real deployment implements this against the platform's SDK; tests
// implement it with an in-memory fake.
type Client interface {
	// RecentImages returns up to limit image attachments most recently
	// posted to channel, newest first.
	RecentImages(ctx context.Context, channelID string, limit int) ([]ImageAttachment, error)

	// PostMessage sends a plain-text or templated reply to a channel.
	PostMessage(ctx context.Context, channelID, text string) error

	// PostInteractiveConfirmation posts a message carrying the detected
	// players for single-image approval and returns an opaque prompt ID
	// the platform later reports back via awaiting approval/rejection.
	PostInteractiveConfirmation(ctx context.Context, channelID string, detected []DetectedPlayerView) (promptID string, err error)

	// GuildIDForChannel resolves a channel to its owning guild.
	GuildIDForChannel(ctx context.Context, channelID string) (string, error)
}

// DetectedPlayerView is the minimal rendering of a detected player for a
// chat-platform confirmation prompt.
type DetectedPlayerView struct {
	Name           string
	Score          int
	IsRosterMember bool
}

// CommandInvocation is one parsed slash-command call, independent of the
// platform's own representation.
type CommandInvocation struct {
	GuildID   string
	ChannelID string
	UserID    string
	Name      string
	Args      map[string]string
}
