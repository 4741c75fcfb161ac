package bridge

import (
	"context"
)

// Bridger is what the bot needs from a chat platform.
type Bridger interface {
	Connect(ctx context.Context) error
	Close() error
	Protocol() string

	// Reply answers a command. The first reply to a command may be the
	// platform's interaction response; later ones are follow-ups.
	Reply(ctx context.Context, cmd *CommandEvent, text string, ephemeral bool) error
	MsgUser(ctx context.Context, userID, text string) error

	// IsAdmin delegates the privilege check to the platform.
	IsAdmin(ctx context.Context, cmd *CommandEvent) (bool, error)
	PurgeChannel(ctx context.Context, channelID string, limit int) (int, error)
}

const (
	EventCommand = "command"
	EventLogout  = "logout"
)

type Event struct {
	Type string
	Data interface{}
}

type UserInfo struct {
	User        string // stable platform id
	Nick        string // account name
	DisplayName string
}

func (u *UserInfo) Name() string {
	switch {
	case u == nil:
		return ""
	case u.DisplayName != "":
		return u.DisplayName
	case u.Nick != "":
		return u.Nick
	default:
		return u.User
	}
}

// CommandEvent is one slash command invocation. Platforms that pass
// structured options fill Name and Args; platforms with a single command
// and free text fill Text and leave parsing to the bot.
type CommandEvent struct {
	Name      string
	Args      []string
	Text      string
	ChannelID string
	Sender    *UserInfo

	// Ref carries the platform handle needed to reply.
	Ref interface{}
}

type LogoutEvent struct {
	Reason string
}
