package slack

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/davecgh/go-spew/spew"
	"github.com/dungeonlist/dungeonbot/bridge"
	lru "github.com/hashicorp/golang-lru"
	prefixed "github.com/matterbridge/logrus-prefixed-formatter"
	"github.com/sirupsen/logrus"
	"github.com/slack-go/slack"
	"github.com/slack-go/slack/socketmode"
	"github.com/spf13/viper"
)

const DefaultCommand = "/dungeon"

var errNoSlashCommand = errors.New("command does not carry a slack slash command")

// api is the part of the web API the bridge uses.
type api interface {
	AuthTestContext(ctx context.Context) (*slack.AuthTestResponse, error)
	GetUserInfoContext(ctx context.Context, user string) (*slack.User, error)
	OpenConversationContext(ctx context.Context, params *slack.OpenConversationParameters) (*slack.Channel, bool, bool, error)
	PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error)
	PostEphemeralContext(ctx context.Context, channelID, userID string, options ...slack.MsgOption) (string, error)
	GetConversationHistoryContext(ctx context.Context, params *slack.GetConversationHistoryParameters) (*slack.GetConversationHistoryResponse, error)
	DeleteMessageContext(ctx context.Context, channel, messageTimestamp string) (string, string, error)
}

type Slack struct {
	sc        api
	sm        *socketmode.Client
	v         *viper.Viper
	eventChan chan *bridge.Event
	command   string
	cancel    context.CancelFunc

	dmCache   *lru.Cache
	nameCache *lru.Cache
}

var logger = logrus.NewEntry(logrus.StandardLogger())

func New(v *viper.Viper, token, appToken string, eventChan chan *bridge.Event) (*Slack, error) {
	ourlog := logrus.New()
	ourlog.SetFormatter(&prefixed.TextFormatter{
		PrefixPadding: 16,
		FullTimestamp: true,
	})
	logger = ourlog.WithFields(logrus.Fields{"prefix": "bridge/slack"})
	if v.GetBool("debug") {
		ourlog.SetLevel(logrus.DebugLevel)
	}

	if v.GetBool("trace") {
		ourlog.SetLevel(logrus.TraceLevel)
	}

	if !strings.HasPrefix(appToken, "xapp-") {
		return nil, errors.New("slack: app level token must start with xapp-")
	}

	sc := slack.New(token, slack.OptionAppLevelToken(appToken))

	s := newSlack(v, sc, eventChan)
	s.sm = socketmode.New(sc)

	return s, nil
}

func newSlack(v *viper.Viper, sc api, eventChan chan *bridge.Event) *Slack {
	s := &Slack{
		sc:        sc,
		v:         v,
		eventChan: eventChan,
		command:   v.GetString("slack.Command"),
	}
	if s.command == "" {
		s.command = DefaultCommand
	}
	s.dmCache, _ = lru.New(256)
	s.nameCache, _ = lru.New(1024)

	return s
}

func (s *Slack) Protocol() string {
	return "slack"
}

func (s *Slack) Connect(ctx context.Context) error {
	auth, err := s.sc.AuthTestContext(ctx)
	if err != nil {
		return fmt.Errorf("slack: auth test: %w", err)
	}

	logger.Infof("online as %s on %s, listening for %s", auth.User, auth.Team, s.command)

	ctx, s.cancel = context.WithCancel(ctx)

	go s.handleSocketEvents(ctx)
	go func() {
		if err := s.sm.RunContext(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Errorf("socket mode stopped: %s", err)
			s.send(ctx, &bridge.Event{Type: bridge.EventLogout, Data: &bridge.LogoutEvent{Reason: err.Error()}})
		}
	}()

	return nil
}

func (s *Slack) Close() error {
	if s.cancel != nil {
		s.cancel()
	}
	return nil
}

func (s *Slack) handleSocketEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-s.sm.Events:
			if !ok {
				return
			}

			logger.Tracef("handleSocketEvents %s", spew.Sdump(evt))

			switch evt.Type {
			case socketmode.EventTypeConnecting:
				logger.Debug("connecting to socket mode")
			case socketmode.EventTypeConnected:
				logger.Info("connected to socket mode")
			case socketmode.EventTypeConnectionError:
				logger.Warn("socket mode connection failed, retrying")
			case socketmode.EventTypeInvalidAuth:
				s.send(ctx, &bridge.Event{Type: bridge.EventLogout, Data: &bridge.LogoutEvent{Reason: "invalid auth"}})
				return
			case socketmode.EventTypeSlashCommand:
				cmd, ok := evt.Data.(slack.SlashCommand)
				if !ok {
					continue
				}

				s.sm.Ack(*evt.Request)
				s.handleSlashCommand(ctx, cmd)
			}
		}
	}
}

func (s *Slack) handleSlashCommand(ctx context.Context, cmd slack.SlashCommand) {
	if cmd.Command != s.command {
		logger.Debugf("ignoring slash command %s", cmd.Command)
		return
	}

	s.send(ctx, &bridge.Event{
		Type: bridge.EventCommand,
		Data: &bridge.CommandEvent{
			Text:      cmd.Text,
			ChannelID: cmd.ChannelID,
			Sender:    s.createUser(ctx, cmd.UserID, cmd.UserName),
			Ref:       cmd,
		},
	})
}

// send hands ev to the bot unless the bridge is shutting down.
func (s *Slack) send(ctx context.Context, ev *bridge.Event) {
	select {
	case s.eventChan <- ev:
	case <-ctx.Done():
		logger.Debugf("dropping %s event, bridge closed", ev.Type)
	}
}

func (s *Slack) createUser(ctx context.Context, userID, userName string) *bridge.UserInfo {
	info := &bridge.UserInfo{User: userID, Nick: userName}

	if v, ok := s.nameCache.Get(userID); ok {
		info.DisplayName = v.(string)
		return info
	}

	user, err := s.sc.GetUserInfoContext(ctx, userID)
	if err != nil {
		logger.Debugf("users.info for %s failed: %s", userID, err)
		return info
	}

	info.DisplayName = user.Profile.DisplayName
	if info.DisplayName == "" {
		info.DisplayName = user.RealName
	}
	s.nameCache.Add(userID, info.DisplayName)

	return info
}

func (s *Slack) Reply(ctx context.Context, cmd *bridge.CommandEvent, text string, ephemeral bool) error {
	if _, ok := cmd.Ref.(slack.SlashCommand); !ok {
		return errNoSlashCommand
	}

	opts := []slack.MsgOption{slack.MsgOptionText(text, false)}

	if ephemeral {
		_, err := s.sc.PostEphemeralContext(ctx, cmd.ChannelID, cmd.Sender.User, opts...)
		return err
	}

	_, _, err := s.sc.PostMessageContext(ctx, cmd.ChannelID, opts...)
	return err
}

func (s *Slack) MsgUser(ctx context.Context, userID, text string) error {
	channelID, err := s.dmChannel(ctx, userID)
	if err != nil {
		return err
	}

	_, _, err = s.sc.PostMessageContext(ctx, channelID, slack.MsgOptionText(text, false))
	return err
}

func (s *Slack) dmChannel(ctx context.Context, userID string) (string, error) {
	if v, ok := s.dmCache.Get(userID); ok {
		return v.(string), nil
	}

	ch, _, _, err := s.sc.OpenConversationContext(ctx, &slack.OpenConversationParameters{Users: []string{userID}})
	if err != nil {
		return "", fmt.Errorf("open DM with %s: %w", userID, err)
	}

	s.dmCache.Add(userID, ch.ID)

	return ch.ID, nil
}

// IsAdmin asks slack every time; admin flags are not cached.
func (s *Slack) IsAdmin(ctx context.Context, cmd *bridge.CommandEvent) (bool, error) {
	user, err := s.sc.GetUserInfoContext(ctx, cmd.Sender.User)
	if err != nil {
		return false, err
	}

	return user.IsAdmin || user.IsOwner || user.IsPrimaryOwner, nil
}

// PurgeChannel deletes the newest limit messages the bot is allowed to
// delete. Messages slack refuses to delete are skipped.
func (s *Slack) PurgeChannel(ctx context.Context, channelID string, limit int) (int, error) {
	history, err := s.sc.GetConversationHistoryContext(ctx, &slack.GetConversationHistoryParameters{
		ChannelID: channelID,
		Limit:     limit,
	})
	if err != nil {
		return 0, err
	}

	deleted := 0
	for _, m := range history.Messages {
		if _, _, err := s.sc.DeleteMessageContext(ctx, channelID, m.Timestamp); err != nil {
			logger.Debugf("could not delete message %s in %s: %s", m.Timestamp, channelID, err)
			continue
		}
		deleted++
	}

	return deleted, nil
}
