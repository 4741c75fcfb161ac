package discord

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/davecgh/go-spew/spew"
	"github.com/dungeonlist/dungeonbot/bridge"
	lru "github.com/hashicorp/golang-lru"
	prefixed "github.com/matterbridge/logrus-prefixed-formatter"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// messages older than this can't be bulk deleted
const bulkDeleteMaxAge = 14 * 24 * time.Hour

var errNoInteraction = errors.New("command does not carry a discord interaction")

type Discord struct {
	s         *discordgo.Session
	v         *viper.Viper
	eventChan chan *bridge.Event
	guildID   string
	commands  []*discordgo.ApplicationCommand

	// ctx ends when the bridge is closed, interaction handlers have no
	// context of their own
	ctx    context.Context
	cancel context.CancelFunc

	dmCache *lru.Cache
}

type interactionRef struct {
	i         *discordgo.InteractionCreate
	responded atomic.Bool
}

var logger = logrus.NewEntry(logrus.StandardLogger())

// New creates the discord bridge. aliases maps extra command names to the
// command they run, each is registered as its own slash command.
func New(v *viper.Viper, token string, aliases map[string]string, eventChan chan *bridge.Event) (*Discord, error) {
	ourlog := logrus.New()
	ourlog.SetFormatter(&prefixed.TextFormatter{
		PrefixPadding: 16,
		FullTimestamp: true,
	})
	logger = ourlog.WithFields(logrus.Fields{"prefix": "bridge/discord"})
	if v.GetBool("debug") {
		ourlog.SetLevel(logrus.DebugLevel)
	}

	if v.GetBool("trace") {
		ourlog.SetLevel(logrus.TraceLevel)
	}

	s, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, err
	}
	s.Identify.Intents = discordgo.IntentsGuilds
	discordgo.Logger = discordLogger

	d := &Discord{
		s:         s,
		v:         v,
		eventChan: eventChan,
		guildID:   v.GetString("discord.GuildID"),
		commands:  withAliases(commands, aliases),
	}
	d.ctx, d.cancel = context.WithCancel(context.Background())
	d.dmCache, _ = lru.New(256)

	s.AddHandler(d.handleReady)
	s.AddHandler(d.handleInteraction)

	return d, nil
}

func (d *Discord) Protocol() string {
	return "discord"
}

func (d *Discord) Connect(ctx context.Context) error {
	context.AfterFunc(ctx, d.cancel)

	if err := d.s.Open(); err != nil {
		return fmt.Errorf("discord: open gateway: %w", err)
	}

	if !d.v.GetBool("discord.RegisterCommands") {
		return nil
	}

	appID := d.v.GetString("discord.ApplicationID")
	if appID == "" {
		appID = d.s.State.User.ID
	}

	synced, err := d.s.ApplicationCommandBulkOverwrite(appID, d.guildID, d.commands, discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("discord: register commands: %w", err)
	}

	logger.Infof("slash commands synchronised (%d commands, guild %q)", len(synced), d.guildID)

	return nil
}

func (d *Discord) Close() error {
	d.cancel()
	return d.s.Close()
}

func (d *Discord) handleReady(s *discordgo.Session, r *discordgo.Ready) {
	logger.Infof("online as %s (%s)", r.User.Username, r.User.ID)
}

func (d *Discord) handleInteraction(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if i.Type != discordgo.InteractionApplicationCommand {
		return
	}

	logger.Tracef("handleInteraction %s", spew.Sdump(i.Interaction))

	data := i.ApplicationCommandData()
	ev := &bridge.CommandEvent{
		Name:      data.Name,
		ChannelID: i.ChannelID,
		Sender:    createUser(i),
		Ref:       &interactionRef{i: i},
	}

	for _, opt := range data.Options {
		switch opt.Type {
		case discordgo.ApplicationCommandOptionUser:
			ev.Args = append(ev.Args, opt.UserValue(nil).ID)
		case discordgo.ApplicationCommandOptionInteger:
			ev.Args = append(ev.Args, strconv.FormatInt(opt.IntValue(), 10))
		default:
			ev.Args = append(ev.Args, fmt.Sprint(opt.Value))
		}
	}

	select {
	case d.eventChan <- &bridge.Event{Type: bridge.EventCommand, Data: ev}:
	case <-d.ctx.Done():
		logger.Debugf("dropping /%s from %s, bridge closed", ev.Name, ev.Sender.User)
	}
}

func createUser(i *discordgo.InteractionCreate) *bridge.UserInfo {
	var (
		u    *discordgo.User
		nick string
	)

	if i.Member != nil {
		u = i.Member.User
		nick = i.Member.Nick
	} else {
		u = i.User
	}

	if u == nil {
		return &bridge.UserInfo{}
	}

	info := &bridge.UserInfo{
		User:        u.ID,
		Nick:        u.Username,
		DisplayName: nick,
	}
	if info.DisplayName == "" {
		info.DisplayName = u.GlobalName
	}

	return info
}

func (d *Discord) Reply(ctx context.Context, cmd *bridge.CommandEvent, text string, ephemeral bool) error {
	ref, ok := cmd.Ref.(*interactionRef)
	if !ok {
		return errNoInteraction
	}

	var flags discordgo.MessageFlags
	if ephemeral {
		flags = discordgo.MessageFlagsEphemeral
	}

	if ref.responded.CompareAndSwap(false, true) {
		return d.s.InteractionRespond(ref.i.Interaction, &discordgo.InteractionResponse{
			Type: discordgo.InteractionResponseChannelMessageWithSource,
			Data: &discordgo.InteractionResponseData{
				Content: text,
				Flags:   flags,
			},
		}, discordgo.WithContext(ctx))
	}

	_, err := d.s.FollowupMessageCreate(ref.i.Interaction, true, &discordgo.WebhookParams{
		Content: text,
		Flags:   flags,
	}, discordgo.WithContext(ctx))

	return err
}

func (d *Discord) MsgUser(ctx context.Context, userID, text string) error {
	channelID, err := d.dmChannel(ctx, userID)
	if err != nil {
		return err
	}

	_, err = d.s.ChannelMessageSend(channelID, text, discordgo.WithContext(ctx))
	return err
}

func (d *Discord) dmChannel(ctx context.Context, userID string) (string, error) {
	if v, ok := d.dmCache.Get(userID); ok {
		return v.(string), nil
	}

	ch, err := d.s.UserChannelCreate(userID, discordgo.WithContext(ctx))
	if err != nil {
		return "", fmt.Errorf("open DM with %s: %w", userID, err)
	}

	d.dmCache.Add(userID, ch.ID)

	return ch.ID, nil
}

func (d *Discord) IsAdmin(ctx context.Context, cmd *bridge.CommandEvent) (bool, error) {
	ref, ok := cmd.Ref.(*interactionRef)
	if !ok {
		return false, errNoInteraction
	}

	// no member means a DM, where nobody administers anything
	if ref.i.Member == nil {
		return false, nil
	}

	return ref.i.Member.Permissions&discordgo.PermissionAdministrator != 0, nil
}

// PurgeChannel deletes up to limit of the newest messages in channelID.
// Messages younger than two weeks go through one bulk delete, older ones are
// deleted one by one.
func (d *Discord) PurgeChannel(ctx context.Context, channelID string, limit int) (int, error) {
	msgs, err := d.s.ChannelMessages(channelID, limit, "", "", "", discordgo.WithContext(ctx))
	if err != nil {
		return 0, err
	}

	cutoff := time.Now().Add(-bulkDeleteMaxAge)

	var recent, old []string
	for _, m := range msgs {
		if m.Timestamp.After(cutoff) {
			recent = append(recent, m.ID)
		} else {
			old = append(old, m.ID)
		}
	}

	deleted := 0

	switch len(recent) {
	case 0:
	case 1:
		// bulk delete wants at least two ids
		old = append(old, recent[0])
	default:
		if err := d.s.ChannelMessagesBulkDelete(channelID, recent, discordgo.WithContext(ctx)); err != nil {
			return 0, err
		}
		deleted += len(recent)
	}

	for _, id := range old {
		if err := d.s.ChannelMessageDelete(channelID, id, discordgo.WithContext(ctx)); err != nil {
			logger.Debugf("could not delete message %s in %s: %s", id, channelID, err)
			continue
		}
		deleted++
	}

	return deleted, nil
}

func discordLogger(msgL, caller int, format string, a ...interface{}) {
	switch msgL {
	case discordgo.LogError:
		logger.Errorf(format, a...)
	case discordgo.LogWarning:
		logger.Warnf(format, a...)
	case discordgo.LogInformational:
		logger.Infof(format, a...)
	default:
		logger.Debugf(format, a...)
	}
}
