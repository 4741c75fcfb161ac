package bot

import (
	"context"
	"fmt"
	"maps"
	"sort"
	"strconv"
	"strings"

	"github.com/dungeonlist/dungeonbot/bridge"
	"github.com/dungeonlist/dungeonbot/journal"
	"github.com/dungeonlist/dungeonbot/queue"
)

const (
	defaultPurgeCount   = 50
	maxPurgeCount       = 100
	defaultHistoryCount = 10
	maxHistoryCount     = 50
)

type handlerFunc func(ctx context.Context, b *Bot, ev *bridge.CommandEvent, room *queue.State, args []string)

// nolint:structcheck
type Command struct {
	handler   handlerFunc
	minParams int
	maxParams int
	room      bool // resolves the room bound to the channel
	admin     bool
	help      string
}

var cmds map[string]Command

// aliases keeps the command names of the first version of the bot working.
var aliases = map[string]string{
	"entrar":       "join",
	"sair":         "leave",
	"lista":        "list",
	"status":       "info",
	"mover":        "move",
	"limpar":       "clear",
	"limparespera": "clearwaitlist",
	"limparchat":   "purge",
	"historico":    "history",
}

// Aliases returns the alternative command names mapped to the command they
// run. Bridges that register commands up front need them.
func Aliases() map[string]string {
	return maps.Clone(aliases)
}

func init() {
	cmds = map[string]Command{
		"join":          {handler: join, room: true, help: "join the dungeon list of this channel"},
		"leave":         {handler: leave, room: true, help: "leave the list or the waitlist"},
		"list":          {handler: list, room: true, help: "show the list and the waitlist"},
		"info":          {handler: info, help: "show your place in every dungeon"},
		"move":          {handler: move, room: true, admin: true, minParams: 1, maxParams: 1, help: "move <member> from the waitlist into the list"},
		"clear":         {handler: clearRoster, room: true, admin: true, help: "clear the list"},
		"clearwaitlist": {handler: clearWaitlist, room: true, admin: true, help: "clear the waitlist"},
		"purge":         {handler: purge, room: true, admin: true, maxParams: 1, help: "purge [count] delete channel messages"},
		"history":       {handler: history, room: true, admin: true, maxParams: 1, help: "history [count] show recent activity"},
		"help":          {handler: help, help: "show this help"},
	}
}

func (b *Bot) handleCommand(ctx context.Context, ev *bridge.CommandEvent) {
	// commands run to completion even when the bot is shutting down
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), b.commandTimeout)
	defer cancel()

	name, args := ev.Name, ev.Args
	if name == "" {
		parsed, err := parseCommandString(ev.Text)
		if err != nil {
			b.replyPrivate(ctx, ev, fmt.Sprintf(msgBadQuoting, ev.Text))
			return
		}
		name = "help"
		if len(parsed) > 0 {
			name, args = parsed[0], parsed[1:]
		}
	}

	name = strings.ToLower(name)
	if alias, ok := aliases[name]; ok {
		name = alias
	}

	cmd, ok := cmds[name]
	if !ok {
		b.replyPrivate(ctx, ev, "possible commands: "+strings.Join(commandNames(), ", "))
		return
	}

	if ev.Sender == nil || ev.Sender.User == "" {
		b.replyPrivate(ctx, ev, msgNoIdentity)
		return
	}

	if len(args) < cmd.minParams {
		b.replyPrivate(ctx, ev, fmt.Sprintf("%s requires at least %v arguments", name, cmd.minParams))
		return
	}

	if len(args) > cmd.maxParams {
		b.replyPrivate(ctx, ev, fmt.Sprintf("%s takes at most %v arguments", name, cmd.maxParams))
		return
	}

	if cmd.admin {
		isAdmin, err := b.br.IsAdmin(ctx, ev)
		if err != nil {
			logger.Errorf("permission check for %s (%s) failed: %s", ev.Sender.Name(), ev.Sender.User, err)
			b.replyPrivate(ctx, ev, msgNoPermCheck)
			return
		}
		if !isAdmin {
			logger.Infof("%s (%s) is not allowed to %s", ev.Sender.Name(), ev.Sender.User, name)
			b.replyPrivate(ctx, ev, fmt.Sprintf(msgNotAdmin, name))
			return
		}
	}

	var room *queue.State
	if cmd.room {
		var err error
		room, err = b.rooms.Resolve(ev.ChannelID)
		if err != nil {
			b.replyPrivate(ctx, ev, msgUnboundChannel)
			return
		}
	}

	logger.Debugf("%s (%s) runs %s %v in %s", ev.Sender.Name(), ev.Sender.User, name, args, ev.ChannelID)

	cmd.handler(ctx, b, ev, room, args)
}

func commandNames() []string {
	keys := make([]string, 0, len(cmds))
	for k := range cmds {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sender(ev *bridge.CommandEvent) queue.Member {
	return queue.Member{ID: queue.MemberID(ev.Sender.User), DisplayName: ev.Sender.Name()}
}

func join(ctx context.Context, b *Bot, ev *bridge.CommandEvent, room *queue.State, args []string) {
	m := sender(ev)
	res := room.Join(m)
	r := room.Room()

	switch res.Outcome {
	case queue.AlreadyMember:
		if res.List == queue.Roster {
			b.replyPrivate(ctx, ev, fmt.Sprintf(msgAlreadyRoster, r.Name, res.Position))
		} else {
			b.replyPrivate(ctx, ev, fmt.Sprintf(msgAlreadyWait, r.Name, res.Position))
		}
	case queue.JoinedRoster:
		b.record(journal.Entry{Room: r.Name, Action: journal.ActionJoin, MemberID: string(m.ID), Member: m.DisplayName, Position: res.Position})
		b.replyPublic(ctx, ev, fmt.Sprintf(msgJoinedRoster, displayName(m), r.Name, renderRoom(room.Snapshot())))
	case queue.JoinedWaitlist:
		b.record(journal.Entry{Room: r.Name, Action: journal.ActionWaitlist, MemberID: string(m.ID), Member: m.DisplayName, Position: res.Position})
		b.replyPublic(ctx, ev, fmt.Sprintf(msgJoinedWaitlist, r.Name, r.Capacity, displayName(m), res.Position))
	}
}

func leave(ctx context.Context, b *Bot, ev *bridge.CommandEvent, room *queue.State, args []string) {
	res := room.Leave(queue.MemberID(ev.Sender.User))
	r := room.Room()

	switch res.Outcome {
	case queue.NotMember:
		b.replyPrivate(ctx, ev, msgNotMember)
		return
	case queue.LeftRoster:
		b.replyPublic(ctx, ev, fmt.Sprintf(msgLeftRoster, displayName(res.Member), r.Name))
	case queue.LeftWaitlist:
		b.replyPublic(ctx, ev, fmt.Sprintf(msgLeftWaitlist, displayName(res.Member), r.Name))
	}

	b.record(journal.Entry{Room: r.Name, Action: journal.ActionLeave, MemberID: string(res.Member.ID), Member: res.Member.DisplayName})
}

func list(ctx context.Context, b *Bot, ev *bridge.CommandEvent, room *queue.State, args []string) {
	snap := room.Snapshot()
	if len(snap.Roster) == 0 && len(snap.Waitlist) == 0 {
		b.replyPublic(ctx, ev, fmt.Sprintf(msgEmpty, snap.Room.Name))
		return
	}

	b.replyPublic(ctx, ev, renderRoom(snap))
}

func info(ctx context.Context, b *Bot, ev *bridge.CommandEvent, room *queue.State, args []string) {
	id := queue.MemberID(ev.Sender.User)

	lines := []string{fmt.Sprintf("📋 **%s**", ev.Sender.Name())}
	for _, st := range b.rooms.Rooms() {
		lines = append(lines, renderStatus(st.Room(), st.Describe(id)))
	}

	b.replyPrivate(ctx, ev, strings.Join(lines, "\n"))
}

func move(ctx context.Context, b *Bot, ev *bridge.CommandEvent, room *queue.State, args []string) {
	target := queue.MemberID(parseUserRef(args[0]))
	res := room.AdminMove(target)
	r := room.Room()

	switch res.Outcome {
	case queue.NotOnWaitlist:
		b.replyPrivate(ctx, ev, fmt.Sprintf(msgNotOnWaitlist, r.Name))
	case queue.RosterFull:
		b.replyPrivate(ctx, ev, fmt.Sprintf(msgRosterFull, r.Name, r.Capacity))
	case queue.Moved:
		b.record(journal.Entry{
			Room:     r.Name,
			Action:   journal.ActionMove,
			MemberID: string(res.Member.ID),
			Member:   res.Member.DisplayName,
			ActorID:  ev.Sender.User,
			Actor:    ev.Sender.Name(),
			Position: res.Position,
		})
		b.replyPublic(ctx, ev, fmt.Sprintf(msgMoved, displayName(res.Member), r.Name, res.Position))

		if err := b.br.MsgUser(ctx, string(res.Member.ID), fmt.Sprintf(msgMovedDM, r.Name, res.Position, r.Capacity)); err != nil {
			logger.Errorf("could not tell %s (%s) about the move into %s: %s", res.Member.DisplayName, res.Member.ID, r.Name, err)
		}
	}
}

func clearRoster(ctx context.Context, b *Bot, ev *bridge.CommandEvent, room *queue.State, args []string) {
	n := room.ClearRoster()
	r := room.Room()

	b.record(journal.Entry{Room: r.Name, Action: journal.ActionClearRoster, ActorID: ev.Sender.User, Actor: ev.Sender.Name(), Count: n})
	b.replyPublic(ctx, ev, fmt.Sprintf(msgClearedRoster, r.Name, n))
}

func clearWaitlist(ctx context.Context, b *Bot, ev *bridge.CommandEvent, room *queue.State, args []string) {
	n := room.ClearWaitlist()
	r := room.Room()

	b.record(journal.Entry{Room: r.Name, Action: journal.ActionClearWaitlist, ActorID: ev.Sender.User, Actor: ev.Sender.Name(), Count: n})
	b.replyPublic(ctx, ev, fmt.Sprintf(msgClearedWait, r.Name, n))
}

// purge only works in channels bound to a room.
func purge(ctx context.Context, b *Bot, ev *bridge.CommandEvent, room *queue.State, args []string) {
	count, ok := countArg(ctx, b, ev, args, defaultPurgeCount, maxPurgeCount)
	if !ok {
		return
	}

	b.replyPrivate(ctx, ev, fmt.Sprintf(msgPurging, count))

	deleted, err := b.br.PurgeChannel(ctx, ev.ChannelID, count)
	if err != nil {
		logger.Errorf("purge of %s by %s failed: %s", ev.ChannelID, ev.Sender.Name(), err)
		b.replyPrivate(ctx, ev, fmt.Sprintf(msgPurgeFailed, err))
		return
	}

	b.record(journal.Entry{Room: room.Room().Name, Action: journal.ActionPurge, ActorID: ev.Sender.User, Actor: ev.Sender.Name(), Count: deleted})
	b.replyPrivate(ctx, ev, fmt.Sprintf(msgPurged, deleted))
}

func history(ctx context.Context, b *Bot, ev *bridge.CommandEvent, room *queue.State, args []string) {
	if b.journal == nil {
		b.replyPrivate(ctx, ev, msgNoJournal)
		return
	}

	count, ok := countArg(ctx, b, ev, args, defaultHistoryCount, maxHistoryCount)
	if !ok {
		return
	}

	name := room.Room().Name
	entries, err := b.journal.Recent(name, count)
	if err != nil {
		logger.Errorf("journal: reading %s failed: %s", name, err)
		b.replyPrivate(ctx, ev, fmt.Sprintf(msgNoHistory, name))
		return
	}
	if len(entries) == 0 {
		b.replyPrivate(ctx, ev, fmt.Sprintf(msgNoHistory, name))
		return
	}

	lines := make([]string, 0, len(entries)+1)
	lines = append(lines, fmt.Sprintf("📜 **%s**", name))
	for _, e := range entries {
		lines = append(lines, renderEntry(e))
	}

	b.replyPrivate(ctx, ev, strings.Join(lines, "\n"))
}

func help(ctx context.Context, b *Bot, ev *bridge.CommandEvent, room *queue.State, args []string) {
	lines := make([]string, 0, len(cmds))
	for _, name := range commandNames() {
		cmd := cmds[name]
		line := fmt.Sprintf("**%s**: %s", name, cmd.help)
		if cmd.admin {
			line += " (admin)"
		}
		lines = append(lines, line)
	}

	b.replyPrivate(ctx, ev, strings.Join(lines, "\n"))
}

// countArg parses an optional count argument, clamped to [1, limit].
func countArg(ctx context.Context, b *Bot, ev *bridge.CommandEvent, args []string, def, limit int) (int, bool) {
	if len(args) == 0 {
		return def, true
	}

	n, err := strconv.Atoi(args[0])
	if err != nil {
		b.replyPrivate(ctx, ev, fmt.Sprintf(msgBadCount, args[0]))
		return 0, false
	}

	return min(max(n, 1), limit), true
}
