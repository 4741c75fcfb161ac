package bot

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dungeonlist/dungeonbot/bridge"
	"github.com/dungeonlist/dungeonbot/journal"
	"github.com/dungeonlist/dungeonbot/queue"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

const (
	chanIMD      = "1445085686112845885"
	chanNightSky = "1430611404204806174"
	chanOther    = "999"
)

// queue imports desertbit/timer, which starts a process-wide goroutine.
var ignoreTimerRoutine = goleak.IgnoreTopFunction("github.com/desertbit/timer.timerRoutine")

type sentReply struct {
	text      string
	ephemeral bool
}

type fakeBridge struct {
	mu        sync.Mutex
	replies   []sentReply
	dms       map[string][]string
	admins    map[string]bool
	adminErr  error
	dmErr     error
	purgeArgs []int
}

func newFakeBridge() *fakeBridge {
	return &fakeBridge{
		dms:    make(map[string][]string),
		admins: make(map[string]bool),
	}
}

func (f *fakeBridge) Connect(ctx context.Context) error { return nil }
func (f *fakeBridge) Close() error                      { return nil }
func (f *fakeBridge) Protocol() string                  { return "fake" }

func (f *fakeBridge) Reply(ctx context.Context, cmd *bridge.CommandEvent, text string, ephemeral bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replies = append(f.replies, sentReply{text: text, ephemeral: ephemeral})
	return nil
}

func (f *fakeBridge) MsgUser(ctx context.Context, userID, text string) error {
	if f.dmErr != nil {
		return f.dmErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dms[userID] = append(f.dms[userID], text)
	return nil
}

func (f *fakeBridge) IsAdmin(ctx context.Context, cmd *bridge.CommandEvent) (bool, error) {
	if f.adminErr != nil {
		return false, f.adminErr
	}
	return f.admins[cmd.Sender.User], nil
}

func (f *fakeBridge) PurgeChannel(ctx context.Context, channelID string, limit int) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.purgeArgs = append(f.purgeArgs, limit)
	return limit - 1, nil
}

func (f *fakeBridge) last() sentReply {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.replies) == 0 {
		return sentReply{}
	}
	return f.replies[len(f.replies)-1]
}

func (f *fakeBridge) replyCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.replies)
}

type testBot struct {
	*Bot
	br      *fakeBridge
	rooms   *queue.Registry
	journal *journal.Store
}

func newTestBot(t *testing.T) *testBot {
	t.Helper()

	rooms, err := queue.NewRegistry([]queue.Room{
		{Name: "IMD", ChannelID: chanIMD, Capacity: 2},
		{Name: "NightSky", ChannelID: chanNightSky, Capacity: 1},
	})
	require.NoError(t, err)

	j, err := journal.Open(filepath.Join(t.TempDir(), "journal.db"), 0)
	require.NoError(t, err)
	t.Cleanup(func() { j.Close() })

	br := newFakeBridge()
	b := New(viper.New(), br, rooms, j, make(chan *bridge.Event, 10))

	return &testBot{Bot: b, br: br, rooms: rooms, journal: j}
}

func command(user, channel, name string, args ...string) *bridge.CommandEvent {
	return &bridge.CommandEvent{
		Name:      name,
		Args:      args,
		ChannelID: channel,
		Sender:    &bridge.UserInfo{User: user, Nick: user, DisplayName: "Nick " + strings.ToUpper(user)},
	}
}

func (tb *testBot) run(user, channel, name string, args ...string) sentReply {
	tb.handleCommand(context.Background(), command(user, channel, name, args...))
	return tb.br.last()
}

func (tb *testBot) room(t *testing.T, channel string) *queue.State {
	t.Helper()
	s, err := tb.rooms.Resolve(channel)
	require.NoError(t, err)
	return s
}

func TestJoinCommand(t *testing.T) {
	tb := newTestBot(t)

	r := tb.run("a", chanIMD, "join")
	assert.False(t, r.ephemeral)
	assert.Contains(t, r.text, "Nick A joined dungeon **IMD**")
	assert.Contains(t, r.text, "(1/2)")
	assert.Contains(t, r.text, "1. Nick A")

	r = tb.run("b", chanIMD, "join")
	assert.Contains(t, r.text, "2. Nick B")

	r = tb.run("c", chanIMD, "join")
	assert.False(t, r.ephemeral)
	assert.Contains(t, r.text, "Nick C is on the waitlist at position 1")

	r = tb.run("a", chanIMD, "join")
	assert.True(t, r.ephemeral)
	assert.Contains(t, r.text, "already on the list of **IMD** (position 1)")

	r = tb.run("c", chanIMD, "join")
	assert.True(t, r.ephemeral)
	assert.Contains(t, r.text, "already on the waitlist of **IMD** (position 1)")

	snap := tb.room(t, chanIMD).Snapshot()
	assert.Len(t, snap.Roster, 2)
	assert.Len(t, snap.Waitlist, 1)

	entries, err := tb.journal.Recent("IMD", 10)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, journal.ActionWaitlist, entries[0].Action)
	assert.Equal(t, "c", entries[0].MemberID)
}

func TestLeaveCommand(t *testing.T) {
	tb := newTestBot(t)
	tb.run("a", chanNightSky, "join")
	tb.run("b", chanNightSky, "join")

	r := tb.run("x", chanNightSky, "leave")
	assert.True(t, r.ephemeral)
	assert.Equal(t, msgNotMember, r.text)

	r = tb.run("b", chanNightSky, "leave")
	assert.False(t, r.ephemeral)
	assert.Contains(t, r.text, "left the waitlist of **NightSky**")

	r = tb.run("a", chanNightSky, "leave")
	assert.Contains(t, r.text, "Nick A left dungeon **NightSky**")

	snap := tb.room(t, chanNightSky).Snapshot()
	assert.Empty(t, snap.Roster)
	assert.Empty(t, snap.Waitlist)
}

func TestListCommand(t *testing.T) {
	tb := newTestBot(t)

	r := tb.run("a", chanNightSky, "list")
	assert.Equal(t, "📭 The list of dungeon **NightSky** is empty!", r.text)

	tb.run("a", chanNightSky, "join")
	tb.run("b", chanNightSky, "join")

	r = tb.run("z", chanNightSky, "list")
	assert.False(t, r.ephemeral)
	assert.Equal(t, "🛡️ **List of dungeon NightSky (1/1):**\n1. Nick A\n\n⏳ **Waitlist (1):**\n1. Nick B", r.text)
}

func TestUnboundChannel(t *testing.T) {
	tb := newTestBot(t)
	tb.br.admins["admin"] = true

	for _, name := range []string{"join", "leave", "list", "clear", "purge"} {
		user := "a"
		if name == "clear" || name == "purge" {
			user = "admin"
		}
		r := tb.run(user, chanOther, name)
		assert.True(t, r.ephemeral, name)
		assert.Equal(t, msgUnboundChannel, r.text, name)
	}
	assert.Empty(t, tb.br.purgeArgs)
}

func TestInfoCommand(t *testing.T) {
	tb := newTestBot(t)
	tb.run("a", chanNightSky, "join")
	tb.run("b", chanNightSky, "join")
	tb.run("b", chanIMD, "join")

	r := tb.run("b", chanOther, "info")
	assert.True(t, r.ephemeral)
	assert.Equal(t, "📋 **Nick B**\n"+
		"🛡️ **IMD**: on the list at position 1 of 2\n"+
		"⏳ **NightSky**: on the waitlist at position 1", r.text)

	r = tb.run("q", chanOther, "info")
	assert.Contains(t, r.text, "➖ **IMD**: not subscribed")
}

func TestAdminCommandsRejectMembers(t *testing.T) {
	tb := newTestBot(t)
	tb.run("a", chanNightSky, "join")
	tb.run("b", chanNightSky, "join")

	for _, c := range [][]string{{"move", "b"}, {"clear"}, {"clearwaitlist"}, {"purge"}, {"history"}} {
		r := tb.run("a", chanNightSky, c[0], c[1:]...)
		assert.True(t, r.ephemeral, c[0])
		assert.Equal(t, "🚫 Only administrators can use **"+c[0]+"**.", r.text)
	}

	snap := tb.room(t, chanNightSky).Snapshot()
	assert.Len(t, snap.Roster, 1)
	assert.Len(t, snap.Waitlist, 1)
	assert.Empty(t, tb.br.purgeArgs)
}

func TestAdminCheckFailure(t *testing.T) {
	tb := newTestBot(t)
	tb.run("a", chanNightSky, "join")
	tb.br.adminErr = errors.New("rate limited")

	r := tb.run("a", chanNightSky, "clear")
	assert.Equal(t, msgNoPermCheck, r.text)
	assert.Len(t, tb.room(t, chanNightSky).Snapshot().Roster, 1)
}

func TestMoveCommand(t *testing.T) {
	tb := newTestBot(t)
	tb.br.admins["admin"] = true
	tb.run("a", chanNightSky, "join")
	tb.run("b", chanNightSky, "join")
	tb.run("c", chanNightSky, "join")

	r := tb.run("admin", chanNightSky, "move", "<@c>")
	assert.True(t, r.ephemeral)
	assert.Contains(t, r.text, "is full (1)")

	r = tb.run("admin", chanNightSky, "move", "a")
	assert.Contains(t, r.text, "not on the waitlist of **NightSky**")

	r = tb.run("admin", chanNightSky, "move")
	assert.Equal(t, "move requires at least 1 arguments", r.text)

	tb.run("a", chanNightSky, "leave")
	r = tb.run("admin", chanNightSky, "move", "<@c>")
	assert.False(t, r.ephemeral)
	assert.Equal(t, "⏫ Nick C was moved into dungeon **NightSky** at position 1.", r.text)
	assert.Equal(t, []string{"🎉 An administrator moved you into dungeon **NightSky** at position 1 of 1."}, tb.br.dms["c"])

	snap := tb.room(t, chanNightSky).Snapshot()
	require.Len(t, snap.Roster, 1)
	assert.Equal(t, queue.MemberID("c"), snap.Roster[0].ID)
	require.Len(t, snap.Waitlist, 1)
	assert.Equal(t, queue.MemberID("b"), snap.Waitlist[0].ID)

	entries, err := tb.journal.Recent("NightSky", 1)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, journal.ActionMove, entries[0].Action)
	assert.Equal(t, "admin", entries[0].ActorID)
}

func TestClearCommands(t *testing.T) {
	tb := newTestBot(t)
	tb.br.admins["admin"] = true
	for _, u := range []string{"a", "b", "c", "d"} {
		tb.run(u, chanIMD, "join")
	}

	r := tb.run("admin", chanIMD, "clear")
	assert.Equal(t, "🧹 The list of dungeon **IMD** was cleared (2 removed).", r.text)

	snap := tb.room(t, chanIMD).Snapshot()
	assert.Empty(t, snap.Roster)
	assert.Len(t, snap.Waitlist, 2, "clearing the roster promotes nobody")

	r = tb.run("admin", chanIMD, "clearwaitlist")
	assert.Equal(t, "🧹 The waitlist of dungeon **IMD** was cleared (2 removed).", r.text)
	assert.Empty(t, tb.room(t, chanIMD).Snapshot().Waitlist)
}

func TestPurgeCommand(t *testing.T) {
	tb := newTestBot(t)
	tb.br.admins["admin"] = true

	r := tb.run("admin", chanIMD, "purge")
	assert.True(t, r.ephemeral)
	assert.Equal(t, "✅ Deleted **49** messages!", r.text)

	tb.run("admin", chanIMD, "purge", "500")
	tb.run("admin", chanIMD, "purge", "-4")
	assert.Equal(t, []int{50, 100, 1}, tb.br.purgeArgs)

	r = tb.run("admin", chanIMD, "purge", "lots")
	assert.Equal(t, "⚠️ \"lots\" is not a number.", r.text)

	r = tb.run("admin", chanIMD, "purge", "1", "2")
	assert.Equal(t, "purge takes at most 1 arguments", r.text)
	assert.Len(t, tb.br.purgeArgs, 3)
}

func TestHistoryCommand(t *testing.T) {
	tb := newTestBot(t)
	tb.br.admins["admin"] = true

	r := tb.run("admin", chanIMD, "history")
	assert.Equal(t, "📭 No activity recorded for dungeon **IMD**.", r.text)

	tb.run("a", chanIMD, "join")
	tb.run("a", chanIMD, "leave")

	r = tb.run("admin", chanIMD, "history", "1")
	assert.True(t, r.ephemeral)
	lines := strings.Split(r.text, "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "📜 **IMD**", lines[0])
	assert.Contains(t, lines[1], "leave Nick A")

	tb.journal = nil
	tb.Bot.journal = nil
	r = tb.run("admin", chanIMD, "history")
	assert.Equal(t, msgNoJournal, r.text)
}

type textTest struct {
	Desc  string
	Text  string
	Reply string
}

var textTests = []textTest{
	{Desc: "english name", Text: "list", Reply: "📭 The list of dungeon **IMD** is empty!"},
	{Desc: "original alias", Text: "lista", Reply: "📭 The list of dungeon **IMD** is empty!"},
	{Desc: "upper case", Text: "LISTA", Reply: "📭 The list of dungeon **IMD** is empty!"},
	{Desc: "unknown", Text: "dance", Reply: "possible commands: clear, clearwaitlist, help, history, info, join, leave, list, move, purge"},
	{Desc: "bad quoting", Text: "move \"<@U1>", Reply: "⚠️ \"move \"<@U1>\" is improperly formatted."},
	{Desc: "too many args", Text: "join now please", Reply: "join takes at most 0 arguments"},
}

func TestTextCommands(t *testing.T) {
	tb := newTestBot(t)

	for _, tc := range textTests {
		ev := command("a", chanIMD, "")
		ev.Text = tc.Text
		tb.handleCommand(context.Background(), ev)
		assert.Equal(t, tc.Reply, tb.br.last().text, tc.Desc)
	}

	ev := command("a", chanIMD, "")
	ev.Text = "entrar"
	tb.handleCommand(context.Background(), ev)
	assert.Equal(t, queue.MembershipStatus{List: queue.Roster, Position: 1}, tb.room(t, chanIMD).Describe("a"))

	ev = command("a", chanIMD, "")
	ev.Text = ""
	tb.handleCommand(context.Background(), ev)
	assert.Contains(t, tb.br.last().text, "**join**: join the dungeon list of this channel")
	assert.Contains(t, tb.br.last().text, "**move**: move <member> from the waitlist into the list (admin)")
}

func TestMissingSender(t *testing.T) {
	tb := newTestBot(t)

	ev := command("", chanIMD, "join")
	tb.handleCommand(context.Background(), ev)
	assert.Equal(t, msgNoIdentity, tb.br.last().text)
	assert.Empty(t, tb.room(t, chanIMD).Snapshot().Roster)
}

func TestNotifyPromotion(t *testing.T) {
	tb := newTestBot(t)
	night := tb.room(t, chanNightSky)
	tb.run("a", chanNightSky, "join")
	tb.run("b", chanNightSky, "join")
	tb.run("a", chanNightSky, "leave")

	s := queue.NewScheduler(tb.rooms, tb.Bot, time.Hour)
	promotions := s.Tick(context.Background())
	require.Len(t, promotions, 1)

	assert.Equal(t, []string{"🎉 A spot opened up! You are now in dungeon **NightSky** at position 1 of 1."}, tb.br.dms["b"])
	assert.Equal(t, queue.MembershipStatus{List: queue.Roster, Position: 1}, night.Describe("b"))

	entries, err := tb.journal.Recent("NightSky", 1)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, journal.ActionPromote, entries[0].Action)
	assert.Equal(t, 1, entries[0].Position)
}

func TestNotifyPromotionFailure(t *testing.T) {
	tb := newTestBot(t)
	tb.br.dmErr = errors.New("cannot send messages to this user")

	err := tb.NotifyPromotion(context.Background(), queue.Promotion{
		Room:     queue.Room{Name: "IMD", Capacity: 2},
		Member:   queue.Member{ID: "a", DisplayName: "Nick A"},
		Position: 2,
	})
	assert.Error(t, err)

	entries, err := tb.journal.Recent("IMD", 1)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "promotion is journaled even when the DM fails")
}

func TestRunHandlesEventsUntilLogout(t *testing.T) {
	defer goleak.VerifyNone(t, ignoreTimerRoutine)

	tb := newTestBot(t)

	done := make(chan error, 1)
	go func() {
		done <- tb.Run(context.Background())
	}()

	for _, u := range []string{"a", "b", "c"} {
		tb.eventChan <- &bridge.Event{Type: bridge.EventCommand, Data: command(u, chanIMD, "join")}
	}
	tb.eventChan <- &bridge.Event{Type: bridge.EventLogout, Data: &bridge.LogoutEvent{Reason: "invalid auth"}}

	select {
	case err := <-done:
		assert.EqualError(t, err, "fake: logged out: invalid auth")
	case <-time.After(2 * time.Second):
		t.Fatal("bot did not stop")
	}

	// Run waits for in-flight commands before returning
	assert.Equal(t, 3, tb.br.replyCount())
	snap := tb.room(t, chanIMD).Snapshot()
	assert.Len(t, snap.Roster, 2)
	assert.Len(t, snap.Waitlist, 1)
}

func TestRunStopsOnCancel(t *testing.T) {
	defer goleak.VerifyNone(t, ignoreTimerRoutine)

	tb := newTestBot(t)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		done <- tb.Run(ctx)
	}()
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("bot did not stop")
	}
}
