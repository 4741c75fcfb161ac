package bot

import (
	"context"
	"fmt"
	"time"

	"github.com/davecgh/go-spew/spew"
	"github.com/dungeonlist/dungeonbot/bridge"
	"github.com/dungeonlist/dungeonbot/journal"
	"github.com/dungeonlist/dungeonbot/queue"
	"github.com/sourcegraph/conc/pool"
	"github.com/spf13/viper"
)

const (
	defaultWorkers        = 8
	defaultCommandTimeout = 15 * time.Second
)

// Journal records room activity. A nil Journal disables recording and the
// history command.
type Journal interface {
	Record(e journal.Entry) error
	Recent(room string, n int) ([]journal.Entry, error)
}

// Bot turns platform commands into queue operations and tells promoted
// members about their new spot.
type Bot struct {
	br        bridge.Bridger
	rooms     *queue.Registry
	journal   Journal
	eventChan chan *bridge.Event

	workers        int
	commandTimeout time.Duration
}

func New(v *viper.Viper, br bridge.Bridger, rooms *queue.Registry, j Journal, eventChan chan *bridge.Event) *Bot {
	b := &Bot{
		br:             br,
		rooms:          rooms,
		journal:        j,
		eventChan:      eventChan,
		workers:        v.GetInt("Workers"),
		commandTimeout: v.GetDuration("CommandTimeout"),
	}
	if b.workers <= 0 {
		b.workers = defaultWorkers
	}
	if b.commandTimeout <= 0 {
		b.commandTimeout = defaultCommandTimeout
	}

	return b
}

// Run handles events until ctx is done, the event channel closes or the
// bridge logs out. Commands already running are allowed to finish.
func (b *Bot) Run(ctx context.Context) error {
	p := pool.New().WithMaxGoroutines(b.workers)
	defer p.Wait()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-b.eventChan:
			if !ok {
				return nil
			}

			logger.Tracef("eventchan %s", spew.Sdump(event))

			switch e := event.Data.(type) {
			case *bridge.CommandEvent:
				p.Go(func() {
					b.handleCommand(ctx, e)
				})
			case *bridge.LogoutEvent:
				return fmt.Errorf("%s: logged out: %s", b.br.Protocol(), e.Reason)
			default:
				logger.Debugf("ignoring event %s", event.Type)
			}
		}
	}
}

// NotifyPromotion implements queue.Notifier.
func (b *Bot) NotifyPromotion(ctx context.Context, p queue.Promotion) error {
	b.record(journal.Entry{
		Room:     p.Room.Name,
		Action:   journal.ActionPromote,
		MemberID: string(p.Member.ID),
		Member:   p.Member.DisplayName,
		Position: p.Position,
	})

	return b.br.MsgUser(ctx, string(p.Member.ID), fmt.Sprintf(msgPromoted, p.Room.Name, p.Position, p.Room.Capacity))
}

func (b *Bot) record(e journal.Entry) {
	if b.journal == nil {
		return
	}
	if err := b.journal.Record(e); err != nil {
		logger.Errorf("journal: could not record %s in %s: %s", e.Action, e.Room, err)
	}
}

func (b *Bot) reply(ctx context.Context, ev *bridge.CommandEvent, text string, ephemeral bool) {
	for _, chunk := range splitMessage(text, maxMessageLength) {
		if err := b.br.Reply(ctx, ev, chunk, ephemeral); err != nil {
			logger.Errorf("reply to %s in %s failed: %s", ev.Sender.Name(), ev.ChannelID, err)
			return
		}
	}
}

func (b *Bot) replyPublic(ctx context.Context, ev *bridge.CommandEvent, text string) {
	b.reply(ctx, ev, text, false)
}

func (b *Bot) replyPrivate(ctx context.Context, ev *bridge.CommandEvent, text string) {
	b.reply(ctx, ev, text, true)
}
