package bot

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/dungeonlist/dungeonbot/journal"
	"github.com/dungeonlist/dungeonbot/queue"
	"github.com/muesli/reflow/truncate"
)

const (
	// discord refuses messages over 2000 characters
	maxMessageLength = 1900
	maxNameWidth     = 32
)

const (
	msgUnboundChannel = "🚫 This channel has no dungeon."
	msgNotAdmin       = "🚫 Only administrators can use **%s**."
	msgNoPermCheck    = "⚠️ Could not verify your permissions, try again later."
	msgNoIdentity     = "⚠️ Could not tell who you are."
	msgBadQuoting     = "⚠️ \"%s\" is improperly formatted."
	msgAlreadyRoster  = "⚠️ You are already on the list of **%s** (position %d)."
	msgAlreadyWait    = "⚠️ You are already on the waitlist of **%s** (position %d)."
	msgJoinedRoster   = "✅ %s joined dungeon **%s**!\n\n%s"
	msgJoinedWaitlist = "⏳ Dungeon **%s** is full (%d). %s is on the waitlist at position %d."
	msgLeftRoster     = "🚪 %s left dungeon **%s**."
	msgLeftWaitlist   = "🚪 %s left the waitlist of **%s**."
	msgNotMember      = "❌ You are not on the list."
	msgEmpty          = "📭 The list of dungeon **%s** is empty!"
	msgNotOnWaitlist  = "❌ That member is not on the waitlist of **%s**."
	msgRosterFull     = "❌ Dungeon **%s** is full (%d), nobody can be moved in."
	msgMoved          = "⏫ %s was moved into dungeon **%s** at position %d."
	msgClearedRoster  = "🧹 The list of dungeon **%s** was cleared (%d removed)."
	msgClearedWait    = "🧹 The waitlist of dungeon **%s** was cleared (%d removed)."
	msgBadCount       = "⚠️ \"%s\" is not a number."
	msgPurging        = "🧹 Deleting **%d** messages..."
	msgPurged         = "✅ Deleted **%d** messages!"
	msgPurgeFailed    = "❌ Could not delete messages: %s"
	msgNoJournal      = "📭 The activity journal is disabled."
	msgNoHistory      = "📭 No activity recorded for dungeon **%s**."
	msgPromoted       = "🎉 A spot opened up! You are now in dungeon **%s** at position %d of %d."
	msgMovedDM        = "🎉 An administrator moved you into dungeon **%s** at position %d of %d."
)

func displayName(m queue.Member) string {
	name := m.DisplayName
	if name == "" {
		name = string(m.ID)
	}
	return truncate.StringWithTail(name, maxNameWidth, "…")
}

func renderRoom(snap queue.Snapshot) string {
	var b strings.Builder

	fmt.Fprintf(&b, "🛡️ **List of dungeon %s (%d/%d):**\n", snap.Room.Name, len(snap.Roster), snap.Room.Capacity)
	for i, m := range snap.Roster {
		fmt.Fprintf(&b, "%d. %s\n", i+1, displayName(m))
	}

	if len(snap.Waitlist) > 0 {
		fmt.Fprintf(&b, "\n⏳ **Waitlist (%d):**\n", len(snap.Waitlist))
		for i, m := range snap.Waitlist {
			fmt.Fprintf(&b, "%d. %s\n", i+1, displayName(m))
		}
	}

	return strings.TrimRight(b.String(), "\n")
}

func renderStatus(room queue.Room, status queue.MembershipStatus) string {
	switch status.List {
	case queue.Roster:
		return fmt.Sprintf("🛡️ **%s**: on the list at position %d of %d", room.Name, status.Position, room.Capacity)
	case queue.Waitlist:
		return fmt.Sprintf("⏳ **%s**: on the waitlist at position %d", room.Name, status.Position)
	default:
		return fmt.Sprintf("➖ **%s**: not subscribed", room.Name)
	}
}

func renderEntry(e journal.Entry) string {
	line := fmt.Sprintf("`%s` %s", e.Time.Format("2006-01-02 15:04"), e.Action)

	if e.Member != "" {
		line += " " + truncate.StringWithTail(e.Member, maxNameWidth, "…")
	}
	if e.Position > 0 {
		line += fmt.Sprintf(" (#%d)", e.Position)
	}
	if e.Count > 0 {
		line += fmt.Sprintf(" (%d)", e.Count)
	}
	if e.Actor != "" {
		line += " by " + e.Actor
	}

	return line
}

// splitMessage cuts text into chunks of at most limit bytes, breaking
// between lines where possible.
func splitMessage(text string, limit int) []string {
	if len(text) <= limit {
		return []string{text}
	}

	var (
		chunks []string
		cur    strings.Builder
	)

	for _, line := range strings.Split(text, "\n") {
		for len(line) > limit {
			if cur.Len() > 0 {
				chunks = append(chunks, cur.String())
				cur.Reset()
			}
			cut := limit
			for cut > 0 && !utf8.RuneStart(line[cut]) {
				cut--
			}
			if cut == 0 {
				// no rune boundary in reach, invalid UTF-8
				cut = limit
			}
			chunks = append(chunks, line[:cut])
			line = line[cut:]
		}

		if cur.Len() > 0 && cur.Len()+1+len(line) > limit {
			chunks = append(chunks, cur.String())
			cur.Reset()
		}
		if cur.Len() > 0 {
			cur.WriteByte('\n')
		}
		cur.WriteString(line)
	}

	if cur.Len() > 0 {
		chunks = append(chunks, cur.String())
	}

	return chunks
}
