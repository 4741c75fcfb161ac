package queue

// MemberID is the stable platform identifier of a person. Membership checks
// only ever compare MemberIDs; display names are for rendering.
type MemberID string

type Member struct {
	ID          MemberID
	DisplayName string
}

// Room is the static configuration of one queue.
type Room struct {
	Name      string
	ChannelID string
	Capacity  int
}

// Placement is a member together with its 1-based position in a list.
type Placement struct {
	Member   Member
	Position int
}

type ListKind int

const (
	NoList ListKind = iota
	Roster
	Waitlist
)

func (k ListKind) String() string {
	switch k {
	case Roster:
		return "roster"
	case Waitlist:
		return "waitlist"
	default:
		return "none"
	}
}
