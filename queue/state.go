package queue

import (
	"slices"
	"sync"
)

type JoinOutcome int

const (
	JoinedRoster JoinOutcome = iota + 1
	JoinedWaitlist
	AlreadyMember
)

// JoinResult tells where the member ended up. For AlreadyMember, List and
// Position describe the existing entry.
type JoinResult struct {
	Outcome  JoinOutcome
	List     ListKind
	Position int
}

type LeaveOutcome int

const (
	NotMember LeaveOutcome = iota
	LeftRoster
	LeftWaitlist
)

type LeaveResult struct {
	Outcome LeaveOutcome
	Member  Member
}

type MoveOutcome int

const (
	Moved MoveOutcome = iota + 1
	NotOnWaitlist
	RosterFull
)

type MoveResult struct {
	Outcome  MoveOutcome
	Member   Member
	Position int
}

// MembershipStatus is the result of Describe. List is NoList when the member
// is not subscribed to the room.
type MembershipStatus struct {
	List     ListKind
	Position int
}

func (m MembershipStatus) Subscribed() bool {
	return m.List != NoList
}

type Snapshot struct {
	Room     Room
	Roster   []Member
	Waitlist []Member
}

// State holds the roster and waitlist of one room. All methods lock the
// room for their whole duration and never block on anything else.
type State struct {
	room    Room
	metrics *metrics

	mu       sync.Mutex
	roster   []Member
	waitlist []Member
}

func newState(room Room, m *metrics) *State {
	s := &State{room: room, metrics: m}
	if m != nil {
		m.capacity.WithLabelValues(room.Name).Set(float64(room.Capacity))
	}
	m.observe(s)
	return s
}

func (s *State) Room() Room {
	return s.room
}

func (s *State) Join(m Member) JoinResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	if i := indexOf(s.roster, m.ID); i >= 0 {
		return JoinResult{Outcome: AlreadyMember, List: Roster, Position: i + 1}
	}
	if i := indexOf(s.waitlist, m.ID); i >= 0 {
		return JoinResult{Outcome: AlreadyMember, List: Waitlist, Position: i + 1}
	}

	defer s.metrics.observe(s)

	if len(s.roster) < s.room.Capacity {
		s.roster = append(s.roster, m)
		return JoinResult{Outcome: JoinedRoster, List: Roster, Position: len(s.roster)}
	}

	s.waitlist = append(s.waitlist, m)
	return JoinResult{Outcome: JoinedWaitlist, List: Waitlist, Position: len(s.waitlist)}
}

// Leave removes id from whichever list holds it. A freed roster slot is
// only filled by the next PromoteEligible.
func (s *State) Leave(id MemberID) LeaveResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	if i := indexOf(s.roster, id); i >= 0 {
		m := s.roster[i]
		s.roster = slices.Delete(s.roster, i, i+1)
		s.metrics.observe(s)
		return LeaveResult{Outcome: LeftRoster, Member: m}
	}
	if i := indexOf(s.waitlist, id); i >= 0 {
		m := s.waitlist[i]
		s.waitlist = slices.Delete(s.waitlist, i, i+1)
		s.metrics.observe(s)
		return LeaveResult{Outcome: LeftWaitlist, Member: m}
	}

	return LeaveResult{Outcome: NotMember}
}

// PromoteEligible moves as many members as there are free roster slots from
// the front of the waitlist to the end of the roster, keeping their order.
func (s *State) PromoteEligible() []Placement {
	s.mu.Lock()
	defer s.mu.Unlock()

	available := s.room.Capacity - len(s.roster)
	if available <= 0 || len(s.waitlist) == 0 {
		return nil
	}

	n := min(available, len(s.waitlist))
	promoted := make([]Placement, 0, n)
	for _, m := range s.waitlist[:n] {
		s.roster = append(s.roster, m)
		promoted = append(promoted, Placement{Member: m, Position: len(s.roster)})
	}
	s.waitlist = slices.Delete(s.waitlist, 0, n)

	if s.metrics != nil {
		s.metrics.promotions.WithLabelValues(s.room.Name).Add(float64(n))
	}
	s.metrics.observe(s)

	return promoted
}

// AdminMove promotes id out of waitlist order.
func (s *State) AdminMove(id MemberID) MoveResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := indexOf(s.waitlist, id)
	if i < 0 {
		return MoveResult{Outcome: NotOnWaitlist}
	}
	m := s.waitlist[i]
	if len(s.roster) >= s.room.Capacity {
		return MoveResult{Outcome: RosterFull, Member: m}
	}

	s.waitlist = slices.Delete(s.waitlist, i, i+1)
	s.roster = append(s.roster, m)
	s.metrics.observe(s)

	return MoveResult{Outcome: Moved, Member: m, Position: len(s.roster)}
}

func (s *State) ClearRoster() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(s.roster)
	s.roster = nil
	s.metrics.observe(s)
	return n
}

func (s *State) ClearWaitlist() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(s.waitlist)
	s.waitlist = nil
	s.metrics.observe(s)
	return n
}

func (s *State) Describe(id MemberID) MembershipStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	if i := indexOf(s.roster, id); i >= 0 {
		return MembershipStatus{List: Roster, Position: i + 1}
	}
	if i := indexOf(s.waitlist, id); i >= 0 {
		return MembershipStatus{List: Waitlist, Position: i + 1}
	}
	return MembershipStatus{}
}

func (s *State) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	return Snapshot{
		Room:     s.room,
		Roster:   slices.Clone(s.roster),
		Waitlist: slices.Clone(s.waitlist),
	}
}

func indexOf(list []Member, id MemberID) int {
	return slices.IndexFunc(list, func(m Member) bool { return m.ID == id })
}
