// Package journal keeps an append-only activity log per room in a bbolt
// database. It is an audit trail; queue state is never rebuilt from it.
package journal

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	bolt "go.etcd.io/bbolt"
)

const DefaultMaxEntries = 1000

type Action string

const (
	ActionJoin          Action = "join"
	ActionWaitlist      Action = "waitlist"
	ActionLeave         Action = "leave"
	ActionPromote       Action = "promote"
	ActionMove          Action = "move"
	ActionClearRoster   Action = "clear-roster"
	ActionClearWaitlist Action = "clear-waitlist"
	ActionPurge         Action = "purge"
)

type Entry struct {
	Time     time.Time `json:"time"`
	Room     string    `json:"room"`
	Action   Action    `json:"action"`
	MemberID string    `json:"member_id,omitempty"`
	Member   string    `json:"member,omitempty"`
	ActorID  string    `json:"actor_id,omitempty"`
	Actor    string    `json:"actor,omitempty"`
	Position int       `json:"position,omitempty"`
	Count    int       `json:"count,omitempty"`
}

var logger = logrus.NewEntry(logrus.StandardLogger())

func SetLogger(l *logrus.Entry) {
	logger = l
}

type Store struct {
	db         *bolt.DB
	maxEntries int
}

// Open opens or creates the journal at path. maxEntries caps the entries
// kept per room; older ones are pruned on write.
func Open(path string, maxEntries int) (*Store, error) {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}

	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open journal %s: %w", path, err)
	}

	logger.Infof("journal opened at %s (keeping %d entries per room)", path, maxEntries)

	return &Store{db: db, maxEntries: maxEntries}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Record(e Entry) error {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}

	value, err := json.Marshal(e)
	if err != nil {
		return err
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(e.Room))
		if err != nil {
			return err
		}

		seq, err := b.NextSequence()
		if err != nil {
			return err
		}

		if err := b.Put(itob(seq), value); err != nil {
			return err
		}

		return prune(b, seq, s.maxEntries)
	})
}

// Recent returns up to n entries of room, newest first.
func (s *Store) Recent(room string, n int) ([]Entry, error) {
	var entries []Entry
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(room))
		if b == nil {
			return nil
		}

		c := b.Cursor()
		for k, v := c.Last(); k != nil && len(entries) < n; k, v = c.Prev() {
			var e Entry
			if err := json.Unmarshal(v, &e); err != nil {
				logger.Errorf("skipping corrupt journal entry %d in %s: %s", binary.BigEndian.Uint64(k), room, err)
				continue
			}
			entries = append(entries, e)
		}
		return nil
	})

	return entries, err
}

// prune drops every entry older than the newest keep. Sequences are never
// reused, so everything at or below seq-keep is outside the window.
func prune(b *bolt.Bucket, seq uint64, keep int) error {
	if seq <= uint64(keep) {
		return nil
	}
	cutoff := seq - uint64(keep)

	var stale [][]byte
	c := b.Cursor()
	for k, _ := c.First(); k != nil && binary.BigEndian.Uint64(k) <= cutoff; k, _ = c.Next() {
		stale = append(stale, append([]byte(nil), k...))
	}
	for _, k := range stale {
		if err := b.Delete(k); err != nil {
			return err
		}
	}
	return nil
}

// itob encodes big endian so keys sort in insertion order.
func itob(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}
