// Package reconcile merges a room's fetched message history with live room
// events into one consistent timeline. The message store is the source of
// truth; live events are an optimization, so the same message arriving by
// both paths must appear exactly once. Entries keep their arrival order and
// are deduplicated by message id.
package reconcile

import (
	"context"
	"sync"

	"github.com/borrowbox/borrowbox/internal/broker"
	"github.com/borrowbox/borrowbox/internal/models"
	"github.com/google/uuid"
)

// Entry is one timeline row with the sender name resolved for display
type Entry struct {
	models.ChatMessageView
	DisplayName string `json:"display_name"`
}

// Timeline is the merged view of one room. Safe for concurrent use; history
// fetches and live events typically arrive on different goroutines.
type Timeline struct {
	roomID string
	selfID uuid.UUID

	mu      sync.Mutex
	seen    map[uuid.UUID]struct{}
	entries []Entry
}

// NewTimeline creates an empty timeline for a room, viewed as selfID
func NewTimeline(roomID string, selfID uuid.UUID) *Timeline {
	return &Timeline{
		roomID: roomID,
		selfID: selfID,
		seen:   make(map[uuid.UUID]struct{}),
	}
}

// Seed merges a fetched history into the timeline. Messages already present
// from live events are skipped, so seeding after events have arrived never
// duplicates them.
func (t *Timeline) Seed(history []models.ChatMessageView) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, msg := range history {
		t.append(msg)
	}
}

// Apply merges one live event into the timeline. Events for other rooms and
// messages already present are ignored. Returns true if the event added a
// new entry.
func (t *Timeline) Apply(event broker.Event) bool {
	if event.RoomID != t.roomID {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.append(event.Message)
}

func (t *Timeline) append(msg models.ChatMessageView) bool {
	if _, ok := t.seen[msg.ID]; ok {
		return false
	}
	t.seen[msg.ID] = struct{}{}
	t.entries = append(t.entries, Entry{
		ChatMessageView: msg,
		DisplayName:     t.displayName(msg),
	})
	return true
}

// displayName resolves the name shown next to a message. The viewer's own
// messages always read "You" so the sender never sees their id echoed back
// under a stale or missing name.
func (t *Timeline) displayName(msg models.ChatMessageView) string {
	if msg.SenderID == t.selfID {
		return "You"
	}
	if msg.SenderName == "" {
		return "Unknown"
	}
	return msg.SenderName
}

// Entries returns a snapshot of the timeline in arrival order
func (t *Timeline) Entries() []Entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Entry, len(t.entries))
	copy(out, t.entries)
	return out
}

// Len returns the number of entries in the timeline
func (t *Timeline) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// Sender persists a message to the durable store
type Sender interface {
	Send(ctx context.Context, roomID string, text string) (*models.ChatMessageView, error)
}

// Publisher announces an already-persisted message to the room
type Publisher interface {
	Publish(roomID string, message models.ChatMessageView)
}

// Composer drives the send path for one room: persist first, then reflect
// the stored message in the local timeline, then announce it. A failed send
// leaves the draft intact so the user can retry without retyping.
type Composer struct {
	timeline  *Timeline
	sender    Sender
	publisher Publisher

	mu    sync.Mutex
	draft string
}

// NewComposer creates a composer for the timeline's room
func NewComposer(timeline *Timeline, sender Sender, publisher Publisher) *Composer {
	return &Composer{timeline: timeline, sender: sender, publisher: publisher}
}

// SetDraft stores the in-progress message text
func (c *Composer) SetDraft(text string) {
	c.mu.Lock()
	c.draft = text
	c.mu.Unlock()
}

// Draft returns the current in-progress message text
func (c *Composer) Draft() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.draft
}

// Send persists the current draft and, only after the store has accepted
// it, appends it to the timeline and announces it to the room. On failure
// the draft is preserved and nothing is announced; the room never hears
// about a message the store did not take.
func (c *Composer) Send(ctx context.Context) (*Entry, error) {
	c.mu.Lock()
	text := c.draft
	c.mu.Unlock()

	msg, err := c.sender.Send(ctx, c.timeline.roomID, text)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.draft = ""
	c.mu.Unlock()

	// Appending before announcing means the echo of our own publish is a
	// duplicate and gets dropped by Apply.
	c.timeline.mu.Lock()
	c.timeline.append(*msg)
	c.timeline.mu.Unlock()

	if c.publisher != nil {
		c.publisher.Publish(c.timeline.roomID, *msg)
	}

	entry := Entry{ChatMessageView: *msg, DisplayName: "You"}
	return &entry, nil
}
