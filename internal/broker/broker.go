// Package broker implements the realtime room fan-out. A room is keyed by a
// request id; connections subscribe to rooms and receive every event
// published to them while connected. The broker is best-effort and never
// the source of truth: events are published only after the message store
// has persisted them, and a missed event is recovered by refetching
// history.
package broker

import (
	"sync"

	"github.com/borrowbox/borrowbox/internal/models"
	"github.com/borrowbox/borrowbox/internal/monitoring"
	"github.com/rs/zerolog/log"
)

// Event is one room broadcast
type Event struct {
	RoomID  string                 `json:"room_id"`
	Message models.ChatMessageView `json:"message"`
}

// Broker maintains the ephemeral room registry for one process. It holds no
// durable state; a connection's subscriptions vanish when it closes.
type Broker struct {
	mu         sync.Mutex
	rooms      map[string]map[*Conn]struct{}
	sendBuffer int

	// publishLocal lets a bridge reroute publishes through a shared
	// channel; nil means direct local fan-out.
	publish func(Event)
}

// New creates a broker with the given per-connection send buffer
func New(sendBuffer int) *Broker {
	if sendBuffer < 1 {
		sendBuffer = 32
	}
	return &Broker{
		rooms:      make(map[string]map[*Conn]struct{}),
		sendBuffer: sendBuffer,
	}
}

// Conn is one connection's view of the broker. Events from all of the
// connection's rooms arrive on a single channel in delivery order.
type Conn struct {
	broker *Broker
	events chan Event

	mu     sync.Mutex
	rooms  map[string]struct{}
	closed bool
}

// NewConn registers a new connection with the broker
func (b *Broker) NewConn() *Conn {
	monitoring.BrokerConnectionOpened()
	return &Conn{
		broker: b,
		events: make(chan Event, b.sendBuffer),
		rooms:  make(map[string]struct{}),
	}
}

// Events returns the connection's delivery channel. It is closed when the
// connection closes.
func (c *Conn) Events() <-chan Event {
	return c.events
}

// Join subscribes the connection to a room. Joining twice is the same as
// joining once; there is no duplicate fan-out.
//
// The broker registration happens while c.mu is held so a concurrent Close
// cannot slip between the membership record and the registration and leave
// a closed connection registered in the room. Lock order is always
// c.mu before b.mu; fan-out takes b.mu alone.
func (c *Conn) Join(roomID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	if _, ok := c.rooms[roomID]; ok {
		return
	}
	c.rooms[roomID] = struct{}{}

	b := c.broker
	b.mu.Lock()
	members, ok := b.rooms[roomID]
	if !ok {
		members = make(map[*Conn]struct{})
		b.rooms[roomID] = members
	}
	members[c] = struct{}{}
	b.mu.Unlock()
}

// Leave unsubscribes the connection from a room
func (c *Conn) Leave(roomID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.rooms, roomID)
	c.broker.removeFromRoom(c, roomID)
}

// Subscribed reports whether the connection currently holds a subscription
// to the room
func (c *Conn) Subscribed(roomID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.rooms[roomID]
	return ok
}

// Close drops all of the connection's subscriptions and closes its event
// channel. Safe to call more than once.
func (c *Conn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	rooms := make([]string, 0, len(c.rooms))
	for roomID := range c.rooms {
		rooms = append(rooms, roomID)
	}
	c.rooms = make(map[string]struct{})
	c.mu.Unlock()

	for _, roomID := range rooms {
		c.broker.removeFromRoom(c, roomID)
	}
	close(c.events)
	monitoring.BrokerConnectionClosed()
}

func (b *Broker) removeFromRoom(c *Conn, roomID string) {
	b.mu.Lock()
	if members, ok := b.rooms[roomID]; ok {
		delete(members, c)
		if len(members) == 0 {
			delete(b.rooms, roomID)
		}
	}
	b.mu.Unlock()
}

// Publish broadcasts an event to every connection currently subscribed to
// the room, in publish-call order. Zero subscribers is not an error. A
// subscriber whose buffer is full is closed rather than allowed to stall
// the room; it will reload history when it reconnects.
func (b *Broker) Publish(roomID string, message models.ChatMessageView) {
	event := Event{RoomID: roomID, Message: message}
	if b.publish != nil {
		b.publish(event)
		return
	}
	b.deliverLocal(event)
}

// deliverLocal fans the event out to this process's subscribers. Holding
// the lock across the whole fan-out keeps broadcast order equal to
// publish-call order within a room.
func (b *Broker) deliverLocal(event Event) {
	var slow []*Conn

	b.mu.Lock()
	members := b.rooms[event.RoomID]
	delivered := 0
	for conn := range members {
		select {
		case conn.events <- event:
			delivered++
		default:
			slow = append(slow, conn)
		}
	}
	b.mu.Unlock()

	monitoring.BrokerEventBroadcast(delivered)

	for _, conn := range slow {
		log.Warn().Str("room_id", event.RoomID).Msg("Dropping slow room subscriber")
		conn.Close()
	}
}
