package reconcile

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/borrowbox/borrowbox/internal/broker"
	"github.com/borrowbox/borrowbox/internal/models"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	selfID  = uuid.New()
	otherID = uuid.New()
)

func message(sender uuid.UUID, senderName, room, text string) models.ChatMessageView {
	requestID, _ := uuid.Parse(room)
	return models.ChatMessageView{
		ID:         uuid.New(),
		RequestID:  requestID,
		SenderID:   sender,
		SenderName: senderName,
		Message:    text,
		CreatedAt:  time.Now(),
	}
}

func TestTimeline_SeedThenApply_DedupesByID(t *testing.T) {
	room := uuid.NewString()
	timeline := NewTimeline(room, selfID)

	history := []models.ChatMessageView{
		message(otherID, "Priya", room, "hi"),
		message(selfID, "Me", room, "hello"),
	}
	timeline.Seed(history)
	require.Equal(t, 2, timeline.Len())

	// The same messages arriving live are duplicates
	assert.False(t, timeline.Apply(broker.Event{RoomID: room, Message: history[0]}))
	assert.False(t, timeline.Apply(broker.Event{RoomID: room, Message: history[1]}))
	assert.Equal(t, 2, timeline.Len())

	// A genuinely new live message lands
	live := message(otherID, "Priya", room, "anyone there?")
	assert.True(t, timeline.Apply(broker.Event{RoomID: room, Message: live}))

	entries := timeline.Entries()
	require.Len(t, entries, 3)
	assert.Equal(t, live.ID, entries[2].ID)
}

func TestTimeline_ApplyBeforeSeed_HistoryDoesNotDuplicate(t *testing.T) {
	room := uuid.NewString()
	timeline := NewTimeline(room, selfID)

	live := message(otherID, "Priya", room, "first")
	require.True(t, timeline.Apply(broker.Event{RoomID: room, Message: live}))

	// History fetched after the live event includes the same message
	timeline.Seed([]models.ChatMessageView{live, message(otherID, "Priya", room, "second")})
	assert.Equal(t, 2, timeline.Len())
}

func TestTimeline_IgnoresOtherRooms(t *testing.T) {
	room := uuid.NewString()
	timeline := NewTimeline(room, selfID)

	foreign := message(otherID, "Priya", uuid.NewString(), "wrong room")
	assert.False(t, timeline.Apply(broker.Event{RoomID: foreign.RequestID.String(), Message: foreign}))
	assert.Equal(t, 0, timeline.Len())
}

func TestTimeline_DisplayNames(t *testing.T) {
	room := uuid.NewString()
	timeline := NewTimeline(room, selfID)

	timeline.Seed([]models.ChatMessageView{
		message(selfID, "Stale Name", room, "mine"),
		message(otherID, "Priya", room, "theirs"),
		message(otherID, "", room, "nameless"),
	})

	entries := timeline.Entries()
	require.Len(t, entries, 3)
	assert.Equal(t, "You", entries[0].DisplayName)
	assert.Equal(t, "Priya", entries[1].DisplayName)
	assert.Equal(t, "Unknown", entries[2].DisplayName)
}

type fakeSender struct {
	fail bool
	sent []string
}

func (f *fakeSender) Send(_ context.Context, roomID string, text string) (*models.ChatMessageView, error) {
	if f.fail {
		return nil, errors.New("store unavailable")
	}
	f.sent = append(f.sent, text)
	requestID, _ := uuid.Parse(roomID)
	return &models.ChatMessageView{
		ID:        uuid.New(),
		RequestID: requestID,
		SenderID:  selfID,
		Message:   text,
		CreatedAt: time.Now(),
	}, nil
}

type fakePublisher struct {
	published []broker.Event
}

func (f *fakePublisher) Publish(roomID string, msg models.ChatMessageView) {
	f.published = append(f.published, broker.Event{RoomID: roomID, Message: msg})
}

func TestComposer_SendThenPublish(t *testing.T) {
	room := uuid.NewString()
	timeline := NewTimeline(room, selfID)
	sender := &fakeSender{}
	publisher := &fakePublisher{}
	composer := NewComposer(timeline, sender, publisher)

	composer.SetDraft("can I borrow the drill?")
	entry, err := composer.Send(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "You", entry.DisplayName)
	assert.Empty(t, composer.Draft(), "draft clears after a successful send")

	require.Len(t, publisher.published, 1)
	require.Equal(t, 1, timeline.Len())

	// The broker echoes our own publish back; it must not duplicate
	assert.False(t, timeline.Apply(publisher.published[0]))
	assert.Equal(t, 1, timeline.Len())
}

func TestComposer_FailedSendPreservesDraft(t *testing.T) {
	room := uuid.NewString()
	timeline := NewTimeline(room, selfID)
	sender := &fakeSender{fail: true}
	publisher := &fakePublisher{}
	composer := NewComposer(timeline, sender, publisher)

	composer.SetDraft("important message")
	_, err := composer.Send(context.Background())
	require.Error(t, err)

	assert.Equal(t, "important message", composer.Draft(), "failed send keeps the draft")
	assert.Equal(t, 0, timeline.Len(), "nothing lands in the timeline")
	assert.Empty(t, publisher.published, "nothing is announced")
}
