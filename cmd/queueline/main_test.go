package main

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/astroniennn/com7-queue-flow/internal/hub"
	"github.com/astroniennn/com7-queue-flow/internal/models"
	"github.com/astroniennn/com7-queue-flow/internal/queue"
	"github.com/astroniennn/com7-queue-flow/internal/store"
	"github.com/astroniennn/com7-queue-flow/internal/watch"
)

type fakeWatchStore struct {
	ticket models.Ticket
	sounds []models.NotificationSound
	onGet  func()
}

func (f *fakeWatchStore) GetTicket(ctx context.Context, ticketNumber int) (models.Ticket, error) {
	if f.onGet != nil {
		f.onGet()
	}
	return f.ticket, nil
}

func (f *fakeWatchStore) ListSounds(ctx context.Context) ([]models.NotificationSound, error) {
	return f.sounds, nil
}

type fakeChangeSource struct {
	ch         chan store.Change
	subscribed bool
	cancelled  bool
}

func (f *fakeChangeSource) Subscribe(ticketNumber int) (<-chan store.Change, func()) {
	f.subscribed = true
	return f.ch, func() {
		if !f.cancelled {
			f.cancelled = true
			close(f.ch)
		}
	}
}

type stubResolver struct {
	pos queue.Position
}

func (s stubResolver) Resolve(ctx context.Context, ticketNumber int) (queue.Position, error) {
	return s.pos, nil
}

func waitingTicket(number int) models.Ticket {
	return models.Ticket{
		TicketNumber:         number,
		Status:               models.StatusWaiting,
		EstimatedWaitMinutes: 15,
		RegisteredAt:         time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC),
	}
}

func servingChange(number int) store.Change {
	old := waitingTicket(number)
	updated := waitingTicket(number)
	updated.Status = models.StatusServing
	return store.Change{TicketNumber: number, Old: old, New: updated}
}

// receiveAlert reads frames off the client channel until an alert
// arrives or the deadline passes.
func receiveAlert(t *testing.T, send chan []byte) watch.Alert {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case data := <-send:
			var env frame
			if err := json.Unmarshal(data, &env); err != nil {
				t.Fatalf("unmarshal frame: %v", err)
			}
			if env.Type != "alert" {
				continue
			}
			var alert watch.Alert
			if err := json.Unmarshal(env.Payload, &alert); err != nil {
				t.Fatalf("unmarshal alert: %v", err)
			}
			return alert
		case <-deadline:
			t.Fatal("no alert frame received")
		}
	}
}

func TestStartWatchSubscribesBeforeSnapshot(t *testing.T) {
	src := &fakeChangeSource{ch: make(chan store.Change, 4)}
	st := &fakeWatchStore{ticket: waitingTicket(1042)}
	// A change committed while the snapshot read is in flight must be
	// buffered on the already-open subscription, not lost.
	st.onGet = func() {
		if !src.subscribed {
			t.Fatal("snapshot read before change subscription")
		}
		src.ch <- servingChange(1042)
	}
	client := &hub.Client{ID: "a", Send: make(chan []byte, 16)}

	stop := startWatch(context.Background(), 1042, client, st, stubResolver{}, src, watch.NewSoundCache(watch.LogPlayer{}))
	if stop == nil {
		t.Fatal("startWatch failed")
	}
	defer stop()

	alert := receiveAlert(t, client.Send)
	if alert.Status != models.StatusServing {
		t.Fatalf("expected serving alert, got %s", alert.Status)
	}
}

func TestStartWatchResolvesSoundsAtAttach(t *testing.T) {
	src := &fakeChangeSource{ch: make(chan store.Change, 4)}
	st := &fakeWatchStore{
		ticket: waitingTicket(1042),
		sounds: []models.NotificationSound{{Name: "serving", FilePath: "/sounds/gong.mp3"}},
	}
	client := &hub.Client{ID: "a", Send: make(chan []byte, 16)}

	stop := startWatch(context.Background(), 1042, client, st, stubResolver{}, src, watch.NewSoundCache(watch.LogPlayer{}))
	if stop == nil {
		t.Fatal("startWatch failed")
	}
	defer stop()

	src.ch <- servingChange(1042)

	alert := receiveAlert(t, client.Send)
	if alert.SoundURL != "/sounds/gong.mp3" {
		t.Fatalf("expected configured sound at attach time, got %s", alert.SoundURL)
	}
}

func TestSendFrameEnvelope(t *testing.T) {
	send := make(chan []byte, 1)

	sendFrame(send, "alert", watch.Alert{TicketNumber: 1042, Status: models.StatusAlmost})

	var env frame
	if err := json.Unmarshal(<-send, &env); err != nil {
		t.Fatalf("unmarshal frame: %v", err)
	}
	if env.Type != "alert" {
		t.Fatalf("expected frame type alert, got %s", env.Type)
	}
	if env.CreatedAt.IsZero() {
		t.Fatal("frame missing created_at")
	}
	var alert watch.Alert
	if err := json.Unmarshal(env.Payload, &alert); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if alert.TicketNumber != 1042 {
		t.Fatalf("expected ticket 1042, got %d", alert.TicketNumber)
	}
}

func TestSendFrameDropsWhenFull(t *testing.T) {
	send := make(chan []byte, 1)
	send <- []byte(`backlog`)

	sendFrame(send, "snapshot", watch.View{})

	if got := string(<-send); got != "backlog" {
		t.Fatalf("expected original message preserved, got %s", got)
	}
	select {
	case extra := <-send:
		t.Fatalf("unexpected extra frame: %s", extra)
	default:
	}
}
