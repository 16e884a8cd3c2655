package feed

import (
	"context"
	"testing"
	"time"

	"github.com/astroniennn/com7-queue-flow/internal/models"
	"github.com/astroniennn/com7-queue-flow/internal/store"
)

type fakeChangeStore struct {
	changes []store.Change
	offset  store.ChangeOffset
	updates int
}

func (f *fakeChangeStore) ListChanges(ctx context.Context, offset store.ChangeOffset, limit int) ([]store.Change, error) {
	var out []store.Change
	for _, change := range f.changes {
		if change.CreatedAt.After(offset.LastChangeTime) {
			out = append(out, change)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (f *fakeChangeStore) GetChangeOffset(ctx context.Context) (store.ChangeOffset, error) {
	return f.offset, nil
}

func (f *fakeChangeStore) UpdateChangeOffset(ctx context.Context, offset store.ChangeOffset) error {
	f.offset = offset
	f.updates++
	return nil
}

func makeChange(id string, ticketNumber int, at time.Time, from, to models.Status) store.Change {
	return store.Change{
		ChangeID:     id,
		TicketNumber: ticketNumber,
		Old:          models.Ticket{TicketNumber: ticketNumber, Status: from},
		New:          models.Ticket{TicketNumber: ticketNumber, Status: to},
		CreatedAt:    at,
	}
}

func TestPollDispatchesInOrder(t *testing.T) {
	base := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	st := &fakeChangeStore{changes: []store.Change{
		makeChange("c1", 1042, base, models.StatusWaiting, models.StatusAlmost),
		makeChange("c2", 1042, base.Add(time.Second), models.StatusAlmost, models.StatusServing),
		makeChange("c3", 1043, base.Add(2*time.Second), models.StatusWaiting, models.StatusCancelled),
	}}
	p := New(st, Config{})

	var seen []string
	p.OnChange(func(change store.Change) {
		seen = append(seen, change.ChangeID)
	})

	ch, cancel := p.Subscribe(1042)
	defer cancel()

	p.poll(context.Background())

	if len(seen) != 3 || seen[0] != "c1" || seen[1] != "c2" || seen[2] != "c3" {
		t.Fatalf("sink changes out of order: %v", seen)
	}

	first := <-ch
	second := <-ch
	if first.ChangeID != "c1" || second.ChangeID != "c2" {
		t.Fatalf("subscriber changes out of order: %s, %s", first.ChangeID, second.ChangeID)
	}
	select {
	case extra := <-ch:
		t.Fatalf("subscriber received change for another ticket: %s", extra.ChangeID)
	default:
	}

	if st.offset.LastChangeID != "c3" {
		t.Fatalf("offset not advanced, got %s", st.offset.LastChangeID)
	}
	if st.updates != 1 {
		t.Fatalf("expected 1 offset update per batch, got %d", st.updates)
	}
}

func TestPollSkipsAlreadyDispatched(t *testing.T) {
	base := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	st := &fakeChangeStore{changes: []store.Change{
		makeChange("c1", 1042, base, models.StatusWaiting, models.StatusAlmost),
	}}
	p := New(st, Config{})

	count := 0
	p.OnChange(func(store.Change) { count++ })

	p.poll(context.Background())
	p.poll(context.Background())

	if count != 1 {
		t.Fatalf("change dispatched %d times, want 1", count)
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	base := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	st := &fakeChangeStore{changes: []store.Change{
		makeChange("c1", 1042, base, models.StatusWaiting, models.StatusServing),
	}}
	p := New(st, Config{})

	ch, cancel := p.Subscribe(1042)
	cancel()
	// Cancel twice must be safe.
	cancel()

	p.poll(context.Background())

	if _, ok := <-ch; ok {
		t.Fatal("cancelled subscriber still received a change")
	}
}
