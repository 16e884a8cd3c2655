package queue

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/astroniennn/com7-queue-flow/internal/models"
	"github.com/astroniennn/com7-queue-flow/internal/store"
)

type fakeStore struct {
	tickets  map[int]models.Ticket
	countErr error
}

func (f *fakeStore) GetTicket(ctx context.Context, ticketNumber int) (models.Ticket, error) {
	ticket, ok := f.tickets[ticketNumber]
	if !ok {
		return models.Ticket{}, store.ErrTicketNotFound
	}
	return ticket, nil
}

func (f *fakeStore) CountWaitingBefore(ctx context.Context, ticketNumber int) (int, error) {
	if f.countErr != nil {
		return 0, f.countErr
	}
	count := 0
	for number, ticket := range f.tickets {
		if ticket.Status == models.StatusWaiting && number < ticketNumber {
			count++
		}
	}
	return count, nil
}

func waitingTicket(number, estimate int) models.Ticket {
	return models.Ticket{
		TicketNumber:         number,
		Status:               models.StatusWaiting,
		EstimatedWaitMinutes: estimate,
		RegisteredAt:         time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC),
	}
}

func TestResolvePosition(t *testing.T) {
	st := &fakeStore{tickets: map[int]models.Ticket{
		1039: waitingTicket(1039, 15),
		1040: waitingTicket(1040, 15),
		1041: waitingTicket(1041, 15),
		1042: waitingTicket(1042, 15),
	}}
	resolver := NewResolver(st)

	pos, err := resolver.Resolve(context.Background(), 1042)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if pos.Position != 4 {
		t.Fatalf("expected position 4, got %d", pos.Position)
	}
	if pos.RemainingWait != 60*time.Minute {
		t.Fatalf("expected 60m remaining wait, got %s", pos.RemainingWait)
	}
}

func TestResolveFirstInQueue(t *testing.T) {
	st := &fakeStore{tickets: map[int]models.Ticket{
		1042: waitingTicket(1042, 10),
	}}
	resolver := NewResolver(st)

	pos, err := resolver.Resolve(context.Background(), 1042)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if pos.Position != 1 {
		t.Fatalf("expected position 1, got %d", pos.Position)
	}
}

func TestResolveIgnoresNonWaiting(t *testing.T) {
	serving := waitingTicket(1040, 15)
	serving.Status = models.StatusServing
	done := waitingTicket(1039, 15)
	done.Status = models.StatusCompleted

	st := &fakeStore{tickets: map[int]models.Ticket{
		1039: done,
		1040: serving,
		1041: waitingTicket(1041, 15),
		1042: waitingTicket(1042, 15),
	}}
	resolver := NewResolver(st)

	pos, err := resolver.Resolve(context.Background(), 1042)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if pos.Position != 2 {
		t.Fatalf("expected position 2, got %d", pos.Position)
	}
}

func TestResolveNotFound(t *testing.T) {
	resolver := NewResolver(&fakeStore{tickets: map[int]models.Ticket{}})

	_, err := resolver.Resolve(context.Background(), 9999)
	if !errors.Is(err, store.ErrTicketNotFound) {
		t.Fatalf("expected ErrTicketNotFound, got %v", err)
	}
}

func TestResolveBackendUnavailable(t *testing.T) {
	st := &fakeStore{
		tickets:  map[int]models.Ticket{1042: waitingTicket(1042, 15)},
		countErr: store.ErrUnavailable,
	}
	resolver := NewResolver(st)

	_, err := resolver.Resolve(context.Background(), 1042)
	if !errors.Is(err, store.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

func TestResolveIdempotent(t *testing.T) {
	st := &fakeStore{tickets: map[int]models.Ticket{
		1040: waitingTicket(1040, 15),
		1042: waitingTicket(1042, 15),
	}}
	resolver := NewResolver(st)

	first, err := resolver.Resolve(context.Background(), 1042)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	second, err := resolver.Resolve(context.Background(), 1042)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if first.Position != second.Position {
		t.Fatalf("position changed between identical calls: %d vs %d", first.Position, second.Position)
	}
}

// Adding a waiting ticket with a higher number never moves existing
// tickets; a lower number shifts every later waiting ticket by one.
func TestPositionMonotonicity(t *testing.T) {
	st := &fakeStore{tickets: map[int]models.Ticket{
		1040: waitingTicket(1040, 15),
		1042: waitingTicket(1042, 15),
		1045: waitingTicket(1045, 15),
	}}
	resolver := NewResolver(st)

	numbers := []int{1040, 1042, 1045}
	sort.Ints(numbers)

	before := map[int]int{}
	for _, n := range numbers {
		pos, err := resolver.Resolve(context.Background(), n)
		if err != nil {
			t.Fatalf("resolve %d: %v", n, err)
		}
		before[n] = pos.Position
	}

	st.tickets[1050] = waitingTicket(1050, 15)
	for _, n := range numbers {
		pos, _ := resolver.Resolve(context.Background(), n)
		if pos.Position != before[n] {
			t.Fatalf("higher-numbered arrival moved ticket %d: %d -> %d", n, before[n], pos.Position)
		}
	}

	st.tickets[1000] = waitingTicket(1000, 15)
	for _, n := range numbers {
		pos, _ := resolver.Resolve(context.Background(), n)
		if pos.Position != before[n]+1 {
			t.Fatalf("lower-numbered arrival should shift ticket %d to %d, got %d", n, before[n]+1, pos.Position)
		}
	}
}
