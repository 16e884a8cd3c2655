package main

import (
	"context"
	"encoding/json"
	"errors"
	"expvar"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/astroniennn/com7-queue-flow/internal/config"
	"github.com/astroniennn/com7-queue-flow/internal/feed"
	"github.com/astroniennn/com7-queue-flow/internal/httpapi"
	"github.com/astroniennn/com7-queue-flow/internal/hub"
	"github.com/astroniennn/com7-queue-flow/internal/models"
	"github.com/astroniennn/com7-queue-flow/internal/queue"
	"github.com/astroniennn/com7-queue-flow/internal/store"
	"github.com/astroniennn/com7-queue-flow/internal/store/postgres"
	"github.com/astroniennn/com7-queue-flow/internal/telemetry"
	"github.com/astroniennn/com7-queue-flow/internal/watch"

	"github.com/google/uuid"
	"github.com/igm/sockjs-go/sockjs"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// frame is the wire envelope for every realtime message.
type frame struct {
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

func main() {
	cfg := config.Load()
	shutdownTelemetry := telemetry.Setup(context.Background(), "queueline")
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTelemetry(ctx)
	}()

	pool, err := pgxpool.New(context.Background(), cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db connect: %v", err)
	}
	defer pool.Close()

	st := postgres.NewStore(pool)
	resolver := queue.NewResolver(st)
	h := hub.New()
	poller := feed.New(st, feed.Config{Interval: cfg.PollInterval, BatchSize: cfg.BatchSize})
	sounds := watch.NewSoundCache(watch.LogPlayer{})

	poller.OnChange(func(change store.Change) {
		payload, err := json.Marshal(change)
		if err != nil {
			log.Printf("marshal change error change=%s: %v", change.ChangeID, err)
			return
		}
		data, _ := json.Marshal(frame{Type: "ticket_update", Payload: payload, CreatedAt: change.CreatedAt})
		h.Broadcast(data, hub.Subscription{
			TicketNumber: change.TicketNumber,
			ServiceID:    change.New.ServiceID,
		})
	})

	limiter := httpapi.NewRateLimiter(httpapi.RateLimitConfig{
		IPPerMinute: cfg.RateLimitPerMinute,
		IPBurst:     cfg.RateLimitBurst,
	})
	api := httpapi.NewHandler(st, resolver)

	mux := http.NewServeMux()
	mux.Handle("/metrics", expvar.Handler())
	mux.Handle("/", api.Routes())

	sockjsHandler := sockjs.NewHandler("/realtime", sockjs.DefaultOptions, func(session sockjs.Session) {
		handleRealtime(session, h, st, resolver, poller, sounds)
	})
	mux.Handle("/realtime/", sockjsHandler)

	otelHandler := otelhttp.NewHandler(httpapi.LoggingMiddleware(limiter.Middleware(mux)), "queueline")
	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      otelHandler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	rootCtx, rootCancel := context.WithCancel(context.Background())
	defer rootCancel()
	go poller.Run(rootCtx)

	go func() {
		log.Printf("queueline listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	rootCancel()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}

// handleRealtime serves one SockJS session. A session carries at most
// one ticket watcher at a time; resubscribing or disconnecting always
// releases the previous watcher before anything else happens.
func handleRealtime(session sockjs.Session, h *hub.Hub, st *postgres.Store, resolver *queue.Resolver, poller *feed.Poller, sounds *watch.SoundCache) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client := &hub.Client{ID: uuid.NewString(), Send: make(chan []byte, 16)}
	h.Register(client)

	var stopWatch func()
	defer func() {
		if stopWatch != nil {
			stopWatch()
		}
		h.Unregister(client)
	}()

	go func() {
		for msg := range client.Send {
			_ = session.Send(string(msg))
		}
	}()

	for {
		msg, err := session.Recv()
		if err != nil {
			return
		}
		parsed, ok := hub.ParseSubscribe([]byte(msg))
		if !ok {
			continue
		}

		if stopWatch != nil {
			stopWatch()
			stopWatch = nil
		}

		if parsed.Action == "unsubscribe" {
			h.ClearSubscription(client)
			continue
		}

		h.UpdateSubscription(client, hub.Subscription{
			TicketNumber: parsed.TicketNumber,
			ServiceID:    parsed.ServiceID,
		})
		if parsed.TicketNumber > 0 {
			stopWatch = startWatch(ctx, parsed.TicketNumber, client, st, resolver, poller, sounds)
		}
	}
}

// watchStore is the slice of the store a session watcher reads from.
type watchStore interface {
	GetTicket(ctx context.Context, ticketNumber int) (models.Ticket, error)
	ListSounds(ctx context.Context) ([]models.NotificationSound, error)
}

// changeSource hands out per-ticket change subscriptions.
type changeSource interface {
	Subscribe(ticketNumber int) (<-chan store.Change, func())
}

// startWatch attaches a watcher to the ticket's change stream and
// pushes the initial snapshot. The returned stop function cancels the
// change subscription and waits for the watcher to drain, so the
// client send channel is never written after the session tears down.
func startWatch(ctx context.Context, number int, client *hub.Client, st watchStore, resolver watch.PositionResolver, src changeSource, sounds *watch.SoundCache) func() {
	// Subscribe before the snapshot read: a change committed between
	// the two is buffered on the channel instead of lost, and the
	// watcher's no-op-on-equal-status guard absorbs any duplicate.
	changes, cancelSub := src.Subscribe(number)

	ticket, err := st.GetTicket(ctx, number)
	if err != nil {
		cancelSub()
		log.Printf("realtime ticket lookup error ticket=%d: %v", number, err)
		code := "backend_unavailable"
		if errors.Is(err, store.ErrTicketNotFound) {
			code = "ticket_not_found"
		}
		sendFrame(client.Send, "error", map[string]string{"code": code})
		return nil
	}

	position := 0
	if ticket.Status == models.StatusWaiting {
		pos, err := resolver.Resolve(ctx, number)
		if err != nil {
			log.Printf("realtime position error ticket=%d: %v", number, err)
		} else {
			position = pos.Position
		}
	}

	// Resolved at attach time so sound settings changed through the
	// API reach new sessions without a restart.
	soundURLs := watch.ResolveSoundURLs(ctx, st)
	watcher := watch.NewWatcher(ticket, position, resolver, sendAlerter{send: client.Send}, sounds, soundURLs)

	done := make(chan struct{})
	go func() {
		defer close(done)
		watcher.Run(ctx, changes)
	}()

	sendFrame(client.Send, "snapshot", watcher.Snapshot())

	return func() {
		cancelSub()
		<-done
	}
}

type sendAlerter struct {
	send chan []byte
}

func (a sendAlerter) Show(alert watch.Alert) {
	sendFrame(a.send, "alert", alert)
}

func sendFrame(send chan []byte, frameType string, payload interface{}) {
	raw, err := json.Marshal(payload)
	if err != nil {
		log.Printf("marshal %s frame error: %v", frameType, err)
		return
	}
	data, _ := json.Marshal(frame{Type: frameType, Payload: raw, CreatedAt: time.Now().UTC()})
	select {
	case send <- data:
	default:
		log.Printf("drop %s frame", frameType)
	}
}
