package main

import (
	"context"
	"expvar"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"queuematic/internal/config"
	"queuematic/internal/httpapi"
	"queuematic/internal/hub"
	"queuematic/internal/store/postgres"
	"queuematic/internal/telemetry"

	"github.com/google/uuid"
	"github.com/igm/sockjs-go/sockjs"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	cfg := config.Load()

	shutdownTelemetry := telemetry.Setup("queuematic")
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

	store := postgres.NewStore(pool, postgres.Options{
		DefaultServiceTime: cfg.DefaultServiceTime,
		AuthSessionTTL:     cfg.AuthSessionTTL,
		OpTimeout:          cfg.StoreOpTimeout,
	})
	handler := httpapi.NewHandler(store)
	limiter := httpapi.NewRateLimiter(httpapi.RateLimitConfig{
		IPPerMinute:     cfg.RateLimitPerMinute,
		IPBurst:         cfg.RateLimitBurst,
		BranchPerMinute: cfg.BranchRateLimitPerMinute,
		BranchBurst:     cfg.BranchRateLimitBurst,
	})

	displayHub := hub.New()

	mux := http.NewServeMux()
	mux.Handle("/metrics", expvar.Handler())
	mux.Handle("/display/", newDisplayHandler(displayHub))
	mux.Handle("/", handler.Routes())

	chain := httpapi.AuthMiddleware(store, mux)
	chain = limiter.Middleware(chain)
	chain = httpapi.LoggingMiddleware(chain)

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      otelhttp.NewHandler(chain, "queuematic"),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	rootCtx, stopBackground := context.WithCancel(context.Background())
	defer stopBackground()

	broadcaster := hub.NewBroadcaster(store, displayHub, cfg.OutboxPollInterval)
	go broadcaster.Run(rootCtx)

	go func() {
		if cfg.StaleTicketMaxAge <= 0 || cfg.StaleTicketInterval <= 0 {
			return
		}
		ticker := time.NewTicker(cfg.StaleTicketInterval)
		defer ticker.Stop()
		for {
			select {
			case <-rootCtx.Done():
				return
			case <-ticker.C:
				count, err := store.CancelStaleTickets(rootCtx, cfg.StaleTicketMaxAge, cfg.StaleTicketBatch)
				if err != nil {
					log.Printf("stale ticket sweep error: %v", err)
					continue
				}
				if count > 0 {
					log.Printf("stale ticket sweep cancelled %d tickets", count)
				}
			}
		}
	}()

	go func() {
		log.Printf("queuematic listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	stopBackground()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}

// newDisplayHandler serves the lobby screens: anonymous SockJS clients that
// subscribe to one branch and receive its committed queue events.
func newDisplayHandler(h *hub.Hub) http.Handler {
	return sockjs.NewHandler("/display", sockjs.DefaultOptions, func(session sockjs.Session) {
		client := &hub.Client{ID: uuid.NewString(), Send: make(chan []byte, 16)}
		h.Register(client)
		defer h.Unregister(client)

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
			if parsed.Action == "unsubscribe" {
				h.UpdateSubscription(client, hub.Subscription{})
				continue
			}
			h.UpdateSubscription(client, hub.Subscription{BranchID: parsed.BranchID})
		}
	})
}
