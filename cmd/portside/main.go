package main

import (
	"context"
	"log"

	"github.com/portside-io/portside/backend/internal/audit"
	"github.com/portside-io/portside/backend/internal/config"
	"github.com/portside-io/portside/backend/internal/events"
	"github.com/portside-io/portside/backend/internal/gateway"
	"github.com/portside-io/portside/backend/internal/hooks"
	"github.com/portside-io/portside/backend/internal/routes"
	"github.com/portside-io/portside/backend/internal/settings"
	"github.com/portside-io/portside/backend/internal/sshconn"
	"github.com/portside-io/portside/backend/internal/worker"

	// Register custom PocketBase migrations
	_ "github.com/portside-io/portside/backend/internal/migrations"

	"github.com/pocketbase/pocketbase"
	"github.com/pocketbase/pocketbase/core"
)

func main() {
	app := pocketbase.New()
	cfg := config.Load()

	// The bus decouples session and auth activity from its consumers
	// (audit log, notification worker). Created before any hook that
	// might emit.
	bus := events.New()

	// Asynq worker (created once, shared across the app lifecycle).
	w := worker.New(cfg.RedisAddr, nil)

	gw := gateway.New(routes.NewStore(app), bus)
	gw.Intervals = func() gateway.Intervals { return pollIntervals(app) }
	if !cfg.IsProduction() {
		// Fail connects fast outside production.
		gw.ConnectTimeout = sshconn.TestDialTimeout
	}

	// Record hooks: profile validation and login/profile audit events.
	hooks.Register(app, bus)

	// Custom routes
	app.OnServe().BindFunc(func(se *core.ServeEvent) error {
		routes.Register(se, routes.Deps{
			Gateway:     gw,
			RDPUpstream: cfg.RDPUpstreamURL(),
		})
		return se.Next()
	})

	// Background machinery starts when PocketBase starts serving and
	// stops on terminate.
	ctx, cancel := context.WithCancel(context.Background())
	app.OnServe().BindFunc(func(se *core.ServeEvent) error {
		bus.Subscribe(audit.Recorder(app))
		bus.Subscribe(w.Notifier())
		bus.Start(ctx)
		gw.Keeper.Start(ctx)
		w.Start()

		bus.Emit(events.Event{Type: events.ServerStarted})
		return se.Next()
	})

	app.OnTerminate().BindFunc(func(e *core.TerminateEvent) error {
		cancel()
		w.Shutdown()
		return e.Next()
	})

	if err := app.Start(); err != nil {
		log.Fatal(err)
	}
}

// pollIntervals reads the operator-tunable poller periods from app_settings,
// falling back to the seeded defaults when the row is missing or malformed.
func pollIntervals(app core.App) gateway.Intervals {
	group, _ := settings.GetGroup(app, "terminal", "intervals", nil)
	return gateway.Intervals{
		Status: settings.Seconds(group, "statusIntervalSeconds", 1, 1),
		Docker: settings.Seconds(group, "dockerStatusIntervalSeconds", 2, 1),
	}
}
