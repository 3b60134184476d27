// Package worker manages the embedded Asynq task worker.
//
// The worker runs as a goroutine inside the PocketBase process, connecting
// to Redis for persistent async task processing. Its one standing job is
// notification delivery: the event bus enqueues a notify:event task per
// emitted event, and the worker hands the decoded event to a Transport.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/hibiken/asynq"

	"github.com/portside-io/portside/backend/internal/events"
)

// TaskNotifyEvent carries one bus event to the notification transport.
const TaskNotifyEvent = "notify:event"

// Transport delivers one event to an external channel (mail, webhook, chat).
// The default transport only logs; real transports are registered by the
// deployment.
type Transport interface {
	Deliver(ctx context.Context, evt events.Event) error
}

// LogTransport writes each event to the process log. It is the fallback
// transport when no external channel is configured.
type LogTransport struct{}

func (LogTransport) Deliver(_ context.Context, evt events.Event) error {
	log.Printf("[notify] %s user=%s ip=%s", evt.Type, evt.Username, evt.IP)
	return nil
}

// Worker manages the Asynq server and a shared client for enqueuing tasks.
type Worker struct {
	server    *asynq.Server
	client    *asynq.Client
	transport Transport
}

// New creates a Worker against the given Redis address.
// Call Start() to begin processing and Shutdown() to stop.
func New(redisAddr string, transport Transport) *Worker {
	if transport == nil {
		transport = LogTransport{}
	}

	opt := asynq.RedisClientOpt{Addr: redisAddr}

	srv := asynq.NewServer(opt, asynq.Config{
		Concurrency: 10,
		Queues: map[string]int{
			"critical": 6,
			"default":  3,
			"low":      1,
		},
	})

	return &Worker{
		server:    srv,
		client:    asynq.NewClient(opt),
		transport: transport,
	}
}

// Start begins processing tasks in a background goroutine.
// This should be called only once during the application lifecycle.
func (w *Worker) Start() {
	mux := asynq.NewServeMux()
	mux.HandleFunc(TaskNotifyEvent, w.handleNotifyEvent)

	go func() {
		if err := w.server.Run(mux); err != nil {
			log.Printf("[worker] asynq server error: %v", err)
		}
	}()
}

// Client returns the shared Asynq client for enqueuing tasks.
func (w *Worker) Client() *asynq.Client {
	return w.client
}

// Shutdown gracefully stops the worker and closes the client connection.
func (w *Worker) Shutdown() {
	w.server.Shutdown()
	_ = w.client.Close()
}

// Notifier returns a bus handler that enqueues one notify:event task per
// event. Enqueue failures are logged and swallowed — notification delivery
// must never break the emitting operation.
func (w *Worker) Notifier() events.Handler {
	return func(evt events.Event) {
		raw, err := json.Marshal(evt)
		if err != nil {
			log.Printf("[worker] marshal event %s: %v", evt.Type, err)
			return
		}
		task := asynq.NewTask(TaskNotifyEvent, raw)
		if _, err := w.client.Enqueue(task, asynq.Queue(queueFor(evt.Type))); err != nil {
			log.Printf("[worker] enqueue %s: %v", evt.Type, err)
		}
	}
}

// handleNotifyEvent decodes the task payload and delivers it through the
// configured transport. A transport error is returned so asynq retries.
func (w *Worker) handleNotifyEvent(ctx context.Context, t *asynq.Task) error {
	var evt events.Event
	if err := json.Unmarshal(t.Payload(), &evt); err != nil {
		return fmt.Errorf("notify:event payload: %w", err)
	}
	return w.transport.Deliver(ctx, evt)
}

// queueFor routes security failures to the critical queue so they are
// delivered ahead of routine notifications.
func queueFor(t events.Type) string {
	switch t {
	case events.LoginFailure, events.SSHConnectFailure, events.SSHShellFailure, events.ServerError:
		return "critical"
	default:
		return "default"
	}
}
