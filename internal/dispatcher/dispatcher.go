package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/textpilot/textpilot-daemon/internal/connection"
	"github.com/textpilot/textpilot-daemon/internal/engine"
	"github.com/textpilot/textpilot-daemon/internal/history"
	"github.com/textpilot/textpilot-daemon/internal/prompt"
	"github.com/textpilot/textpilot-daemon/internal/registry"
	"github.com/textpilot/textpilot-daemon/internal/stream"
)

// Synchronous trigger rejections. Job-lifetime failures are only ever
// observable on the streaming channel.
var (
	ErrNoConnection = errors.New("no live connection for user")
	ErrTextTooLong  = errors.New("input text exceeds length bound")
)

const defaultMaxTextLen = 100_000

// Config wires the dispatcher's collaborators.
type Config struct {
	Connections *connection.Registry
	Coordinator *registry.Coordinator
	Engine      engine.Engine
	Prompts     *prompt.Loader
	History     history.Store // optional
	Logger      *log.Logger   // optional
	MaxTextLen  int           // 0 means default bound
	JobTimeout  time.Duration // 0 means no deadline on a job
}

// Dispatcher accepts triggers, enforces one job per user via the
// coordinator, runs the engine in a background goroutine per job and
// relays fragments to the user's channel. Each job reaches a terminal
// state that clears its coordinator slot, whatever the engine does.
type Dispatcher struct {
	connections *connection.Registry
	coordinator *registry.Coordinator
	engine      engine.Engine
	prompts     *prompt.Loader
	history     history.Store
	logger      *log.Logger
	maxTextLen  int
	jobTimeout  time.Duration
	jobs        sync.WaitGroup
}

// New constructs a Dispatcher with the required collaborators.
func New(cfg Config) *Dispatcher {
	maxLen := cfg.MaxTextLen
	if maxLen <= 0 {
		maxLen = defaultMaxTextLen
	}
	return &Dispatcher{
		connections: cfg.Connections,
		coordinator: cfg.Coordinator,
		engine:      cfg.Engine,
		prompts:     cfg.Prompts,
		history:     cfg.History,
		logger:      cfg.Logger,
		maxTextLen:  maxLen,
		jobTimeout:  cfg.JobTimeout,
	}
}

// TriggerRequest is one accepted generation trigger.
type TriggerRequest struct {
	Text     string
	ButtonID string
	RoleID   string
	UserID   string
}

// Trigger validates the request, supersedes any in-flight job for the
// user and starts the background streaming task. It returns the minted
// request ID immediately; all further outcomes arrive on the user's
// channel. No job is created when validation fails.
func (d *Dispatcher) Trigger(req TriggerRequest) (string, error) {
	if !d.connections.HasConnection(req.UserID) {
		return "", ErrNoConnection
	}
	if len(req.Text) > d.maxTextLen {
		return "", fmt.Errorf("%w: %d > %d bytes", ErrTextTooLong, len(req.Text), d.maxTextLen)
	}
	rendered, err := d.prompts.Render(req.ButtonID, req.RoleID, req.Text)
	if err != nil {
		return "", err
	}

	requestID := "req_" + strings.ReplaceAll(uuid.New().String(), "-", "")[:8]
	cancel := d.coordinator.Register(req.UserID, requestID)

	d.jobs.Add(1)
	go d.run(req, requestID, rendered, cancel)

	return requestID, nil
}

// Cancel sets the cancel signal for the user's active job. Returns false
// when requestID is not the active job, which callers treat as "already
// finished", not as a failure.
func (d *Dispatcher) Cancel(userID, requestID string) bool {
	ok := d.coordinator.Cancel(userID, requestID)
	if ok {
		d.logf("cancel accepted user=%s request=%s", userID, requestID)
	}
	return ok
}

// ActiveRequestID exposes the coordinator's view for status queries.
func (d *Dispatcher) ActiveRequestID(userID string) string {
	return d.coordinator.ActiveRequestID(userID)
}

// Wait blocks until all background jobs finish or ctx expires.
func (d *Dispatcher) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.jobs.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// run is the background task for one job. It emits start, then chunk
// frames with seq counting from 1, then exactly one of done or error —
// or neither when cancelled. Complete always runs, so the user can
// trigger again immediately after any terminal state.
func (d *Dispatcher) run(req TriggerRequest, requestID, rendered string, cancel *registry.CancelSignal) {
	defer d.jobs.Done()
	started := time.Now()

	ctx := context.Background()
	var cancelCtx context.CancelFunc
	if d.jobTimeout > 0 {
		ctx, cancelCtx = context.WithTimeout(ctx, d.jobTimeout)
	} else {
		ctx, cancelCtx = context.WithCancel(ctx)
	}
	defer cancelCtx()

	// Propagate the cancel signal into the engine's context so the
	// upstream call gets abandoned, not just unread.
	go func() {
		select {
		case <-cancel.Done():
			cancelCtx()
		case <-ctx.Done():
		}
	}()

	outcome := history.OutcomeFailed
	seq := 0
	outputChars := 0
	defer func() {
		d.coordinator.Complete(req.UserID, requestID)
		d.record(req, requestID, rendered, outcome, seq, outputChars, started)
	}()

	d.connections.Send(req.UserID, stream.Start(requestID))

	events, err := d.engine.Stream(ctx, engine.Request{
		Prompt:    rendered,
		UserID:    req.UserID,
		RequestID: requestID,
	})
	if err != nil {
		if cancel.IsSet() {
			outcome = history.OutcomeCancelled
			return
		}
		d.logf("engine start failed user=%s request=%s: %v", req.UserID, requestID, err)
		d.connections.Send(req.UserID, stream.Error(requestID, "PROCESSING_ERROR", err.Error()))
		return
	}

	for {
		select {
		case <-cancel.Done():
			// Stop consuming; no done or error frame for a cancelled job.
			outcome = history.OutcomeCancelled
			d.logf("job cancelled user=%s request=%s after %d fragments", req.UserID, requestID, seq)
			return
		case <-ctx.Done():
			// Deadline or the cancel bridge fired; do not wait on an
			// engine that may never close its channel.
			if cancel.IsSet() {
				outcome = history.OutcomeCancelled
				return
			}
			outcome = history.OutcomeFailed
			d.logf("job timed out user=%s request=%s after %d fragments", req.UserID, requestID, seq)
			d.connections.Send(req.UserID, stream.Error(requestID, "TIMEOUT", "generation exceeded the configured job deadline"))
			return
		case ev, ok := <-events:
			if !ok {
				if cancel.IsSet() {
					outcome = history.OutcomeCancelled
					return
				}
				if errors.Is(ctx.Err(), context.DeadlineExceeded) {
					// The engine stopped because the deadline cut it
					// off, not because the stream ran dry. done is
					// reserved for natural exhaustion.
					outcome = history.OutcomeFailed
					d.logf("job timed out user=%s request=%s after %d fragments", req.UserID, requestID, seq)
					d.connections.Send(req.UserID, stream.Error(requestID, "TIMEOUT", "generation exceeded the configured job deadline"))
					return
				}
				outcome = history.OutcomeCompleted
				d.connections.Send(req.UserID, stream.Done(requestID))
				d.logf("job done user=%s request=%s fragments=%d total_ms=%d", req.UserID, requestID, seq, time.Since(started).Milliseconds())
				return
			}
			if ev.Err != nil {
				if cancel.IsSet() {
					outcome = history.OutcomeCancelled
					return
				}
				if errors.Is(ctx.Err(), context.DeadlineExceeded) {
					outcome = history.OutcomeFailed
					d.logf("job timed out user=%s request=%s: %v", req.UserID, requestID, ev.Err)
					d.connections.Send(req.UserID, stream.Error(requestID, "TIMEOUT", "generation exceeded the configured job deadline"))
					return
				}
				d.logf("engine error user=%s request=%s: %v", req.UserID, requestID, ev.Err)
				d.connections.Send(req.UserID, stream.Error(requestID, "PROCESSING_ERROR", ev.Err.Error()))
				return
			}
			if cancel.IsSet() {
				outcome = history.OutcomeCancelled
				return
			}
			seq++
			outputChars += len(ev.Fragment)
			d.connections.Send(req.UserID, stream.Chunk(requestID, seq, ev.Fragment))
		}
	}
}

func (d *Dispatcher) record(req TriggerRequest, requestID, rendered string, outcome history.Outcome, fragments, outputChars int, started time.Time) {
	if d.history == nil {
		return
	}
	err := d.history.Record(context.Background(), history.Record{
		UserID:      req.UserID,
		RequestID:   requestID,
		ButtonID:    req.ButtonID,
		RoleID:      req.RoleID,
		PromptChars: int64(len(rendered)),
		OutputChars: int64(outputChars),
		Fragments:   int64(fragments),
		Outcome:     outcome,
		DurationMS:  time.Since(started).Milliseconds(),
	})
	if err != nil {
		d.logf("history record failed request=%s: %v", requestID, err)
	}
}

func (d *Dispatcher) logf(format string, args ...any) {
	if d.logger != nil {
		d.logger.Printf(format, args...)
	}
}
