// Package session binds one client connection to one orchestrator and one
// audio pipeline per turn. The controller owns the dice handshake, the audio
// mode filter, the opening-turn cache, and the per-connection send lock.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/astralforge/astral/internal/game"
	"github.com/astralforge/astral/internal/observe"
	"github.com/astralforge/astral/internal/orchestrator"
	"github.com/astralforge/astral/internal/pipeline"
	"github.com/astralforge/astral/internal/wire"
)

// errClientGone ends the controller loop when the transport closes.
var errClientGone = errors.New("session: client disconnected")

// Transport is the bidirectional JSON connection to one client. Send and
// SendRaw must tolerate concurrent calls from the controller loop and the
// pipeline drain worker; the controller serialises them through its own lock,
// so implementations only need to be safe against a concurrent Read.
type Transport interface {
	Read(ctx context.Context) (wire.Inbound, error)
	Send(ctx context.Context, msg wire.Message) error
	SendRaw(ctx context.Context, raw json.RawMessage) error
}

// Config assembles the per-connection collaborators for a [Controller].
type Config struct {
	// Campaign names the campaign this session plays, for logging.
	Campaign string

	// Transport is the client connection. Required.
	Transport Transport

	// Orchestrator drives the DM model conversation. Required.
	Orchestrator *orchestrator.Orchestrator

	// Generators produce audio artifacts for pipeline work items. Required.
	Generators *pipeline.Generators

	// Store is the campaign state store. Required.
	Store *game.Store

	// Roller is the server-owned dice RNG. Defaults to an auto-seeded roller.
	Roller *game.Roller

	// Opening is the opening-turn cache. Nil disables caching.
	Opening *OpeningCache

	Log     *slog.Logger
	Metrics *observe.Metrics
}

// Controller runs one client session. Create with [NewController], then call
// [Controller.Run] exactly once; it returns when the client disconnects or
// the context is cancelled.
type Controller struct {
	id      string
	orch    *orchestrator.Orchestrator
	gens    *pipeline.Generators
	store   *game.Store
	roller  *game.Roller
	opening *OpeningCache
	trans   Transport
	log     *slog.Logger
	metrics *observe.Metrics

	cancel context.CancelFunc

	// sendMu is the per-connection write lock shared by the controller loop
	// and the pipeline drain worker. recording/record capture the opening
	// turn's outbound messages in delivery order.
	sendMu    sync.Mutex
	recording bool
	record    []json.RawMessage

	modeMu sync.Mutex
	mode   pipeline.Mode

	// pipe is the current turn's pipeline. Controller goroutine only.
	pipe *pipeline.Pipeline

	// pending holds player messages that arrived while a turn was running.
	// A turn always runs to completion before the next begins.
	pending []string
}

// NewController creates a controller for one connection.
func NewController(cfg Config) *Controller {
	id := uuid.NewString()
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}
	roller := cfg.Roller
	if roller == nil {
		roller = game.NewRoller()
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	return &Controller{
		id:      id,
		orch:    cfg.Orchestrator,
		gens:    cfg.Generators,
		store:   cfg.Store,
		roller:  roller,
		opening: cfg.Opening,
		trans:   cfg.Transport,
		log:     log.With("session_id", id, "campaign", cfg.Campaign),
		metrics: metrics,
		mode:    pipeline.ModeFull,
	}
}

// ID returns the session identifier.
func (c *Controller) ID() string { return c.id }

// Mode returns the current audio mode. Safe for concurrent use; the pipeline
// consults it per work item so switches take effect mid-turn.
func (c *Controller) Mode() pipeline.Mode {
	c.modeMu.Lock()
	defer c.modeMu.Unlock()
	return c.mode
}

func (c *Controller) setMode(raw string) {
	mode, err := pipeline.ParseMode(raw)
	if err != nil {
		c.log.Debug("ignoring invalid audio mode", "mode", raw)
		return
	}
	c.modeMu.Lock()
	c.mode = mode
	c.modeMu.Unlock()
	c.log.Info("audio mode changed", "mode", mode)
}

// Run executes the session: state snapshot, opening turn, then the player
// message loop. It returns nil on clean disconnect.
func (c *Controller) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	c.cancel = cancel

	c.metrics.ActiveSessions.Add(ctx, 1)
	defer c.metrics.ActiveSessions.Add(context.WithoutCancel(ctx), -1)
	defer func() {
		if c.pipe != nil {
			c.pipe.Cancel()
		}
	}()

	inbound := make(chan wire.Inbound)
	go c.readLoop(ctx, inbound)

	c.log.Info("session started")
	c.sendSnapshot(ctx)

	if err := c.openingTurn(ctx, inbound); err != nil {
		return c.finish(err)
	}

	for {
		for len(c.pending) > 0 {
			msg := c.pending[0]
			c.pending = c.pending[1:]
			if err := c.runTurn(ctx, msg, inbound); err != nil {
				return c.finish(err)
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case in, ok := <-inbound:
			if !ok {
				return c.finish(errClientGone)
			}
			switch {
			case in.Message != "":
				if err := c.runTurn(ctx, in.Message, inbound); err != nil {
					return c.finish(err)
				}
			case in.Type == wire.TypeSetAudioMode:
				c.setMode(in.Mode)
			default:
				// Stray roll control messages outside a handshake.
				c.log.Debug("ignoring unexpected client message", "type", in.Type)
			}
		}
	}
}

// finish maps a clean client disconnect to a nil result.
func (c *Controller) finish(err error) error {
	if errors.Is(err, errClientGone) {
		c.log.Info("session ended")
		return nil
	}
	return err
}

// readLoop pumps the transport into the inbound channel and closes it when
// the client goes away.
func (c *Controller) readLoop(ctx context.Context, inbound chan<- wire.Inbound) {
	defer close(inbound)
	for {
		in, err := c.trans.Read(ctx)
		if err != nil {
			if ctx.Err() == nil {
				c.log.Debug("transport read ended", "error", err)
			}
			return
		}
		select {
		case inbound <- in:
		case <-ctx.Done():
			return
		}
	}
}

// sendSnapshot pushes the current character sheet so the client renders state
// before any narration arrives. A campaign without characters skips it.
func (c *Controller) sendSnapshot(ctx context.Context) {
	char, name, err := c.store.GetCharacter("")
	if err != nil {
		c.log.Debug("no character sheet for snapshot", "error", err)
		return
	}
	updates, err := json.Marshal(map[string]any{"character": name, "sheet": char})
	if err != nil {
		return
	}
	if err := c.send(ctx, wire.State(updates)); err != nil {
		c.log.Warn("state snapshot send failed", "error", err)
	}
}

// openingTurn serves the campaign's opening from cache when the session-log
// fingerprint matches, otherwise runs a model turn while recording every
// outbound message and stores the transcript.
func (c *Controller) openingTurn(ctx context.Context, inbound <-chan wire.Inbound) error {
	sessionLog, err := c.store.SessionLog()
	if err != nil {
		c.log.Warn("session log unreadable, treating as empty", "error", err)
		sessionLog = nil
	}
	fingerprint := Fingerprint(sessionLog)

	if c.opening != nil {
		if msgs, ok := c.opening.Load(fingerprint); ok {
			c.log.Info("replaying cached opening turn", "messages", len(msgs))
			for _, raw := range msgs {
				if err := c.sendRaw(ctx, raw); err != nil {
					return fmt.Errorf("session: replay opening turn: %w", err)
				}
			}
			return nil
		}
	}

	c.sendMu.Lock()
	c.recording = true
	c.record = nil
	c.sendMu.Unlock()

	start := time.Now()
	c.pipe = c.newPipeline(ctx)
	errored, err := c.consume(ctx, c.orch.RunTurn(ctx, orchestrator.OpeningMessage(sessionLog)), inbound)
	if err != nil {
		c.pipe.Cancel()
	} else {
		// The cache needs the complete ordered transcript, audio included.
		c.pipe.Flush()
	}
	c.metrics.TurnDuration.Record(ctx, time.Since(start).Seconds())

	c.sendMu.Lock()
	recorded := c.record
	c.recording = false
	c.record = nil
	c.sendMu.Unlock()

	if err != nil {
		return err
	}
	if errored {
		// A failed opening would otherwise be replayed to every later
		// connect under the same fingerprint. Leave the cache untouched so
		// the next session retries the model.
		c.log.Warn("opening turn failed, not caching")
		return nil
	}
	if c.opening != nil {
		if storeErr := c.opening.Store(fingerprint, recorded); storeErr != nil {
			c.log.Warn("opening cache write failed", "error", storeErr)
		}
	}
	return nil
}

// runTurn cancels the previous turn's pipeline, creates a fresh one, and
// drives the orchestrator to completion. Trailing audio is flushed in the
// background so the controller can read the next message immediately.
func (c *Controller) runTurn(ctx context.Context, message string, inbound <-chan wire.Inbound) error {
	if c.pipe != nil {
		c.pipe.Cancel()
	}
	c.pipe = c.newPipeline(ctx)

	start := time.Now()
	_, err := c.consume(ctx, c.orch.RunTurn(ctx, message), inbound)
	c.metrics.TurnDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		c.pipe.Cancel()
		return err
	}
	go c.pipe.Flush()
	return nil
}

// consume forwards orchestrator events to the client and the pipeline while
// still servicing inbound control messages. Player messages arriving mid-turn
// are queued for after the turn. errored reports whether the orchestrator
// gave up on the turn; the client has already seen the error message, but the
// turn's output must not be cached.
func (c *Controller) consume(ctx context.Context, events <-chan orchestrator.Event, inbound <-chan wire.Inbound) (errored bool, err error) {
	var failure error
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return errored, failure
			}
			switch ev.Kind {
			case orchestrator.EventTextDelta:
				c.sendOrLog(ctx, wire.TextDelta(ev.Clean))
			case orchestrator.EventRawDelta:
				c.pipe.Feed(ev.Raw)
			case orchestrator.EventTextEnd:
				c.sendOrLog(ctx, wire.TextEnd(ev.Clean))
			case orchestrator.EventState:
				c.sendOrLog(ctx, wire.State(ev.State))
			case orchestrator.EventError:
				errored = true
				c.sendOrLog(ctx, wire.Error(ev.Err))
			case orchestrator.EventRollRequest:
				if err := c.handleRoll(ctx, ev.Roll, inbound); err != nil {
					// The orchestrator is suspended on the roll; cancelling
					// the context is what unblocks it so events can close.
					failure = err
					c.cancel()
				}
			}

		case in, ok := <-inbound:
			if !ok {
				failure = errClientGone
				c.cancel()
				inbound = nil
				continue
			}
			switch {
			case in.Message != "":
				c.pending = append(c.pending, in.Message)
			case in.Type == wire.TypeSetAudioMode:
				c.setMode(in.Mode)
			default:
				c.log.Debug("ignoring mid-turn client message", "type", in.Type)
			}
		}
	}
}

// handleRoll runs the dice handshake: flush pending audio, forward the
// request, wait for roll_execute, roll server-side, send the result with the
// roller's "type" field remapped to roll_type, wait for roll_ack, resume.
func (c *Controller) handleRoll(ctx context.Context, req *orchestrator.RollRequest, inbound <-chan wire.Inbound) error {
	// Narration audio leading up to the roll must land before the prompt;
	// the suspension then gets a fresh pipeline so ordering holds across it.
	c.pipe.Flush()
	c.pipe = c.newPipeline(ctx)

	if err := c.send(ctx, wire.RollRequest(req.ToolUseID, req.Notation, req.Reason)); err != nil {
		return fmt.Errorf("session: forward roll request: %w", err)
	}
	if err := c.awaitControl(ctx, inbound, wire.TypeRollExecute); err != nil {
		return err
	}

	result, err := c.roller.Roll(req.Notation)
	if err != nil {
		// Notation was validated before the suspension; this is internal.
		c.log.Error("dice roll failed", "notation", req.Notation, "error", err)
		result = &game.RollResult{Notation: req.Notation, Type: game.RollStandard}
	}
	c.log.Info("dice rolled", "notation", req.Notation, "total", result.Total)

	if err := c.send(ctx, rollMessage(result)); err != nil {
		return fmt.Errorf("session: send roll result: %w", err)
	}
	if err := c.awaitControl(ctx, inbound, wire.TypeRollAck); err != nil {
		return err
	}

	c.orch.ResolveRoll(result)
	return nil
}

// awaitControl blocks until the client sends the wanted control type. Other
// control messages are handled or ignored; player messages queue for later.
func (c *Controller) awaitControl(ctx context.Context, inbound <-chan wire.Inbound, want string) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case in, ok := <-inbound:
			if !ok {
				return errClientGone
			}
			switch {
			case in.Type == want:
				return nil
			case in.Message != "":
				c.pending = append(c.pending, in.Message)
			case in.Type == wire.TypeSetAudioMode:
				c.setMode(in.Mode)
			default:
				c.log.Debug("ignoring out-of-order client message", "type", in.Type, "want", want)
			}
		}
	}
}

// rollMessage remaps a roller result onto the client transport shape.
func rollMessage(r *game.RollResult) wire.Message {
	modifier, total := r.Modifier, r.Total
	return wire.Message{
		Type:      wire.TypeRollResult,
		RollType:  r.Type,
		Notation:  r.Notation,
		Rolls:     r.Rolls,
		Kept:      r.Kept,
		Discarded: r.Discarded,
		Modifier:  &modifier,
		Total:     &total,
		Natural20: r.Natural20,
		Natural1:  r.Natural1,
	}
}

func (c *Controller) newPipeline(ctx context.Context) *pipeline.Pipeline {
	send := func(msg wire.Message) error { return c.send(ctx, msg) }
	return pipeline.New(send, c.gens, c.Mode, c.log, c.metrics)
}

// send writes one message under the connection lock, recording it when the
// opening turn is being captured.
func (c *Controller) send(ctx context.Context, msg wire.Message) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if err := c.trans.Send(ctx, msg); err != nil {
		return err
	}
	if c.recording {
		if raw, err := json.Marshal(msg); err == nil {
			c.record = append(c.record, raw)
		}
	}
	return nil
}

func (c *Controller) sendOrLog(ctx context.Context, msg wire.Message) {
	if err := c.send(ctx, msg); err != nil {
		c.log.Warn("send failed", "type", msg.Type, "error", err)
	}
}

func (c *Controller) sendRaw(ctx context.Context, raw json.RawMessage) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	return c.trans.SendRaw(ctx, raw)
}
