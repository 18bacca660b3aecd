// Package pipeline implements the ordered concurrent audio pipeline: raw
// model text flows in as deltas, the streaming marker parser cuts it into
// segments, each segment's artifact is generated in parallel, and finished
// audio messages are delivered to the sink in strict segment order.
package pipeline

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/astralforge/astral/internal/marker"
	"github.com/astralforge/astral/internal/observe"
	"github.com/astralforge/astral/internal/wire"
)

// backlogSize bounds the number of in-flight work items. A turn long enough
// to overflow it has its excess segments dropped with a warning rather than
// blocking Feed.
const backlogSize = 1024

// task is one ordering slot in the FIFO. done closes when generation has
// finished; msg is nil when the artifact was dropped.
type task struct {
	kind marker.Kind
	done chan struct{}
	msg  *wire.Message
}

// Pipeline is a single-turn audio pipeline. Feed and Flush must be called
// from one goroutine (the session loop); Cancel and SentMessages may be
// called from any goroutine.
//
// A pipeline is single-use: after Flush or Cancel it is dead and the next
// turn needs a fresh instance.
type Pipeline struct {
	send    func(wire.Message) error
	gen     *Generators
	mode    func() Mode
	log     *slog.Logger
	metrics *observe.Metrics

	ctx    context.Context
	cancel context.CancelFunc

	parser  *marker.StreamParser
	tasks   chan *task
	drained chan struct{}

	closed     atomic.Bool
	cancelOnce sync.Once

	mu   sync.Mutex
	sent []wire.Message
}

// New creates a pipeline over a send function. The drain worker calls send
// serially; serialization against other writers on the same connection is the
// caller's responsibility. mode is consulted per segment so audio-mode
// switches take effect mid-turn.
func New(send func(wire.Message) error, gen *Generators, mode func() Mode, log *slog.Logger, metrics *observe.Metrics) *Pipeline {
	ctx, cancel := context.WithCancel(context.Background())
	p := &Pipeline{
		send:    send,
		gen:     gen,
		mode:    mode,
		log:     log,
		metrics: metrics,
		ctx:     ctx,
		cancel:  cancel,
		tasks:   make(chan *task, backlogSize),
		drained: make(chan struct{}),
	}
	p.parser = marker.NewStreamParser(p.enqueue)
	go p.drain()
	return p
}

// Feed adds a raw model text delta. Never blocks; segments completed by this
// delta are enqueued for generation immediately.
func (p *Pipeline) Feed(delta string) {
	if p.closed.Load() {
		return
	}
	p.parser.Feed(delta)
}

// Flush emits any residual parser text, then waits until every enqueued work
// item has been generated and delivered (or dropped). After Flush the
// pipeline is dead.
func (p *Pipeline) Flush() {
	if !p.closed.CompareAndSwap(false, true) {
		return
	}
	p.parser.Flush()
	close(p.tasks)
	<-p.drained
}

// Cancel abandons all pending and in-flight work without further emission.
// Idempotent and terminal; already-sent messages are not rolled back.
func (p *Pipeline) Cancel() {
	p.cancelOnce.Do(func() {
		p.closed.Store(true)
		p.cancel()
	})
}

// SentMessages returns the messages actually delivered to the sink, in
// order. Used by the opening-turn cache.
func (p *Pipeline) SentMessages() []wire.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]wire.Message, len(p.sent))
	copy(out, p.sent)
	return out
}

// enqueue is the parser's emit callback: filter, claim an ordering slot, and
// start generation concurrently.
func (p *Pipeline) enqueue(seg marker.Segment) {
	if !p.mode().Allows(seg.Kind) {
		return
	}
	t := &task{kind: seg.Kind, done: make(chan struct{})}
	select {
	case p.tasks <- t:
	default:
		p.log.Warn("pipeline backlog full, dropping segment", "kind", seg.Kind)
		p.metrics.RecordWorkItem(p.ctx, string(seg.Kind), "dropped")
		return
	}
	go func() {
		defer close(t.done)
		t.msg = p.gen.Generate(p.ctx, seg)
	}()
}

// drain is the single ordering worker: it awaits the head-of-FIFO task, then
// forwards its artifact, so delivery order always matches enqueue order no
// matter which generation finishes first.
func (p *Pipeline) drain() {
	defer close(p.drained)
	for {
		var t *task
		var ok bool
		select {
		case <-p.ctx.Done():
			p.discardBacklog()
			return
		case t, ok = <-p.tasks:
			if !ok {
				return
			}
		}

		select {
		case <-p.ctx.Done():
			p.metrics.RecordWorkItem(p.ctx, string(t.kind), "canceled")
			p.discardBacklog()
			return
		case <-t.done:
		}
		// Cancel may have landed while the head task was completing; a
		// cancelled pipeline must not emit the finished artifact.
		if p.ctx.Err() != nil {
			p.metrics.RecordWorkItem(p.ctx, string(t.kind), "canceled")
			p.discardBacklog()
			return
		}

		if t.msg == nil {
			// Dropped artifact: the slot is consumed silently.
			p.metrics.RecordWorkItem(p.ctx, string(t.kind), "dropped")
			continue
		}
		if err := p.send(*t.msg); err != nil {
			p.log.Warn("audio send failed", "kind", t.kind, "error", err)
			p.metrics.RecordWorkItem(p.ctx, string(t.kind), "dropped")
			continue
		}
		p.metrics.RecordWorkItem(p.ctx, string(t.kind), "delivered")
		p.mu.Lock()
		p.sent = append(p.sent, *t.msg)
		p.mu.Unlock()
	}
}

// discardBacklog counts the unstarted slots abandoned by a cancel.
func (p *Pipeline) discardBacklog() {
	for {
		select {
		case t, ok := <-p.tasks:
			if !ok {
				return
			}
			p.metrics.RecordWorkItem(context.Background(), string(t.kind), "canceled")
		default:
			return
		}
	}
}
