package pipeline

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/semaphore"

	"github.com/astralforge/astral/internal/marker"
	"github.com/astralforge/astral/internal/observe"
	"github.com/astralforge/astral/internal/wire"
	"github.com/astralforge/astral/pkg/audio"
	"github.com/astralforge/astral/pkg/provider/sound"
	"github.com/astralforge/astral/pkg/provider/tts"
)

// Duration hints passed to the sound service.
const (
	ambientSeconds = 10
	sfxSeconds     = 3
)

// Generators turns segments into audio artifacts. A nil TTS or Sound
// provider disables the corresponding capability: affected segments are
// dropped, never fatal. Safe for concurrent use; external calls are bounded
// by a weighted semaphore shared across one session's pipelines.
type Generators struct {
	tts      tts.Provider
	sound    sound.Provider
	registry *audio.Registry
	cache    *audio.Cache
	log      *slog.Logger
	metrics  *observe.Metrics
	sem      *semaphore.Weighted
}

// NewGenerators creates a generator set. maxConcurrent bounds simultaneous
// external service calls.
func NewGenerators(ttsProv tts.Provider, soundProv sound.Provider, registry *audio.Registry, cache *audio.Cache, log *slog.Logger, metrics *observe.Metrics, maxConcurrent int64) *Generators {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	return &Generators{
		tts:      ttsProv,
		sound:    soundProv,
		registry: registry,
		cache:    cache,
		log:      log,
		metrics:  metrics,
		sem:      semaphore.NewWeighted(maxConcurrent),
	}
}

// Generate produces the outbound audio message for one segment, or nil when
// the artifact is dropped (no capability, no registered voice, generation
// failure, or cancellation). A nil return still occupies the segment's
// ordering slot in the pipeline.
func (g *Generators) Generate(ctx context.Context, seg marker.Segment) *wire.Message {
	switch seg.Kind {
	case marker.KindNarrate, marker.KindNPC:
		return g.generateVoice(ctx, seg)
	case marker.KindAmbient, marker.KindSFX:
		return g.generateSound(ctx, seg)
	}
	return nil
}

func (g *Generators) generateVoice(ctx context.Context, seg marker.Segment) *wire.Message {
	if g.tts == nil {
		return nil
	}
	speaker := audio.NarratorSpeaker
	if seg.Kind == marker.KindNPC {
		speaker = seg.Meta
	}
	voice, ok := g.registry.Lookup(speaker)
	if !ok {
		g.log.Warn("no voice registered, dropping utterance", "speaker", speaker)
		return nil
	}

	// The voice id is the key prefix, so the same line in two voices is two
	// artifacts.
	key := audio.Key(voice.VoiceID, seg.Content)
	if data, hit := g.cache.Get(key); hit {
		g.metrics.RecordCacheLookup(ctx, string(seg.Kind), true)
		return msgFor(seg, speaker, data)
	}
	g.metrics.RecordCacheLookup(ctx, string(seg.Kind), false)

	var settings *tts.Settings
	if voice.Settings != nil {
		settings = &tts.Settings{
			Stability:  voice.Settings.Stability,
			Similarity: voice.Settings.Similarity,
			Style:      voice.Settings.Style,
		}
	}
	data := g.call(ctx, seg, key, func(ctx context.Context) ([]byte, error) {
		return g.tts.Synthesize(ctx, seg.Content, voice.VoiceID, settings)
	})
	if data == nil {
		return nil
	}
	return msgFor(seg, speaker, data)
}

func (g *Generators) generateSound(ctx context.Context, seg marker.Segment) *wire.Message {
	if g.sound == nil {
		return nil
	}
	key := audio.Key(string(seg.Kind), seg.Meta)
	if data, hit := g.cache.Get(key); hit {
		g.metrics.RecordCacheLookup(ctx, string(seg.Kind), true)
		return msgFor(seg, "", data)
	}
	g.metrics.RecordCacheLookup(ctx, string(seg.Kind), false)

	seconds := float64(sfxSeconds)
	if seg.Kind == marker.KindAmbient {
		seconds = ambientSeconds
	}
	data := g.call(ctx, seg, key, func(ctx context.Context) ([]byte, error) {
		return g.sound.Generate(ctx, seg.Meta, seconds)
	})
	if data == nil {
		return nil
	}
	return msgFor(seg, "", data)
}

// call runs one bounded external generation, records latency, and persists
// the artifact. Any failure drops the artifact.
func (g *Generators) call(ctx context.Context, seg marker.Segment, key string, fn func(context.Context) ([]byte, error)) []byte {
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return nil
	}
	defer g.sem.Release(1)

	start := time.Now()
	data, err := fn(ctx)
	g.metrics.GeneratorDuration.Record(ctx, time.Since(start).Seconds(),
		metric.WithAttributes(observe.Attr("kind", string(seg.Kind))))
	if err != nil {
		if ctx.Err() == nil {
			g.log.Warn("audio generation failed", "kind", seg.Kind, "error", err)
		}
		return nil
	}
	if len(data) == 0 {
		return nil
	}
	if err := g.cache.Put(key, data); err != nil {
		g.log.Warn("failed to cache artifact", "key", key, "error", err)
	}
	return data
}

func msgFor(seg marker.Segment, speaker string, data []byte) *wire.Message {
	var msg wire.Message
	switch seg.Kind {
	case marker.KindAmbient:
		msg = wire.Ambient(data)
	case marker.KindSFX:
		msg = wire.SFX(data)
	default:
		msg = wire.Voice(speaker, data)
	}
	return &msg
}
