// Package podcast implements the cache-aside orchestration between the
// artifact cache and the generation backend.
//
// Every operation returns a Result; expected failures (rate limiting, backend
// or transport errors, bad keys, missing artifacts) never surface as Go errors.
// Calls are independent: concurrent misses for the same key may both reach the
// backend and both overwrite the cache with equivalent values.
package podcast

import (
	"context"
	"log/slog"
	"math/rand/v2"

	perrors "github.com/jmgilman/go/errors"

	"github.com/yangwenmai/gitpodcast/internal/backend"
	"github.com/yangwenmai/gitpodcast/internal/model"
)

// DefaultAudioTrust is the probability that a cached audio hit is served
// instead of being regenerated.
const DefaultAudioTrust = 0.90

// ArtifactCache is the cache surface the orchestrator needs.
type ArtifactCache interface {
	DiagramPair(ctx context.Context, k model.ArtifactKey) (model.DiagramArtifact, bool, error)
	PutDiagramPair(ctx context.Context, k model.ArtifactKey, a model.DiagramArtifact) error
	AudioPair(ctx context.Context, k model.ArtifactKey) (model.AudioArtifact, bool, error)
	PutAudioPair(ctx context.Context, k model.ArtifactKey, a model.AudioArtifact) error
}

// Orchestrator decides between cached artifacts and fresh generation.
type Orchestrator struct {
	cache      ArtifactCache
	gen        backend.Generator
	audioTrust float64
	random     func() float64
	logger     *slog.Logger
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithAudioTrust sets the probability of serving a cached audio hit.
func WithAudioTrust(p float64) Option {
	return func(o *Orchestrator) { o.audioTrust = p }
}

// WithRandom replaces the source of the per-call freshness draw. f must
// return values in [0, 1).
func WithRandom(f func() float64) Option {
	return func(o *Orchestrator) { o.random = f }
}

// WithLogger sets the logger (default: slog.Default()).
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// New creates an Orchestrator.
func New(cache ArtifactCache, gen backend.Generator, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		cache:      cache,
		gen:        gen,
		audioTrust: DefaultAudioTrust,
		random:     rand.Float64,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// FetchDiagram generates a diagram and explanation and caches the pair. It
// does not consult the cache first; the caller decides when to regenerate.
func (o *Orchestrator) FetchDiagram(ctx context.Context, req model.GenerationRequest) Result[model.DiagramArtifact] {
	key, err := req.DiagramKey()
	if err != nil {
		return fail[model.DiagramArtifact](failure(err, MsgGenerate))
	}

	res, err := o.gen.Generate(ctx, req)
	if err != nil {
		o.logger.Error("generate diagram failed", "key", key.String(), "error", err)
		return fail[model.DiagramArtifact](failure(err, MsgGenerate))
	}

	artifact := model.DiagramArtifact{Diagram: res.Diagram, Explanation: res.Explanation}
	o.persistDiagram(ctx, key, artifact)
	o.logger.Info("diagram generated", "key", key.String(), "token_count", res.TokenCount)
	return ok(artifact)
}

// ModifyDiagram rewrites the cached diagram for req's repository, keeping the
// cached explanation. It fails without calling the backend when nothing is cached.
func (o *Orchestrator) ModifyDiagram(ctx context.Context, req model.GenerationRequest) Result[model.DiagramArtifact] {
	key, err := req.DiagramKey()
	if err != nil {
		return fail[model.DiagramArtifact](failure(err, MsgModify))
	}

	current, found, err := o.cache.DiagramPair(ctx, key)
	if err != nil {
		o.logger.Warn("cache read failed, treating as miss", "key", key.String(), "error", err)
	}
	if !found {
		return fail[model.DiagramArtifact](&Failure{
			Code:    model.CodeNoExistingArtifact,
			Message: MsgNoExisting,
			Err:     err,
		})
	}

	res, err := o.gen.Modify(ctx, req, current)
	if err != nil {
		o.logger.Error("modify diagram failed", "key", key.String(), "error", err)
		return fail[model.DiagramArtifact](failure(err, MsgModify))
	}

	artifact := model.DiagramArtifact{Diagram: res.Diagram, Explanation: current.Explanation}
	o.persistDiagram(ctx, key, artifact)
	return ok(artifact)
}

// EstimateCost asks the backend for a cost estimate. Estimates are never cached.
func (o *Orchestrator) EstimateCost(ctx context.Context, req model.GenerationRequest) Result[model.CostEstimate] {
	if _, err := req.DiagramKey(); err != nil {
		return fail[model.CostEstimate](failure(err, MsgCost))
	}
	res, err := o.gen.EstimateCost(ctx, req)
	if err != nil {
		o.logger.Error("estimate cost failed", "owner", req.Owner, "repo", req.Repo, "error", err)
		return fail[model.CostEstimate](failure(err, MsgCost))
	}
	return ok(*res)
}

// FetchAudio returns narrated audio for req's repository and audio length.
// A cached hit is honoured only with probability audioTrust; otherwise the
// audio is regenerated and re-cached so stale narration is refreshed over time.
func (o *Orchestrator) FetchAudio(ctx context.Context, req model.GenerationRequest) Result[model.AudioArtifact] {
	key, err := req.AudioKey()
	if err != nil {
		return fail[model.AudioArtifact](failure(err, MsgAudio))
	}

	if o.random() < o.audioTrust {
		cached, found, err := o.cache.AudioPair(ctx, key)
		switch {
		case err != nil:
			o.logger.Warn("cached audio unusable, regenerating", "key", key.String(), "error", err)
		case found:
			o.logger.Info("serving audio from cache", "key", key.String())
			return ok(cached)
		}
	}

	req.WantsAudio = true
	res, err := o.gen.GenerateAudio(ctx, req)
	if err != nil {
		o.logger.Error("generate audio failed", "key", key.String(), "error", err)
		return fail[model.AudioArtifact](failure(err, MsgAudio))
	}

	if err := o.cache.PutAudioPair(ctx, key, *res); err != nil {
		o.logger.Error("cache audio failed", "key", key.String(), "error", err)
	}
	return ok(*res)
}

// CachedDiagram returns the cached diagram and explanation without calling the backend.
func (o *Orchestrator) CachedDiagram(ctx context.Context, owner, repo string) Result[model.DiagramArtifact] {
	key, err := model.NewArtifactKey(owner, repo, "")
	if err != nil {
		return fail[model.DiagramArtifact](failure(err, MsgNotCached))
	}
	cached, found, err := o.cache.DiagramPair(ctx, key)
	if err != nil {
		o.logger.Warn("cache read failed, treating as miss", "key", key.String(), "error", err)
	}
	if !found {
		return fail[model.DiagramArtifact](&Failure{Code: perrors.CodeNotFound, Message: MsgNotCached, Err: err})
	}
	return ok(cached)
}

// persistDiagram writes the pair. A cache failure is logged and does not fail
// the call: the caller already has the generated artifact.
func (o *Orchestrator) persistDiagram(ctx context.Context, key model.ArtifactKey, a model.DiagramArtifact) {
	if err := o.cache.PutDiagramPair(ctx, key, a); err != nil {
		o.logger.Error("cache diagram failed", "key", key.String(), "error", err)
	}
}
