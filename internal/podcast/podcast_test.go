package podcast

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/rand/v2"
	"sync"
	"testing"

	perrors "github.com/jmgilman/go/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yangwenmai/gitpodcast/internal/backend"
	"github.com/yangwenmai/gitpodcast/internal/cache"
	"github.com/yangwenmai/gitpodcast/internal/model"
	"github.com/yangwenmai/gitpodcast/internal/store"
)

// fakeGenerator records calls and returns canned results or a fixed error.
type fakeGenerator struct {
	mu       sync.Mutex
	calls    map[string]int
	err      error
	diagram  string
	explain  string
	audio    []byte
	vtt      string
	lastReq  model.GenerationRequest
	lastCurr model.DiagramArtifact
}

func newFakeGenerator() *fakeGenerator {
	return &fakeGenerator{calls: map[string]int{}, diagram: "D", explain: "E", audio: []byte("ID3-fresh"), vtt: "WEBVTT fresh"}
}

func (f *fakeGenerator) record(op string, req model.GenerationRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[op]++
	f.lastReq = req
	return f.err
}

func (f *fakeGenerator) count(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

func (f *fakeGenerator) total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		n += c
	}
	return n
}

func (f *fakeGenerator) Generate(_ context.Context, req model.GenerationRequest) (*backend.GenerateResult, error) {
	if err := f.record("generate", req); err != nil {
		return nil, err
	}
	return &backend.GenerateResult{Diagram: f.diagram, Explanation: f.explain, TokenCount: 7}, nil
}

func (f *fakeGenerator) Modify(_ context.Context, req model.GenerationRequest, current model.DiagramArtifact) (*backend.ModifyResult, error) {
	if err := f.record("modify", req); err != nil {
		return nil, err
	}
	f.lastCurr = current
	return &backend.ModifyResult{Diagram: current.Diagram + "+" + req.Instructions}, nil
}

func (f *fakeGenerator) EstimateCost(_ context.Context, req model.GenerationRequest) (*model.CostEstimate, error) {
	if err := f.record("cost", req); err != nil {
		return nil, err
	}
	return &model.CostEstimate{Cost: "$0.01"}, nil
}

func (f *fakeGenerator) GenerateAudio(_ context.Context, req model.GenerationRequest) (*model.AudioArtifact, error) {
	if err := f.record("audio", req); err != nil {
		return nil, err
	}
	return &model.AudioArtifact{Audio: f.audio, Subtitles: f.vtt}, nil
}

// flakyKV fails reads or writes on demand and counts every call.
type flakyKV struct {
	store.KV
	getErr error
	putErr error
	mu     sync.Mutex
	reads  int
	writes int
}

func (k *flakyKV) Get(ctx context.Context, key store.EntryKey) (string, bool, error) {
	k.mu.Lock()
	k.reads++
	k.mu.Unlock()
	if k.getErr != nil {
		return "", false, k.getErr
	}
	return k.KV.Get(ctx, key)
}

func (k *flakyKV) PutAll(ctx context.Context, entries []store.Entry) error {
	k.mu.Lock()
	k.writes++
	k.mu.Unlock()
	if k.putErr != nil {
		return k.putErr
	}
	return k.KV.PutAll(ctx, entries)
}

type harness struct {
	orch  *Orchestrator
	gen   *fakeGenerator
	kv    *flakyKV
	cache *cache.Client
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	kv := &flakyKV{KV: store.NewMemory()}
	c := cache.New(kv)
	gen := newFakeGenerator()
	opts = append([]Option{WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))}, opts...)
	return &harness{orch: New(c, gen, opts...), gen: gen, kv: kv, cache: c}
}

func diagramKey(t *testing.T, owner, repo string) model.ArtifactKey {
	t.Helper()
	k, err := model.NewArtifactKey(owner, repo, "")
	require.NoError(t, err)
	return k
}

func assertPaired(t *testing.T, h *harness, k model.ArtifactKey) {
	t.Helper()
	_, hasD, err := h.cache.Diagram(context.Background(), k)
	require.NoError(t, err)
	_, hasE, err := h.cache.Explanation(context.Background(), k)
	require.NoError(t, err)
	assert.Equal(t, hasD, hasE, "diagram and explanation must be both present or both absent")
}

func TestFetchDiagram_EmptyCache(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	k := diagramKey(t, "alice", "repo1")

	res := h.orch.FetchDiagram(ctx, model.GenerationRequest{Owner: "alice", Repo: "repo1"})
	require.True(t, res.OK(), "failure: %v", res.Failure)
	assert.Equal(t, "D", res.Value.Diagram)
	assert.Equal(t, 1, h.gen.count("generate"))

	d, ok, err := h.cache.Diagram(ctx, k)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "D", d)

	e, ok, err := h.cache.Explanation(ctx, k)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "E", e)
	assertPaired(t, h, k)
}

func TestFetchDiagram_DoesNotReadCache(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	k := diagramKey(t, "alice", "repo1")
	require.NoError(t, h.cache.PutDiagramPair(ctx, k, model.DiagramArtifact{Diagram: "old", Explanation: "old-e"}))
	h.kv.reads = 0

	res := h.orch.FetchDiagram(ctx, model.GenerationRequest{Owner: "alice", Repo: "repo1"})
	require.True(t, res.OK())
	assert.Equal(t, "D", res.Value.Diagram)
	assert.Zero(t, h.kv.reads)
	assert.Equal(t, 1, h.gen.count("generate"))
}

func TestFetchDiagram_RateLimited(t *testing.T) {
	h := newHarness(t)
	h.gen.err = perrors.New(model.CodeRateLimited, "rate limit exceeded")

	res := h.orch.FetchDiagram(context.Background(), model.GenerationRequest{Owner: "alice", Repo: "repo1"})
	require.False(t, res.OK())
	assert.True(t, res.Failure.RateLimited())
	assert.Equal(t, MsgRateLimited, res.Failure.Message)
	assert.Zero(t, h.kv.writes)
	assertPaired(t, h, diagramKey(t, "alice", "repo1"))
}

func TestFetchDiagram_BackendErrors(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		wantMsg string
		wantKey bool
	}{
		{
			name:    "transport",
			err:     perrors.Wrap(errors.New("dial tcp: refused"), model.CodeTransport, "backend unreachable"),
			wantMsg: MsgGenerate,
		},
		{
			name:    "malformed payload",
			err:     perrors.New(model.CodeBackend, "response has no diagram"),
			wantMsg: MsgGenerate,
		},
		{
			name: "backend message",
			err: perrors.WithContextMap(perrors.New(model.CodeBackend, "Repository too large"), map[string]interface{}{
				model.ContextBackendMessage: "Repository too large",
				model.ContextRequiresAPIKey: true,
			}),
			wantMsg: "Repository too large",
			wantKey: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.gen.err = tt.err

			res := h.orch.FetchDiagram(context.Background(), model.GenerationRequest{Owner: "alice", Repo: "repo1"})
			require.False(t, res.OK())
			assert.Equal(t, tt.wantMsg, res.Failure.Message)
			assert.Equal(t, tt.wantKey, res.Failure.RequiresAPIKey)
			assert.False(t, res.Failure.RateLimited())
			assert.Zero(t, h.kv.writes)
		})
	}
}

func TestFetchDiagram_CacheWriteFailureStillReturns(t *testing.T) {
	h := newHarness(t)
	h.kv.putErr = errors.New("database is locked")

	res := h.orch.FetchDiagram(context.Background(), model.GenerationRequest{Owner: "alice", Repo: "repo1"})
	require.True(t, res.OK())
	assert.Equal(t, "D", res.Value.Diagram)
	assertPaired(t, h, diagramKey(t, "alice", "repo1"))
}

func TestModifyDiagram(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	k := diagramKey(t, "alice", "repo1")
	require.NoError(t, h.cache.PutDiagramPair(ctx, k, model.DiagramArtifact{Diagram: "D", Explanation: "E"}))

	res := h.orch.ModifyDiagram(ctx, model.GenerationRequest{Owner: "alice", Repo: "repo1", Instructions: "zoom"})
	require.True(t, res.OK(), "failure: %v", res.Failure)
	assert.Equal(t, "D+zoom", res.Value.Diagram)
	assert.Equal(t, model.DiagramArtifact{Diagram: "D", Explanation: "E"}, h.gen.lastCurr)

	got, ok, err := h.cache.DiagramPair(ctx, k)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, model.DiagramArtifact{Diagram: "D+zoom", Explanation: "E"}, got)
}

func TestModifyDiagram_NoExistingArtifact(t *testing.T) {
	h := newHarness(t)

	res := h.orch.ModifyDiagram(context.Background(), model.GenerationRequest{Owner: "alice", Repo: "repo1", Instructions: "zoom"})
	require.False(t, res.OK())
	assert.Equal(t, model.CodeNoExistingArtifact, res.Failure.Code)
	assert.Equal(t, MsgNoExisting, res.Failure.Message)
	assert.Zero(t, h.gen.total())
}

func TestModifyDiagram_EmptyExplanationIsMissing(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.cache.PutDiagramPair(ctx, diagramKey(t, "alice", "repo1"), model.DiagramArtifact{Diagram: "D"}))

	res := h.orch.ModifyDiagram(ctx, model.GenerationRequest{Owner: "alice", Repo: "repo1", Instructions: "zoom"})
	require.False(t, res.OK())
	assert.Equal(t, model.CodeNoExistingArtifact, res.Failure.Code)
	assert.Zero(t, h.gen.total())
}

func TestModifyDiagram_CacheReadFailure(t *testing.T) {
	h := newHarness(t)
	h.kv.getErr = errors.New("connection refused")

	res := h.orch.ModifyDiagram(context.Background(), model.GenerationRequest{Owner: "alice", Repo: "repo1"})
	require.False(t, res.OK())
	assert.Equal(t, model.CodeNoExistingArtifact, res.Failure.Code)
	assert.Zero(t, h.gen.total())
}

func TestModifyDiagram_RateLimitedKeepsCache(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	k := diagramKey(t, "alice", "repo1")
	require.NoError(t, h.cache.PutDiagramPair(ctx, k, model.DiagramArtifact{Diagram: "D", Explanation: "E"}))
	writes := h.kv.writes
	h.gen.err = perrors.New(model.CodeRateLimited, "rate limit exceeded")

	res := h.orch.ModifyDiagram(ctx, model.GenerationRequest{Owner: "alice", Repo: "repo1"})
	require.False(t, res.OK())
	assert.True(t, res.Failure.RateLimited())
	assert.Equal(t, writes, h.kv.writes)

	got, _, _ := h.cache.DiagramPair(ctx, k)
	assert.Equal(t, "D", got.Diagram)
}

func TestEstimateCost(t *testing.T) {
	h := newHarness(t)

	res := h.orch.EstimateCost(context.Background(), model.GenerationRequest{Owner: "alice", Repo: "repo1"})
	require.True(t, res.OK())
	assert.Equal(t, "$0.01", res.Value.Cost)
	assert.Zero(t, h.kv.writes)
	assert.Zero(t, h.kv.reads)

	h.gen.err = perrors.New(model.CodeBackend, "no")
	res = h.orch.EstimateCost(context.Background(), model.GenerationRequest{Owner: "alice", Repo: "repo1"})
	require.False(t, res.OK())
	assert.Equal(t, MsgCost, res.Failure.Message)
}

func audioReq(length model.AudioLength) model.GenerationRequest {
	return model.GenerationRequest{Owner: "alice", Repo: "repo1", AudioLength: length}
}

func seedAudio(t *testing.T, h *harness, length model.AudioLength) {
	t.Helper()
	k, err := model.NewArtifactKey("alice", "repo1", string(length))
	require.NoError(t, err)
	require.NoError(t, h.cache.PutAudioPair(context.Background(), k, model.AudioArtifact{Audio: []byte("ID3-cached"), Subtitles: "WEBVTT cached"}))
}

func TestFetchAudio_TrustedHit(t *testing.T) {
	h := newHarness(t, WithRandom(func() float64 { return 0.1 }))
	seedAudio(t, h, model.AudioShort)

	res := h.orch.FetchAudio(context.Background(), audioReq(model.AudioShort))
	require.True(t, res.OK())
	assert.Equal(t, []byte("ID3-cached"), res.Value.Audio)
	assert.Equal(t, "WEBVTT cached", res.Value.Subtitles)
	assert.Zero(t, h.gen.total())
}

func TestFetchAudio_UntrustedHitRegenerates(t *testing.T) {
	h := newHarness(t, WithRandom(func() float64 { return 0.95 }))
	seedAudio(t, h, model.AudioShort)

	res := h.orch.FetchAudio(context.Background(), audioReq(model.AudioShort))
	require.True(t, res.OK())
	assert.Equal(t, []byte("ID3-fresh"), res.Value.Audio)
	assert.Equal(t, 1, h.gen.count("audio"))
	assert.True(t, h.gen.lastReq.WantsAudio)

	k, _ := model.NewArtifactKey("alice", "repo1", "short")
	got, ok, err := h.cache.AudioPair(context.Background(), k)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("ID3-fresh"), got.Audio)
	assert.Equal(t, "WEBVTT fresh", got.Subtitles)
}

func TestFetchAudio_MissGeneratesAndCaches(t *testing.T) {
	h := newHarness(t, WithRandom(func() float64 { return 0 }))

	first := h.orch.FetchAudio(context.Background(), audioReq(model.AudioLong))
	require.True(t, first.OK())
	second := h.orch.FetchAudio(context.Background(), audioReq(model.AudioLong))
	require.True(t, second.OK())

	assert.Equal(t, 1, h.gen.count("audio"))
	assert.Equal(t, first.Value, second.Value)
}

func TestFetchAudio_CachedWithoutSubtitlesRegenerates(t *testing.T) {
	h := newHarness(t, WithRandom(func() float64 { return 0 }))
	h.gen.vtt = ""

	first := h.orch.FetchAudio(context.Background(), audioReq(model.AudioShort))
	require.True(t, first.OK())
	second := h.orch.FetchAudio(context.Background(), audioReq(model.AudioShort))
	require.True(t, second.OK())

	assert.Equal(t, 2, h.gen.count("audio"))
}

func TestFetchAudio_TiersAreSeparate(t *testing.T) {
	h := newHarness(t, WithRandom(func() float64 { return 0 }))
	seedAudio(t, h, model.AudioShort)

	res := h.orch.FetchAudio(context.Background(), audioReq(model.AudioLong))
	require.True(t, res.OK())
	assert.Equal(t, []byte("ID3-fresh"), res.Value.Audio)
	assert.Equal(t, model.AudioLong, h.gen.lastReq.AudioLength)
}

func TestFetchAudio_CorruptCacheFallsThrough(t *testing.T) {
	h := newHarness(t, WithRandom(func() float64 { return 0 }))
	ctx := context.Background()
	h.kv.KV.Put(ctx, store.EntryKey{Namespace: model.NamespaceAudio, Owner: "alice", Repo: "repo1|short"}, "!!corrupt!!")
	h.kv.KV.Put(ctx, store.EntryKey{Namespace: model.NamespaceSubtitle, Owner: "alice", Repo: "repo1|short"}, "WEBVTT")

	res := h.orch.FetchAudio(ctx, audioReq(model.AudioShort))
	require.True(t, res.OK())
	assert.Equal(t, []byte("ID3-fresh"), res.Value.Audio)
	assert.Equal(t, 1, h.gen.count("audio"))
}

func TestFetchAudio_CacheReadFailureFallsThrough(t *testing.T) {
	h := newHarness(t, WithRandom(func() float64 { return 0 }))
	h.kv.getErr = errors.New("timeout")

	res := h.orch.FetchAudio(context.Background(), audioReq(model.AudioShort))
	require.True(t, res.OK())
	assert.Equal(t, 1, h.gen.count("audio"))
}

func TestFetchAudio_RateLimitedNoWrite(t *testing.T) {
	h := newHarness(t, WithRandom(func() float64 { return 0.99 }))
	h.gen.err = perrors.New(model.CodeRateLimited, "rate limit exceeded")

	res := h.orch.FetchAudio(context.Background(), audioReq(model.AudioShort))
	require.False(t, res.OK())
	assert.True(t, res.Failure.RateLimited())
	assert.Equal(t, MsgRateLimited, res.Failure.Message)
	assert.Zero(t, h.kv.writes)
}

func TestFetchAudio_BackendFailureMessage(t *testing.T) {
	h := newHarness(t, WithRandom(func() float64 { return 0.99 }))
	h.gen.err = perrors.Wrap(errors.New("EOF"), model.CodeTransport, "backend unreachable")

	res := h.orch.FetchAudio(context.Background(), audioReq(model.AudioShort))
	require.False(t, res.OK())
	assert.Equal(t, MsgAudio, res.Failure.Message)
	assert.Equal(t, model.CodeTransport, res.Failure.Code)
}

func TestFetchAudio_FreshnessSampling(t *testing.T) {
	r := rand.New(rand.NewPCG(2024, 10))
	h := newHarness(t, WithRandom(r.Float64))
	seedAudio(t, h, model.AudioShort)

	const n = 2000
	for i := 0; i < n; i++ {
		res := h.orch.FetchAudio(context.Background(), audioReq(model.AudioShort))
		require.True(t, res.OK())
	}

	backendFraction := float64(h.gen.count("audio")) / n
	cacheFraction := 1 - backendFraction
	assert.InDelta(t, DefaultAudioTrust, cacheFraction, 0.03)
	assert.InDelta(t, 1-DefaultAudioTrust, backendFraction, 0.03)
}

func TestFetchAudio_CustomTrust(t *testing.T) {
	h := newHarness(t, WithAudioTrust(0), WithRandom(func() float64 { return 0 }))
	seedAudio(t, h, model.AudioShort)

	res := h.orch.FetchAudio(context.Background(), audioReq(model.AudioShort))
	require.True(t, res.OK())
	assert.Equal(t, 1, h.gen.count("audio"), "trust 0 must always regenerate")
}

func TestInvalidKey_NoCalls(t *testing.T) {
	h := newHarness(t, WithRandom(func() float64 { return 0 }))
	ctx := context.Background()

	audio := h.orch.FetchAudio(ctx, model.GenerationRequest{Owner: "alice", Repo: "repo1", AudioLength: "a|b"})
	require.False(t, audio.OK())
	assert.Equal(t, model.CodeInvalidKey, audio.Failure.Code)

	diagram := h.orch.FetchDiagram(ctx, model.GenerationRequest{Owner: "", Repo: "repo1"})
	require.False(t, diagram.OK())
	assert.Equal(t, model.CodeInvalidKey, diagram.Failure.Code)

	modify := h.orch.ModifyDiagram(ctx, model.GenerationRequest{Owner: "alice", Repo: "re|po"})
	require.False(t, modify.OK())
	assert.Equal(t, model.CodeInvalidKey, modify.Failure.Code)

	assert.Zero(t, h.gen.total())
	assert.Zero(t, h.kv.reads)
	assert.Zero(t, h.kv.writes)
}

func TestCachedDiagram(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	miss := h.orch.CachedDiagram(ctx, "alice", "repo1")
	require.False(t, miss.OK())
	assert.Equal(t, perrors.CodeNotFound, miss.Failure.Code)

	require.True(t, h.orch.FetchDiagram(ctx, model.GenerationRequest{Owner: "alice", Repo: "repo1"}).OK())

	hit := h.orch.CachedDiagram(ctx, "alice", "repo1")
	require.True(t, hit.OK())
	assert.Equal(t, model.DiagramArtifact{Diagram: "D", Explanation: "E"}, hit.Value)
	assert.Equal(t, 1, h.gen.total())
}

func TestConcurrentMissesBothWrite(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res := h.orch.FetchDiagram(ctx, model.GenerationRequest{Owner: "alice", Repo: "repo1"})
			assert.True(t, res.OK())
		}()
	}
	wg.Wait()

	assert.Equal(t, 4, h.gen.count("generate"))
	got, ok, err := h.cache.DiagramPair(ctx, diagramKey(t, "alice", "repo1"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "D", got.Diagram)
}
