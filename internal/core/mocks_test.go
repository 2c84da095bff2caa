package core

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"conduit/internal/config"
	"conduit/internal/convo"
	"conduit/internal/provider"
	"conduit/internal/types"
)

// --- mockRenderer ---

// mockRenderer records render callbacks for verification. Callbacks arrive on
// the kernel's sequencing goroutine; tests read under the mutex.
type mockRenderer struct {
	mu     sync.Mutex
	begins []string // item ids
	chunks []string
	firsts []bool // begin flag per chunk
	ends   []string
	audio  [][]byte
}

func (r *mockRenderer) RenderBegin(meta *convo.ContextMeta, item *convo.ContextItem) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.begins = append(r.begins, item.ID)
}

func (r *mockRenderer) RenderAppend(meta *convo.ContextMeta, item *convo.ContextItem, chunk string, begin bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.chunks = append(r.chunks, chunk)
	r.firsts = append(r.firsts, begin)
}

func (r *mockRenderer) RenderEnd(meta *convo.ContextMeta, item *convo.ContextItem) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ends = append(r.ends, meta.ID)
}

func (r *mockRenderer) PlayAudio(chunk []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.audio = append(r.audio, chunk)
}

func (r *mockRenderer) Chunks() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.chunks))
	copy(out, r.chunks)
	return out
}

func (r *mockRenderer) EndCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.ends)
}

// --- mockPersister ---

// mockPersister counts persistence calls; failures and per-update latency are
// injectable.
type mockPersister struct {
	mu          sync.Mutex
	saves       int
	added       []string
	updated     int
	metas       []string
	AddItemErr  error
	SaveErr     error
	UpdateErr   error
	ReplaceErr  error
	UpdateDelay time.Duration
}

func (p *mockPersister) Save(threadID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.saves++
	return p.SaveErr
}

func (p *mockPersister) AddItem(item *convo.ContextItem) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.added = append(p.added, item.ID)
	return p.AddItemErr
}

func (p *mockPersister) UpdateItem(item *convo.ContextItem) error {
	if p.UpdateDelay > 0 {
		time.Sleep(p.UpdateDelay)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.updated++
	return p.UpdateErr
}

func (p *mockPersister) ReplaceMeta(meta *convo.ContextMeta) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.metas = append(p.metas, meta.ID)
	return p.ReplaceErr
}

func (p *mockPersister) AddedItems() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.added))
	copy(out, p.added)
	return out
}

// --- scripted gateway ---

// scriptedGateway delegates to a function field, one per test.
type scriptedGateway struct {
	mode types.Mode
	call func(ctx context.Context, bc *convo.BridgeContext) provider.CallResult
}

func (g *scriptedGateway) Mode() types.Mode { return g.mode }

func (g *scriptedGateway) Call(ctx context.Context, bc *convo.BridgeContext) provider.CallResult {
	return g.call(ctx, bc)
}

// sliceStream yields fixed chunks then EOF.
type sliceStream struct {
	chunks []string
	pos    int
}

func (s *sliceStream) Recv() (provider.Delta, error) {
	if s.pos >= len(s.chunks) {
		return provider.Delta{}, io.EOF
	}
	c := s.chunks[s.pos]
	s.pos++
	return provider.Delta{Text: c}, nil
}

func (s *sliceStream) Usage() provider.Usage { return provider.Usage{} }

// --- kernel harness ---

type harness struct {
	t        *testing.T
	k        *Kernel
	renderer *mockRenderer
	store    *mockPersister
	cancel   context.CancelFunc
	done     chan error
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Kernel.WorkerSlots = 2
	cfg.Kernel.MailboxSize = 64
	cfg.Features.Stream = true
	cfg.Features.MaxTurns = 4
	return cfg
}

// newHarness starts a kernel over the given registry and tears it down with
// the test.
func newHarness(t *testing.T, registry *provider.Registry, experts *ExpertRegistry) *harness {
	return newHarnessCfg(t, registry, experts, testConfig(), &mockPersister{})
}

// newHarnessCfg is the harness variant for tests that tune the kernel config
// or the persistence double.
func newHarnessCfg(t *testing.T, registry *provider.Registry, experts *ExpertRegistry, cfg *config.Config, store *mockPersister) *harness {
	t.Helper()

	renderer := &mockRenderer{}
	k := New(Deps{
		Registry: registry,
		Store:    store,
		Renderer: renderer,
		Config:   cfg,
		Experts:  experts,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- k.Run(ctx) }()

	h := &harness{t: t, k: k, renderer: renderer, store: store, cancel: cancel, done: done}
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(3 * time.Second):
			t.Error("kernel did not shut down")
		}
	})
	return h
}

// waitFor polls until cond holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", msg)
}

// firstThread returns the single registered thread once input has created it.
func (h *harness) firstThread(threadID string) *convo.Thread {
	var th *convo.Thread
	waitFor(h.t, func() bool {
		th = h.k.Threads().Get(threadID)
		return th != nil
	}, "thread registration")
	return th
}
