package orchestrator

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/godseye/insight/internal/analysis"
)

// DefaultAutoAnalysisInterval is the minimum spacing between automatic
// analyses in one context.
const DefaultAutoAnalysisInterval = 30 * time.Second

// pageContext is the per-context slice of orchestrator state: the
// single-flight guard, the automatic-analysis throttle and the last result
// keyed by its content digest.
type pageContext struct {
	ctx    context.Context
	cancel context.CancelFunc

	busy     atomic.Bool
	throttle *rate.Limiter

	mu         sync.Mutex
	lastDigest string
	lastResult analysis.Result
	hasLast    bool
}

// lastFor returns the remembered result when the digest matches the content
// last analyzed in this context. An empty digest never matches.
func (pc *pageContext) lastFor(digest string) (analysis.Result, bool) {
	if digest == "" {
		return analysis.Result{}, false
	}
	pc.mu.Lock()
	defer pc.mu.Unlock()
	if !pc.hasLast || pc.lastDigest != digest {
		return analysis.Result{}, false
	}
	return pc.lastResult, true
}

func (pc *pageContext) remember(digest string, result analysis.Result) {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	pc.lastDigest = digest
	pc.lastResult = result
	pc.hasLast = true
}

// registry owns the live contexts. Contexts are created on first use and
// discarded on teardown; discarding cancels the context's pending follow-ups.
type registry struct {
	mu       sync.Mutex
	contexts map[string]*pageContext
	interval time.Duration
}

func newRegistry() *registry {
	return &registry{
		contexts: make(map[string]*pageContext),
		interval: DefaultAutoAnalysisInterval,
	}
}

func (r *registry) acquire(id string) *pageContext {
	r.mu.Lock()
	defer r.mu.Unlock()
	if pc, ok := r.contexts[id]; ok {
		return pc
	}
	ctx, cancel := context.WithCancel(context.Background())
	pc := &pageContext{
		ctx:      ctx,
		cancel:   cancel,
		throttle: rate.NewLimiter(rate.Every(r.interval), 1),
	}
	r.contexts[id] = pc
	return pc
}

func (r *registry) remove(id string) {
	r.mu.Lock()
	pc, ok := r.contexts[id]
	delete(r.contexts, id)
	r.mu.Unlock()
	if ok {
		pc.cancel()
	}
}

func (r *registry) clear() {
	r.mu.Lock()
	all := r.contexts
	r.contexts = make(map[string]*pageContext)
	r.mu.Unlock()
	for _, pc := range all {
		pc.cancel()
	}
}

func (r *registry) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.contexts)
}
