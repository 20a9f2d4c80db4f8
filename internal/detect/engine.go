package detect

import (
	"context"
	"hash/fnv"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ashisays/BITS-SIEM-sub001/internal/config"
	"github.com/ashisays/BITS-SIEM-sub001/internal/metrics"
	"github.com/ashisays/BITS-SIEM-sub001/internal/model"
	"github.com/ashisays/BITS-SIEM-sub001/internal/store"
)

// successStreakThreshold successes within successStreakWindow earn a
// dynamic-whitelist request.
const (
	successStreakThreshold = 5
	successStreakWindow    = 24 * time.Hour
	dynamicWhitelistTTL    = 24 * time.Hour
)

// Engine fans security events across shards keyed by hash(tenant, source_ip).
// Each shard owns its slice of state exclusively; inter-shard ordering is not
// guaranteed, intra-shard ordering per (tenant, source_ip) is FIFO.
type Engine struct {
	cfg    config.DetectionConfig
	met    *metrics.Metrics
	log    *slog.Logger
	hot    store.HotStore // success streaks; nil disables dynamic whitelisting
	shards []*shard

	candidates chan *model.ThreatCandidate
	wlRequests chan DynamicWhitelistRequest

	// degraded is set while the hot store is failing; candidates scored in
	// that state carry halved confidence and a degraded flag.
	degraded atomic.Bool

	wg sync.WaitGroup
}

// DynamicWhitelistRequest is emitted when a source earns trust through
// sustained successful authentication. Keyed on source IP only: whitelisting
// by username would let an attacker earn trust by guessing one valid account.
type DynamicWhitelistRequest struct {
	TenantID string
	SourceIP string // canonical string form of the source address
	TTL      time.Duration
}

type shard struct {
	in    chan *model.SecurityEvent
	state map[string]*sourceState
}

// NewEngine builds the sharded detection engine. hot may be nil.
func NewEngine(cfg config.DetectionConfig, hot store.HotStore, met *metrics.Metrics, logger *slog.Logger) *Engine {
	n := cfg.ShardCount
	if n < 1 {
		n = 1
	}
	e := &Engine{
		cfg:        cfg,
		met:        met,
		log:        logger.With("component", "detect"),
		hot:        hot,
		shards:     make([]*shard, n),
		candidates: make(chan *model.ThreatCandidate, 1024),
		wlRequests: make(chan DynamicWhitelistRequest, 256),
	}
	for i := range e.shards {
		e.shards[i] = &shard{
			in:    make(chan *model.SecurityEvent, 4096),
			state: make(map[string]*sourceState),
		}
	}
	return e
}

// Candidates is the output stream consumed by the false-positive filter.
func (e *Engine) Candidates() <-chan *model.ThreatCandidate { return e.candidates }

// WhitelistRequests is the stream of earned dynamic-whitelist grants.
func (e *Engine) WhitelistRequests() <-chan DynamicWhitelistRequest { return e.wlRequests }

// Submit routes an event to its shard. Blocks when the shard queue is full,
// providing backpressure to the normalizer.
func (e *Engine) Submit(ctx context.Context, ev *model.SecurityEvent) error {
	sh := e.shards[e.shardFor(ev.TenantID, ev.SourceIP.String())]
	select {
	case sh.in <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Engine) shardFor(tenantID, sourceIP string) int {
	h := fnv.New32a()
	h.Write([]byte(tenantID))
	h.Write([]byte{0})
	h.Write([]byte(sourceIP))
	return int(h.Sum32() % uint32(len(e.shards)))
}

// Start launches one worker goroutine per shard plus the idle-state sweeper.
func (e *Engine) Start(ctx context.Context) {
	for _, sh := range e.shards {
		e.wg.Add(1)
		go e.runShard(ctx, sh)
	}
}

// Wait blocks until all shard workers have exited.
func (e *Engine) Wait() {
	e.wg.Wait()
	close(e.candidates)
	close(e.wlRequests)
}

func (e *Engine) runShard(ctx context.Context, sh *shard) {
	defer e.wg.Done()
	sweep := time.NewTicker(e.idleTTL() / 4)
	defer sweep.Stop()

	for {
		select {
		case <-ctx.Done():
			e.drain(sh)
			return
		case <-sweep.C:
			e.sweepIdle(sh, time.Now())
		case ev := <-sh.in:
			e.process(ctx, sh, ev)
		}
	}
}

// drain empties the shard queue on shutdown so events accepted by Submit are
// never silently lost. It runs under a fresh bounded context rather than the
// cancelled parent, so hot-store calls during the drain succeed and the
// remaining events are scored at full confidence.
func (e *Engine) drain(sh *shard) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for {
		select {
		case ev := <-sh.in:
			e.process(ctx, sh, ev)
		default:
			return
		}
	}
}

// idleTTL is 2x the widest detection window.
func (e *Engine) idleTTL() time.Duration {
	w := e.bfWindow()
	if ps := e.psWindow(); ps > w {
		w = ps
	}
	return 2 * w
}

func (e *Engine) bfWindow() time.Duration {
	return time.Duration(e.cfg.BFWindowSeconds) * time.Second
}

func (e *Engine) psWindow() time.Duration {
	return time.Duration(e.cfg.PSWindowSeconds) * time.Second
}

func (e *Engine) sweepIdle(sh *shard, now time.Time) {
	ttl := e.idleTTL()
	for key, st := range sh.state {
		if now.Sub(st.lastTouched) > ttl {
			delete(sh.state, key)
			e.met.StateEvictions.Inc()
		}
	}
}

func (e *Engine) process(ctx context.Context, sh *shard, ev *model.SecurityEvent) {
	key := store.Key(ev.TenantID, ev.SourceIP.String())
	st, ok := sh.state[key]
	if !ok {
		st = newSourceState()
		sh.state[key] = st
	}

	switch ev.Kind {
	case model.KindAuthFailure:
		e.onAuthFailure(st, ev)
	case model.KindAuthSuccess:
		e.onAuthSuccess(ctx, st, ev)
	case model.KindPortAccess:
		e.onPortAccess(st, ev)
	}
}

// emit publishes a candidate, applying degradation if the hot store is down.
func (e *Engine) emit(c *model.ThreatCandidate) {
	if e.degraded.Load() {
		c.Confidence *= 0.5
		c.Degraded = true
		e.met.DegradedCandidates.WithLabelValues(c.TenantID).Inc()
	}
	c.Confidence = math.Min(1, c.Confidence)
	e.met.CandidatesProduced.WithLabelValues(c.TenantID, string(c.Kind)).Inc()
	select {
	case e.candidates <- c:
	default:
		// The filter has stalled; dropping the candidate is preferable to
		// stalling every shard. The next window escalation re-emits.
		e.log.Warn("candidate queue full, dropping", "tenant", c.TenantID, "kind", string(c.Kind))
	}
}
