// Package pipeline wires the components into the one-way flow
// receivers -> normalizer -> detection -> filter -> alerts -> push,
// joined by bounded queues, and owns graceful shutdown: on cancellation
// queues are drained for up to 30 seconds and in-flight alerts are flushed
// to persistence before exit.
package pipeline

import (
	"context"
	"hash/fnv"
	"log/slog"
	"sync"
	"time"

	"github.com/ashisays/BITS-SIEM-sub001/internal/alert"
	"github.com/ashisays/BITS-SIEM-sub001/internal/detect"
	"github.com/ashisays/BITS-SIEM-sub001/internal/filter"
	"github.com/ashisays/BITS-SIEM-sub001/internal/ingest"
	"github.com/ashisays/BITS-SIEM-sub001/internal/model"
	"github.com/ashisays/BITS-SIEM-sub001/internal/normalize"
)

// drainTimeout bounds shutdown: queues drain for this long, then the
// remainder is abandoned.
const drainTimeout = 30 * time.Second

// laneDepth is the per-worker envelope queue between the router and one
// normalize worker.
const laneDepth = 256

// Pipeline joins the five components.
type Pipeline struct {
	Receiver *ingest.Receiver
	Norm     *normalize.Normalizer
	Engine   *detect.Engine
	Filter   *filter.Filter
	Alerts   *alert.Manager
	Log      *slog.Logger

	// NormalizerWorkers sets the parallelism of the normalize stage.
	// Envelopes are partitioned across workers by their attribution key,
	// so events for one (tenant, source) normalize in arrival order and
	// reach their detection shard in order.
	NormalizerWorkers int

	wg     sync.WaitGroup // candidate and whitelist consumers
	normWG sync.WaitGroup // normalize workers
}

// Run starts the pipeline and blocks until ctx is cancelled and the
// shutdown drain completes.
func (p *Pipeline) Run(ctx context.Context) error {
	engineCtx, stopEngine := context.WithCancel(context.Background())
	defer stopEngine()

	if err := p.Receiver.Start(ctx); err != nil {
		return err
	}
	p.Engine.Start(engineCtx)

	workers := p.NormalizerWorkers
	if workers < 1 {
		workers = 1
	}
	lanes := make([]chan *ingest.Envelope, workers)
	for i := range lanes {
		lanes[i] = make(chan *ingest.Envelope, laneDepth)
		p.normWG.Add(1)
		go p.normalizeLoop(engineCtx, lanes[i])
	}

	routerDone := make(chan struct{})
	go p.routeLoop(ctx, lanes, routerDone)

	p.wg.Add(1)
	go p.candidateLoop(ctx)

	p.wg.Add(1)
	go p.whitelistLoop(ctx)

	<-ctx.Done()
	<-routerDone
	p.shutdown(stopEngine, lanes)
	return nil
}

// routeLoop fans envelopes out to the normalize workers. Sends block when a
// lane is full, carrying backpressure through to the sockets.
func (p *Pipeline) routeLoop(ctx context.Context, lanes []chan *ingest.Envelope, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			return
		case env := <-p.Receiver.Events():
			p.route(env, lanes)
		}
	}
}

// route picks the lane for an envelope by hashing its attribution key.
func (p *Pipeline) route(env *ingest.Envelope, lanes []chan *ingest.Envelope) {
	h := fnv.New32a()
	h.Write([]byte(normalize.PartitionKey(env)))
	lanes[int(h.Sum32()%uint32(len(lanes)))] <- env
}

// normalizeLoop converts one lane's envelopes to events and routes them to
// detection. Runs until the lane closes.
func (p *Pipeline) normalizeLoop(engineCtx context.Context, lane <-chan *ingest.Envelope) {
	defer p.normWG.Done()
	for env := range lane {
		p.handleEnvelope(engineCtx, env)
	}
}

func (p *Pipeline) handleEnvelope(engineCtx context.Context, env *ingest.Envelope) {
	ev, ok := p.Norm.Normalize(env)
	if !ok {
		return
	}
	if ev.Kind == model.KindAuthSuccess {
		p.Filter.OnAuthSuccess(ev)
	}
	if err := p.Engine.Submit(engineCtx, ev); err != nil {
		p.Log.Warn("detection submit failed", "error", err)
	}
}

// candidateLoop filters candidates and hands survivors to the alert
// manager. Runs until the candidate channel closes.
func (p *Pipeline) candidateLoop(ctx context.Context) {
	defer p.wg.Done()
	for c := range p.Engine.Candidates() {
		dec := p.Filter.Decide(ctx, c)
		if dec.Action == filter.ActionSuppress {
			continue
		}
		p.Alerts.Ingest(ctx, dec.Candidate)
	}
}

// whitelistLoop grants earned dynamic whitelist entries.
func (p *Pipeline) whitelistLoop(ctx context.Context) {
	defer p.wg.Done()
	wl := p.Filter.Whitelists()
	for req := range p.Engine.WhitelistRequests() {
		wl.GrantDynamic(ctx, req.TenantID, req.SourceIP, req.TTL, time.Now())
	}
}

// shutdown routes the remaining ingest queue into the lanes, closes them so
// the workers finish in order, stops the shards, lets the filter and alert
// loops finish the remaining candidates, then flushes alerts to persistence.
func (p *Pipeline) shutdown(stopEngine context.CancelFunc, lanes []chan *ingest.Envelope) {
	p.Log.Info("pipeline draining", "timeout", drainTimeout)
	deadline := time.Now().Add(drainTimeout)

drain:
	for time.Now().Before(deadline) {
		select {
		case env := <-p.Receiver.Events():
			p.route(env, lanes)
		default:
			break drain
		}
	}
	for _, lane := range lanes {
		close(lane)
	}
	p.normWG.Wait()

	// Shards drain their queues on cancellation, closing the candidate
	// stream once the last queued event is scored.
	stopEngine()
	p.Engine.Wait()
	p.wg.Wait()

	flushCtx, cancelFlush := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelFlush()
	p.Alerts.Flush(flushCtx)
	p.Log.Info("pipeline stopped")
}
