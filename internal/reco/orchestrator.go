// Shelfwise - On-device game recommendation engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shelfwise

package reco

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/tomtom215/shelfwise/internal/bandit"
	"github.com/tomtom215/shelfwise/internal/embedding"
	"github.com/tomtom215/shelfwise/internal/logging"
	"github.com/tomtom215/shelfwise/internal/metrics"
)

// State is the orchestrator lifecycle state.
type State string

// Orchestrator states.
const (
	StateIdle      State = "idle"
	StateComputing State = "computing"
	StateDone      State = "done"
	StateError     State = "error"
)

// Pipeline stages reported while computing. Worker stages are reported as
// the worker names them.
const (
	StageStarting   = "starting"
	StageGathering  = "gathering"
	StageCandidates = "candidates"
	StageEmbeddings = "embeddings"
	StageEnrichment = "enrichment"
	StageCentroid   = "centroid"
	StageScoring    = "scoring"
	StageDone       = "done"
	StageError      = "error"
)

// Status is a point-in-time view of the orchestrator.
type Status struct {
	State   State   `json:"state"`
	Stage   string  `json:"stage"`
	Percent int     `json:"percent"`
	Message string  `json:"message,omitempty"`
	JobID   string  `json:"jobId,omitempty"`
	Result  *Result `json:"result,omitempty"`
}

// TagSource resolves catalog tag ids for enrichment text.
type TagSource interface {
	TagNames(ctx context.Context) map[int]string
}

// Deps are the orchestrator's collaborators. Embeddings, Tags, and Bandit
// may be nil.
type Deps struct {
	Library    Library
	Embeddings *embedding.Cache
	Assembler  *Assembler
	Tags       TagSource
	Dismissed  *DismissedStore
	Results    *ResultCache
	Bandit     *bandit.Bandit
	Worker     Handler
}

// Orchestrator runs recommendation computations one at a time.
type Orchestrator struct {
	cfg    Config
	deps   Deps
	pubsub *gochannel.GoChannel
	logger zerolog.Logger
	now    func() time.Time

	mu          sync.Mutex
	status      Status
	run         uint64
	cancel      context.CancelFunc
	subscribers map[int]func(Status)
	nextSub     int
}

// NewOrchestrator creates an idle orchestrator.
//
//nolint:gocritic // logger passed by value is acceptable for zerolog
func NewOrchestrator(cfg Config, deps Deps, logger zerolog.Logger) *Orchestrator {
	logger = logger.With().Str("component", "orchestrator").Logger()
	ps := gochannel.NewGoChannel(gochannel.Config{
		OutputChannelBuffer:            64,
		BlockPublishUntilSubscriberAck: true,
	}, logging.NewWatermillAdapter(logger))

	return &Orchestrator{
		cfg:         cfg,
		deps:        deps,
		pubsub:      ps,
		logger:      logger,
		now:         time.Now,
		status:      Status{State: StateIdle},
		subscribers: make(map[int]func(Status)),
	}
}

// Status returns the current status.
func (o *Orchestrator) Status() Status {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.status
}

// Subscribe registers fn for every status change and returns a function
// that removes it. fn runs synchronously and must not call back into the
// orchestrator's mutating methods.
func (o *Orchestrator) Subscribe(fn func(Status)) func() {
	o.mu.Lock()
	id := o.nextSub
	o.nextSub++
	o.subscribers[id] = fn
	o.mu.Unlock()

	return func() {
		o.mu.Lock()
		delete(o.subscribers, id)
		o.mu.Unlock()
	}
}

// setLocked replaces the status and returns the listeners to notify.
func (o *Orchestrator) setLocked(s Status) []func(Status) {
	o.status = s
	subs := make([]func(Status), 0, len(o.subscribers))
	for _, fn := range o.subscribers {
		subs = append(subs, fn)
	}
	return subs
}

func notify(subs []func(Status), s Status) {
	for _, fn := range subs {
		fn(s)
	}
}

// update applies fn to the status if run is still the active run.
func (o *Orchestrator) update(run uint64, fn func(*Status)) {
	o.mu.Lock()
	if o.run != run || o.status.State != StateComputing {
		o.mu.Unlock()
		return
	}
	s := o.status
	fn(&s)
	subs := o.setLocked(s)
	o.mu.Unlock()
	notify(subs, s)
}

func (o *Orchestrator) setStage(run uint64, stage string, percent int) {
	o.update(run, func(s *Status) {
		s.Stage = stage
		s.Percent = percent
	})
}

// finish moves run to a terminal state unless it was superseded.
func (o *Orchestrator) finish(run uint64, s Status) bool {
	o.mu.Lock()
	if o.run != run {
		o.mu.Unlock()
		return false
	}
	o.cancel = nil
	subs := o.setLocked(s)
	o.mu.Unlock()
	notify(subs, s)
	return true
}

// Compute runs one computation and blocks until it finishes. It returns
// ErrAlreadyComputing when another computation is running. A fresh cached
// result is restored without running the worker.
func (o *Orchestrator) Compute(ctx context.Context) error {
	o.mu.Lock()
	if o.status.State == StateComputing {
		o.mu.Unlock()
		metrics.RecordCompute("rejected", 0)
		return ErrAlreadyComputing
	}
	o.run++
	run := o.run
	runCtx, cancel := context.WithCancel(ctx)
	o.cancel = cancel
	jobID := uuid.NewString()
	s := Status{State: StateComputing, Stage: StageStarting, JobID: jobID}
	subs := o.setLocked(s)
	o.mu.Unlock()
	notify(subs, s)
	defer cancel()

	runCtx = logging.WithRun(runCtx, o.logger, jobID)
	log := logging.Ctx(runCtx)

	start := time.Now()
	res, cached, err := o.execute(runCtx, run, jobID)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			o.finish(run, Status{State: StateIdle})
			return err
		}
		err = Classify(err)
		log.Error().Err(err).Dur("elapsed", time.Since(start)).Msg("recommendation compute failed")
		o.finish(run, Status{State: StateError, Stage: StageError, JobID: jobID, Message: UserMessage(err)})
		metrics.RecordCompute("error", time.Since(start))
		return err
	}

	outcome := "done"
	if cached {
		outcome = "cached"
	}
	if o.finish(run, Status{State: StateDone, Stage: StageDone, Percent: 100, JobID: jobID, Result: res}) {
		metrics.RecordCompute(outcome, time.Since(start))
		log.Info().
			Str("outcome", outcome).
			Int("shelves", len(res.Shelves)).
			Int("candidates", res.CandidateCount).
			Dur("elapsed", time.Since(start)).
			Msg("recommendations ready")
	}
	return nil
}

// Start runs Compute in the background.
func (o *Orchestrator) Start(ctx context.Context) {
	go func() {
		if err := o.Compute(ctx); err != nil && !errors.Is(err, ErrAlreadyComputing) && !errors.Is(err, context.Canceled) {
			o.logger.Debug().Err(err).Msg("background compute ended with error")
		}
	}()
}

func (o *Orchestrator) execute(ctx context.Context, run uint64, jobID string) (*Result, bool, error) {
	log := logging.Ctx(ctx)

	if o.deps.Results != nil {
		if res, ok := o.deps.Results.Get(ctx); ok {
			log.Info().Int("shelves", len(res.Shelves)).Msg("restored cached recommendations")
			return res, true, nil
		}
	}
	started := o.now()

	o.setStage(run, StageGathering, 5)
	var games []UserGame
	if o.deps.Library != nil {
		var err error
		games, err = o.deps.Library.Games(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil, false, ctx.Err()
			}
			log.Warn().Err(err).Msg("library read failed, continuing with an empty library")
			games = nil
		}
	}

	emb := o.deps.Embeddings
	var vectors *embedding.Vectors
	if emb != nil {
		vectors = emb.Vectors()
		for _, tier := range embedding.Tiers {
			if _, err := emb.LoadCached(ctx, tier, false); err != nil {
				log.Warn().Err(err).Str("tier", string(tier)).Msg("failed to load cached embeddings")
			}
		}
	}
	snaps := BuildSnapshots(games, vectors, started)

	var dismissed []string
	if o.deps.Dismissed != nil {
		ids, err := o.deps.Dismissed.IDs(ctx)
		if err != nil {
			log.Warn().Err(err).Msg("failed to read dismissed games")
		}
		dismissed = ids
	}
	exclude := make(map[string]struct{}, len(games)+len(dismissed))
	for i := range games {
		exclude[games[i].ID] = struct{}{}
	}
	for _, id := range dismissed {
		exclude[id] = struct{}{}
	}

	o.setStage(run, StageCandidates, 15)
	pool := &Pool{}
	if o.deps.Assembler != nil {
		pool = o.deps.Assembler.Assemble(ctx, snaps, exclude)
	}
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	if emb != nil && emb.IsAvailable(ctx) {
		o.setStage(run, StageEmbeddings, 25)
		docs := make([]embedding.Document, 0, len(games))
		for i := range games {
			docs = append(docs, games[i].Document())
		}
		n, err := emb.GenerateMissing(ctx, docs, embedding.TierLibrary, nil)
		if err != nil && ctx.Err() != nil {
			return nil, false, ctx.Err()
		}
		if n > 0 {
			snaps = BuildSnapshots(games, vectors, started)
		}

		o.setStage(run, StageEnrichment, 35)
		if err := o.enrich(ctx, pool.Candidates, vectors); err != nil {
			return nil, false, err
		}
	}

	o.setStage(run, StageCentroid, 45)
	coverage := embeddingCoverage(snaps)
	centroid := TasteCentroid(WeightedVectors(snaps))
	candidates := capCandidates(pool.Candidates, o.cfg.MaxWorkerCandidates)

	job := &Job{
		JobID:             jobID,
		UserGames:         snaps,
		Candidates:        candidates,
		Now:               started.UnixMilli(),
		CurrentHour:       started.Hour(),
		EmbeddingCoverage: coverage,
		DismissedGameIDs:  dismissed,
		TasteCentroid:     centroid,
	}
	log.Debug().
		Int("library", len(snaps)).
		Int("candidates", len(candidates)).
		Float64("coverage", coverage).
		Bool("centroid", centroid != nil).
		Msg("dispatching job to worker")

	o.setStage(run, StageScoring, 50)
	wres, err := o.runWorker(ctx, run, job)
	if err != nil {
		return nil, false, err
	}

	shelves := wres.Shelves
	if o.deps.Bandit != nil {
		shelves = bandit.ReorderShelves(o.deps.Bandit, shelves, func(s *Shelf) (string, bool) {
			return s.Category, s.Pinned
		})
	}

	res := &Result{
		Shelves:        shelves,
		TasteProfile:   wres.TasteProfile,
		ComputeTimeMs:  o.now().Sub(started).Milliseconds(),
		LastComputed:   o.now().UnixMilli(),
		LibraryCount:   len(games),
		CandidateCount: len(candidates),
	}
	if o.deps.Results != nil {
		if err := o.deps.Results.Put(ctx, res); err != nil {
			log.Warn().Err(err).Msg("failed to cache recommendations")
		}
	}
	return res, false, nil
}

// enrich embeds up to EnrichmentCap candidates that have no vector and
// attaches the new vectors.
func (o *Orchestrator) enrich(ctx context.Context, cands []Candidate, vectors *embedding.Vectors) error {
	if o.cfg.EnrichmentCap <= 0 || vectors == nil {
		return nil
	}
	var tags map[int]string
	if o.deps.Tags != nil {
		tags = o.deps.Tags.TagNames(ctx)
	}

	docs := make([]embedding.Document, 0, o.cfg.EnrichmentCap)
	for i := range cands {
		if len(docs) >= o.cfg.EnrichmentCap {
			break
		}
		if cands[i].Vector == nil {
			docs = append(docs, cands[i].Entry.Document(tags))
		}
	}
	if len(docs) == 0 {
		return nil
	}

	n, err := o.deps.Embeddings.GenerateMissing(ctx, docs, embedding.TierCatalog, nil)
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	if n == 0 {
		return nil
	}
	for i := range cands {
		if cands[i].Vector != nil {
			continue
		}
		if v, ok := vectors.Get(cands[i].ID); ok {
			cands[i].Vector = v
		}
	}
	logging.Ctx(ctx).Debug().Int("embedded", n).Msg("enriched candidates")
	return nil
}

func embeddingCoverage(snaps []Snapshot) float64 {
	if len(snaps) == 0 {
		return 0
	}
	n := 0
	for i := range snaps {
		if len(snaps[i].Vector) > 0 {
			n++
		}
	}
	return float64(n) / float64(len(snaps))
}

// runWorker posts job to a fresh worker and waits for its terminal message.
func (o *Orchestrator) runWorker(ctx context.Context, run uint64, job *Job) (*WorkerResult, error) {
	if o.deps.Worker == nil {
		return nil, fmt.Errorf("%w: no worker configured", ErrWorkerCrashed)
	}
	workerCtx, kill := context.WithCancel(ctx)
	defer kill()

	events, err := o.pubsub.Subscribe(workerCtx, EventsTopic(job.JobID))
	if err != nil {
		return nil, fmt.Errorf("%w: subscribe: %v", ErrWorkerCrashed, err)
	}
	if err := StartWorker(workerCtx, o.pubsub, job.JobID, o.deps.Worker, o.logger); err != nil {
		return nil, fmt.Errorf("%w: start: %v", ErrWorkerCrashed, err)
	}
	if err := publish(o.pubsub, JobsTopic(job.JobID), &Envelope{Type: MsgJob, JobID: job.JobID, Job: job}); err != nil {
		return nil, fmt.Errorf("%w: post job: %v", ErrWorkerCrashed, err)
	}

	idle := o.cfg.WorkerIdleTimeout
	if idle <= 0 {
		idle = DefaultConfig().WorkerIdleTimeout
	}
	watchdog := time.NewTimer(idle)
	defer watchdog.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()

		case <-watchdog.C:
			metrics.WorkerStalls.Inc()
			return nil, fmt.Errorf("%w: no message for %s", ErrWorkerStalled, idle)

		case msg, ok := <-events:
			if !ok {
				if ctx.Err() != nil {
					return nil, ctx.Err()
				}
				return nil, fmt.Errorf("%w: event stream closed", ErrWorkerCrashed)
			}
			msg.Ack()

			env, err := decodeEnvelope(msg)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrWorkerCrashed, err)
			}
			switch env.Type {
			case MsgProgress:
				if !watchdog.Stop() {
					select {
					case <-watchdog.C:
					default:
					}
				}
				watchdog.Reset(idle)
				if env.Progress != nil {
					p := env.Progress
					o.setStage(run, p.Stage, 50+clampPercent(p.Percent)/2)
				}
			case MsgResult:
				if env.Result == nil {
					return nil, fmt.Errorf("%w: empty result", ErrWorkerCrashed)
				}
				return env.Result, nil
			case MsgError:
				return nil, fmt.Errorf("%w: %s", ErrWorkerCrashed, env.Error)
			default:
				return nil, fmt.Errorf("%w: unexpected %q message", ErrWorkerCrashed, env.Type)
			}
		}
	}
}

func clampPercent(p int) int {
	return max(0, min(p, 100))
}

// Refresh drops the cached result and returns to idle. A running
// computation is cancelled.
func (o *Orchestrator) Refresh(ctx context.Context) error {
	o.Reset()
	if o.deps.Results == nil {
		return nil
	}
	return o.deps.Results.Invalidate(ctx)
}

// Reset cancels any running computation and returns to idle without
// touching the cached result.
func (o *Orchestrator) Reset() {
	o.mu.Lock()
	if o.cancel != nil {
		o.cancel()
		o.cancel = nil
	}
	o.run++
	s := Status{State: StateIdle}
	subs := o.setLocked(s)
	o.mu.Unlock()
	notify(subs, s)
}

// Close cancels any running computation and releases the transport.
func (o *Orchestrator) Close() error {
	o.Reset()
	return o.pubsub.Close()
}
