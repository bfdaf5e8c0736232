// Package monitor matches observed vehicle trips to the schedule and estimates their delays
package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/OpenTransitTools/transitdelay/business/data/gtfs"
	"github.com/OpenTransitTools/transitdelay/business/data/vehicle"
	"github.com/OpenTransitTools/transitdelay/business/failure"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc/pool"
)

// PositionBatch is the task sent after new position fixes of observed trips were stored.
type PositionBatch struct {
	TripIds []string `json:"trip_ids"`
}

// Processor matches, and estimates delays for, the observed trips of position batches.
type Processor struct {
	log        *zerolog.Logger
	db         *sqlx.DB
	matcher    *Matcher
	anchors    *AnchorCache
	estimator  *Estimator
	publisher  ReportPublisher
	metrics    *Metrics
	options    AnchorOptions
	maxWorkers int
	locks      *tripLocks
}

// NewProcessor creates a Processor running at most maxWorkers trips at a time.
func NewProcessor(log *zerolog.Logger,
	db *sqlx.DB,
	matcher *Matcher,
	anchors *AnchorCache,
	estimator *Estimator,
	publisher ReportPublisher,
	metrics *Metrics,
	options AnchorOptions,
	maxWorkers int) *Processor {
	if maxWorkers < 1 {
		maxWorkers = 1
	}
	return &Processor{
		log:        log,
		db:         db,
		matcher:    matcher,
		anchors:    anchors,
		estimator:  estimator,
		publisher:  publisher,
		metrics:    metrics,
		options:    options,
		maxWorkers: maxWorkers,
		locks:      newTripLocks(),
	}
}

// Handle decodes a PositionBatch from payload and processes it.
func (p *Processor) Handle(ctx context.Context, payload string) error {
	batch := PositionBatch{}
	if err := json.Unmarshal([]byte(payload), &batch); err != nil {
		return failure.New(failure.Infrastructure, failure.CodeDecode,
			fmt.Errorf("unable to decode position batch: %w", err))
	}
	return p.ProcessBatch(ctx, batch)
}

// ProcessBatch processes each distinct trip of batch. Different trips run concurrently, the fixes of
// one trip are always estimated in order by a single goroutine. When trips fail the most severe
// error is returned.
func (p *Processor) ProcessBatch(ctx context.Context, batch PositionBatch) error {
	start := time.Now()
	tripIds := distinct(batch.TripIds)

	workers := pool.NewWithResults[error]().WithMaxGoroutines(p.maxWorkers)
	for _, tripId := range tripIds {
		tripId := tripId
		workers.Go(func() error {
			return p.processTrip(ctx, tripId)
		})
	}
	errs := workers.Wait()

	workTook := time.Since(start)
	p.metrics.BatchDuration.Observe(workTook.Seconds())
	p.log.Info().
		Int("trips", len(tripIds)).
		Str("took", fmtDuration(workTook)).
		Msg("processed position batch")
	return mostSevere(errs)
}

// processTrip matches tripId when needed and estimates the delays of it and the trips split off it
func (p *Processor) processTrip(ctx context.Context, tripId string) error {
	unlock := p.locks.lock(tripId)
	defer unlock()

	trip, err := vehicle.GetObservedTrip(ctx, p.db, tripId)
	if err != nil {
		if errors.Is(err, vehicle.ErrTripNotFound) {
			return failure.New(failure.Matching, failure.CodeTripNotFound, err)
		}
		return err
	}

	var tripIds []string
	if !trip.Matched() {
		if tripIds, err = p.matcher.Match(ctx, trip); err != nil {
			return err
		}
	} else {
		if tripIds, err = p.syncSiblings(ctx, trip); err != nil {
			return err
		}
	}

	var errs []error
	for _, id := range tripIds {
		if err = p.estimate(ctx, tripId, id); err != nil {
			errs = append(errs, err)
		}
	}
	return mostSevere(errs)
}

// syncSiblings copies fixes received since the last batch to the trips split off trip. Returns the ids of
// trip and its siblings.
func (p *Processor) syncSiblings(ctx context.Context, trip *vehicle.ObservedTrip) ([]string, error) {
	siblings, err := vehicle.GetSiblingTripIds(ctx, p.db, trip.Id)
	if err != nil {
		return nil, err
	}
	for _, sibling := range siblings {
		if _, err = vehicle.CopyMissingFixes(ctx, p.db, trip.Id, sibling); err != nil {
			return nil, err
		}
	}
	return append([]string{trip.Id}, siblings...), nil
}

// estimate runs the estimator over tripId, locking it unless it is the trip already held by lockedId
func (p *Processor) estimate(ctx context.Context, lockedId string, tripId string) error {
	if tripId != lockedId {
		unlock := p.locks.lock(tripId)
		defer unlock()
	}
	trip, err := vehicle.GetObservedTrip(ctx, p.db, tripId)
	if err != nil {
		return err
	}
	if !trip.Matched() {
		return failure.Newf(failure.Matching, failure.CodeTripNotFound, "trip %s is not matched", tripId)
	}
	path, err := p.anchors.Get(ctx, *trip.ScheduledTripId, p.loadAnchorPath)
	if err != nil {
		if errors.Is(err, gtfs.ErrNotFound) {
			return failure.New(failure.Matching, failure.CodeTripNotFound, err)
		}
		return err
	}
	report, err := p.estimator.EstimateTrip(ctx, trip, path)
	if report != nil {
		p.publisher.Publish(ctx, report)
	}
	return err
}

// loadAnchorPath builds the AnchorPath of a scheduled trip from the reference tables
func (p *Processor) loadAnchorPath(ctx context.Context, scheduledTripId string) (*AnchorPath, error) {
	trip, err := gtfs.GetScheduledTrip(ctx, p.db, scheduledTripId)
	if err != nil {
		return nil, err
	}
	path, err := BuildAnchorPath(trip, p.options)
	if err != nil {
		return nil, err
	}
	p.metrics.AnchorPathBuilds.Inc()
	return path, nil
}

// mostSevere returns the first unrecoverable error of errs, or the first error when all are recoverable
func mostSevere(errs []error) error {
	var first error
	for _, err := range errs {
		if err == nil {
			continue
		}
		if !failure.IsRecoverable(err) {
			return err
		}
		if first == nil {
			first = err
		}
	}
	return first
}

func distinct(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	result := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		result = append(result, id)
	}
	return result
}

// tripLocks serializes work on the same observed trip across concurrent batches
type tripLocks struct {
	mu    sync.Mutex
	locks map[string]*tripLock
}

type tripLock struct {
	mu   sync.Mutex
	refs int
}

func newTripLocks() *tripLocks {
	return &tripLocks{locks: make(map[string]*tripLock)}
}

// lock blocks until tripId is free and returns the function releasing it
func (t *tripLocks) lock(tripId string) func() {
	t.mu.Lock()
	l, present := t.locks[tripId]
	if !present {
		l = &tripLock{}
		t.locks[tripId] = l
	}
	l.refs++
	t.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		t.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(t.locks, tripId)
		}
		t.mu.Unlock()
	}
}

//fmtDuration returns a string presentation of time.Duration for logging
func fmtDuration(d time.Duration) string {
	d = d.Round(time.Millisecond)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	sec := d / time.Second
	d -= sec * time.Second
	mill := d / time.Millisecond
	return fmt.Sprintf("%02d:%02d:%02d.%03d", h, m, sec, mill)
}
