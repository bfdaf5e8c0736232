package monitor

import (
	"context"
	"math"

	"github.com/OpenTransitTools/transitdelay/business/data/gtfs"
	"github.com/OpenTransitTools/transitdelay/business/data/vehicle"
	"github.com/OpenTransitTools/transitdelay/business/failure"
	"github.com/OpenTransitTools/transitdelay/foundation/database"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"
)

const (
	// anchorRadiusMeters is how far from a fix an anchor point may lie to be a candidate
	anchorRadiusMeters = 200.0
	halfDaySeconds     = gtfs.SecondsPerDay / 2
)

// FixEstimate is the estimator's result for one position fix. Found is false when no anchor point
// lies within range of the fix, the other fields are then unset.
type FixEstimate struct {
	Fix               *vehicle.PositionFix
	Found             bool
	Delay             int
	ShapeDistTraveled float64
	NextStopId        string
}

// pendingFixes returns the fixes starting with the first one without a delay, and the delay of the
// fix right before it as prior.
func pendingFixes(fixes []*vehicle.PositionFix) ([]*vehicle.PositionFix, *int) {
	for i, fix := range fixes {
		if fix.Delay != nil {
			continue
		}
		if i == 0 {
			return fixes, nil
		}
		return fixes[i:], fixes[i-1].Delay
	}
	return nil, nil
}

// EstimateFixes computes the delay of each fix in order. The delay of each found fix is the prior of
// the next one, a fix that is not found resets the prior.
func EstimateFixes(fixes []*vehicle.PositionFix, path *AnchorPath, prior *int) []FixEstimate {
	estimates := make([]FixEstimate, 0, len(fixes))
	for _, fix := range fixes {
		estimate := estimateFix(fix, path, prior)
		if estimate.Found {
			delay := estimate.Delay
			prior = &delay
		} else {
			prior = nil
		}
		estimates = append(estimates, estimate)
	}
	return estimates
}

// estimateFix picks among the candidate anchors of fix the one whose delay is closest to prior
func estimateFix(fix *vehicle.PositionFix, path *AnchorPath, prior *int) FixEstimate {
	estimate := FixEstimate{Fix: fix}
	observed, err := gtfs.ParseTimeOfDay(fix.OriginTime)
	if err != nil {
		return estimate
	}
	predicted := 0
	if prior != nil {
		predicted = *prior
	}

	bestDiff := math.MaxInt
	for _, candidate := range candidateAnchors(fix.Lat, fix.Lon, path) {
		delay := rawDelay(observed, candidate.ScheduledTime)
		diff := delay - predicted
		if diff < 0 {
			diff = -diff
		}
		if diff < bestDiff {
			bestDiff = diff
			estimate.Found = true
			estimate.Delay = delay
			estimate.ShapeDistTraveled = candidate.Distance
			estimate.NextStopId = candidate.NextStopId
		}
	}
	return estimate
}

// candidateAnchors groups consecutive anchor points within anchorRadiusMeters of lat, lon into runs
// and returns the nearest point of each run in path order.
func candidateAnchors(lat, lon float64, path *AnchorPath) []AnchorPoint {
	var candidates []AnchorPoint
	inRun := false
	var nearest AnchorPoint
	nearestDistance := 0.0
	for _, point := range path.Points {
		distance := simpleLatLngDistance(lat, lon, point.Lat, point.Lon)
		if distance > anchorRadiusMeters {
			if inRun {
				candidates = append(candidates, nearest)
				inRun = false
			}
			continue
		}
		if !inRun || distance < nearestDistance {
			nearest = point
			nearestDistance = distance
		}
		inRun = true
	}
	if inRun {
		candidates = append(candidates, nearest)
	}
	return candidates
}

// rawDelay is observed minus scheduled seconds, shifted by a day when the two are more than twelve
// hours apart.
func rawDelay(observed int, scheduled int) int {
	delay := observed - scheduled
	if delay > halfDaySeconds {
		delay -= gtfs.SecondsPerDay
	} else if delay < -halfDaySeconds {
		delay += gtfs.SecondsPerDay
	}
	return delay
}

// Estimator runs delay estimation over the fixes of observed trips.
type Estimator struct {
	log     *zerolog.Logger
	db      *sqlx.DB
	metrics *Metrics
}

// NewEstimator creates an Estimator.
func NewEstimator(log *zerolog.Logger, db *sqlx.DB, metrics *Metrics) *Estimator {
	return &Estimator{log: log, db: db, metrics: metrics}
}

// EstimateTrip estimates the delay of every pending tracking fix of trip along path and stores each
// result in its own transaction. Fixes whose result could not be stored are reported, and a
// recoverable persistence error is returned alongside the report.
func (e *Estimator) EstimateTrip(ctx context.Context, trip *vehicle.ObservedTrip, path *AnchorPath) (*TripReport, error) {
	report := newTripReport(trip.Id, path.ScheduledTripId)
	if trip.OriginTripId != nil {
		report.OriginTripId = *trip.OriginTripId
	}
	if trip.RouteId != nil {
		report.RouteId = *trip.RouteId
	}

	fixes, err := vehicle.GetTrackingFixes(ctx, e.db, trip.Id)
	if err != nil {
		return nil, err
	}
	pending, prior := pendingFixes(fixes)

	for _, estimate := range EstimateFixes(pending, path, prior) {
		fix := estimate.Fix
		result := FixResult{FixId: fix.Id, OriginTime: fix.OriginTime, Outcome: OutcomeNotFound}
		update := vehicle.Estimate{}
		if estimate.Found {
			delay := estimate.Delay
			distance := estimate.ShapeDistTraveled
			nextStopId := estimate.NextStopId
			update = vehicle.Estimate{Delay: &delay, ShapeDistTraveled: &distance, NextStopId: &nextStopId}
			result.Outcome = OutcomeEstimated
			result.Delay = update.Delay
			result.ShapeDistTraveled = update.ShapeDistTraveled
			result.NextStopId = update.NextStopId
		}

		// a not found fix only needs writing when it holds an earlier estimate
		if estimate.Found || fix.Delay != nil {
			err = database.Transact(ctx, e.log, e.db, func(tx *sqlx.Tx) error {
				return vehicle.UpdateEstimate(ctx, tx, trip.Id, fix.OriginTime, update)
			})
			if err != nil {
				e.log.Error().Err(err).
					Str("trip_id", trip.Id).
					Str("origin_time", fix.OriginTime).
					Msg("unable to store fix estimate")
				result.Outcome = OutcomePersistFailed
				result.Error = err.Error()
			}
		}
		e.metrics.FixOutcomes.WithLabelValues(string(result.Outcome)).Inc()
		report.add(result)
	}

	e.log.Debug().
		Str("trip_id", trip.Id).
		Str("scheduled_trip_id", path.ScheduledTripId).
		Int("estimated", report.Estimated).
		Int("not_found", report.NotFound).
		Int("persist_failed", report.PersistFailed).
		Msg("estimated trip delays")

	if report.PersistFailed > 0 {
		return report, failure.Newf(failure.Persistence, failure.CodeFixPersist,
			"%d of %d fixes of trip %s could not be stored", report.PersistFailed, len(report.Fixes), trip.Id)
	}
	return report, nil
}
