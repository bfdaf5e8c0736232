package monitor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/OpenTransitTools/transitdelay/business/data/gtfs"
	"github.com/OpenTransitTools/transitdelay/business/data/vehicle"
	"github.com/OpenTransitTools/transitdelay/business/failure"
	"github.com/OpenTransitTools/transitdelay/foundation/database"
	"github.com/jinzhu/copier"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"
)

// ErrNoScheduledTrip is returned when no scheduled trip corresponds to an observed trip.
var ErrNoScheduledTrip = errors.New("no scheduled trip matches observed trip")

// lineAliases lists route short names a reported line code also matches.
var lineAliases = map[string][]string{
	"IKEA": {"IKEA ČM"},
}

// Matcher associates observed trips with scheduled trips.
type Matcher struct {
	log      *zerolog.Logger
	db       *sqlx.DB
	location *time.Location
	metrics  *Metrics
}

// NewMatcher creates a Matcher resolving start timestamps in location, the timezone of the schedule.
func NewMatcher(log *zerolog.Logger, db *sqlx.DB, location *time.Location, metrics *Metrics) *Matcher {
	return &Matcher{log: log, db: db, location: location, metrics: metrics}
}

// Match associates trip with its scheduled trip and returns the ids of the observed trips to estimate.
// Trips starting at a rail station are matched by train number and may be split into one observed
// trip per matching scheduled trip, every other trip is matched by its first stop and departure.
func (m *Matcher) Match(ctx context.Context, trip *vehicle.ObservedTrip) ([]string, error) {
	var ids []string
	var err error
	strategy := "basic"
	if gtfs.IsRailStation(trip.StartCisStopId) {
		strategy = "train"
		ids, err = m.matchTrain(ctx, trip)
	} else {
		ids, err = m.matchBasic(ctx, trip)
	}
	if err != nil {
		if errors.Is(err, ErrNoScheduledTrip) {
			m.metrics.MatchFailures.Inc()
			return nil, failure.New(failure.Matching, failure.CodeTripNotFound, err)
		}
		return nil, err
	}
	m.metrics.TripsMatched.WithLabelValues(strategy).Add(float64(len(ids)))
	return ids, nil
}

// startTime returns when trip left its first stop in the schedule's timezone
func (m *Matcher) startTime(trip *vehicle.ObservedTrip) time.Time {
	return time.Unix(trip.StartTimestamp, 0).In(m.location)
}

func (m *Matcher) matchBasic(ctx context.Context, trip *vehicle.ObservedTrip) ([]string, error) {
	start := m.startTime(trip)
	timeOfDay := gtfs.ScheduleSeconds(gtfs.Get12AmTime(start), start)

	candidates, err := gtfs.FindTripsByStartStop(ctx, m.db, gtfs.StartStopCriteria{
		RouteShortNames: routeShortNames(trip.LineShortName),
		AswId:           trip.StartAswStopId,
		CisId:           trip.StartCisStopId,
		PlatformCode:    trip.StartCisStopPlatformCode,
		DepartureTimes:  []int{timeOfDay, timeOfDay + gtfs.SecondsPerDay},
	})
	if err != nil {
		return nil, err
	}
	candidates, err = m.runningOn(ctx, start, candidates)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, fmt.Errorf("line %s from %s at %s: %w", trip.LineShortName, trip.StartAswStopId,
			gtfs.FormatTimeOfDay(timeOfDay), ErrNoScheduledTrip)
	}
	if len(candidates) > 1 {
		m.log.Warn().
			Str("trip_id", trip.Id).
			Strs("scheduled_trip_ids", candidateIds(candidates)).
			Msg("observed trip matches several scheduled trips, using the first")
	}

	err = database.Transact(ctx, m.log, m.db, func(tx *sqlx.Tx) error {
		return vehicle.Associate(ctx, tx, trip.Id, associationOf(candidates[0]))
	})
	if err != nil {
		return nil, err
	}
	return []string{trip.Id}, nil
}

func (m *Matcher) matchTrain(ctx context.Context, trip *vehicle.ObservedTrip) ([]string, error) {
	number, err := TrainNumber(trip.Id)
	if err != nil {
		return nil, fmt.Errorf("%v: %w", err, ErrNoScheduledTrip)
	}
	candidates, err := gtfs.FindRailTripsByNumber(ctx, m.db, number)
	if err != nil {
		return nil, err
	}
	candidates, err = m.runningOn(ctx, m.startTime(trip), candidates)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, fmt.Errorf("train %s: %w", number, ErrNoScheduledTrip)
	}

	ids := []string{trip.Id}
	err = database.Transact(ctx, m.log, m.db, func(tx *sqlx.Tx) error {
		if err := vehicle.Associate(ctx, tx, trip.Id, associationOf(candidates[0])); err != nil {
			return err
		}
		for _, candidate := range candidates[1:] {
			sibling, err := makeSibling(trip, candidate)
			if err != nil {
				return err
			}
			if err = vehicle.SaveObservedTrip(ctx, tx, sibling); err != nil {
				return err
			}
			if _, err = vehicle.CopyMissingFixes(ctx, tx, trip.Id, sibling.Id); err != nil {
				return err
			}
			ids = append(ids, sibling.Id)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(ids) > 1 {
		m.metrics.SiblingsCreated.Add(float64(len(ids) - 1))
		m.log.Info().
			Str("trip_id", trip.Id).
			Strs("trip_ids", ids).
			Msg("train split into several observed trips")
	}
	return ids, nil
}

// runningOn keeps the candidates whose service runs on the service date of their departure
func (m *Matcher) runningOn(ctx context.Context, start time.Time, candidates []gtfs.TripCandidate) ([]gtfs.TripCandidate, error) {
	activeByDate := make(map[string]map[string]bool)
	running := make([]gtfs.TripCandidate, 0, len(candidates))
	for _, candidate := range candidates {
		serviceDate := gtfs.ServiceDateForDeparture(start, candidate.DepartureTime)
		date := gtfs.FormatServiceDate(serviceDate)
		active, present := activeByDate[date]
		if !present {
			var err error
			if active, err = gtfs.GetActiveServiceIds(ctx, m.db, serviceDate); err != nil {
				return nil, err
			}
			activeByDate[date] = active
		}
		if active[candidate.ServiceId] {
			running = append(running, candidate)
		}
	}
	return running, nil
}

// makeSibling copies trip into a new observed trip associated with candidate
func makeSibling(trip *vehicle.ObservedTrip, candidate gtfs.TripCandidate) (*vehicle.ObservedTrip, error) {
	sibling := vehicle.ObservedTrip{}
	if err := copier.CopyWithOption(&sibling, trip, copier.Option{DeepCopy: true}); err != nil {
		return nil, fmt.Errorf("unable to copy observed trip %s: %w", trip.Id, err)
	}
	originTripId := trip.Id
	association := associationOf(candidate)
	sibling.Id = trip.Id + "_" + candidate.TripId
	sibling.OriginTripId = &originTripId
	sibling.ScheduledTripId = &association.ScheduledTripId
	sibling.RouteId = &association.RouteId
	sibling.RouteShortName = &association.RouteShortName
	sibling.RouteType = &association.RouteType
	sibling.TripHeadsign = &association.TripHeadsign
	sibling.CreatedAt = time.Now().UnixMilli()
	return &sibling, nil
}

// TrainNumber extracts the train number from an observed train trip id, its last "_" separated part.
func TrainNumber(tripId string) (string, error) {
	number := tripId[strings.LastIndex(tripId, "_")+1:]
	if number == "" {
		return "", fmt.Errorf("trip id %q has no train number", tripId)
	}
	for _, r := range number {
		if r < '0' || r > '9' {
			return "", fmt.Errorf("trip id %q has no train number", tripId)
		}
	}
	return number, nil
}

// routeShortNames returns the route short names line may be reported as
func routeShortNames(line string) []string {
	return append([]string{line}, lineAliases[line]...)
}

func associationOf(candidate gtfs.TripCandidate) vehicle.Association {
	return vehicle.Association{
		ScheduledTripId: candidate.TripId,
		RouteId:         candidate.RouteId,
		RouteShortName:  candidate.RouteShortName,
		RouteType:       candidate.RouteType,
		TripHeadsign:    candidate.TripHeadsign,
	}
}

func candidateIds(candidates []gtfs.TripCandidate) []string {
	ids := make([]string, 0, len(candidates))
	for _, candidate := range candidates {
		ids = append(ids, candidate.TripId)
	}
	return ids
}
