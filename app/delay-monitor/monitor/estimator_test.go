package monitor

import (
	"context"
	"reflect"
	"strings"
	"testing"

	"github.com/OpenTransitTools/transitdelay/business/data/dbtest"
	"github.com/OpenTransitTools/transitdelay/business/data/vehicle"
	"github.com/OpenTransitTools/transitdelay/business/failure"
	"github.com/matryer/is"
)

// loopPath passes the same place at 10:00:00 and 10:01:30 with a point two kilometers north in between
func loopPath() *AnchorPath {
	return &AnchorPath{
		ScheduledTripId: "loop",
		Points: []AnchorPoint{
			{Lat: 50.0, Lon: 14.4, Distance: 0, ScheduledTime: 36000, LastStopId: "A", NextStopId: "B"},
			{Lat: 50.02, Lon: 14.4, Distance: 2226, ScheduledTime: 36045, LastStopId: "B", NextStopId: "C"},
			{Lat: 50.0, Lon: 14.4, Distance: 4452, ScheduledTime: 36090, LastStopId: "C", NextStopId: "D"},
		},
	}
}

func fix(lat float64, lon float64, originTime string) *vehicle.PositionFix {
	return &vehicle.PositionFix{Id: originTime, TripId: "t", Lat: lat, Lon: lon, OriginTime: originTime, Tracking: 1}
}

func delays(estimates []FixEstimate) []*int {
	result := make([]*int, 0, len(estimates))
	for _, estimate := range estimates {
		if estimate.Found {
			result = append(result, intPtr(estimate.Delay))
		} else {
			result = append(result, nil)
		}
	}
	return result
}

func Test_rawDelay(t *testing.T) {
	tests := []struct {
		name      string
		observed  int
		scheduled int
		want      int
	}{
		{name: "late", observed: 36060, scheduled: 36000, want: 60},
		{name: "early", observed: 35940, scheduled: 36000, want: -60},
		{name: "observed after midnight", observed: 300, scheduled: 86100, want: 600},
		{name: "scheduled past 24 hours", observed: 4200, scheduled: 90600, want: 0},
		{name: "observed before midnight of a trip past 24 hours", observed: 86100, scheduled: 90000, want: -3900},
		{name: "scheduled after midnight observed before", observed: 86340, scheduled: 60, want: -120},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := rawDelay(tt.observed, tt.scheduled); got != tt.want {
				t.Errorf("rawDelay() = %d, want %d", got, tt.want)
			}
		})
	}
}

func Test_candidateAnchors(t *testing.T) {
	is := is.New(t)
	path, err := BuildAnchorPath(getTestScheduledTrip("9_1", t), DefaultAnchorOptions())
	is.NoErr(err)

	// one run from 300 to 700 meters, nearest at 500
	candidates := candidateAnchors(50.0044966, 14.4, path)
	is.Equal(len(candidates), 1)
	is.Equal(candidates[0].Distance, 500.0)

	is.Equal(len(candidateAnchors(50.1, 14.4, path)), 0)

	loop := candidateAnchors(50.0, 14.4, loopPath())
	is.Equal(len(loop), 2)
	is.Equal(loop[0].NextStopId, "B")
	is.Equal(loop[1].NextStopId, "D")
}

func TestEstimateFixes(t *testing.T) {
	tests := []struct {
		name  string
		fixes []*vehicle.PositionFix
		prior *int
		want  []*int
	}{
		{
			name:  "equally close candidates keep the first in path order",
			fixes: []*vehicle.PositionFix{fix(50.0, 14.4, "10:00:45")},
			want:  []*int{intPtr(45)},
		},
		{
			name:  "prior selects the candidate",
			fixes: []*vehicle.PositionFix{fix(50.0, 14.4, "10:00:50")},
			prior: intPtr(60),
			want:  []*int{intPtr(50)},
		},
		{
			name: "found then found uses the prior",
			fixes: []*vehicle.PositionFix{
				fix(50.02, 14.4, "10:01:45"),
				fix(50.0, 14.4, "10:00:50"),
			},
			want: []*int{intPtr(60), intPtr(50)},
		},
		{
			name: "not found resets the prior",
			fixes: []*vehicle.PositionFix{
				fix(50.02, 14.4, "10:01:45"),
				fix(51.0, 14.4, "10:01:50"),
				fix(50.0, 14.4, "10:00:50"),
			},
			want: []*int{intPtr(60), nil, intPtr(-40)},
		},
		{
			name:  "unreadable origin time is not found",
			fixes: []*vehicle.PositionFix{fix(50.0, 14.4, "10:00")},
			want:  []*int{nil},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			first := delays(EstimateFixes(tt.fixes, loopPath(), tt.prior))
			if !reflect.DeepEqual(first, tt.want) {
				t.Errorf("EstimateFixes() = %v, want %v", printable(first), printable(tt.want))
			}
			again := delays(EstimateFixes(tt.fixes, loopPath(), tt.prior))
			if !reflect.DeepEqual(again, first) {
				t.Errorf("EstimateFixes() is not deterministic, %v then %v", printable(first), printable(again))
			}
		})
	}
}

func printable(values []*int) []interface{} {
	result := make([]interface{}, 0, len(values))
	for _, v := range values {
		if v == nil {
			result = append(result, nil)
		} else {
			result = append(result, *v)
		}
	}
	return result
}

func Test_pendingFixes(t *testing.T) {
	is := is.New(t)
	estimated := fix(50.0, 14.4, "10:00:00")
	estimated.Delay = intPtr(30)
	unset := fix(50.0, 14.4, "10:00:30")
	later := fix(50.0, 14.4, "10:01:00")

	pending, prior := pendingFixes([]*vehicle.PositionFix{estimated, unset, later})
	is.Equal(len(pending), 2)
	is.Equal(pending[0], unset)
	is.Equal(*prior, 30)

	pending, prior = pendingFixes([]*vehicle.PositionFix{unset, later})
	is.Equal(len(pending), 2)
	is.True(prior == nil)

	pending, _ = pendingFixes([]*vehicle.PositionFix{estimated})
	is.Equal(len(pending), 0)
}

func TestEstimator_EstimateTrip(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()
	db := dbtest.NewSQLite(t)
	path, err := BuildAnchorPath(getTestScheduledTrip("9_1", t), DefaultAnchorOptions())
	is.NoErr(err)

	trip := saveTrip(t, db, vehicle.ObservedTrip{Id: "9_run", LineShortName: "9", ScheduledTripId: strPtr("9_1")})
	saveFix(t, db, vehicle.PositionFix{TripId: trip.Id, Lat: 50.0044966, Lon: 14.4, OriginTime: "10:06:00", CreatedAt: 1})
	saveFix(t, db, vehicle.PositionFix{TripId: trip.Id, Lat: 50.2, Lon: 14.4, OriginTime: "10:08:00", CreatedAt: 2})
	saveFix(t, db, vehicle.PositionFix{TripId: trip.Id, Lat: 50.0089932, Lon: 14.4, OriginTime: "10:11:00", CreatedAt: 3})

	estimator := NewEstimator(dbtest.Logger(), db, testMetrics())
	report, err := estimator.EstimateTrip(ctx, trip, path)
	is.NoErr(err)
	is.Equal(report.Estimated, 2)
	is.Equal(report.NotFound, 1)
	is.Equal(report.PersistFailed, 0)
	is.Equal(*report.LastDelay, 60)
	is.Equal(*report.LastNextStopId, "U2Z1")

	fixes := trackingFixes(t, db, trip.Id)
	is.Equal(*fixes[0].Delay, 60)
	is.Equal(*fixes[0].ShapeDistTraveled, 500.0)
	is.Equal(*fixes[0].NextStopId, "U2Z1")
	is.True(fixes[1].Delay == nil)
	is.True(fixes[1].NextStopId == nil)
	is.Equal(*fixes[2].Delay, 60)
	is.Equal(*fixes[2].ShapeDistTraveled, 1000.0)

	// only the fixes from the first unset one on are estimated again
	report, err = estimator.EstimateTrip(ctx, trip, path)
	is.NoErr(err)
	is.Equal(len(report.Fixes), 2)
	is.Equal(report.Fixes[0].OriginTime, "10:08:00")
}

func TestEstimator_EstimateTrip_persistFailure(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()
	db := dbtest.NewSQLite(t)
	path, err := BuildAnchorPath(getTestScheduledTrip("9_1", t), DefaultAnchorOptions())
	is.NoErr(err)

	trip := saveTrip(t, db, vehicle.ObservedTrip{Id: "9_run", LineShortName: "9", ScheduledTripId: strPtr("9_1")})
	saveFix(t, db, vehicle.PositionFix{TripId: trip.Id, Lat: 50.0044966, Lon: 14.4, OriginTime: "10:06:00", CreatedAt: 1})
	saveFix(t, db, vehicle.PositionFix{TripId: trip.Id, Lat: 50.0089932, Lon: 14.4, OriginTime: "10:11:00", CreatedAt: 2})
	dbtest.Exec(t, db, "create trigger reject_fix before update on vehicle_position "+
		"when new.origin_time = '10:06:00' begin select raise(abort, 'disk full'); end")

	report, err := NewEstimator(dbtest.Logger(), db, testMetrics()).EstimateTrip(ctx, trip, path)
	is.True(err != nil)
	is.True(failure.IsRecoverable(err))
	kind, code := failure.Classify(err)
	is.Equal(kind, failure.Persistence)
	is.Equal(code, failure.CodeFixPersist)

	is.Equal(report.PersistFailed, 1)
	is.Equal(report.Estimated, 1)
	is.Equal(report.Fixes[0].Outcome, OutcomePersistFailed)
	is.True(report.Fixes[0].Error != "")

	fixes := trackingFixes(t, db, trip.Id)
	is.True(fixes[0].Delay == nil)
	is.Equal(*fixes[1].Delay, 60) // the next fix still used the computed delay as prior
}

func TestEstimator_EstimateTrip_fixGone(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()
	db := dbtest.NewSQLite(t)
	path, err := BuildAnchorPath(getTestScheduledTrip("9_1", t), DefaultAnchorOptions())
	is.NoErr(err)

	trip := saveTrip(t, db, vehicle.ObservedTrip{Id: "9_run", LineShortName: "9", ScheduledTripId: strPtr("9_1")})
	saveFix(t, db, vehicle.PositionFix{TripId: trip.Id, Lat: 50.0044966, Lon: 14.4, OriginTime: "10:06:00", CreatedAt: 1})
	saveFix(t, db, vehicle.PositionFix{TripId: trip.Id, Lat: 50.0089932, Lon: 14.4, OriginTime: "10:11:00", CreatedAt: 2})
	// the update matches no row, as when the fix was purged after it was read
	dbtest.Exec(t, db, "create trigger skip_fix before update on vehicle_position "+
		"when new.origin_time = '10:11:00' begin select raise(ignore); end")

	report, err := NewEstimator(dbtest.Logger(), db, testMetrics()).EstimateTrip(ctx, trip, path)
	is.True(err != nil)
	kind, code := failure.Classify(err)
	is.Equal(kind, failure.Persistence)
	is.Equal(code, failure.CodeFixPersist)

	is.Equal(report.Estimated, 1)
	is.Equal(report.PersistFailed, 1)
	is.Equal(report.Fixes[1].Outcome, OutcomePersistFailed)
	is.True(strings.Contains(report.Fixes[1].Error, vehicle.ErrFixNotFound.Error()))
}
