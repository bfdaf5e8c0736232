package gtfs

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/OpenTransitTools/transitdelay/business/data/dbtest"
	"github.com/matryer/is"
)

func tripIds(candidates []TripCandidate) []string {
	ids := make([]string, 0, len(candidates))
	for _, c := range candidates {
		ids = append(ids, c.TripId)
	}
	return ids
}

func TestGetActiveServiceIds(t *testing.T) {
	ctx := context.Background()
	db := dbtest.NewSQLite(t)
	dbtest.SeedNetwork(t, db)
	location, err := time.LoadLocation("Europe/Prague")
	if err != nil {
		t.Fatalf("Unable to load \"Europe/Prague\" timezone: %v", err)
	}

	tests := []struct {
		name        string
		serviceDate time.Time
		want        map[string]bool
	}{
		{
			name:        "added and removed on the same date is removed",
			serviceDate: time.Date(2024, 3, 1, 0, 0, 0, 0, location),
			want:        map[string]bool{"weekday": true},
		},
		{
			name:        "thursday",
			serviceDate: time.Date(2024, 2, 29, 0, 0, 0, 0, location),
			want:        map[string]bool{"weekday": true, "thursday": true, "both_ways": true},
		},
		{
			name:        "added exception on a saturday",
			serviceDate: time.Date(2024, 3, 2, 0, 0, 0, 0, location),
			want:        map[string]bool{"thursday": true},
		},
		{
			name:        "outside of calendar range",
			serviceDate: time.Date(2025, 1, 2, 0, 0, 0, 0, location),
			want:        map[string]bool{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := GetActiveServiceIds(ctx, db, tt.serviceDate)
			if err != nil {
				t.Fatalf("GetActiveServiceIds() error = %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("GetActiveServiceIds() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestServiceDateForDeparture(t *testing.T) {
	is := is.New(t)
	location, err := time.LoadLocation("Europe/Prague")
	is.NoErr(err)
	observed := time.Date(2024, 3, 1, 1, 10, 0, 0, location)

	is.Equal(ServiceDateForDeparture(observed, 4200), time.Date(2024, 3, 1, 0, 0, 0, 0, location))
	is.Equal(ServiceDateForDeparture(observed, 90600), time.Date(2024, 2, 29, 0, 0, 0, 0, location))
	is.Equal(ServiceDateForDeparture(observed, SecondsPerDay), time.Date(2024, 2, 29, 0, 0, 0, 0, location))
}

func TestFindTripsByStartStop(t *testing.T) {
	ctx := context.Background()
	db := dbtest.NewSQLite(t)
	dbtest.SeedNetwork(t, db)

	tests := []struct {
		name     string
		criteria StartStopCriteria
		want     []string
	}{
		{
			name: "asw start stop",
			criteria: StartStopCriteria{
				RouteShortNames: []string{"9"},
				AswId:           "1_1",
				DepartureTimes:  []int{36000, 36000 + SecondsPerDay},
			},
			want: []string{"9_1", "9_2"},
		},
		{
			name: "cis start stop and platform",
			criteria: StartStopCriteria{
				RouteShortNames: []string{"9"},
				CisId:           58791,
				PlatformCode:    "A",
				DepartureTimes:  []int{36000},
			},
			want: []string{"9_1", "9_2"},
		},
		{
			name: "wrong platform",
			criteria: StartStopCriteria{
				RouteShortNames: []string{"9"},
				CisId:           58791,
				PlatformCode:    "B",
				DepartureTimes:  []int{36000},
			},
			want: []string{},
		},
		{
			name: "departure past midnight",
			criteria: StartStopCriteria{
				RouteShortNames: []string{"9"},
				AswId:           "1_1",
				DepartureTimes:  []int{4200, 4200 + SecondsPerDay},
			},
			want: []string{"9_night"},
		},
		{
			name: "ikea line",
			criteria: StartStopCriteria{
				RouteShortNames: []string{"IKEA", "IKEA ČM"},
				AswId:           "1_1",
				DepartureTimes:  []int{43200},
			},
			want: []string{"600_1"},
		},
		{
			name: "departure does not match exactly",
			criteria: StartStopCriteria{
				RouteShortNames: []string{"9"},
				AswId:           "1_1",
				DepartureTimes:  []int{36001},
			},
			want: []string{},
		},
		{
			name: "only the first stop counts",
			criteria: StartStopCriteria{
				RouteShortNames: []string{"9"},
				AswId:           "2_1",
				DepartureTimes:  []int{36600},
			},
			want: []string{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := FindTripsByStartStop(ctx, db, tt.criteria)
			if err != nil {
				t.Fatalf("FindTripsByStartStop() error = %v", err)
			}
			if !reflect.DeepEqual(tripIds(got), tt.want) {
				t.Errorf("FindTripsByStartStop() = %v, want %v", tripIds(got), tt.want)
			}
		})
	}
}

func TestFindTripsByStartStop_requiresStop(t *testing.T) {
	is := is.New(t)
	db := dbtest.NewSQLite(t)
	_, err := FindTripsByStartStop(context.Background(), db, StartStopCriteria{
		RouteShortNames: []string{"9"},
		DepartureTimes:  []int{36000},
	})
	is.True(err != nil)
}

func TestFindRailTripsByNumber(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()
	db := dbtest.NewSQLite(t)
	dbtest.SeedNetwork(t, db)

	got, err := FindRailTripsByNumber(ctx, db, "2745")
	is.NoErr(err)
	is.Equal(tripIds(got), []string{"S1_2745", "S1_2745_thu", "S7_2745"})
	is.Equal(got[0].RouteShortName, "S1")
	is.Equal(got[0].RouteType, RouteTypeRail)
	is.Equal(got[0].DepartureTime, 28800)

	_, err = FindRailTripsByNumber(ctx, db, "27%")
	is.True(err != nil)
}

func TestGetScheduledTrip(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()
	db := dbtest.NewSQLite(t)
	dbtest.SeedNetwork(t, db)

	trip, err := GetScheduledTrip(ctx, db, "9_1")
	is.NoErr(err)
	is.Equal(trip.Route.RouteShortName, "9")
	is.Equal(len(trip.StopTimes), 2)
	is.Equal(trip.StopTimes[1].StopId, "U2Z1")
	is.True(trip.StopTimes[1].StopLat != nil)
	is.Equal(len(trip.Shapes), 3)
	is.Equal(*trip.Shapes[2].ShapeDistTraveled, 1000.0)

	_, err = GetScheduledTrip(ctx, db, "missing")
	is.True(errors.Is(err, ErrNotFound))
}
