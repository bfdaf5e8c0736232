package gtfs

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/OpenTransitTools/transitdelay/foundation/database"
	"github.com/jmoiron/sqlx"
)

// TripCandidate is a scheduled trip that may correspond to an observed trip. DepartureTime is the
// departure from the trip's first stop.
type TripCandidate struct {
	TripId         string `db:"trip_id" json:"trip_id"`
	RouteId        string `db:"route_id" json:"route_id"`
	RouteShortName string `db:"route_short_name" json:"route_short_name"`
	TripHeadsign   string `db:"trip_headsign" json:"trip_headsign"`
	RouteType      int    `db:"route_type" json:"route_type"`
	ServiceId      string `db:"service_id" json:"service_id"`
	DepartureTime  int    `db:"departure_time" json:"departure_time"`
}

// StartStopCriteria selects trips by their first stop, route short name and first departure.
type StartStopCriteria struct {
	RouteShortNames []string
	AswId           string
	CisId           int
	PlatformCode    string
	DepartureTimes  []int
}

const candidateColumns = "select distinct t.trip_id, t.route_id, r.route_short_name, t.trip_headsign, " +
	"r.route_type, t.service_id, st.departure_time "

const firstStopPredicate = "st.stop_sequence = " +
	"(select min(fst.stop_sequence) from stop_time fst where fst.trip_id = st.trip_id) "

// FindTripsByStartStop returns trips whose first stop resolves through station_platform to the
// observed start stop. Results are ordered by trip_id.
func FindTripsByStartStop(ctx context.Context, ext sqlx.ExtContext, c StartStopCriteria) ([]TripCandidate, error) {
	if len(c.RouteShortNames) == 0 || len(c.DepartureTimes) == 0 {
		return nil, errors.New("route short names and departure times are required")
	}

	args := map[string]interface{}{
		"route_short_names": c.RouteShortNames,
		"departure_times":   c.DepartureTimes,
	}
	var stopPredicates []string
	if c.AswId != "" {
		stopPredicates = append(stopPredicates, "sp.asw_id = :asw_id")
		args["asw_id"] = c.AswId
	}
	if c.CisId != 0 {
		stopPredicates = append(stopPredicates, "sp.cis_id = :cis_id")
		args["cis_id"] = c.CisId
	}
	if len(stopPredicates) == 0 {
		return nil, errors.New("an asw or cis start stop is required")
	}
	platformPredicate := ""
	if c.PlatformCode != "" {
		platformPredicate = "and sp.platform_code = :platform_code "
		args["platform_code"] = c.PlatformCode
	}

	statementString := candidateColumns +
		"from stop_time st " +
		"join trip t on t.trip_id = st.trip_id " +
		"join route r on r.route_id = t.route_id " +
		"join station_platform sp on sp.stop_id = st.stop_id " +
		"where " + firstStopPredicate +
		"and r.route_short_name in (:route_short_names) " +
		"and st.departure_time in (:departure_times) " +
		"and (" + strings.Join(stopPredicates, " or ") + ") " +
		platformPredicate +
		"order by t.trip_id"

	candidates := make([]TripCandidate, 0)
	if err := database.SelectNamed(ctx, ext, &candidates, statementString, args); err != nil {
		return nil, fmt.Errorf("unable to query trips by start stop. query:%s error: %w", statementString, err)
	}
	return candidates, nil
}

// FindRailTripsByNumber returns rail trips whose short name is the train number, optionally prefixed
// by the train category ("Os 2745"). Results are ordered by trip_id.
func FindRailTripsByNumber(ctx context.Context, ext sqlx.ExtContext, number string) ([]TripCandidate, error) {
	if number == "" || strings.ContainsAny(number, "%_") {
		return nil, fmt.Errorf("invalid train number %q", number)
	}
	statementString := candidateColumns +
		"from trip t " +
		"join route r on r.route_id = t.route_id " +
		"join stop_time st on st.trip_id = t.trip_id " +
		"where " + firstStopPredicate +
		"and r.route_type = :route_type " +
		"and (t.trip_short_name = :number or t.trip_short_name like :suffix) " +
		"order by t.trip_id"

	candidates := make([]TripCandidate, 0)
	err := database.SelectNamed(ctx, ext, &candidates, statementString, map[string]interface{}{
		"route_type": RouteTypeRail,
		"number":     number,
		"suffix":     "% " + number,
	})
	if err != nil {
		return nil, fmt.Errorf("unable to query rail trips by number. query:%s error: %w", statementString, err)
	}
	return candidates, nil
}
