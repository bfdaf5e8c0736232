// Package gtfs provides read access to the promoted gtfs reference tables.
package gtfs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// Route types used by the matcher.
const (
	RouteTypeTram  = 0
	RouteTypeMetro = 1
	RouteTypeRail  = 2
	RouteTypeBus   = 3
)

// ErrNotFound is returned when a requested reference record does not exist.
var ErrNotFound = errors.New("reference record not found")

// Route contains data from a gtfs route definition in a routes.txt file
type Route struct {
	RouteId        string `db:"route_id" json:"route_id"`
	AgencyId       string `db:"agency_id" json:"agency_id"`
	RouteShortName string `db:"route_short_name" json:"route_short_name"`
	RouteLongName  string `db:"route_long_name" json:"route_long_name"`
	RouteType      int    `db:"route_type" json:"route_type"`
}

// GetRoute retrieves a single Route.
func GetRoute(ctx context.Context, ext sqlx.ExtContext, routeId string) (*Route, error) {
	query := ext.Rebind("select * from route where route_id = ?")
	route := Route{}
	err := sqlx.GetContext(ctx, ext, &route, query, routeId)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("route %s: %w", routeId, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("unable to retrieve route. query:%s error: %w", query, err)
	}
	return &route, nil
}

// ScheduledTrip is a trip with everything needed to follow it along its path.
type ScheduledTrip struct {
	Trip      Trip        `json:"trip"`
	Route     Route       `json:"route"`
	StopTimes []*StopTime `json:"stop_times"`
	Shapes    []*Shape    `json:"shapes"`
}

// GetScheduledTrip loads a trip with its route, ordered stop times and ordered shape points.
func GetScheduledTrip(ctx context.Context, ext sqlx.ExtContext, tripId string) (*ScheduledTrip, error) {
	trip, err := GetTrip(ctx, ext, tripId)
	if err != nil {
		return nil, err
	}
	route, err := GetRoute(ctx, ext, trip.RouteId)
	if err != nil {
		return nil, err
	}
	stopTimes, err := GetStopTimes(ctx, ext, tripId)
	if err != nil {
		return nil, err
	}
	if len(stopTimes) < 2 {
		return nil, fmt.Errorf("trip %s has %d stop times, at least two are required", tripId, len(stopTimes))
	}
	shapes, err := GetShapes(ctx, ext, trip.ShapeId)
	if err != nil {
		return nil, err
	}
	return &ScheduledTrip{
		Trip:      *trip,
		Route:     *route,
		StopTimes: stopTimes,
		Shapes:    shapes,
	}, nil
}
