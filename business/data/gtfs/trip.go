package gtfs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// Trip contains data from a gtfs trip definition in a trips.txt file
type Trip struct {
	TripId        string `db:"trip_id" json:"trip_id"`
	RouteId       string `db:"route_id" json:"route_id"`
	ServiceId     string `db:"service_id" json:"service_id"`
	TripHeadsign  string `db:"trip_headsign" json:"trip_headsign"`
	TripShortName string `db:"trip_short_name" json:"trip_short_name"`
	DirectionId   int    `db:"direction_id" json:"direction_id"`
	ShapeId       string `db:"shape_id" json:"shape_id"`
}

// GetTrip retrieves a single Trip.
func GetTrip(ctx context.Context, ext sqlx.ExtContext, tripId string) (*Trip, error) {
	query := ext.Rebind("select * from trip where trip_id = ?")
	trip := Trip{}
	err := sqlx.GetContext(ctx, ext, &trip, query, tripId)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("trip %s: %w", tripId, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("unable to retrieve trip. query:%s error: %w", query, err)
	}
	return &trip, nil
}
