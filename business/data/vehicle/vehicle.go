// Package vehicle stores observed vehicle trips and the position fixes reported along them.
package vehicle

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
)

var (
	// ErrTripNotFound is returned when an observed trip does not exist.
	ErrTripNotFound = errors.New("observed trip not found")
	// ErrFixNotFound is returned when a position fix to update does not exist.
	ErrFixNotFound = errors.New("position fix not found")
)

// ObservedTrip is one run of a vehicle as reported by the realtime feed. ScheduledTripId and the
// route attributes are nil until the trip is matched. OriginTripId is set on rows split off a
// train run that corresponds to several scheduled trips.
type ObservedTrip struct {
	Id                       string  `db:"id" json:"id"`
	OriginTripId             *string `db:"origin_trip_id" json:"origin_trip_id"`
	LineShortName            string  `db:"line_short_name" json:"line_short_name"`
	StartAswStopId           string  `db:"start_asw_stop_id" json:"start_asw_stop_id"`
	StartCisStopId           int     `db:"start_cis_stop_id" json:"start_cis_stop_id"`
	StartCisStopPlatformCode string  `db:"start_cis_stop_platform_code" json:"start_cis_stop_platform_code"`
	// StartTimestamp is the unix epoch seconds the run started at its first stop
	StartTimestamp  int64   `db:"start_timestamp" json:"start_timestamp"`
	ScheduledTripId *string `db:"scheduled_trip_id" json:"scheduled_trip_id"`
	RouteId         *string `db:"route_id" json:"route_id"`
	RouteShortName  *string `db:"route_short_name" json:"route_short_name"`
	RouteType       *int    `db:"route_type" json:"route_type"`
	TripHeadsign    *string `db:"trip_headsign" json:"trip_headsign"`
	// CreatedAt is unix epoch milliseconds
	CreatedAt int64 `db:"created_at" json:"created_at"`
}

// Matched reports whether the trip has been associated with a scheduled trip.
func (o *ObservedTrip) Matched() bool {
	return o.ScheduledTripId != nil
}

// Association is the scheduled trip an ObservedTrip was matched to.
type Association struct {
	ScheduledTripId string `db:"scheduled_trip_id" json:"scheduled_trip_id"`
	RouteId         string `db:"route_id" json:"route_id"`
	RouteShortName  string `db:"route_short_name" json:"route_short_name"`
	RouteType       int    `db:"route_type" json:"route_type"`
	TripHeadsign    string `db:"trip_headsign" json:"trip_headsign"`
}

// SaveObservedTrip inserts trip.
func SaveObservedTrip(ctx context.Context, ext sqlx.ExtContext, trip *ObservedTrip) error {
	statementString := "insert into vehicle_trip ( " +
		"id, " +
		"origin_trip_id, " +
		"line_short_name, " +
		"start_asw_stop_id, " +
		"start_cis_stop_id, " +
		"start_cis_stop_platform_code, " +
		"start_timestamp, " +
		"scheduled_trip_id, " +
		"route_id, " +
		"route_short_name, " +
		"route_type, " +
		"trip_headsign, " +
		"created_at) " +
		"values (" +
		":id, " +
		":origin_trip_id, " +
		":line_short_name, " +
		":start_asw_stop_id, " +
		":start_cis_stop_id, " +
		":start_cis_stop_platform_code, " +
		":start_timestamp, " +
		":scheduled_trip_id, " +
		":route_id, " +
		":route_short_name, " +
		":route_type, " +
		":trip_headsign, " +
		":created_at)"
	query, args, err := sqlx.Named(statementString, trip)
	if err != nil {
		return err
	}
	if _, err = ext.ExecContext(ctx, ext.Rebind(query), args...); err != nil {
		return fmt.Errorf("unable to save observed trip %s: %w", trip.Id, err)
	}
	return nil
}

// GetObservedTrip retrieves a single ObservedTrip.
func GetObservedTrip(ctx context.Context, ext sqlx.ExtContext, id string) (*ObservedTrip, error) {
	query := ext.Rebind("select * from vehicle_trip where id = ?")
	trip := ObservedTrip{}
	err := sqlx.GetContext(ctx, ext, &trip, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("trip %s: %w", id, ErrTripNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("unable to retrieve observed trip. query:%s error: %w", query, err)
	}
	return &trip, nil
}

// GetSiblingTripIds returns the ids of trips split off id, ordered by id.
func GetSiblingTripIds(ctx context.Context, ext sqlx.ExtContext, id string) ([]string, error) {
	query := ext.Rebind("select id from vehicle_trip where origin_trip_id = ? order by id")
	ids := make([]string, 0)
	if err := sqlx.SelectContext(ctx, ext, &ids, query, id); err != nil {
		return nil, fmt.Errorf("unable to retrieve sibling trips. query:%s error: %w", query, err)
	}
	return ids, nil
}

// Associate stores the scheduled trip matched to trip id.
func Associate(ctx context.Context, ext sqlx.ExtContext, id string, a Association) error {
	query := ext.Rebind("update vehicle_trip set " +
		"scheduled_trip_id = ?, " +
		"route_id = ?, " +
		"route_short_name = ?, " +
		"route_type = ?, " +
		"trip_headsign = ? " +
		"where id = ?")
	result, err := ext.ExecContext(ctx, query, a.ScheduledTripId, a.RouteId, a.RouteShortName, a.RouteType, a.TripHeadsign, id)
	if err != nil {
		return fmt.Errorf("unable to associate trip %s. query:%s error: %w", id, query, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("trip %s: %w", id, ErrTripNotFound)
	}
	return nil
}
