package vehicle

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// PositionFix is one gps report of an ObservedTrip. Delay, ShapeDistTraveled and NextStopId are
// filled in by the delay estimator and stay nil when no position on the scheduled path was found.
type PositionFix struct {
	Id     string  `db:"id" json:"id"`
	TripId string  `db:"trip_id" json:"trip_id"`
	Lat    float64 `db:"lat" json:"lat"`
	Lon    float64 `db:"lon" json:"lon"`
	// OriginTime is the local time of day the fix was taken, "HH:MM:SS"
	OriginTime      string `db:"origin_time" json:"origin_time"`
	OriginTimestamp int64  `db:"origin_timestamp" json:"origin_timestamp"`
	// Tracking is 0 for fixes excluded from delay estimation
	Tracking int `db:"tracking" json:"tracking"`
	// CreatedAt is unix epoch milliseconds and orders fixes within a trip
	CreatedAt         int64    `db:"created_at" json:"created_at"`
	Delay             *int     `db:"delay" json:"delay"`
	ShapeDistTraveled *float64 `db:"shape_dist_traveled" json:"shape_dist_traveled"`
	NextStopId        *string  `db:"next_stop_id" json:"next_stop_id"`
}

// Estimate holds the estimator fields written back onto a fix.
type Estimate struct {
	Delay             *int
	ShapeDistTraveled *float64
	NextStopId        *string
}

// SavePositionFix inserts fix, assigning an id when it has none.
func SavePositionFix(ctx context.Context, ext sqlx.ExtContext, fix *PositionFix) error {
	if fix.Id == "" {
		fix.Id = uuid.NewString()
	}
	statementString := "insert into vehicle_position ( " +
		"id, " +
		"trip_id, " +
		"lat, " +
		"lon, " +
		"origin_time, " +
		"origin_timestamp, " +
		"tracking, " +
		"created_at, " +
		"delay, " +
		"shape_dist_traveled, " +
		"next_stop_id) " +
		"values (" +
		":id, " +
		":trip_id, " +
		":lat, " +
		":lon, " +
		":origin_time, " +
		":origin_timestamp, " +
		":tracking, " +
		":created_at, " +
		":delay, " +
		":shape_dist_traveled, " +
		":next_stop_id)"
	query, args, err := sqlx.Named(statementString, fix)
	if err != nil {
		return err
	}
	if _, err = ext.ExecContext(ctx, ext.Rebind(query), args...); err != nil {
		return fmt.Errorf("unable to save position fix for trip %s: %w", fix.TripId, err)
	}
	return nil
}

// GetTrackingFixes retrieves the fixes of trip with tracking enabled, ordered by creation time.
func GetTrackingFixes(ctx context.Context, ext sqlx.ExtContext, tripId string) ([]*PositionFix, error) {
	query := ext.Rebind("select * from vehicle_position where trip_id = ? and tracking <> 0 " +
		"order by created_at, id")
	fixes := make([]*PositionFix, 0)
	if err := sqlx.SelectContext(ctx, ext, &fixes, query, tripId); err != nil {
		return nil, fmt.Errorf("unable to retrieve position fixes. query:%s error: %w", query, err)
	}
	return fixes, nil
}

// UpdateEstimate writes e onto the fix of trip taken at originTime.
func UpdateEstimate(ctx context.Context, ext sqlx.ExtContext, tripId string, originTime string, e Estimate) error {
	query := ext.Rebind("update vehicle_position set " +
		"delay = ?, " +
		"shape_dist_traveled = ?, " +
		"next_stop_id = ? " +
		"where trip_id = ? and origin_time = ?")
	result, err := ext.ExecContext(ctx, query, e.Delay, e.ShapeDistTraveled, e.NextStopId, tripId, originTime)
	if err != nil {
		return fmt.Errorf("unable to update fix estimate. query:%s error: %w", query, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("unable to count updated fixes: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("fix of trip %s at %s: %w", tripId, originTime, ErrFixNotFound)
	}
	return nil
}

// CopyMissingFixes copies the fixes of fromTripId that toTripId does not have yet, matched by origin
// time. Estimator fields are left unset on the copies. Returns the number of fixes copied.
func CopyMissingFixes(ctx context.Context, ext sqlx.ExtContext, fromTripId string, toTripId string) (int64, error) {
	query := ext.Rebind("insert into vehicle_position " +
		"(id, trip_id, lat, lon, origin_time, origin_timestamp, tracking, created_at) " +
		"select ? || src.id, ?, src.lat, src.lon, src.origin_time, src.origin_timestamp, src.tracking, src.created_at " +
		"from vehicle_position src " +
		"where src.trip_id = ? and not exists (" +
		"select 1 from vehicle_position dst where dst.trip_id = ? and dst.origin_time = src.origin_time)")
	result, err := ext.ExecContext(ctx, query, toTripId+"/", toTripId, fromTripId, toTripId)
	if err != nil {
		return 0, fmt.Errorf("unable to copy position fixes. query:%s error: %w", query, err)
	}
	return result.RowsAffected()
}
