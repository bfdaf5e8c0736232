package gtfs

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// StopTime contains a record from a gtfs stop_times.txt file
// represents a scheduled arrival and departure at a stop.
// StopLat and StopLon come from the stop table and are nil when the stop is unknown.
type StopTime struct {
	TripId            string   `db:"trip_id" json:"trip_id"`
	StopSequence      uint32   `db:"stop_sequence" json:"stop_sequence"`
	StopId            string   `db:"stop_id" json:"stop_id"`
	ArrivalTime       int      `db:"arrival_time" json:"arrival_time"`
	DepartureTime     int      `db:"departure_time" json:"departure_time"`
	ShapeDistTraveled *float64 `db:"shape_dist_traveled" json:"shape_dist_traveled"`
	StopLat           *float64 `db:"stop_lat" json:"stop_lat"`
	StopLon           *float64 `db:"stop_lon" json:"stop_lon"`
}

// GetStopTimes retrieves the StopTimes of a trip ordered by stop_sequence.
func GetStopTimes(ctx context.Context, ext sqlx.ExtContext, tripId string) ([]*StopTime, error) {
	query := ext.Rebind("select st.trip_id, st.stop_sequence, st.stop_id, st.arrival_time, st.departure_time, " +
		"st.shape_dist_traveled, s.stop_lat, s.stop_lon " +
		"from stop_time st left join stop s on s.stop_id = st.stop_id " +
		"where st.trip_id = ? order by st.stop_sequence")
	stopTimes := make([]*StopTime, 0)
	if err := sqlx.SelectContext(ctx, ext, &stopTimes, query, tripId); err != nil {
		return nil, fmt.Errorf("unable to retrieve stop times. query:%s error: %w", query, err)
	}
	return stopTimes, nil
}
