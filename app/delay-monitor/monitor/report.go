package monitor

import (
	"time"

	"github.com/google/uuid"
)

// FixOutcome is what happened to one position fix.
type FixOutcome string

const (
	OutcomeEstimated     FixOutcome = "estimated"
	OutcomeNotFound      FixOutcome = "not_found"
	OutcomePersistFailed FixOutcome = "persist_failed"
)

// FixResult records the outcome of one fix in a TripReport.
type FixResult struct {
	FixId             string     `json:"fix_id" bson:"fix_id"`
	OriginTime        string     `json:"origin_time" bson:"origin_time"`
	Outcome           FixOutcome `json:"outcome" bson:"outcome"`
	Delay             *int       `json:"delay,omitempty" bson:"delay,omitempty"`
	ShapeDistTraveled *float64   `json:"shape_dist_traveled,omitempty" bson:"shape_dist_traveled,omitempty"`
	NextStopId        *string    `json:"next_stop_id,omitempty" bson:"next_stop_id,omitempty"`
	Error             string     `json:"error,omitempty" bson:"error,omitempty"`
}

// TripReport summarizes one delay estimation run over an observed trip.
type TripReport struct {
	Id              string      `json:"id" bson:"_id"`
	TripId          string      `json:"trip_id" bson:"trip_id"`
	ScheduledTripId string      `json:"scheduled_trip_id" bson:"scheduled_trip_id"`
	RouteId         string      `json:"route_id" bson:"route_id"`
	OriginTripId    string      `json:"origin_trip_id,omitempty" bson:"origin_trip_id,omitempty"`
	Estimated       int         `json:"estimated" bson:"estimated"`
	NotFound        int         `json:"not_found" bson:"not_found"`
	PersistFailed   int         `json:"persist_failed" bson:"persist_failed"`
	LastDelay       *int        `json:"last_delay,omitempty" bson:"last_delay,omitempty"`
	LastNextStopId  *string     `json:"last_next_stop_id,omitempty" bson:"last_next_stop_id,omitempty"`
	Fixes           []FixResult `json:"fixes" bson:"fixes"`
	CreatedAt       time.Time   `json:"created_at" bson:"created_at"`
}

func newTripReport(tripId string, scheduledTripId string) *TripReport {
	return &TripReport{
		Id:              uuid.NewString(),
		TripId:          tripId,
		ScheduledTripId: scheduledTripId,
		Fixes:           make([]FixResult, 0),
		CreatedAt:       time.Now().UTC(),
	}
}

// add appends result and updates the counters
func (r *TripReport) add(result FixResult) {
	r.Fixes = append(r.Fixes, result)
	switch result.Outcome {
	case OutcomeEstimated:
		r.Estimated++
		r.LastDelay = result.Delay
		r.LastNextStopId = result.NextStopId
	case OutcomeNotFound:
		r.NotFound++
	case OutcomePersistFailed:
		r.PersistFailed++
	}
}
