package monitor

import (
	"context"
	"encoding/json"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/mongo"
)

// DelaySubject is the nats subject delay summaries are published on.
const DelaySubject = "vehicle-delays"

// ReportsCollection is the mongo collection trip reports are stored in.
const ReportsCollection = "trip_reports"

// ReportPublisher sends trip reports to their destinations.
type ReportPublisher interface {
	Publish(ctx context.Context, report *TripReport)
}

// DelaySummary is the latest delay of an observed trip as published over nats.
type DelaySummary struct {
	TripId          string    `json:"trip_id"`
	OriginTripId    string    `json:"origin_trip_id,omitempty"`
	ScheduledTripId string    `json:"scheduled_trip_id"`
	RouteId         string    `json:"route_id"`
	Delay           *int      `json:"delay"`
	NextStopId      *string   `json:"next_stop_id"`
	Estimated       int       `json:"estimated"`
	NotFound        int       `json:"not_found"`
	PersistFailed   int       `json:"persist_failed"`
	CreatedAt       time.Time `json:"created_at"`
}

func summarize(report *TripReport) DelaySummary {
	return DelaySummary{
		TripId:          report.TripId,
		OriginTripId:    report.OriginTripId,
		ScheduledTripId: report.ScheduledTripId,
		RouteId:         report.RouteId,
		Delay:           report.LastDelay,
		NextStopId:      report.LastNextStopId,
		Estimated:       report.Estimated,
		NotFound:        report.NotFound,
		PersistFailed:   report.PersistFailed,
		CreatedAt:       report.CreatedAt,
	}
}

// reportPublisher takes trip reports made by the estimator and sends them to nats and mongo.
// Either destination is skipped when nil.
type reportPublisher struct {
	log            *zerolog.Logger
	natsConnection *nats.Conn
	reports        *mongo.Collection
	metrics        *Metrics
}

// NewReportPublisher creates a ReportPublisher
func NewReportPublisher(log *zerolog.Logger,
	natsConnection *nats.Conn,
	reports *mongo.Collection,
	metrics *Metrics) ReportPublisher {
	return &reportPublisher{
		log:            log,
		natsConnection: natsConnection,
		reports:        reports,
		metrics:        metrics,
	}
}

// Publish sends a DelaySummary of report over nats and records report in mongo
func (r *reportPublisher) Publish(ctx context.Context, report *TripReport) {
	published := true
	if r.natsConnection != nil && !r.sendOverNats(report) {
		published = false
	}
	if r.reports != nil && !r.record(ctx, report) {
		published = false
	}
	if published {
		r.metrics.ReportsPublished.Inc()
	}
}

func (r *reportPublisher) sendOverNats(report *TripReport) bool {
	jsonData, err := json.Marshal(summarize(report))
	if err != nil {
		r.log.Error().Err(err).Str("trip_id", report.TripId).Msg("failed to marshal delay summary")
		r.metrics.PublishErrors.WithLabelValues("nats").Inc()
		return false
	}
	if err = r.natsConnection.Publish(DelaySubject, jsonData); err != nil {
		r.log.Error().Err(err).Str("trip_id", report.TripId).Msg("failed to send delay summary")
		r.metrics.PublishErrors.WithLabelValues("nats").Inc()
		return false
	}
	return true
}

func (r *reportPublisher) record(ctx context.Context, report *TripReport) bool {
	if _, err := r.reports.InsertOne(ctx, report); err != nil {
		r.log.Error().Err(err).Str("trip_id", report.TripId).Msg("failed to record trip report")
		r.metrics.PublishErrors.WithLabelValues("mongo").Inc()
		return false
	}
	return true
}
