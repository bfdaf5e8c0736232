package monitor

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/OpenTransitTools/transitdelay/business/data/dbtest"
	"github.com/OpenTransitTools/transitdelay/business/data/gtfs"
	"github.com/OpenTransitTools/transitdelay/business/data/vehicle"
	"github.com/OpenTransitTools/transitdelay/foundation/cache"
	"github.com/alicebob/miniredis/v2"
	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
)

func intPtr(i int) *int {
	return &i
}

func strPtr(s string) *string {
	return &s
}

func getTestScheduledTrip(tripId string, t *testing.T) *gtfs.ScheduledTrip {
	t.Helper()
	var trips []*gtfs.ScheduledTrip
	file, err := os.ReadFile(filepath.Join("testdata", "scheduled_trips.json"))
	if err != nil {
		t.Fatalf("unable to read test trips file: %v", err)
	}
	if err = json.Unmarshal(file, &trips); err != nil {
		t.Fatalf("unable to read test trips file: %v", err)
	}
	for _, trip := range trips {
		if trip.Trip.TripId == tripId {
			return trip
		}
	}
	t.Fatalf("unable to find test tripId %s", tripId)
	return nil
}

func pragueLocation(t *testing.T) *time.Location {
	t.Helper()
	location, err := time.LoadLocation("Europe/Prague")
	if err != nil {
		t.Fatalf("Unable to load \"Europe/Prague\" timezone: %v", err)
	}
	return location
}

func testMetrics() *Metrics {
	return NewMetrics(prometheus.NewRegistry())
}

// testAnchorCache returns an AnchorCache backed by an in process redis
func testAnchorCache(t *testing.T) (*AnchorCache, *miniredis.Miniredis) {
	t.Helper()
	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() {
		_ = client.Close()
	})
	return NewAnchorCache(dbtest.Logger(), cache.NewStringCache(client, time.Hour)), server
}

// capturingPublisher keeps every report published
type capturingPublisher struct {
	mu      sync.Mutex
	reports []*TripReport
}

func (c *capturingPublisher) Publish(_ context.Context, report *TripReport) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reports = append(c.reports, report)
}

func (c *capturingPublisher) byTripId() map[string]*TripReport {
	c.mu.Lock()
	defer c.mu.Unlock()
	result := make(map[string]*TripReport)
	for _, report := range c.reports {
		result[report.TripId] = report
	}
	return result
}

func saveTrip(t *testing.T, db *sqlx.DB, trip vehicle.ObservedTrip) *vehicle.ObservedTrip {
	t.Helper()
	if err := vehicle.SaveObservedTrip(context.Background(), db, &trip); err != nil {
		t.Fatalf("saving observed trip: %v", err)
	}
	return &trip
}

func saveFix(t *testing.T, db *sqlx.DB, fix vehicle.PositionFix) {
	t.Helper()
	if fix.Tracking == 0 {
		fix.Tracking = 1
	}
	if err := vehicle.SavePositionFix(context.Background(), db, &fix); err != nil {
		t.Fatalf("saving position fix: %v", err)
	}
}

func trackingFixes(t *testing.T, db *sqlx.DB, tripId string) []*vehicle.PositionFix {
	t.Helper()
	fixes, err := vehicle.GetTrackingFixes(context.Background(), db, tripId)
	if err != nil {
		t.Fatalf("loading fixes: %v", err)
	}
	return fixes
}
