package monitor

import (
	"fmt"
	"math"

	"github.com/OpenTransitTools/transitdelay/business/data/gtfs"
)

// AnchorPoint is a sample along a scheduled trip's path annotated with the time the vehicle is
// scheduled to pass it. ScheduledTime is seconds past service day midnight.
type AnchorPoint struct {
	Lat           float64 `json:"lat"`
	Lon           float64 `json:"lon"`
	Distance      float64 `json:"distance"`
	ScheduledTime int     `json:"scheduled_time"`
	LastStopId    string  `json:"last_stop_id"`
	NextStopId    string  `json:"next_stop_id"`
}

// AnchorPath is the ordered list of anchor points of one scheduled trip.
type AnchorPath struct {
	ScheduledTripId string        `json:"scheduled_trip_id"`
	Points          []AnchorPoint `json:"points"`
}

// AnchorOptions controls how an AnchorPath is sampled.
type AnchorOptions struct {
	// Interval is the distance in meters between samples
	Interval float64
	// DistanceScale converts shape_dist_traveled units into meters
	DistanceScale float64
}

// DefaultAnchorOptions samples every 100 meters from shape distances in meters.
func DefaultAnchorOptions() AnchorOptions {
	return AnchorOptions{Interval: 100, DistanceScale: 1}
}

// pathPoint is a polyline vertex with its distance from the start of the path in meters
type pathPoint struct {
	lat      float64
	lon      float64
	distance float64
}

// BuildAnchorPath samples trip's shape every opts.Interval meters from start to end, plus the final
// point. Each sample carries the stops bracketing it and its scheduled time, interpolated linearly
// between the last stop's departure and the next stop's arrival.
func BuildAnchorPath(trip *gtfs.ScheduledTrip, opts AnchorOptions) (*AnchorPath, error) {
	if opts.Interval <= 0 {
		opts.Interval = DefaultAnchorOptions().Interval
	}
	if opts.DistanceScale <= 0 {
		opts.DistanceScale = DefaultAnchorOptions().DistanceScale
	}
	if len(trip.StopTimes) < 2 {
		return nil, fmt.Errorf("trip %s has %d stop times, at least two are required",
			trip.Trip.TripId, len(trip.StopTimes))
	}

	polyline, feedDistances, err := makePolyline(trip, opts.DistanceScale)
	if err != nil {
		return nil, err
	}
	stopDistances, err := makeStopDistances(trip, polyline, feedDistances, opts.DistanceScale)
	if err != nil {
		return nil, err
	}

	total := polyline[len(polyline)-1].distance
	points := make([]AnchorPoint, 0, int(total/opts.Interval)+2)
	segment := 0
	bracket := 0
	sample := func(d float64) {
		for segment < len(polyline)-2 && d > polyline[segment+1].distance {
			segment++
		}
		for bracket < len(stopDistances)-1 && d >= stopDistances[bracket+1] {
			bracket++
		}
		lat, lon := locateOnSegment(polyline[segment], polyline[segment+1], d)
		point := AnchorPoint{Lat: lat, Lon: lon, Distance: d}
		if bracket == len(stopDistances)-1 {
			last := trip.StopTimes[bracket]
			point.ScheduledTime = last.ArrivalTime
			point.LastStopId = last.StopId
			point.NextStopId = last.StopId
		} else {
			from := trip.StopTimes[bracket]
			to := trip.StopTimes[bracket+1]
			fraction := 0.0
			if span := stopDistances[bracket+1] - stopDistances[bracket]; span > 0 {
				fraction = math.Min(1, math.Max(0, (d-stopDistances[bracket])/span))
			}
			point.ScheduledTime = from.DepartureTime +
				int(math.Round(fraction*float64(to.ArrivalTime-from.DepartureTime)))
			point.LastStopId = from.StopId
			point.NextStopId = to.StopId
		}
		points = append(points, point)
	}
	for k := 0; float64(k)*opts.Interval < total; k++ {
		sample(float64(k) * opts.Interval)
	}
	sample(total)

	return &AnchorPath{ScheduledTripId: trip.Trip.TripId, Points: points}, nil
}

// makePolyline returns the trip's shape with distances in meters and whether those distances came
// from shape_dist_traveled. Without a usable shape the stops themselves form the path.
func makePolyline(trip *gtfs.ScheduledTrip, scale float64) ([]pathPoint, bool, error) {
	polyline := make([]pathPoint, 0, len(trip.Shapes))
	if len(trip.Shapes) >= 2 {
		useShapeDistances := true
		for _, shape := range trip.Shapes {
			if shape.ShapeDistTraveled == nil {
				useShapeDistances = false
				break
			}
		}
		for i, shape := range trip.Shapes {
			point := pathPoint{lat: shape.ShapePtLat, lon: shape.ShapePtLng}
			if useShapeDistances {
				point.distance = *shape.ShapeDistTraveled * scale
			} else if i > 0 {
				previous := polyline[i-1]
				point.distance = previous.distance + haversineDistance(previous.lat, previous.lon, point.lat, point.lon)
			}
			polyline = append(polyline, point)
		}
		return polyline, useShapeDistances, nil
	}

	for _, stopTime := range trip.StopTimes {
		if stopTime.StopLat == nil || stopTime.StopLon == nil {
			return nil, false, fmt.Errorf("trip %s has no shape and stop %s has no coordinates",
				trip.Trip.TripId, stopTime.StopId)
		}
		point := pathPoint{lat: *stopTime.StopLat, lon: *stopTime.StopLon}
		if n := len(polyline); n > 0 {
			previous := polyline[n-1]
			point.distance = previous.distance + haversineDistance(previous.lat, previous.lon, point.lat, point.lon)
		}
		polyline = append(polyline, point)
	}
	return polyline, false, nil
}

// makeStopDistances returns each stop's distance along polyline. Stop distances from the feed are only
// used when the polyline distances are too, otherwise stops are projected onto the polyline searching
// forward from the previous stop.
func makeStopDistances(trip *gtfs.ScheduledTrip, polyline []pathPoint, feedDistances bool, scale float64) ([]float64, error) {
	distances := make([]float64, len(trip.StopTimes))
	total := polyline[len(polyline)-1].distance
	fromSegment := 0
	previous := 0.0
	for i, stopTime := range trip.StopTimes {
		var distance float64
		if stopTime.ShapeDistTraveled != nil && feedDistances {
			distance = *stopTime.ShapeDistTraveled * scale
		} else {
			if stopTime.StopLat == nil || stopTime.StopLon == nil {
				return nil, fmt.Errorf("stop %s of trip %s has neither distance nor coordinates",
					stopTime.StopId, trip.Trip.TripId)
			}
			distance, fromSegment = projectOntoPolyline(polyline, fromSegment, *stopTime.StopLat, *stopTime.StopLon)
		}
		distance = math.Min(total, math.Max(previous, distance))
		distances[i] = distance
		previous = distance
	}
	return distances, nil
}

// projectOntoPolyline finds the point of polyline nearest to lat, lon starting at segment fromSegment.
// Returns its distance along the polyline and the segment it lies on.
func projectOntoPolyline(polyline []pathPoint, fromSegment int, lat, lon float64) (float64, int) {
	bestDistance := polyline[fromSegment].distance
	bestSegment := fromSegment
	bestOffset := math.Inf(1)
	for i := fromSegment; i < len(polyline)-1; i++ {
		start, end := polyline[i], polyline[i+1]
		nearLat, nearLon, t := nearestLatLngToLineFromPoint(start.lat, start.lon, end.lat, end.lon, lat, lon)
		offset := simpleLatLngDistance(nearLat, nearLon, lat, lon)
		if offset < bestOffset {
			bestOffset = offset
			bestSegment = i
			switch t {
			case 0:
				bestDistance = start.distance
			case 1:
				bestDistance = end.distance
			default:
				bestDistance = start.distance + (end.distance-start.distance)*t
			}
		}
	}
	return bestDistance, bestSegment
}

// locateOnSegment returns the coordinates at distance d between start and end
func locateOnSegment(start, end pathPoint, d float64) (float64, float64) {
	span := end.distance - start.distance
	if span <= 0 {
		return start.lat, start.lon
	}
	t := math.Min(1, math.Max(0, (d-start.distance)/span))
	return interpolateLatLng(start.lat, start.lon, end.lat, end.lon, t)
}
