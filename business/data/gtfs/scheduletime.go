package gtfs

import (
	"fmt"
	"time"
)

const (
	// SecondsPerDay is the length of a service day without daylight saving transitions.
	SecondsPerDay int = 24 * 60 * 60
	// ServiceDateLayout is how dates are stored in calendar and calendar_date.
	ServiceDateLayout = "20060102"
)

// getDLSTransitionSeconds provides the number of seconds offset for a 12am date later in the day after day light saving time is done
func getDLSTransitionSeconds(timeAt12 time.Time) int {
	before := time.Date(timeAt12.Year(), timeAt12.Month(), timeAt12.Day(), 0, 0, 0, 0, timeAt12.Location())
	after := time.Date(timeAt12.Year(), timeAt12.Month(), timeAt12.Day(), 5, 0, 0, 0, timeAt12.Location())
	_, beforeOffset := before.Zone()
	_, afterOffset := after.Zone()
	return afterOffset - beforeOffset
}

// MakeScheduleTime produces a time from by adding seconds to a 12am date. Takes into account day light saving time
func MakeScheduleTime(timeAt12 time.Time, scheduleSeconds int) time.Time {
	offset := getDLSTransitionSeconds(timeAt12)
	scheduleSeconds = scheduleSeconds + (0 - offset)
	return timeAt12.Add(time.Duration(scheduleSeconds) * time.Second)
}

// ScheduleSeconds is the inverse of MakeScheduleTime: the schedule seconds of at on the service date timeAt12.
func ScheduleSeconds(timeAt12 time.Time, at time.Time) int {
	return int(at.Sub(timeAt12)/time.Second) + getDLSTransitionSeconds(timeAt12)
}

// Get12AmTime returns midnight of date in date's location.
func Get12AmTime(date time.Time) time.Time {
	return time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, date.Location())
}

// PreviousServiceDate returns midnight of the calendar day before serviceDate.
func PreviousServiceDate(serviceDate time.Time) time.Time {
	return Get12AmTime(serviceDate).AddDate(0, 0, -1)
}

// FormatServiceDate formats the date part of t as stored in calendar tables.
func FormatServiceDate(t time.Time) string {
	return t.Format(ServiceDateLayout)
}

// ParseTimeOfDay parses "HH:MM:SS" into seconds. Hours may exceed 23.
func ParseTimeOfDay(value string) (int, error) {
	var hours, minutes, seconds int
	n, err := fmt.Sscanf(value, "%d:%d:%d", &hours, &minutes, &seconds)
	if err != nil || n != 3 {
		return 0, fmt.Errorf("invalid time of day %q", value)
	}
	if hours < 0 || minutes < 0 || minutes > 59 || seconds < 0 || seconds > 59 {
		return 0, fmt.Errorf("invalid time of day %q", value)
	}
	return hours*3600 + minutes*60 + seconds, nil
}

// FormatTimeOfDay formats seconds as "HH:MM:SS". Hours may exceed 23.
func FormatTimeOfDay(seconds int) string {
	sign := ""
	if seconds < 0 {
		sign = "-"
		seconds = -seconds
	}
	return fmt.Sprintf("%s%02d:%02d:%02d", sign, seconds/3600, (seconds/60)%60, seconds%60)
}
