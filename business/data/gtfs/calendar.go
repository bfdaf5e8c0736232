package gtfs

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

// calendar_date exception types
const (
	ServiceAdded   = 1
	ServiceRemoved = 2
)

// Calendar contains data from a record in a gtfs calendar.txt file
type Calendar struct {
	ServiceId string `db:"service_id" json:"service_id"`
	Monday    int    `db:"monday" json:"monday"`
	Tuesday   int    `db:"tuesday" json:"tuesday"`
	Wednesday int    `db:"wednesday" json:"wednesday"`
	Thursday  int    `db:"thursday" json:"thursday"`
	Friday    int    `db:"friday" json:"friday"`
	Saturday  int    `db:"saturday" json:"saturday"`
	Sunday    int    `db:"sunday" json:"sunday"`
	StartDate string `db:"start_date" json:"start_date"`
	EndDate   string `db:"end_date" json:"end_date"`
}

// CalendarDate contains data from a record in a gtfs calendar_dates.txt file
type CalendarDate struct {
	ServiceId     string `db:"service_id" json:"service_id"`
	Date          string `db:"date" json:"date"`
	ExceptionType int    `db:"exception_type" json:"exception_type"`
}

// weekdayColumns maps weekdays onto calendar columns. Only these names are ever placed in query text.
var weekdayColumns = map[time.Weekday]string{
	time.Sunday:    "sunday",
	time.Monday:    "monday",
	time.Tuesday:   "tuesday",
	time.Wednesday: "wednesday",
	time.Thursday:  "thursday",
	time.Friday:    "friday",
	time.Saturday:  "saturday",
}

// GetActiveServiceIds retrieves the service ids running on serviceDate.
// The result is the calendar services for the weekday, plus added exceptions, minus removed
// exceptions. A service both added and removed on the same date is not active.
func GetActiveServiceIds(ctx context.Context, ext sqlx.ExtContext, serviceDate time.Time) (map[string]bool, error) {
	date := FormatServiceDate(serviceDate)
	weekday := weekdayColumns[serviceDate.Weekday()]

	query := ext.Rebind(fmt.Sprintf("select service_id from calendar "+
		"where start_date <= ? and end_date >= ? and %s = 1", weekday))
	var calendarServiceIds []string
	if err := sqlx.SelectContext(ctx, ext, &calendarServiceIds, query, date, date); err != nil {
		return nil, fmt.Errorf("unable to retrieve service_ids from calendar table. query:%s error: %w", query, err)
	}

	var calendarDates []CalendarDate
	query = ext.Rebind("select * from calendar_date where date = ?")
	if err := sqlx.SelectContext(ctx, ext, &calendarDates, query, date); err != nil {
		return nil, fmt.Errorf("unable to query calendar_date table. query:%s error: %w", query, err)
	}

	added := make(map[string]bool)
	removed := make(map[string]bool)
	for _, calendarDate := range calendarDates {
		switch calendarDate.ExceptionType {
		case ServiceAdded:
			added[calendarDate.ServiceId] = true
		case ServiceRemoved:
			removed[calendarDate.ServiceId] = true
		}
	}

	active := make(map[string]bool)
	for _, serviceId := range calendarServiceIds {
		active[serviceId] = true
	}
	for serviceId := range added {
		active[serviceId] = true
	}
	for serviceId := range removed {
		delete(active, serviceId)
	}
	return active, nil
}

// ServiceDateForDeparture returns the service date a departure at scheduleSeconds belongs to when
// observed on calendar day observedDay. Departures at or past 24:00:00 run on the previous service date.
func ServiceDateForDeparture(observedDay time.Time, scheduleSeconds int) time.Time {
	if scheduleSeconds >= SecondsPerDay {
		return PreviousServiceDate(observedDay)
	}
	return Get12AmTime(observedDay)
}
