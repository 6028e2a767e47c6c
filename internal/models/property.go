package models

import "time"

// DateLayout is the calendar-date format used on every external boundary
const DateLayout = "2006-01-02"

// Property holds the booking constraints of a rental property
type Property struct {
	ID          string `json:"id" validate:"required"`
	Name        string `json:"name"`
	MaxCapacity int    `json:"max_capacity" validate:"gte=1"`
	MinStay     int    `json:"min_stay" validate:"gte=0"`
	Currency    string `json:"currency"`
}

// CalendarDay is one day of a property's rate and availability calendar
type CalendarDay struct {
	Date               string  `json:"date" validate:"required,datetime=2006-01-02"`
	Rate               float64 `json:"rate" validate:"gte=0"`
	Available          bool    `json:"available"`
	MinStay            int     `json:"min_stay" validate:"gte=0"`
	ClosedForArrival   bool    `json:"closed_for_arrival"`
	ClosedForDeparture bool    `json:"closed_for_departure"`
}

// Calendar indexes calendar days by date
type Calendar map[string]CalendarDay

// NewCalendar builds a Calendar from a list of days
func NewCalendar(days []CalendarDay) Calendar {
	cal := make(Calendar, len(days))
	for _, d := range days {
		cal[d.Date] = d
	}
	return cal
}

// Day looks up the calendar entry for a date
func (c Calendar) Day(t time.Time) (CalendarDay, bool) {
	d, ok := c[t.Format(DateLayout)]
	return d, ok
}

// StayNights returns every night of a stay, check-in inclusive and check-out exclusive
func StayNights(checkIn, checkOut time.Time) []time.Time {
	var nights []time.Time
	for d := checkIn; d.Before(checkOut); d = d.AddDate(0, 0, 1) {
		nights = append(nights, d)
	}
	return nights
}

// NightsBetween counts calendar nights between two dates
func NightsBetween(checkIn, checkOut time.Time) int {
	return len(StayNights(checkIn, checkOut))
}

// ParseDate parses a YYYY-MM-DD calendar date as UTC midnight
func ParseDate(s string) (time.Time, error) {
	return time.ParseInLocation(DateLayout, s, time.UTC)
}
