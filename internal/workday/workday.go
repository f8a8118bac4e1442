// Package workday knows the shape of a working day: day-part classification,
// working bounds, mention windows, and the fine-grained minute bands layered
// on top of the coarse cron windows.
//
// All arithmetic happens in a single configured IANA zone injected at
// construction. Nothing in here consults the host zone.
package workday

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

type DayPart string

const (
	Morning   DayPart = "Morning"
	Afternoon DayPart = "Afternoon"
	Fullday   DayPart = "Fullday"
)

// Clock abstracts "now" so tick logic is testable at fixed instants.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

func SystemClock() Clock { return systemClock{} }

// Hours evaluates day shape in one fixed location.
type Hours struct {
	loc *time.Location
}

func NewHours(loc *time.Location) *Hours {
	if loc == nil {
		loc = time.UTC
	}
	return &Hours{loc: loc}
}

func (h *Hours) Location() *time.Location { return h.loc }

// DayPartAt classifies the instant: before local noon is Morning, the rest
// of the day is Afternoon. Fullday is not a clock state; it is always
// considered active alongside the current part (see ActiveParts).
func (h *Hours) DayPartAt(now time.Time) DayPart {
	if now.In(h.loc).Hour() < 12 {
		return Morning
	}
	return Afternoon
}

// ActiveParts returns the attendance day-parts matching the instant,
// current part first.
func (h *Hours) ActiveParts(now time.Time) []DayPart {
	return []DayPart{h.DayPartAt(now), Fullday}
}

func (h *Hours) IsWeekday(now time.Time) bool {
	wd := now.In(h.loc).Weekday()
	return wd != time.Saturday && wd != time.Sunday
}

// WorkdayBounds returns the start and end of the working day containing
// the instant (07:00 to 17:00 local).
func (h *Hours) WorkdayBounds(now time.Time) (start, end time.Time) {
	d := now.In(h.loc)
	start = time.Date(d.Year(), d.Month(), d.Day(), 7, 0, 0, 0, h.loc)
	end = time.Date(d.Year(), d.Month(), d.Day(), 17, 0, 0, 0, h.loc)
	return start, end
}

// InMentionWindow reports whether mention bookkeeping applies at the
// instant: weekdays, 08:30-11:59 and 13:00-17:29 local.
func (h *Hours) InMentionWindow(now time.Time) bool {
	if !h.IsWeekday(now) {
		return false
	}
	d := now.In(h.loc)
	mins := d.Hour()*60 + d.Minute()
	morning := mins >= 8*60+30 && mins <= 11*60+59
	afternoon := mins >= 13*60 && mins <= 17*60+29
	return morning || afternoon
}

// Band is an inclusive local-time window, e.g. 09:00-11:00. Bands express
// sub-hour inclusion that cron's hour fields cannot.
type Band struct {
	FromHour, FromMin int
	ToHour, ToMin     int
}

// ParseBand parses "HH:MM-HH:MM".
func ParseBand(s string) (Band, error) {
	parts := strings.Split(strings.TrimSpace(s), "-")
	if len(parts) != 2 {
		return Band{}, fmt.Errorf("invalid band %q, expected HH:MM-HH:MM", s)
	}
	fh, fm, err := parseHHMM(parts[0])
	if err != nil {
		return Band{}, fmt.Errorf("invalid band %q: %w", s, err)
	}
	th, tm, err := parseHHMM(parts[1])
	if err != nil {
		return Band{}, fmt.Errorf("invalid band %q: %w", s, err)
	}
	b := Band{FromHour: fh, FromMin: fm, ToHour: th, ToMin: tm}
	if b.fromMins() > b.toMins() {
		return Band{}, fmt.Errorf("invalid band %q: start after end", s)
	}
	return b, nil
}

func ParseBands(raw []string) ([]Band, error) {
	bands := make([]Band, 0, len(raw))
	for _, s := range raw {
		b, err := ParseBand(s)
		if err != nil {
			return nil, err
		}
		bands = append(bands, b)
	}
	return bands, nil
}

func (b Band) fromMins() int { return b.FromHour*60 + b.FromMin }
func (b Band) toMins() int   { return b.ToHour*60 + b.ToMin }

// InBands reports whether the instant falls inside at least one band.
// An empty band list means no restriction.
func (h *Hours) InBands(now time.Time, bands []Band) bool {
	if len(bands) == 0 {
		return true
	}
	d := now.In(h.loc)
	mins := d.Hour()*60 + d.Minute()
	for _, b := range bands {
		if mins >= b.fromMins() && mins <= b.toMins() {
			return true
		}
	}
	return false
}

func parseHHMM(s string) (hour, minute int, err error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid time %q, expected HH:MM", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, 0, fmt.Errorf("invalid hour in %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, 0, fmt.Errorf("invalid minute in %q", s)
	}
	return h, m, nil
}
