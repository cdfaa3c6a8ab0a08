package report

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"pulsewatch/internal/apperr"
	"pulsewatch/internal/storage"
)

// Schedule is the parsed form of a report schedule such as "weekly-3".
//
// Day is the weekday (0 = Sunday) for weekly schedules and the day of the
// month for monthly ones. The zero Schedule means manual generation only.
type Schedule struct {
	Frequency string
	Day       int

	loc *time.Location
}

// ParseSchedule parses "daily", "weekly-<0..6>" or "monthly-<1..31>".
// An empty spec or "none" yields the manual schedule.
func ParseSchedule(spec string) (Schedule, error) {
	spec = strings.ToLower(strings.TrimSpace(spec))
	if spec == "" || spec == "none" {
		return Schedule{}, nil
	}
	if spec == storage.FrequencyDaily {
		return Schedule{Frequency: storage.FrequencyDaily}, nil
	}

	freq, dayText, ok := strings.Cut(spec, "-")
	if !ok {
		return Schedule{}, apperr.Invalidf("invalid schedule %q: expected daily, weekly-<0..6> or monthly-<1..31>", spec)
	}
	day, err := strconv.Atoi(dayText)
	if err != nil {
		return Schedule{}, apperr.Invalidf("invalid schedule day %q", dayText)
	}

	s := Schedule{Frequency: freq, Day: day}
	switch freq {
	case storage.FrequencyWeekly:
		if day < 0 || day > 6 {
			return Schedule{}, apperr.Invalidf("weekly schedule day must be between 0 (Sunday) and 6")
		}
	case storage.FrequencyMonthly:
		if day < 1 || day > 31 {
			return Schedule{}, apperr.Invalidf("monthly schedule day must be between 1 and 31")
		}
	default:
		return Schedule{}, apperr.Invalidf("unknown schedule frequency %q", freq)
	}
	return s, nil
}

// scheduleOf rebuilds the schedule stored on a report row.
func scheduleOf(r *storage.Report) Schedule {
	return Schedule{Frequency: r.ScheduleFrequency, Day: r.ScheduleDay}
}

// String returns the textual form accepted by ParseSchedule.
func (s Schedule) String() string {
	switch s.Frequency {
	case storage.FrequencyNone:
		return ""
	case storage.FrequencyDaily:
		return s.Frequency
	default:
		return fmt.Sprintf("%s-%d", s.Frequency, s.Day)
	}
}

// IsManual reports whether the schedule never fires on its own.
func (s Schedule) IsManual() bool {
	return s.Frequency == storage.FrequencyNone
}

// In returns the schedule evaluated in loc. Midnight is local to loc.
func (s Schedule) In(loc *time.Location) Schedule {
	s.loc = loc
	return s
}

func (s Schedule) location() *time.Location {
	if s.loc == nil {
		return time.UTC
	}
	return s.loc
}

// Next returns the first fire time strictly after t. Manual schedules
// return the zero time.
//
//   - daily: the next midnight.
//   - weekly-D: midnight of the next weekday D; today only if midnight is still ahead.
//   - monthly-D: midnight of day D this month if still ahead, else next month.
//     D is clamped to the last day of shorter months.
func (s Schedule) Next(t time.Time) time.Time {
	loc := s.location()
	local := t.In(loc)
	y, m, d := local.Date()

	switch s.Frequency {
	case storage.FrequencyDaily:
		return time.Date(y, m, d+1, 0, 0, 0, 0, loc)

	case storage.FrequencyWeekly:
		ahead := (s.Day - int(local.Weekday()) + 7) % 7
		next := time.Date(y, m, d+ahead, 0, 0, 0, 0, loc)
		if !next.After(t) {
			next = time.Date(y, m, d+ahead+7, 0, 0, 0, 0, loc)
		}
		return next

	case storage.FrequencyMonthly:
		next := monthDay(y, m, s.Day, loc)
		if !next.After(t) {
			next = monthDay(y, m+1, s.Day, loc)
		}
		return next
	}
	return time.Time{}
}

// Delay returns how long to wait from now until the next fire.
func (s Schedule) Delay(now time.Time) time.Duration {
	return s.Next(now).Sub(now)
}

// monthDay returns midnight of day in the given month, clamped to its last day.
// month may overflow into the next year.
func monthDay(year int, month time.Month, day int, loc *time.Location) time.Time {
	first := time.Date(year, month, 1, 0, 0, 0, 0, loc)
	last := first.AddDate(0, 1, -1).Day()
	return time.Date(first.Year(), first.Month(), min(day, last), 0, 0, 0, 0, loc)
}
