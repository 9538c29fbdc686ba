package scheduler

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ParseSchedule accepts "@every <duration>" or a 5-field cron expression.
func ParseSchedule(spec string) (Schedule, error) {
	spec = strings.TrimSpace(spec)
	if rest, ok := strings.CutPrefix(spec, "@every"); ok {
		d, err := time.ParseDuration(strings.TrimSpace(rest))
		if err != nil {
			return nil, fmt.Errorf("invalid interval %q: %w", spec, err)
		}
		if d <= 0 {
			return nil, fmt.Errorf("invalid interval %q: must be positive", spec)
		}
		return NewIntervalSchedule(d), nil
	}
	return ParseCronExpression(spec)
}

// ══════════════════════════════════════════════════════════════════════════════
// INTERVAL
// ══════════════════════════════════════════════════════════════════════════════

// IntervalSchedule schedules a job to run at a fixed interval.
type IntervalSchedule struct {
	Interval time.Duration
}

// NewIntervalSchedule creates a new IntervalSchedule.
func NewIntervalSchedule(interval time.Duration) *IntervalSchedule {
	return &IntervalSchedule{Interval: interval}
}

// Next returns the next scheduled time.
func (s *IntervalSchedule) Next(t time.Time) time.Time {
	return t.Add(s.Interval)
}

// String returns the string representation of the schedule.
func (s *IntervalSchedule) String() string {
	return "@every " + s.Interval.String()
}

// ══════════════════════════════════════════════════════════════════════════════
// CRON
// ══════════════════════════════════════════════════════════════════════════════

// CronExpression is a parsed 5-field cron expression:
// minute hour day-of-month month day-of-week.
// Each field is a comma list of "*", "n", "a-b", with an optional "/step".
//
//	"* * * * *"     every minute
//	"*/10 * * * *"  every ten minutes
//	"0 3 * * 1-5"   03:00 on weekdays
type CronExpression struct {
	raw      string
	minutes  []bool // 0-59
	hours    []bool // 0-23
	days     []bool // 1-31
	months   []bool // 1-12
	weekdays []bool // 0-6 (0 = Sunday)
}

// ParseCronExpression parses a cron expression string.
func ParseCronExpression(expr string) (*CronExpression, error) {
	fields := strings.Fields(expr)
	if len(fields) != 5 {
		return nil, fmt.Errorf("invalid cron expression %q: expected 5 fields, got %d", expr, len(fields))
	}

	specs := []struct {
		name     string
		min, max int
		dst      *[]bool
	}{
		{"minute", 0, 59, nil},
		{"hour", 0, 23, nil},
		{"day", 1, 31, nil},
		{"month", 1, 12, nil},
		{"weekday", 0, 6, nil},
	}

	ce := &CronExpression{raw: expr}
	specs[0].dst, specs[1].dst, specs[2].dst = &ce.minutes, &ce.hours, &ce.days
	specs[3].dst, specs[4].dst = &ce.months, &ce.weekdays

	for i, sp := range specs {
		set, err := parseField(fields[i], sp.min, sp.max)
		if err != nil {
			return nil, fmt.Errorf("invalid %s field: %w", sp.name, err)
		}
		*sp.dst = set
	}
	return ce, nil
}

// MustParseCronExpression is ParseCronExpression that panics on error.
func MustParseCronExpression(expr string) *CronExpression {
	ce, err := ParseCronExpression(expr)
	if err != nil {
		panic(err)
	}
	return ce
}

// parseField returns a membership table indexed by value.
func parseField(field string, min, max int) ([]bool, error) {
	set := make([]bool, max+1)
	for _, term := range strings.Split(field, ",") {
		step := 1
		if base, s, ok := strings.Cut(term, "/"); ok {
			n, err := strconv.Atoi(s)
			if err != nil || n <= 0 {
				return nil, fmt.Errorf("invalid step %q", term)
			}
			step, term = n, base
		}

		lo, hi := min, max
		switch {
		case term == "*":
		case strings.Contains(term, "-"):
			a, b, _ := strings.Cut(term, "-")
			var err1, err2 error
			lo, err1 = strconv.Atoi(a)
			hi, err2 = strconv.Atoi(b)
			if err1 != nil || err2 != nil || lo > hi {
				return nil, fmt.Errorf("invalid range %q", term)
			}
		default:
			v, err := strconv.Atoi(term)
			if err != nil {
				return nil, fmt.Errorf("invalid value %q", term)
			}
			lo = v
			if step == 1 {
				hi = v
			}
		}
		if lo < min || hi > max {
			return nil, fmt.Errorf("value out of range [%d-%d]: %q", min, max, term)
		}

		for v := lo; v <= hi; v += step {
			set[v] = true
		}
	}
	return set, nil
}

// String returns the original cron expression.
func (ce *CronExpression) String() string {
	return ce.raw
}

// Next returns the first matching minute strictly after the given time, or
// the zero time when nothing matches within a year.
func (ce *CronExpression) Next(after time.Time) time.Time {
	t := after.Truncate(time.Minute).Add(time.Minute)

	const horizon = 366 * 24 * 60
	for i := 0; i < horizon; i++ {
		if ce.matches(t) {
			return t
		}
		t = t.Add(time.Minute)
	}
	return time.Time{}
}

func (ce *CronExpression) matches(t time.Time) bool {
	return ce.minutes[t.Minute()] &&
		ce.hours[t.Hour()] &&
		ce.days[t.Day()] &&
		ce.months[int(t.Month())] &&
		ce.weekdays[int(t.Weekday())]
}
