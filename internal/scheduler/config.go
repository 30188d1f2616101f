package scheduler

import (
	"fmt"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/smallbiznis/caseledger/internal/config"
)

// Config controls the calendar slot and job budget.
type Config struct {
	Enabled     bool
	ScheduleAt  string
	Timezone    string
	JobTimeout  time.Duration
	EnabledJobs []string
}

func DefaultConfig() Config {
	return Config{
		Enabled:    true,
		ScheduleAt: "06:00",
		Timezone:   "Asia/Jerusalem",
		JobTimeout: 30 * time.Minute,
	}
}

func ProvideConfig(cfg config.Config) Config {
	return Config{
		Enabled:    cfg.Audit.Enabled,
		ScheduleAt: cfg.Audit.ScheduleAt,
		Timezone:   cfg.Audit.Timezone,
		JobTimeout: cfg.Audit.JobTimeout,
	}
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if strings.TrimSpace(c.ScheduleAt) == "" {
		c.ScheduleAt = defaults.ScheduleAt
	}
	if strings.TrimSpace(c.Timezone) == "" {
		c.Timezone = defaults.Timezone
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = defaults.JobTimeout
	}
	return c
}

// TimeOfDay is a wall-clock slot in the scheduler's timezone.
type TimeOfDay struct {
	Hour   int
	Minute int
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute)
}

// ParseTimeOfDay accepts HH:MM in 24h notation.
func ParseTimeOfDay(value string) (TimeOfDay, error) {
	parts := strings.Split(strings.TrimSpace(value), ":")
	if len(parts) != 2 {
		return TimeOfDay{}, fmt.Errorf("%w: schedule %q", ErrInvalidConfig, value)
	}
	hour, err := strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return TimeOfDay{}, fmt.Errorf("%w: schedule hour %q", ErrInvalidConfig, value)
	}
	minute, err := strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return TimeOfDay{}, fmt.Errorf("%w: schedule minute %q", ErrInvalidConfig, value)
	}
	return TimeOfDay{Hour: hour, Minute: minute}, nil
}

// NextRun returns the first slot strictly after now.
func NextRun(now time.Time, at TimeOfDay, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	local := now.In(loc)
	next := time.Date(local.Year(), local.Month(), local.Day(), at.Hour, at.Minute, 0, 0, loc)
	if !next.After(local) {
		next = time.Date(local.Year(), local.Month(), local.Day()+1, at.Hour, at.Minute, 0, 0, loc)
	}
	return next
}
