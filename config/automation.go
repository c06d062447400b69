package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// AutomationConfig holds the engine settings read from the environment.
type AutomationConfig struct {
	// Enabled gates the whole engine; Start() is a documented no-op when false.
	Enabled bool

	// PollInterval is the fixed delay between automation cycles.
	PollInterval time.Duration

	// MaxReminders is the reminder count at which a queue entry escalates.
	MaxReminders int

	// ReminderSchedule holds the delay applied after each reminder, indexed by
	// the entry's reminder count and clamped to the last element.
	ReminderSchedule []time.Duration

	// NotifyRPM / NotifyBurst bound the per-recipient message rate.
	NotifyRPM   int
	NotifyBurst int
}

var defaultReminderSchedule = []time.Duration{
	15 * time.Minute,
	2 * time.Hour,
	6 * time.Hour,
	12 * time.Hour,
	24 * time.Hour,
}

// LoadAutomation reads the automation settings, falling back to defaults for
// anything unset or unparseable.
func LoadAutomation() AutomationConfig {
	cfg := AutomationConfig{
		Enabled:          envBool("AUTOMATION_ENABLED", true),
		PollInterval:     time.Duration(envInt("AUTOMATION_POLL_MINUTES", 15)) * time.Minute,
		MaxReminders:     envInt("AUTOMATION_MAX_REMINDERS", 5),
		ReminderSchedule: envSchedule("AUTOMATION_REMINDER_SCHEDULE"),
		NotifyRPM:        envInt("AUTOMATION_NOTIFY_RPM", 6),
		NotifyBurst:      envInt("AUTOMATION_NOTIFY_BURST", 3),
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 15 * time.Minute
	}
	if cfg.MaxReminders <= 0 {
		cfg.MaxReminders = 5
	}
	return cfg
}

// FirstReminderDelay is the wait before the first reminder of a new queue
// entry.
func (c AutomationConfig) FirstReminderDelay() time.Duration {
	if len(c.ReminderSchedule) == 0 {
		return 15 * time.Minute
	}
	return c.ReminderSchedule[0]
}

// ReminderDelay returns the delay to apply after a reminder left the entry at
// the given count, clamped to the schedule's last entry.
func (c AutomationConfig) ReminderDelay(count int) time.Duration {
	if len(c.ReminderSchedule) == 0 {
		return 15 * time.Minute
	}
	if count < 0 {
		count = 0
	}
	if count >= len(c.ReminderSchedule) {
		count = len(c.ReminderSchedule) - 1
	}
	return c.ReminderSchedule[count]
}

func envBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envSchedule(key string) []time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultReminderSchedule
	}
	var schedule []time.Duration
	for _, part := range strings.Split(v, ",") {
		d, err := time.ParseDuration(strings.TrimSpace(part))
		if err != nil || d <= 0 {
			return defaultReminderSchedule
		}
		schedule = append(schedule, d)
	}
	if len(schedule) == 0 {
		return defaultReminderSchedule
	}
	return schedule
}
