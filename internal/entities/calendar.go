package entities

import (
	"fmt"
	"time"

	"bhyvesync/internal/bhyve"
	"bhyvesync/internal/syncer"
)

// occurrenceHorizon caps how far ahead occurrences are generated,
// regardless of how far the caller asks to look.
const occurrenceHorizon = 60 * 24 * time.Hour

// occurrenceWindow is how long a single occurrence is considered
// "current" after its start.
const occurrenceWindow = 24 * time.Hour

// CalendarEvent is one whole-day watering occurrence.
type CalendarEvent struct {
	Summary string
	Start   time.Time
	End     time.Time
	UID     string
}

// Calendar generates watering occurrences for every recurring program of
// one device.
type Calendar struct {
	deviceEntity
}

// NewCalendar creates a calendar view for a device.
func NewCalendar(source Source, deviceID string) *Calendar {
	return &Calendar{deviceEntity: deviceEntity{source: source, deviceID: deviceID}}
}

// Watch subscribes update to notifications for this device.
func (c *Calendar) Watch(update func()) syncer.Subscription { return c.watch(update) }

// anchorOf resolves a program's recurrence anchor; ok is false for the
// synthetic manual program and anything without a usable frequency.
func anchorOf(program bhyve.TimerProgram) (anchor time.Time, interval time.Duration, ok bool) {
	if program.Program == "" || program.Frequency == nil || program.Frequency.Interval < 1 {
		return time.Time{}, 0, false
	}
	anchor, parsed := bhyve.OrbitTimeToLocal(program.Frequency.IntervalStartTime)
	if !parsed {
		return time.Time{}, 0, false
	}
	return anchor, time.Duration(program.Frequency.Interval) * 24 * time.Hour, true
}

func dayOf(t time.Time) time.Time {
	year, month, day := t.Date()
	return time.Date(year, month, day, 0, 0, 0, 0, t.Location())
}

func occurrenceEvent(program bhyve.TimerProgram, step time.Time) CalendarEvent {
	start := dayOf(step)
	return CalendarEvent{
		Summary: program.Name,
		Start:   start,
		End:     start.Add(24 * time.Hour),
		UID:     fmt.Sprintf("%s/%s", program.Program, start.Format("2006-01-02")),
	}
}

// NextEvent returns the current occurrence if now falls inside one, else
// the earliest upcoming occurrence within the 60-day horizon, else nil.
// Disabled programs never produce an occurrence.
func (c *Calendar) NextEvent(now time.Time) *CalendarEvent {
	horizon := now.Add(occurrenceHorizon)

	var earliest *CalendarEvent
	var earliestStep time.Time

	for _, program := range c.source.ProgramsForDevice(c.deviceID) {
		if !program.Enabled {
			continue
		}
		step, interval, ok := anchorOf(program)
		if !ok {
			continue
		}

		for !step.After(horizon) {
			if !step.After(now) && now.Before(step.Add(occurrenceWindow)) {
				current := occurrenceEvent(program, step)
				return &current
			}
			if step.After(now) {
				if earliest == nil || step.Before(earliestStep) {
					upcoming := occurrenceEvent(program, step)
					earliest = &upcoming
					earliestStep = step
				}
				break
			}
			step = step.Add(interval)
		}
	}
	return earliest
}

// Events enumerates whole-day occurrences overlapping [start, end),
// bounded by the 60-day horizon from now. Occurrences falling inside an
// active rain delay window are suppressed.
func (c *Calendar) Events(now, start, end time.Time) []CalendarEvent {
	horizon := now.Add(occurrenceHorizon)
	if end.Before(horizon) {
		horizon = end
	}

	suppressFrom, suppressTo, suppress := c.rainDelayWindow()

	var events []CalendarEvent
	for _, program := range c.source.ProgramsForDevice(c.deviceID) {
		if !program.Enabled {
			continue
		}
		step, interval, ok := anchorOf(program)
		if !ok {
			continue
		}

		for !step.After(horizon) {
			if suppress && !step.Before(suppressFrom) && !step.After(suppressTo) {
				step = step.Add(interval)
				continue
			}
			if step.Add(occurrenceWindow).After(start) {
				events = append(events, occurrenceEvent(program, step))
			}
			step = step.Add(interval)
		}
	}
	return events
}

// rainDelayWindow resolves the device's active rain delay to a local
// time interval.
func (c *Calendar) rainDelayWindow() (from, to time.Time, active bool) {
	device, ok := c.device()
	if !ok || device.Status.RainDelay <= 0 {
		return time.Time{}, time.Time{}, false
	}
	from, parsed := bhyve.OrbitTimeToLocal(device.Status.RainDelayStartedAt)
	if !parsed {
		return time.Time{}, time.Time{}, false
	}
	return from, from.Add(time.Duration(device.Status.RainDelay) * time.Hour), true
}
