package remote

import (
	"encoding/json"
	"time"
)

// CampState is a row of the camp_state table: the single shared settings
// document for a camp. State maps named keys (divisions, bunks,
// locationZones, app1, ...) to opaque structured values.
type CampState struct {
	CampID    string                     `json:"camp_id"`
	State     map[string]json.RawMessage `json:"state"`
	UpdatedAt time.Time                  `json:"updated_at"`
}

// ScheduleRow is a row of the daily_schedules table: one scheduler's slice
// of the schedule for one date. The composite identity is
// (camp_id, date_key, scheduler). Divisions is an ownership hint used by
// the store's fan-in view.
type ScheduleRow struct {
	CampID       string          `json:"camp_id"`
	DateKey      string          `json:"date_key"`
	Scheduler    string          `json:"scheduler"`
	ScheduleData SchedulePayload `json:"schedule_data"`
	Divisions    []string        `json:"divisions,omitempty"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// SchedulePayload holds the schedule-grid data for one date: per-bunk
// assignment blobs, the time-slot layout, and day-mode flags (rainy day).
// The same shape serves both a single scheduler's slice and the canonical
// merged per-date view the store fans in across schedulers.
type SchedulePayload struct {
	Assignments map[string]json.RawMessage `json:"assignments"`
	TimeSlots   json.RawMessage            `json:"time_slots,omitempty"`
	DayModes    map[string]bool            `json:"day_modes,omitempty"`
}

// EntityCount returns the number of bunk entries in the payload. The
// verified-save pipeline uses it as the dedup fingerprint component.
func (p *SchedulePayload) EntityCount() int {
	return len(p.Assignments)
}

// Clone returns a deep-enough copy: fresh maps, shared RawMessage bytes
// (which are never mutated in place).
func (p *SchedulePayload) Clone() *SchedulePayload {
	if p == nil {
		return nil
	}

	out := &SchedulePayload{
		Assignments: make(map[string]json.RawMessage, len(p.Assignments)),
		TimeSlots:   p.TimeSlots,
	}

	for k, v := range p.Assignments {
		out.Assignments[k] = v
	}

	if p.DayModes != nil {
		out.DayModes = make(map[string]bool, len(p.DayModes))
		for k, v := range p.DayModes {
			out.DayModes[k] = v
		}
	}

	return out
}
