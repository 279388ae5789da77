package sensor

import (
	"time"

	"timetagger-sensors/internal/domain"
	"timetagger-sensors/internal/ports"
)

// Unit is the unit of measurement for every sensor.
const Unit = "h"

// Unique IDs of the exposed sensors.
const (
	UniqueIDWorkToday      = "timetagger_work_today"
	UniqueIDWorkWeek       = "timetagger_work_week"
	UniqueIDWorkMonth      = "timetagger_work_month"
	UniqueIDRemainingWeek  = "timetagger_remaining_week"
	UniqueIDMonthlyBalance = "timetagger_monthly_balance"
)

// Attribute keys carried by the target-based sensors.
const (
	AttrTargetHours = "target_hours"
	AttrWorkedHours = "worked_hours"
)

// Source is what entities read from; the coordinator implements it.
type Source interface {
	Snapshot() *domain.Snapshot
	LastUpdateSuccess() bool
}

// DeviceInfo groups an entry's entities under one device.
type DeviceInfo = ports.DeviceInfo

// Entity is one exposed sensor. NativeValue reports false while no snapshot exists.
type Entity interface {
	UniqueID() string
	Name() string
	HasEntityName() bool
	NativeUnitOfMeasurement() string
	DeviceInfo() DeviceInfo
	Available() bool
	NativeValue() (float64, bool)
	ExtraStateAttributes() map[string]float64
}

type base struct {
	entryID  string
	uniqueID string
	name     string
	src      Source
	clock    func() time.Time
}

func (b base) UniqueID() string                { return b.uniqueID }
func (b base) Name() string                    { return b.name }
func (b base) HasEntityName() bool             { return true }
func (b base) NativeUnitOfMeasurement() string { return Unit }

func (b base) DeviceInfo() DeviceInfo {
	return DeviceInfo{
		Identifiers:  [][2]string{{domain.Domain, b.entryID}},
		Name:         "TimeTagger",
		Manufacturer: "TimeTagger",
		Model:        "API",
	}
}

func (b base) Available() bool {
	return b.src.LastUpdateSuccess() && b.src.Snapshot() != nil
}

func (b base) ExtraStateAttributes() map[string]float64 { return nil }

func (b base) worked(w domain.Window) (float64, bool) {
	snap := b.src.Snapshot()
	if snap == nil {
		return 0, false
	}
	return SumHours(snap.Window(w)), true
}

// WorkToday reports hours tracked since midnight.
type WorkToday struct{ base }

func (s WorkToday) NativeValue() (float64, bool) { return s.worked(domain.WindowToday) }

// WorkWeek reports hours tracked since Monday.
type WorkWeek struct{ base }

func (s WorkWeek) NativeValue() (float64, bool) { return s.worked(domain.WindowWeek) }

// WorkMonth reports hours tracked since the 1st.
type WorkMonth struct{ base }

func (s WorkMonth) NativeValue() (float64, bool) { return s.worked(domain.WindowMonth) }

// RemainingWeek reports the weekly target minus hours worked this week.
// Negative values mean overtime.
type RemainingWeek struct {
	base
	dailyTarget float64
}

func (s RemainingWeek) DailyTarget() float64 { return s.dailyTarget }

func (s RemainingWeek) targetAndWorked() (target, worked float64, ok bool) {
	worked, ok = s.worked(domain.WindowWeek)
	return WeekTarget(s.clock(), s.dailyTarget), worked, ok
}

func (s RemainingWeek) NativeValue() (float64, bool) {
	target, worked, ok := s.targetAndWorked()
	return target - worked, ok
}

func (s RemainingWeek) ExtraStateAttributes() map[string]float64 {
	target, worked, _ := s.targetAndWorked()
	return map[string]float64{AttrTargetHours: target, AttrWorkedHours: worked}
}

// MonthlyBalance reports hours worked this month minus the monthly target.
// Negative values mean behind target.
type MonthlyBalance struct {
	base
	dailyTarget float64
}

func (s MonthlyBalance) DailyTarget() float64 { return s.dailyTarget }

func (s MonthlyBalance) targetAndWorked() (target, worked float64, ok bool) {
	worked, ok = s.worked(domain.WindowMonth)
	return MonthlyTarget(s.clock(), s.dailyTarget), worked, ok
}

func (s MonthlyBalance) NativeValue() (float64, bool) {
	target, worked, ok := s.targetAndWorked()
	return worked - target, ok
}

func (s MonthlyBalance) ExtraStateAttributes() map[string]float64 {
	target, worked, _ := s.targetAndWorked()
	return map[string]float64{AttrWorkedHours: worked, AttrTargetHours: target}
}

// NewEntities builds the five sensors of an entry in registration order.
// clock supplies the wall-clock time used for the weekly and monthly targets.
func NewEntities(entryID string, src Source, dailyTarget float64, clock func() time.Time) []Entity {
	mk := func(uniqueID, name string) base {
		return base{entryID: entryID, uniqueID: uniqueID, name: name, src: src, clock: clock}
	}
	return []Entity{
		WorkToday{mk(UniqueIDWorkToday, "Working hours today")},
		WorkWeek{mk(UniqueIDWorkWeek, "Working hours this week")},
		WorkMonth{mk(UniqueIDWorkMonth, "Working hours this month")},
		RemainingWeek{mk(UniqueIDRemainingWeek, "Remaining time this week"), dailyTarget},
		MonthlyBalance{mk(UniqueIDMonthlyBalance, "Monthly working time balance"), dailyTarget},
	}
}

// StateOf captures the current state of e for publication.
func StateOf(entryID string, e Entity, at time.Time) ports.EntityState {
	value, ok := e.NativeValue()
	st := ports.EntityState{
		EntryID:   entryID,
		UniqueID:  e.UniqueID(),
		Name:      e.Name(),
		Unit:      e.NativeUnitOfMeasurement(),
		Available: ok && e.Available(),
		Device:    e.DeviceInfo(),
		UpdatedAt: at,
	}
	if ok {
		st.Value = value
		st.Attributes = e.ExtraStateAttributes()
	}
	return st
}

// States captures every entity's state.
func States(entryID string, entities []Entity, at time.Time) []ports.EntityState {
	out := make([]ports.EntityState, 0, len(entities))
	for _, e := range entities {
		out = append(out, StateOf(entryID, e, at))
	}
	return out
}
