// Package moon computes the lunar phase for a point in time.
package moon

import (
	"math"
	"time"
)

// Phase is one of the eight conventional lunar phases.
type Phase string

const (
	NewMoon        Phase = "New Moon"
	WaxingCrescent Phase = "Waxing Crescent"
	FirstQuarter   Phase = "First Quarter"
	WaxingGibbous  Phase = "Waxing Gibbous"
	FullMoon       Phase = "Full Moon"
	WaningGibbous  Phase = "Waning Gibbous"
	LastQuarter    Phase = "Last Quarter"
	WaningCrescent Phase = "Waning Crescent"
)

// SynodicMonth is the mean length of a lunation in days.
const SynodicMonth = 29.530588853

// referenceNewMoon is the new moon of 2000-01-06 18:14 UTC.
var referenceNewMoon = time.Date(2000, time.January, 6, 18, 14, 0, 0, time.UTC)

var phases = [8]Phase{
	NewMoon, WaxingCrescent, FirstQuarter, WaxingGibbous,
	FullMoon, WaningGibbous, LastQuarter, WaningCrescent,
}

// Age returns the number of days since the most recent new moon.
func Age(t time.Time) float64 {
	days := t.Sub(referenceNewMoon).Hours() / 24
	age := math.Mod(days, SynodicMonth)
	if age < 0 {
		age += SynodicMonth
	}
	return age
}

// PhaseAt returns the phase at t. Each phase spans one eighth of the synodic
// month, centred on its nominal point.
func PhaseAt(t time.Time) Phase {
	frac := Age(t) / SynodicMonth
	idx := int(math.Floor(frac*8+0.5)) % 8
	return phases[idx]
}
