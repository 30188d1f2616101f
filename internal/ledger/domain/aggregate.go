package domain

import "math"

// IdentityEpsilon absorbs float representation noise when checking the
// exact arithmetic identities. It is far below any meaningful drift.
const IdentityEpsilon = 1e-9

// MinutesToHours converts ledger minutes into service hours.
func MinutesToHours(minutes int64) float64 {
	return float64(minutes) / 60
}

// RemainingFor derives remaining hours so that remaining == budget - used
// holds by construction.
func RemainingFor(budget, used float64) float64 {
	return budget - used
}

// CaseTotals is the case-level roll-up of its services.
type CaseTotals struct {
	TotalHours     float64 `json:"total_hours"`
	HoursUsed      float64 `json:"hours_used"`
	HoursRemaining float64 `json:"hours_remaining"`
}

// Rollup sums service caches in the order given. Callers pass services
// ordered by position so the float sum is reproducible.
func Rollup(services []CaseService) CaseTotals {
	var totals CaseTotals
	for _, svc := range services {
		totals.TotalHours += svc.HoursBudget
		totals.HoursUsed += svc.HoursUsed
		totals.HoursRemaining += svc.HoursRemaining
	}
	return totals
}

// Matches reports whether the cached case totals equal the roll-up.
func (t CaseTotals) Matches(c Case) bool {
	return SameHours(t.TotalHours, c.TotalHours) &&
		SameHours(t.HoursUsed, c.HoursUsed) &&
		SameHours(t.HoursRemaining, c.HoursRemaining)
}

// SameHours compares two hour values for identity.
func SameHours(a, b float64) bool {
	return math.Abs(a-b) <= IdentityEpsilon
}
