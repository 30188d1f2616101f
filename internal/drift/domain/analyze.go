package domain

import (
	"math"
	"sort"

	ledgerdomain "github.com/smallbiznis/caseledger/internal/ledger/domain"
)

// Analyze compares the cached aggregates of c and services against entry
// totals. It is pure: callers load a consistent snapshot and pass it in.
func Analyze(c ledgerdomain.Case, services []ledgerdomain.CaseService, totals ledgerdomain.EntryTotals, tolerance float64) *CaseDrift {
	out := &CaseDrift{
		CaseID:      c.ID,
		CaseName:    c.Name,
		CaseVersion: c.Version,
		CachedTotals: ledgerdomain.CaseTotals{
			TotalHours:     c.TotalHours,
			HoursUsed:      c.HoursUsed,
			HoursRemaining: c.HoursRemaining,
		},
		Services:          make([]ServiceState, 0, len(services)),
		Discrepancies:     []Discrepancy{},
		UnassignedEntries: totals.UnassignedEntries,
		UnassignedMinutes: totals.UnassignedMinutes,
		Source:            services,
	}

	known := make(map[string]struct{}, len(services))
	for _, svc := range services {
		known[svc.ID] = struct{}{}
		group := totals.ByService[svc.ID]
		recomputed := ledgerdomain.MinutesToHours(group.Minutes)
		out.Services = append(out.Services, ServiceState{
			ServiceID:      svc.ID,
			Name:           svc.Name,
			HoursBudget:    svc.HoursBudget,
			HoursUsed:      svc.HoursUsed,
			HoursRemaining: svc.HoursRemaining,
			EntryMinutes:   group.Minutes,
			EntryCount:     group.Entries,
			RecomputedUsed: recomputed,
		})

		switch {
		// Cached usage with zero logged minutes is never zeroed automatically,
		// even when zero-minute entries exist.
		case svc.HoursUsed > 0 && group.Minutes == 0:
			out.Discrepancies = append(out.Discrepancies, Discrepancy{
				CaseID:          c.ID,
				ServiceID:       svc.ID,
				ServiceName:     svc.Name,
				Kind:            KindManualReview,
				Field:           FieldHoursUsed,
				CachedValue:     svc.HoursUsed,
				RecomputedValue: 0,
				Gap:             svc.HoursUsed,
			})
		case math.Abs(svc.HoursUsed-recomputed) > tolerance:
			out.Discrepancies = append(out.Discrepancies, Discrepancy{
				CaseID:          c.ID,
				ServiceID:       svc.ID,
				ServiceName:     svc.Name,
				Kind:            KindDrift,
				Field:           FieldHoursUsed,
				CachedValue:     svc.HoursUsed,
				RecomputedValue: recomputed,
				Gap:             svc.HoursUsed - recomputed,
			})
		}

		expectedRemaining := ledgerdomain.RemainingFor(svc.HoursBudget, svc.HoursUsed)
		if !ledgerdomain.SameHours(svc.HoursRemaining, expectedRemaining) {
			out.Discrepancies = append(out.Discrepancies, Discrepancy{
				CaseID:          c.ID,
				ServiceID:       svc.ID,
				ServiceName:     svc.Name,
				Kind:            KindRemainingMismatch,
				Field:           FieldHoursRemaining,
				CachedValue:     svc.HoursRemaining,
				RecomputedValue: expectedRemaining,
				Gap:             svc.HoursRemaining - expectedRemaining,
			})
		}
	}

	// Entries pointing at a service id the case no longer has.
	for id, group := range totals.ByService {
		if _, ok := known[id]; ok {
			continue
		}
		out.OrphanedEntries += group.Entries
		out.OrphanedMinutes += group.Minutes
		out.OrphanedServices = append(out.OrphanedServices, id)
	}
	sort.Strings(out.OrphanedServices)

	rollup := ledgerdomain.Rollup(services)
	for _, field := range []struct {
		name   string
		cached float64
		want   float64
	}{
		{FieldTotalHours, c.TotalHours, rollup.TotalHours},
		{FieldHoursUsed, c.HoursUsed, rollup.HoursUsed},
		{FieldHoursRemaining, c.HoursRemaining, rollup.HoursRemaining},
	} {
		if ledgerdomain.SameHours(field.cached, field.want) {
			continue
		}
		out.Discrepancies = append(out.Discrepancies, Discrepancy{
			CaseID:          c.ID,
			Kind:            KindRollupMismatch,
			Field:           field.name,
			CachedValue:     field.cached,
			RecomputedValue: field.want,
			Gap:             field.cached - field.want,
		})
	}

	return out
}
