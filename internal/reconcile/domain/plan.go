package domain

import (
	driftdomain "github.com/smallbiznis/caseledger/internal/drift/domain"
	ledgerdomain "github.com/smallbiznis/caseledger/internal/ledger/domain"
)

// PlanCorrections turns a drift analysis into concrete writes. Services
// flagged for manual review keep their cached values. Every other service
// gets used from its entries when it drifted, remaining re-derived as
// budget - used, and the case totals are rolled up from the result.
func PlanCorrections(d *driftdomain.CaseDrift) Plan {
	plan := Plan{Services: []ServiceChange{}}
	if d == nil {
		return plan
	}

	manual := d.ManualReviewServices()
	drifted := map[string]float64{}
	for _, item := range d.Discrepancies {
		if item.Kind == driftdomain.KindDrift {
			drifted[item.ServiceID] = item.RecomputedValue
		}
	}

	corrected := make([]ledgerdomain.CaseService, 0, len(d.Source))
	for _, svc := range d.Source {
		if _, skip := manual[svc.ID]; skip {
			plan.ManualReview = append(plan.ManualReview, svc.ID)
			corrected = append(corrected, svc)
			continue
		}

		used := svc.HoursUsed
		if recomputed, ok := drifted[svc.ID]; ok {
			used = recomputed
		}
		remaining := ledgerdomain.RemainingFor(svc.HoursBudget, used)

		if !ledgerdomain.SameHours(used, svc.HoursUsed) || !ledgerdomain.SameHours(remaining, svc.HoursRemaining) {
			plan.Services = append(plan.Services, ServiceChange{
				ServiceID:    svc.ID,
				ServiceName:  svc.Name,
				OldUsed:      svc.HoursUsed,
				NewUsed:      used,
				OldRemaining: svc.HoursRemaining,
				NewRemaining: remaining,
			})
		}

		svc.HoursUsed = used
		svc.HoursRemaining = remaining
		corrected = append(corrected, svc)
	}

	rollup := ledgerdomain.Rollup(corrected)
	cached := d.CachedTotals
	if !ledgerdomain.SameHours(rollup.TotalHours, cached.TotalHours) ||
		!ledgerdomain.SameHours(rollup.HoursUsed, cached.HoursUsed) ||
		!ledgerdomain.SameHours(rollup.HoursRemaining, cached.HoursRemaining) {
		plan.Case = &CaseChange{Old: cached, New: rollup}
	}

	return plan
}
