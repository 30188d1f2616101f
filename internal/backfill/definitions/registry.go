package definitions

import (
	"github.com/smallbiznis/caseledger/internal/backfill/domain"
	ledgerdomain "github.com/smallbiznis/caseledger/internal/ledger/domain"
)

// All returns every registered correction in run order.
func All(ledger ledgerdomain.Repository) []domain.Definition {
	return []domain.Definition{
		EntryHours{},
		ServiceRemaining{Ledger: ledger},
	}
}
