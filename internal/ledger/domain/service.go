package domain

import "context"

// CaseView is the read model for a case and its services.
type CaseView struct {
	Case     Case          `json:"case"`
	Services []CaseService `json:"services"`
}

type Service interface {
	GetCase(ctx context.Context, caseID string) (*CaseView, error)
}
