package query

import (
	"context"

	"github.com/siteforge-ops/siteforge-backend/internal/infra/dns"
)

type CheckDomain struct {
	registrar dns.Registrar
}

func NewCheckDomain(registrar dns.Registrar) *CheckDomain {
	return &CheckDomain{registrar: registrar}
}

func (q *CheckDomain) Query(ctx context.Context, domain string) (bool, error) {
	clean, err := dns.CleanDomain(domain)
	if err != nil {
		return false, err
	}
	return q.registrar.CheckAvailability(ctx, clean)
}
