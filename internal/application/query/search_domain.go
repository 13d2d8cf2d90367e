package query

import (
	"context"
	"log/slog"
	"strings"

	"github.com/siteforge-ops/siteforge-backend/internal/application/dto"
	"github.com/siteforge-ops/siteforge-backend/internal/application/errs"
	"github.com/siteforge-ops/siteforge-backend/internal/infra/dns"
)

// candidateTLDs is the spread offered for a bare name search.
var candidateTLDs = []string{"com", "net", "org", "io", "site"}

type SearchDomain struct {
	registrar dns.Registrar
}

func NewSearchDomain(registrar dns.Registrar) *SearchDomain {
	return &SearchDomain{registrar: registrar}
}

// Query checks availability of the given name across candidate TLDs. A name
// given with a TLD is checked as-is only. Per-candidate registrar errors are
// logged and the candidate skipped, so one flaky TLD does not empty the
// whole result.
func (q *SearchDomain) Query(ctx context.Context, name string) (dto.SearchDomainResponse, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return dto.SearchDomainResponse{}, errs.ValidationError{Msg: "empty domain search"}
	}

	var candidates []string
	if strings.Contains(name, ".") {
		clean, err := dns.CleanDomain(name)
		if err != nil {
			return dto.SearchDomainResponse{}, err
		}
		candidates = []string{clean}
	} else {
		for _, tld := range candidateTLDs {
			candidates = append(candidates, name+"."+tld)
		}
	}

	resp := dto.SearchDomainResponse{Domain: name}
	for _, candidate := range candidates {
		available, err := q.registrar.CheckAvailability(ctx, candidate)
		if err != nil {
			slog.Warn("err checking availability", "domain", candidate, "err", err)
			continue
		}
		resp.Results = append(resp.Results, dto.DomainCandidate{Domain: candidate, Available: available})
	}
	return resp, nil
}
