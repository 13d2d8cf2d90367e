package query

import (
	"context"
	"fmt"
	"net/http"

	"github.com/siteforge-ops/siteforge-backend/internal/application/dto"
	"github.com/siteforge-ops/siteforge-backend/internal/application/errs"
	"github.com/siteforge-ops/siteforge-backend/internal/application/interfaces"
	"github.com/siteforge-ops/siteforge-backend/internal/infra/config"
)

type CheckPropagation struct {
	sites  interfaces.SiteRepo
	client *http.Client
}

func NewCheckPropagation(cfg *config.ProvisionConfig, sites interfaces.SiteRepo) *CheckPropagation {
	return NewCheckPropagationWithClient(sites, &http.Client{Timeout: cfg.ReachabilityTimeout})
}

// NewCheckPropagationWithClient substitutes the propagation fetch's HTTP client.
func NewCheckPropagationWithClient(sites interfaces.SiteRepo, client *http.Client) *CheckPropagation {
	return &CheckPropagation{sites: sites, client: client}
}

// Query fetches the site through its domain name, exercising the whole DNS
// path. DNS taking hours to propagate is normal, so a failed fetch is a
// "not yet" answer, not an error.
func (q *CheckPropagation) Query(ctx context.Context, siteID uint64) (dto.PropagationResponse, error) {
	site, err := q.sites.GetSite(ctx, siteID)
	if err != nil {
		return dto.PropagationResponse{}, err
	}
	if site.Domain == nil {
		return dto.PropagationResponse{}, errs.ValidationError{Msg: fmt.Sprintf("site %d has no domain set", siteID)}
	}

	resp := dto.PropagationResponse{SiteID: site.ID, Domain: *site.Domain}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://"+*site.Domain+"/", nil)
	if err != nil {
		resp.Detail = err.Error()
		return resp, nil
	}
	r, err := q.client.Do(req)
	if err != nil {
		resp.Detail = fmt.Sprintf("not resolving yet: %v", err)
		return resp, nil
	}
	defer func() {
		_ = r.Body.Close()
	}()

	resp.Propagated = r.StatusCode < 500
	resp.Detail = fmt.Sprintf("answered %v", r.Status)
	return resp, nil
}
