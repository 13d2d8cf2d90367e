// Package query holds the read side: site state, domain lookups, activity
// and task inspection.
package query

import (
	"context"
	"net/http"

	"github.com/siteforge-ops/siteforge-backend/internal/application/dto"
	"github.com/siteforge-ops/siteforge-backend/internal/application/interfaces"
	"github.com/siteforge-ops/siteforge-backend/internal/domain/consts"
	"github.com/siteforge-ops/siteforge-backend/internal/infra/config"
)

type GetSite struct {
	sites  interfaces.SiteRepo
	client *http.Client
}

func NewGetSite(cfg *config.ProvisionConfig, sites interfaces.SiteRepo) *GetSite {
	return NewGetSiteWithClient(sites, &http.Client{Timeout: cfg.ReachabilityTimeout})
}

// NewGetSiteWithClient substitutes the reachability sample's HTTP client.
func NewGetSiteWithClient(sites interfaces.SiteRepo, client *http.Client) *GetSite {
	return &GetSite{sites: sites, client: client}
}

// Query returns the persisted record plus a live reachability sample. The
// sample never fails the query: a site mid-provision simply reads
// "unreachable".
func (q *GetSite) Query(ctx context.Context, siteID uint64) (dto.GetSiteResponse, error) {
	site, err := q.sites.GetSite(ctx, siteID)
	if err != nil {
		return dto.GetSiteResponse{}, err
	}

	resp := dto.GetSiteResponse{
		SiteID:        site.ID,
		Status:        site.Status,
		StatusMessage: site.StatusMessage,
		ErrorMessage:  site.ErrorMessage,
		ServerIP:      site.ServerIP,
		BundleURL:     site.BundleURL,
		BundleSize:    site.BundleSize,
		Reachability:  "unknown",
	}
	if site.Domain != nil {
		resp.Domain = *site.Domain
	}
	if site.Status == consts.SiteStatusLive || site.Status == consts.SiteStatusFilesUploaded {
		resp.Reachability = q.sample(ctx, site.ServerIP)
	}
	return resp, nil
}

func (q *GetSite) sample(ctx context.Context, ip string) string {
	if ip == "" {
		return "unreachable"
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://"+ip+"/", nil)
	if err != nil {
		return "unreachable"
	}
	r, err := q.client.Do(req)
	if err != nil {
		return "unreachable"
	}
	defer func() {
		_ = r.Body.Close()
	}()
	if r.StatusCode >= 500 {
		return "unhealthy"
	}
	return "reachable"
}
