package commands

import (
	"context"
	"log/slog"

	"github.com/siteforge-ops/siteforge-backend/internal/application/dto"
	"github.com/siteforge-ops/siteforge-backend/internal/application/interfaces"
	"github.com/siteforge-ops/siteforge-backend/internal/domain/consts"
	"github.com/siteforge-ops/siteforge-backend/internal/infra/db"
)

type CreateSite struct {
	sites    interfaces.SiteRepo
	activity interfaces.ActivityRepo
}

func NewCreateSite(sites interfaces.SiteRepo, activity interfaces.ActivityRepo) *CreateSite {
	return &CreateSite{sites: sites, activity: activity}
}

func (c *CreateSite) Execute(ctx context.Context, req dto.CreateSiteRequest) (dto.CreateSiteResponse, error) {
	siteID, err := c.sites.InsertSite(ctx, db.Site{
		Status:        consts.SiteStatusPending,
		StatusMessage: "Site created, awaiting bundle upload",
	})
	if err != nil {
		return dto.CreateSiteResponse{}, err
	}

	if err = c.activity.Append(ctx, siteID, consts.ActionSiteCreated, req.Name); err != nil {
		slog.Error("err recording activity", "site", siteID, "err", err)
	}

	return dto.CreateSiteResponse{
		SiteID:        siteID,
		Status:        consts.SiteStatusPending,
		StatusMessage: "Site created, awaiting bundle upload",
	}, nil
}
