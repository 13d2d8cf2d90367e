package commands

import (
	"context"
	"log/slog"

	"github.com/siteforge-ops/siteforge-backend/internal/application/interfaces"
	"github.com/siteforge-ops/siteforge-backend/internal/application/tasks"
	"github.com/siteforge-ops/siteforge-backend/internal/domain/consts"
	"github.com/siteforge-ops/siteforge-backend/internal/infra/compute"
	"github.com/siteforge-ops/siteforge-backend/internal/infra/storage"
)

// DeleteSite tears a site down: its server, its SSH key, its stored bundle,
// then the record itself. Cloud and storage cleanup is best-effort so a
// half-deleted provider resource never wedges the deletion.
type DeleteSite struct {
	sites interfaces.SiteRepo
	store storage.ObjectStore
	cloud compute.API
}

func NewDeleteSite(sites interfaces.SiteRepo, store storage.ObjectStore, cloud compute.API) *DeleteSite {
	return &DeleteSite{sites: sites, store: store, cloud: cloud}
}

func (c *DeleteSite) Handle(ctx context.Context, payload tasks.DeleteSite) error {
	site, err := c.sites.GetSite(ctx, payload.SiteID)
	if err != nil {
		return err
	}

	if site.ServerID != nil {
		if err = c.cloud.DeleteServer(ctx, *site.ServerID); err != nil {
			slog.Error("err deleting server", "site", site.ID, "server", *site.ServerID, "err", err)
		}
	}
	if site.SSHKeyID != nil {
		if err = c.cloud.DeleteSSHKey(ctx, *site.SSHKeyID); err != nil {
			slog.Error("err deleting ssh key", "site", site.ID, "key", *site.SSHKeyID, "err", err)
		}
	}
	if site.BundleURL != "" {
		if err = c.store.Delete(ctx, site.BundleURL); err != nil {
			slog.Error("err deleting bundle", "site", site.ID, "err", err)
		}
	}

	// The activity feed cascades away with the row, so the deletion itself
	// is only logged.
	slog.Info("site deleted", "site", site.ID, "action", consts.ActionSiteDeleted)
	return c.sites.DeleteSite(ctx, site.ID)
}
