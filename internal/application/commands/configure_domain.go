package commands

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/siteforge-ops/siteforge-backend/internal/application/errs"
	"github.com/siteforge-ops/siteforge-backend/internal/application/interfaces"
	"github.com/siteforge-ops/siteforge-backend/internal/application/tasks"
	"github.com/siteforge-ops/siteforge-backend/internal/domain/consts"
	"github.com/siteforge-ops/siteforge-backend/internal/infra/config"
	"github.com/siteforge-ops/siteforge-backend/internal/infra/dns"
	"github.com/siteforge-ops/siteforge-backend/internal/infra/vhost"
)

// ConfigureDomain activates the reverse-proxy vhost on the site's server and
// points managed DNS at it. Runs as a background task.
type ConfigureDomain struct {
	cfg         *config.ProvisionConfig
	sites       interfaces.SiteRepo
	activity    interfaces.ActivityRepo
	registrar   dns.Registrar
	activator   *vhost.Activator
	provisioner *ServerProvisioner
}

func NewConfigureDomain(
	cfg *config.ProvisionConfig, sites interfaces.SiteRepo, activity interfaces.ActivityRepo,
	registrar dns.Registrar, activator *vhost.Activator, provisioner *ServerProvisioner,
) *ConfigureDomain {
	return &ConfigureDomain{
		cfg:         cfg,
		sites:       sites,
		activity:    activity,
		registrar:   registrar,
		activator:   activator,
		provisioner: provisioner,
	}
}

func (c *ConfigureDomain) Handle(ctx context.Context, payload tasks.ConfigureDomain) error {
	site, err := c.sites.GetSite(ctx, payload.SiteID)
	if err != nil {
		return err
	}
	if site.Domain == nil {
		return errs.ValidationError{Msg: fmt.Sprintf("site %d has no domain attached yet", site.ID)}
	}
	domain := *site.Domain

	site, err = c.provisioner.EnsureServer(ctx, site)
	if err != nil {
		_ = c.sites.SetFailed(ctx, payload.SiteID, err.Error())
		return err
	}

	if err = c.sites.SetStatus(ctx, site.ID, consts.SiteStatusDNSConfiguring,
		fmt.Sprintf("Configuring reverse proxy for %v…", domain)); err != nil {
		return err
	}

	if err = c.activator.Activate(ctx, site.ServerIP, siteCredentials(site), domain, c.cfg.Webroot); err != nil {
		_ = c.sites.SetFailed(ctx, site.ID, fmt.Sprintf("configuring vhost for %v: %v", domain, err))
		return err
	}
	if err = c.activity.Append(ctx, site.ID, consts.ActionVhostConfigured, domain); err != nil {
		slog.Error("err recording activity", "site", site.ID, "err", err)
	}

	if err = c.sites.SetStatus(ctx, site.ID, consts.SiteStatusDNSConfiguring,
		fmt.Sprintf("Setting DNS records for %v…", domain)); err != nil {
		return err
	}

	zoneID, err := c.registrar.ZoneForDomain(ctx, domain)
	if err != nil {
		// The vhost is live; a registrar hiccup must not undo the record.
		message := fmt.Sprintf("Reverse proxy configured, DNS check failed: %v", err)
		_ = c.sites.SetStatus(ctx, site.ID, consts.SiteStatusDNSConfiguring, message)
		return errs.PartialWarning{Msg: message}
	}
	if zoneID == "" {
		message := fmt.Sprintf("Reverse proxy configured, %v is unmanaged: set A records for root and www to %v manually", domain, site.ServerIP)
		if err = c.sites.SetStatus(ctx, site.ID, consts.SiteStatusDNSConfiguring, message); err != nil {
			return err
		}
		return errs.PartialWarning{Msg: message}
	}

	if err = c.registrar.UpsertARecords(ctx, zoneID, domain, site.ServerIP); err != nil {
		message := fmt.Sprintf("Reverse proxy configured, setting A records for %v failed: %v", domain, err)
		_ = c.sites.SetStatus(ctx, site.ID, consts.SiteStatusDNSConfiguring, message)
		return errs.PartialWarning{Msg: message}
	}

	message := fmt.Sprintf("DNS configured: %v and www.%v point at %v", domain, domain, site.ServerIP)
	if err = c.sites.SetStatus(ctx, site.ID, consts.SiteStatusDNSConfiguring, message); err != nil {
		return err
	}
	if err = c.activity.Append(ctx, site.ID, consts.ActionDNSConfigured,
		fmt.Sprintf("%v -> %v", domain, site.ServerIP)); err != nil {
		slog.Error("err recording activity", "site", site.ID, "err", err)
	}
	return nil
}
