package commands

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/siteforge-ops/siteforge-backend/internal/application/dto"
	"github.com/siteforge-ops/siteforge-backend/internal/application/errs"
	"github.com/siteforge-ops/siteforge-backend/internal/application/interfaces"
	"github.com/siteforge-ops/siteforge-backend/internal/domain/consts"
	"github.com/siteforge-ops/siteforge-backend/internal/infra/dns"
)

// SetDomain attaches a domain to a site, optionally purchasing it through
// the registrar first.
type SetDomain struct {
	sites     interfaces.SiteRepo
	activity  interfaces.ActivityRepo
	registrar dns.Registrar
}

func NewSetDomain(sites interfaces.SiteRepo, activity interfaces.ActivityRepo, registrar dns.Registrar) *SetDomain {
	return &SetDomain{sites: sites, activity: activity, registrar: registrar}
}

func (c *SetDomain) Execute(ctx context.Context, siteID uint64, req dto.SetDomainRequest) (dto.SetDomainResponse, error) {
	domain, err := dns.CleanDomain(req.Domain)
	if err != nil {
		return dto.SetDomainResponse{}, err
	}

	site, err := c.sites.GetSite(ctx, siteID)
	if err != nil {
		return dto.SetDomainResponse{}, err
	}

	if req.Purchase {
		return c.purchase(ctx, site.ID, domain)
	}
	return c.attach(ctx, site.ID, domain, req.ConfirmManualDNS)
}

func (c *SetDomain) purchase(ctx context.Context, siteID uint64, domain string) (dto.SetDomainResponse, error) {
	// The uniqueness check runs before money changes hands.
	if err := c.sites.ClaimDomain(ctx, siteID, domain); err != nil {
		return dto.SetDomainResponse{}, err
	}
	if err := c.sites.SetStatus(ctx, siteID, consts.SiteStatusDomainPending,
		fmt.Sprintf("Purchasing %v…", domain)); err != nil {
		return dto.SetDomainResponse{}, err
	}

	operationID, err := c.registrar.RequestDomain(ctx, domain)
	if err != nil {
		_ = c.sites.SetFailed(ctx, siteID, fmt.Sprintf("purchasing %v: %v", domain, err))
		return dto.SetDomainResponse{}, errs.PermanentError{Err: err}
	}
	slog.Info("domain purchase submitted", "site", siteID, "domain", domain, "operation", operationID)

	message := fmt.Sprintf("Purchased %v (registrar operation %v)", domain, operationID)
	if err = c.sites.SetStatus(ctx, siteID, consts.SiteStatusDomainPurchased, message); err != nil {
		return dto.SetDomainResponse{}, err
	}
	if err = c.activity.Append(ctx, siteID, consts.ActionDomainPurchased, domain); err != nil {
		slog.Error("err recording activity", "site", siteID, "err", err)
	}

	return dto.SetDomainResponse{
		SiteID:        siteID,
		Domain:        domain,
		ManagedDNS:    true,
		Status:        consts.SiteStatusDomainPurchased,
		StatusMessage: message,
	}, nil
}

// attach sets a domain the operator already owns. An unmanaged domain needs
// explicit confirmation before the site record is touched.
func (c *SetDomain) attach(ctx context.Context, siteID uint64, domain string, confirmManual bool) (dto.SetDomainResponse, error) {
	zoneID, err := c.registrar.ZoneForDomain(ctx, domain)
	if err != nil {
		return dto.SetDomainResponse{}, errs.TransientError{Err: fmt.Errorf("checking registrar account for %v: %w", domain, err)}
	}

	if zoneID == "" && !confirmManual {
		return dto.SetDomainResponse{
			SiteID:               siteID,
			RequiresConfirmation: true,
			ManagedDNS:           false,
		}, nil
	}

	if err = c.sites.ClaimDomain(ctx, siteID, domain); err != nil {
		return dto.SetDomainResponse{}, err
	}

	message := fmt.Sprintf("Domain %v attached, managed DNS available", domain)
	if zoneID == "" {
		message = fmt.Sprintf("Domain %v attached, DNS must be managed manually", domain)
	}
	if err = c.sites.SetStatus(ctx, siteID, consts.SiteStatusDomainPending, message); err != nil {
		return dto.SetDomainResponse{}, err
	}
	if err = c.activity.Append(ctx, siteID, consts.ActionDomainSet, domain); err != nil {
		slog.Error("err recording activity", "site", siteID, "err", err)
	}

	return dto.SetDomainResponse{
		SiteID:        siteID,
		Domain:        domain,
		ManagedDNS:    zoneID != "",
		Status:        consts.SiteStatusDomainPending,
		StatusMessage: message,
	}, nil
}
