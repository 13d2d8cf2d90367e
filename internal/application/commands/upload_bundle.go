package commands

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/siteforge-ops/siteforge-backend/internal/application/dto"
	"github.com/siteforge-ops/siteforge-backend/internal/application/interfaces"
	"github.com/siteforge-ops/siteforge-backend/internal/domain/consts"
	"github.com/siteforge-ops/siteforge-backend/internal/infra/bundle"
	"github.com/siteforge-ops/siteforge-backend/internal/infra/storage"
)

// UploadBundle acquires a site archive, directly uploaded or pulled from a
// cloud-drive link, and persists it to durable storage.
type UploadBundle struct {
	sites    interfaces.SiteRepo
	activity interfaces.ActivityRepo
	fetcher  *bundle.Fetcher
	store    storage.ObjectStore
}

func NewUploadBundle(sites interfaces.SiteRepo, activity interfaces.ActivityRepo, fetcher *bundle.Fetcher, store storage.ObjectStore) *UploadBundle {
	return &UploadBundle{sites: sites, activity: activity, fetcher: fetcher, store: store}
}

// Execute takes either raw uploaded bytes or a source URL, never both.
func (c *UploadBundle) Execute(ctx context.Context, siteID uint64, data []byte, sourceURL string) (dto.UploadBundleResponse, error) {
	site, err := c.sites.GetSite(ctx, siteID)
	if err != nil {
		return dto.UploadBundleResponse{}, err
	}

	if sourceURL != "" {
		if err = c.sites.SetStatus(ctx, site.ID, consts.SiteStatusUploading,
			fmt.Sprintf("Fetching bundle from %v…", sourceURL)); err != nil {
			return dto.UploadBundleResponse{}, err
		}
		data, err = c.fetcher.Fetch(ctx, sourceURL)
		if err != nil {
			_ = c.sites.SetFailed(ctx, site.ID, fmt.Sprintf("fetching bundle from %v: %v", sourceURL, err))
			return dto.UploadBundleResponse{}, err
		}
	} else {
		if err = c.sites.SetStatus(ctx, site.ID, consts.SiteStatusUploading, "Storing uploaded bundle…"); err != nil {
			return dto.UploadBundleResponse{}, err
		}
	}

	info, err := bundle.Inspect(data)
	if err != nil {
		_ = c.sites.SetFailed(ctx, site.ID, err.Error())
		return dto.UploadBundleResponse{}, err
	}
	slog.Info("bundle inspected", "site", site.ID, "files", info.Files, "wrappedDir", info.WrappedDir, "hasIndex", info.HasIndex)

	// Replacing an older bundle; the stale blob may already be gone.
	if site.BundleURL != "" {
		if err := c.store.Delete(ctx, site.BundleURL); err != nil {
			slog.Warn("err deleting previous bundle", "site", site.ID, "err", err)
		}
	}

	url, err := c.store.Put(ctx, bundleKey(site.ID), data)
	if err != nil {
		_ = c.sites.SetFailed(ctx, site.ID, fmt.Sprintf("storing bundle: %v", err))
		return dto.UploadBundleResponse{}, err
	}
	size := int64(len(data))
	if err = c.sites.SetBundle(ctx, site.ID, url, size); err != nil {
		return dto.UploadBundleResponse{}, err
	}

	message := fmt.Sprintf("Bundle stored (%d files, %d bytes), choose a domain", info.Files, size)
	if err = c.sites.SetStatus(ctx, site.ID, consts.SiteStatusDomainPending, message); err != nil {
		return dto.UploadBundleResponse{}, err
	}
	if err = c.activity.Append(ctx, site.ID, consts.ActionBundleUploaded, url); err != nil {
		slog.Error("err recording activity", "site", site.ID, "err", err)
	}

	return dto.UploadBundleResponse{
		SiteID:        site.ID,
		BundleURL:     url,
		BundleSize:    size,
		Status:        consts.SiteStatusDomainPending,
		StatusMessage: message,
	}, nil
}
