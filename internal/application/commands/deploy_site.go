package commands

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/siteforge-ops/siteforge-backend/internal/application/errs"
	"github.com/siteforge-ops/siteforge-backend/internal/application/interfaces"
	"github.com/siteforge-ops/siteforge-backend/internal/application/tasks"
	"github.com/siteforge-ops/siteforge-backend/internal/domain/consts"
	"github.com/siteforge-ops/siteforge-backend/internal/infra/bundle"
	"github.com/siteforge-ops/siteforge-backend/internal/infra/config"
	"github.com/siteforge-ops/siteforge-backend/internal/infra/provision"
	"github.com/siteforge-ops/siteforge-backend/internal/infra/remote"
	"github.com/siteforge-ops/siteforge-backend/internal/infra/storage"
)

// DeploySite pushes the stored bundle onto the site's server. Runs as a
// background task.
type DeploySite struct {
	cfg         *config.ProvisionConfig
	sites       interfaces.SiteRepo
	activity    interfaces.ActivityRepo
	store       storage.ObjectStore
	exec        remote.Executor
	provisioner *ServerProvisioner
	client      *http.Client
}

func NewDeploySite(
	cfg *config.ProvisionConfig, sites interfaces.SiteRepo, activity interfaces.ActivityRepo,
	store storage.ObjectStore, exec remote.Executor, provisioner *ServerProvisioner,
) *DeploySite {
	return NewDeploySiteWithClient(cfg, sites, activity, store, exec, provisioner,
		&http.Client{Timeout: cfg.ReachabilityTimeout})
}

// NewDeploySiteWithClient substitutes the reachability probe's HTTP client.
func NewDeploySiteWithClient(
	cfg *config.ProvisionConfig, sites interfaces.SiteRepo, activity interfaces.ActivityRepo,
	store storage.ObjectStore, exec remote.Executor, provisioner *ServerProvisioner, client *http.Client,
) *DeploySite {
	return &DeploySite{
		cfg:         cfg,
		sites:       sites,
		activity:    activity,
		store:       store,
		exec:        exec,
		provisioner: provisioner,
		client:      client,
	}
}

func (c *DeploySite) Handle(ctx context.Context, payload tasks.DeploySite) error {
	site, err := c.sites.GetSite(ctx, payload.SiteID)
	if err != nil {
		return err
	}
	if site.BundleURL == "" {
		return errs.ValidationError{Msg: fmt.Sprintf("site %d has no bundle uploaded yet", site.ID)}
	}

	site, err = c.provisioner.EnsureServer(ctx, site)
	if err != nil {
		_ = c.sites.SetFailed(ctx, payload.SiteID, err.Error())
		return err
	}

	// The archive layout decides remotely-executed flattening, so inspect
	// the stored bytes before touching the server.
	key := bundleKey(site.ID)
	data, err := c.store.Get(ctx, key)
	if err != nil {
		_ = c.sites.SetFailed(ctx, site.ID, fmt.Sprintf("reading stored bundle: %v", err))
		return err
	}
	info, err := bundle.Inspect(data)
	if err != nil {
		_ = c.sites.SetFailed(ctx, site.ID, err.Error())
		return err
	}
	if !info.HasIndex {
		_ = c.sites.SetFailed(ctx, site.ID, "bundle has no index.html or index.php at its root")
		return errs.ValidationError{Msg: "bundle has no index.html or index.php at its root"}
	}

	if err = c.sites.SetStatus(ctx, site.ID, consts.SiteStatusDeploying,
		fmt.Sprintf("Deploying files to %v…", site.ServerIP)); err != nil {
		return err
	}

	downloadURL, err := c.store.PresignGet(ctx, key, 15*time.Minute)
	if err != nil {
		_ = c.sites.SetFailed(ctx, site.ID, fmt.Sprintf("presigning bundle download: %v", err))
		return err
	}
	script := provision.DeployScript(downloadURL, c.cfg.Webroot, info.WrappedDir)
	result, err := c.exec.Exec(ctx, site.ServerIP, siteCredentials(site), script, 5*time.Minute)
	if err != nil {
		_ = c.sites.SetFailed(ctx, site.ID, fmt.Sprintf("deploying files: %v", err))
		return errs.TransientError{Err: err}
	}
	if result.ExitCode != 0 {
		message := fmt.Sprintf("deploy script exited %d: %v", result.ExitCode, result.Stderr)
		_ = c.sites.SetFailed(ctx, site.ID, message)
		return errs.PermanentError{Err: fmt.Errorf("%v", message)}
	}
	if err = c.activity.Append(ctx, site.ID, consts.ActionFilesDeployed, site.BundleURL); err != nil {
		slog.Error("err recording activity", "site", site.ID, "err", err)
	}

	// One short unauthenticated probe against the bare IP. Both outcomes
	// advance the record, only the message differs.
	status, message := c.probe(ctx, site.ServerIP)
	if err = c.sites.SetStatus(ctx, site.ID, status, message); err != nil {
		return err
	}
	if status == consts.SiteStatusLive {
		if err = c.activity.Append(ctx, site.ID, consts.ActionSiteLive, site.ServerIP); err != nil {
			slog.Error("err recording activity", "site", site.ID, "err", err)
		}
	}
	return nil
}

func bundleKey(siteID uint64) string {
	return fmt.Sprintf("bundles/%d/site.zip", siteID)
}

func (c *DeploySite) probe(ctx context.Context, ip string) (consts.SiteStatus, string) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://"+ip+"/", nil)
	if err != nil {
		return consts.SiteStatusFilesUploaded, fmt.Sprintf("Files deployed, probe could not be built: %v", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return consts.SiteStatusFilesUploaded,
			fmt.Sprintf("Files deployed, %v is not answering yet: %v", ip, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode >= 500 {
		return consts.SiteStatusFilesUploaded,
			fmt.Sprintf("Files deployed, %v answers %v: check the interpreter configuration", ip, resp.Status)
	}
	return consts.SiteStatusLive, fmt.Sprintf("Deployed and reachable at http://%v/", ip)
}
