package commands

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/siteforge-ops/siteforge-backend/internal/application/errs"
	"github.com/siteforge-ops/siteforge-backend/internal/application/interfaces"
	"github.com/siteforge-ops/siteforge-backend/internal/domain/consts"
	"github.com/siteforge-ops/siteforge-backend/internal/infra/compute"
	"github.com/siteforge-ops/siteforge-backend/internal/infra/config"
	"github.com/siteforge-ops/siteforge-backend/internal/infra/db"
	"github.com/siteforge-ops/siteforge-backend/internal/infra/remote"
	"github.com/siteforge-ops/siteforge-backend/internal/util/wait"
)

// ServerProvisioner creates a site's machine from the active golden image on
// first use. Pipelines that find server_id already persisted skip straight
// past it, which is what lets a retry resume at the failed step.
type ServerProvisioner struct {
	cfg      *config.ProvisionConfig
	sites    interfaces.SiteRepo
	activity interfaces.ActivityRepo
	images   interfaces.ImageRepo
	cloud    compute.API
	exec     remote.Executor
}

func NewServerProvisioner(
	cfg *config.ProvisionConfig, sites interfaces.SiteRepo, activity interfaces.ActivityRepo,
	images interfaces.ImageRepo, cloud compute.API, exec remote.Executor,
) *ServerProvisioner {
	return &ServerProvisioner{
		cfg:      cfg,
		sites:    sites,
		activity: activity,
		images:   images,
		cloud:    cloud,
		exec:     exec,
	}
}

// EnsureServer returns the site with a running, SSH-reachable server. The
// public IP is trusted only after the provider reports the running state AND
// ssh answers.
func (p *ServerProvisioner) EnsureServer(ctx context.Context, site db.Site) (db.Site, error) {
	if site.ServerID != nil {
		return site, nil
	}

	image, err := p.images.ActiveImage(ctx)
	if err != nil {
		return site, err
	}
	if image == nil {
		return site, errs.ValidationError{Msg: "no golden image has been baked yet, run a bake first"}
	}

	if err = p.sites.SetStatus(ctx, site.ID, consts.SiteStatusDeploying,
		fmt.Sprintf("Creating server from image %v…", image.Name)); err != nil {
		return site, err
	}

	keys, err := remote.GenerateKeyPair()
	if err != nil {
		return site, err
	}
	// Provider resource names are account-unique. A failed attempt may leave
	// resources behind for cleanup, so each attempt gets its own suffix
	// instead of colliding with them on retry.
	attempt := fmt.Sprintf("site-%d-%s", site.ID, uuid.NewString()[:8])
	keyID, err := p.cloud.CreateSSHKey(ctx, attempt, string(keys.PublicKey))
	if err != nil {
		return site, err
	}

	serverID, err := p.cloud.CreateServer(ctx, compute.ServerSpec{
		Name:     attempt,
		ImageID:  image.SnapshotID,
		SSHKeyID: keyID,
		Labels:   map[string]string{"site": fmt.Sprintf("%d", site.ID)},
	})
	if err != nil {
		if delErr := p.cloud.DeleteSSHKey(ctx, keyID); delErr != nil {
			slog.Error("err deleting ssh key after failed create", "site", site.ID, "key", keyID, "err", delErr)
		}
		return site, err
	}
	slog.Info("server created", "site", site.ID, "server", serverID)

	var ip string
	active := wait.Until(ctx, func(ctx context.Context) (bool, error) {
		info, err := p.cloud.GetServer(ctx, serverID)
		if err != nil {
			return false, err
		}
		if info.Status == compute.ServerStatusRunning && info.PublicIP != "" {
			ip = info.PublicIP
			return true, nil
		}
		return false, nil
	}, p.cfg.PollInterval, p.cfg.ServerActiveTimeout)
	if !active {
		// Nothing was persisted yet, so a retry starts from scratch. Tear the
		// stuck resources down now or they orphan in the provider account.
		if delErr := p.cloud.DeleteServer(ctx, serverID); delErr != nil {
			slog.Error("err deleting stuck server", "site", site.ID, "server", serverID, "err", delErr)
		}
		if delErr := p.cloud.DeleteSSHKey(ctx, keyID); delErr != nil {
			slog.Error("err deleting ssh key of stuck server", "site", site.ID, "key", keyID, "err", delErr)
		}
		return site, errs.TimeoutError{Op: fmt.Sprintf("server %d becoming active", serverID), Elapsed: p.cfg.ServerActiveTimeout}
	}

	if err = p.sites.SetServer(ctx, site.ID, serverID, ip, p.cfg.SSHUser, string(keys.PrivateKey), keyID); err != nil {
		return site, err
	}
	if err = p.activity.Append(ctx, site.ID, consts.ActionServerCreated,
		fmt.Sprintf("server %d at %v", serverID, ip)); err != nil {
		slog.Error("err recording activity", "site", site.ID, "err", err)
	}

	creds := remote.Credentials{User: p.cfg.SSHUser, PrivateKey: keys.PrivateKey}
	sshUp := wait.Until(ctx, func(ctx context.Context) (bool, error) {
		return p.exec.Reachable(ctx, ip, creds), nil
	}, p.cfg.PollInterval, p.cfg.SSHReadyTimeout)
	if !sshUp {
		return site, errs.TimeoutError{Op: fmt.Sprintf("ssh on %v answering", ip), Elapsed: p.cfg.SSHReadyTimeout}
	}

	site.ServerID = &serverID
	site.ServerIP = ip
	site.SSHUser = p.cfg.SSHUser
	site.SSHKeyPEM = string(keys.PrivateKey)
	site.SSHKeyID = &keyID
	return site, nil
}

func siteCredentials(site db.Site) remote.Credentials {
	return remote.Credentials{User: site.SSHUser, PrivateKey: []byte(site.SSHKeyPEM)}
}
