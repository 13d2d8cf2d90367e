package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/siteforge-ops/siteforge-backend/internal/application/errs"
	"github.com/siteforge-ops/siteforge-backend/internal/application/interfaces"
	"github.com/siteforge-ops/siteforge-backend/internal/application/tasks"
	"github.com/siteforge-ops/siteforge-backend/internal/infra/compute"
	"github.com/siteforge-ops/siteforge-backend/internal/infra/config"
	"github.com/siteforge-ops/siteforge-backend/internal/infra/db"
	"github.com/siteforge-ops/siteforge-backend/internal/infra/provision"
	"github.com/siteforge-ops/siteforge-backend/internal/infra/remote"
	"github.com/siteforge-ops/siteforge-backend/internal/util/wait"
)

// BakeImage builds a new golden image on a disposable server and activates
// it as the version new sites are created from. The image pointer is only
// touched at the very end: a bake that dies anywhere leaves the previous
// image serving.
type BakeImage struct {
	cfg    *config.ProvisionConfig
	images interfaces.ImageRepo
	taskq  interfaces.TaskRepo
	cloud  compute.API
	exec   remote.Executor
	runner *provision.Runner
}

func NewBakeImage(
	cfg *config.ProvisionConfig, images interfaces.ImageRepo, taskq interfaces.TaskRepo,
	cloud compute.API, exec remote.Executor,
) *BakeImage {
	return &BakeImage{
		cfg:    cfg,
		images: images,
		taskq:  taskq,
		cloud:  cloud,
		exec:   exec,
		runner: provision.NewRunner(exec),
	}
}

// Handle runs the bake, persisting enough state into the task payload that a
// requeued task resumes on the same server at the step after the cursor. On
// failure the disposable server is deliberately kept for that resume.
func (c *BakeImage) Handle(ctx context.Context, taskID uuid.UUID, payload tasks.BakeImage) error {
	var err error
	if payload.ServerID == 0 {
		payload, err = c.createBakeServer(ctx, taskID)
		if err != nil {
			return err
		}
	}

	creds := remote.Credentials{User: c.cfg.SSHUser, PrivateKey: payload.PrivateKey}
	sshUp := wait.Until(ctx, func(ctx context.Context) (bool, error) {
		return c.exec.Reachable(ctx, payload.ServerIP, creds), nil
	}, c.cfg.PollInterval, c.cfg.SSHReadyTimeout)
	if !sshUp {
		return errs.TimeoutError{Op: fmt.Sprintf("ssh on bake server %v answering", payload.ServerIP), Elapsed: c.cfg.SSHReadyTimeout}
	}

	steps := append(provision.InstallSteps(c.cfg.Webroot), provision.SeedSteps(c.cfg.Webroot)...)
	err = c.runner.Run(ctx, payload.ServerIP, creds, steps, payload.Cursor, func(name string) {
		payload.Cursor = name
		c.savePayload(ctx, taskID, payload)
	})
	if err != nil {
		return err
	}

	verify, err := c.exec.Exec(ctx, payload.ServerIP, creds, provision.VerifyScript(c.cfg.Webroot), 2*time.Minute)
	if err != nil {
		return errs.TransientError{Err: fmt.Errorf("running verification: %w", err)}
	}
	if verify.ExitCode != 0 {
		return errs.PermanentError{Err: fmt.Errorf("verification exited %d: %v", verify.ExitCode, verify.Stderr)}
	}

	if _, err = c.exec.Exec(ctx, payload.ServerIP, creds, provision.CleanupScript, 2*time.Minute); err != nil {
		return errs.TransientError{Err: fmt.Errorf("running cleanup: %w", err)}
	}

	// Snapshotting a powered-off server gives a consistent filesystem.
	actionID, err := c.cloud.PowerOff(ctx, payload.ServerID)
	if err != nil {
		return err
	}
	if !c.cloud.PollAction(ctx, actionID, c.cfg.ServerActiveTimeout) {
		return errs.TimeoutError{Op: fmt.Sprintf("powering off bake server %d", payload.ServerID), Elapsed: c.cfg.ServerActiveTimeout}
	}

	name := fmt.Sprintf("golden-%s", time.Now().UTC().Format("20060102-150405"))
	actionID, err = c.cloud.CreateSnapshot(ctx, payload.ServerID, name)
	if err != nil {
		return err
	}
	if !c.cloud.PollAction(ctx, actionID, c.cfg.SnapshotTimeout) {
		return errs.TimeoutError{Op: fmt.Sprintf("snapshot %v completing", name), Elapsed: c.cfg.SnapshotTimeout}
	}

	snapshotID, err := c.findSnapshot(ctx, name)
	if err != nil {
		return err
	}

	if err = c.images.Activate(ctx, db.ImageVersion{
		SnapshotID:   snapshotID,
		Name:         name,
		VerifyOutput: verify.Stdout,
		BakedAt:      time.Now(),
	}); err != nil {
		return err
	}
	slog.Info("golden image activated", "name", name, "snapshot", snapshotID)

	if err = c.cloud.DeleteServer(ctx, payload.ServerID); err != nil {
		slog.Error("err deleting bake server", "server", payload.ServerID, "err", err)
	}
	if err = c.cloud.DeleteSSHKey(ctx, payload.SSHKeyID); err != nil {
		slog.Error("err deleting bake ssh key", "key", payload.SSHKeyID, "err", err)
	}
	return nil
}

func (c *BakeImage) createBakeServer(ctx context.Context, taskID uuid.UUID) (tasks.BakeImage, error) {
	var payload tasks.BakeImage

	keys, err := remote.GenerateKeyPair()
	if err != nil {
		return payload, err
	}
	keyID, err := c.cloud.CreateSSHKey(ctx, fmt.Sprintf("bake-%v", taskID), string(keys.PublicKey))
	if err != nil {
		return payload, err
	}

	serverID, err := c.cloud.CreateServer(ctx, compute.ServerSpec{
		Name:      fmt.Sprintf("bake-%v", taskID),
		ImageName: c.cfg.BaseImage,
		SSHKeyID:  keyID,
		Labels:    map[string]string{"role": "bake"},
	})
	if err != nil {
		return payload, err
	}
	slog.Info("bake server created", "task", taskID, "server", serverID)

	var ip string
	active := wait.Until(ctx, func(ctx context.Context) (bool, error) {
		info, err := c.cloud.GetServer(ctx, serverID)
		if err != nil {
			return false, err
		}
		if info.Status == compute.ServerStatusRunning && info.PublicIP != "" {
			ip = info.PublicIP
			return true, nil
		}
		return false, nil
	}, c.cfg.PollInterval, c.cfg.ServerActiveTimeout)
	if !active {
		return payload, errs.TimeoutError{Op: fmt.Sprintf("bake server %d becoming active", serverID), Elapsed: c.cfg.ServerActiveTimeout}
	}

	payload = tasks.BakeImage{
		ServerID:   serverID,
		ServerIP:   ip,
		SSHKeyID:   keyID,
		PrivateKey: keys.PrivateKey,
	}
	c.savePayload(ctx, taskID, payload)
	return payload, nil
}

func (c *BakeImage) findSnapshot(ctx context.Context, name string) (int64, error) {
	snapshots, err := c.cloud.ListSnapshots(ctx)
	if err != nil {
		return 0, err
	}
	for _, s := range snapshots {
		if s.Name == name {
			return s.ID, nil
		}
	}
	return 0, fmt.Errorf("snapshot %v reported done but not listed", name)
}

func (c *BakeImage) savePayload(ctx context.Context, taskID uuid.UUID, payload tasks.BakeImage) {
	raw, err := json.Marshal(payload)
	if err != nil {
		slog.Error("err marshaling bake payload", "task", taskID, "err", err)
		return
	}
	if err = c.taskq.UpdatePayload(ctx, taskID, raw); err != nil {
		slog.Error("err persisting bake payload", "task", taskID, "err", err)
	}
}
