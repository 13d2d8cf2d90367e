package compute

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hetznercloud/hcloud-go/v2/hcloud"
	"github.com/siteforge-ops/siteforge-backend/internal/util/wait"
	"github.com/siteforge-ops/siteforge-backend/pkg/env"
)

// ServerStatusRunning is the provider's "active" state: only then is the
// assigned public IP trustworthy.
const ServerStatusRunning = string(hcloud.ServerStatusRunning)

type Client struct {
	client       *hcloud.Client
	serverType   string
	location     string
	pollInterval time.Duration
}

var _ API = (*Client)(nil)

func NewClient(serverType, location string, pollInterval time.Duration) *Client {
	return &Client{
		client:       hcloud.NewClient(hcloud.WithToken(env.GetEnv("HCLOUD_TOKEN", ""))),
		serverType:   serverType,
		location:     location,
		pollInterval: pollInterval,
	}
}

func (c *Client) CreateServer(ctx context.Context, spec ServerSpec) (int64, error) {
	serverType, _, err := c.client.ServerType.GetByName(ctx, c.serverType)
	if err != nil {
		return 0, classify(fmt.Errorf("resolving server type %v: %w", c.serverType, err))
	}
	location, _, err := c.client.Location.GetByName(ctx, c.location)
	if err != nil {
		return 0, classify(fmt.Errorf("resolving location %v: %w", c.location, err))
	}

	var image *hcloud.Image
	if spec.ImageID != 0 {
		image = &hcloud.Image{ID: spec.ImageID}
	} else {
		image, _, err = c.client.Image.GetByName(ctx, spec.ImageName)
		if err != nil {
			return 0, classify(fmt.Errorf("resolving image %v: %w", spec.ImageName, err))
		}
	}

	opts := hcloud.ServerCreateOpts{
		Name:       spec.Name,
		ServerType: serverType,
		Image:      image,
		Location:   location,
		Labels:     spec.Labels,
	}
	if spec.SSHKeyID != 0 {
		opts.SSHKeys = []*hcloud.SSHKey{{ID: spec.SSHKeyID}}
	}

	result, _, err := c.client.Server.Create(ctx, opts)
	if err != nil {
		return 0, classify(fmt.Errorf("creating server %v: %w", spec.Name, err))
	}
	slog.Info("created server", "server", result.Server.ID, "name", spec.Name)
	return result.Server.ID, nil
}

func (c *Client) GetServer(ctx context.Context, id int64) (ServerInfo, error) {
	server, _, err := c.client.Server.GetByID(ctx, id)
	if err != nil {
		return ServerInfo{}, classify(fmt.Errorf("getting server %d: %w", id, err))
	}
	if server == nil {
		return ServerInfo{}, classify(hcloud.Error{Code: hcloud.ErrorCodeNotFound, Message: fmt.Sprintf("server %d not found", id)})
	}
	info := ServerInfo{ID: server.ID, Status: string(server.Status)}
	if server.PublicNet.IPv4.IP != nil {
		info.PublicIP = server.PublicNet.IPv4.IP.String()
	}
	return info, nil
}

func (c *Client) DeleteServer(ctx context.Context, id int64) error {
	_, _, err := c.client.Server.DeleteWithResult(ctx, &hcloud.Server{ID: id})
	if err != nil {
		return classify(fmt.Errorf("deleting server %d: %w", id, err))
	}
	return nil
}

func (c *Client) PowerOff(ctx context.Context, id int64) (int64, error) {
	action, _, err := c.client.Server.Poweroff(ctx, &hcloud.Server{ID: id})
	if err != nil {
		return 0, classify(fmt.Errorf("powering off server %d: %w", id, err))
	}
	return action.ID, nil
}

func (c *Client) CreateSnapshot(ctx context.Context, serverID int64, name string) (int64, error) {
	result, _, err := c.client.Server.CreateImage(ctx, &hcloud.Server{ID: serverID}, &hcloud.ServerCreateImageOpts{
		Type:        hcloud.ImageTypeSnapshot,
		Description: hcloud.Ptr(name),
	})
	if err != nil {
		return 0, classify(fmt.Errorf("creating snapshot %v: %w", name, err))
	}
	return result.Action.ID, nil
}

func (c *Client) ListSnapshots(ctx context.Context) ([]Snapshot, error) {
	images, err := c.client.Image.AllWithOpts(ctx, hcloud.ImageListOpts{
		Type: []hcloud.ImageType{hcloud.ImageTypeSnapshot},
	})
	if err != nil {
		return nil, classify(fmt.Errorf("listing snapshots: %w", err))
	}
	snapshots := make([]Snapshot, 0, len(images))
	for _, image := range images {
		snapshots = append(snapshots, Snapshot{ID: image.ID, Name: image.Description, Created: image.Created})
	}
	return snapshots, nil
}

// PollAction samples the action at a fixed interval until it succeeds or the
// bound elapses. A timeout and a provider-reported action error both yield
// false, the caller decides severity.
func (c *Client) PollAction(ctx context.Context, actionID int64, timeout time.Duration) bool {
	return wait.Until(ctx, func(ctx context.Context) (bool, error) {
		action, _, err := c.client.Action.GetByID(ctx, actionID)
		if err != nil {
			slog.Warn("polling action", "action", actionID, "err", err)
			return false, err
		}
		switch action.Status {
		case hcloud.ActionStatusSuccess:
			return true, nil
		case hcloud.ActionStatusError:
			slog.Error("action failed", "action", actionID, "code", action.ErrorCode, "message", action.ErrorMessage)
			return false, fmt.Errorf("action %d failed: %v", actionID, action.ErrorMessage)
		default:
			return false, nil
		}
	}, c.pollInterval, timeout)
}

func (c *Client) CreateSSHKey(ctx context.Context, name, publicKey string) (int64, error) {
	key, _, err := c.client.SSHKey.Create(ctx, hcloud.SSHKeyCreateOpts{
		Name:      name,
		PublicKey: publicKey,
	})
	if err != nil {
		return 0, classify(fmt.Errorf("uploading ssh key %v: %w", name, err))
	}
	return key.ID, nil
}

func (c *Client) DeleteSSHKey(ctx context.Context, id int64) error {
	_, err := c.client.SSHKey.Delete(ctx, &hcloud.SSHKey{ID: id})
	if err != nil {
		return classify(fmt.Errorf("deleting ssh key %d: %w", id, err))
	}
	return nil
}
