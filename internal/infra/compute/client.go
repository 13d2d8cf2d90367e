// Package compute wraps the Hetzner Cloud API for the orchestrator: one
// server per site plus disposable bake servers and golden-image snapshots.
package compute

import (
	"context"
	"time"
)

type ServerSpec struct {
	Name      string
	ImageID   int64
	ImageName string
	SSHKeyID  int64
	Labels    map[string]string
}

type ServerInfo struct {
	ID       int64
	Status   string
	PublicIP string
}

type Snapshot struct {
	ID      int64
	Name    string
	Created time.Time
}

// API is the provider surface the pipelines run against. Implemented by
// Client; tests substitute a scripted fake.
type API interface {
	CreateServer(ctx context.Context, spec ServerSpec) (int64, error)
	GetServer(ctx context.Context, id int64) (ServerInfo, error)
	DeleteServer(ctx context.Context, id int64) error
	PowerOff(ctx context.Context, id int64) (int64, error)
	CreateSnapshot(ctx context.Context, serverID int64, name string) (int64, error)
	ListSnapshots(ctx context.Context) ([]Snapshot, error)
	PollAction(ctx context.Context, actionID int64, timeout time.Duration) bool
	CreateSSHKey(ctx context.Context, name, publicKey string) (int64, error)
	DeleteSSHKey(ctx context.Context, id int64) error
}
