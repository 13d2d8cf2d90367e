// Package tasks defines the payloads persisted with queued pipeline tasks.
package tasks

import (
	"encoding/json"
	"log/slog"

	"github.com/siteforge-ops/siteforge-backend/internal/infra/db"
)

type DeploySite struct {
	SiteID uint64
}

type ConfigureDomain struct {
	SiteID uint64
}

type DeleteSite struct {
	SiteID uint64
}

// BakeImage carries the resumable bake state: a retried bake resumes at the
// recorded cursor on the same disposable server instead of restarting from
// server creation.
type BakeImage struct {
	ServerID   int64  `json:"serverId,omitempty"`
	ServerIP   string `json:"serverIp,omitempty"`
	SSHKeyID   int64  `json:"sshKeyId,omitempty"`
	PrivateKey []byte `json:"privateKey,omitempty"`
	Cursor     string `json:"cursor,omitempty"`
}

func Unmarshal[T any](task db.Task) T {
	var payload T
	if len(task.Payload) == 0 {
		return payload
	}
	if err := json.Unmarshal(task.Payload, &payload); err != nil {
		slog.Error("error unmarshaling task payload", "task", task.ID, "err", err)
	}
	return payload
}
