package db

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/siteforge-ops/siteforge-backend/internal/domain/consts"
)

type Site struct {
	ID            uint64            `db:"id"`
	Domain        *string           `db:"domain"`
	Status        consts.SiteStatus `db:"status"`
	StatusMessage string            `db:"status_message"`
	ErrorMessage  string            `db:"error_message"`
	ServerID      *int64            `db:"server_id"`
	ServerIP      string            `db:"server_ip"`
	SSHUser       string            `db:"ssh_user"`
	SSHKeyPEM     string            `db:"ssh_key_pem"`
	SSHKeyID      *int64            `db:"ssh_key_id"`
	BundleURL     string            `db:"bundle_url"`
	BundleSize    int64             `db:"bundle_size"`
	CreatedAt     time.Time         `db:"created_at"`
	UpdatedAt     time.Time         `db:"updated_at"`
}

type Activity struct {
	ID        uint64    `db:"id"`
	SiteID    uint64    `db:"site_id"`
	Action    string    `db:"action"`
	Detail    string    `db:"detail"`
	CreatedAt time.Time `db:"created_at"`
}

// ImageVersion is one bake result. Exactly one row is active; superseded rows
// stay behind as the audit trail.
type ImageVersion struct {
	ID           uint64    `db:"id"`
	SnapshotID   int64     `db:"snapshot_id"`
	Name         string    `db:"name"`
	VerifyOutput string    `db:"verify_output"`
	BakedAt      time.Time `db:"baked_at"`
	Active       bool      `db:"active"`
}

type Task struct {
	ID         uuid.UUID         `db:"id"`
	Type       consts.TaskType   `db:"type"`
	SiteID     *uint64           `db:"site_id"`
	Status     consts.TaskStatus `db:"status"`
	Payload    json.RawMessage   `db:"payload"`
	Error      string            `db:"error"`
	CreatedAt  time.Time         `db:"created_at"`
	StartedAt  *time.Time        `db:"started_at"`
	FinishedAt *time.Time        `db:"finished_at"`
}

type Lease struct {
	SiteID    uint64    `db:"site_id"`
	Owner     string    `db:"owner"`
	ExpiresAt time.Time `db:"expires_at"`
}
