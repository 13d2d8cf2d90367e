package interfaces

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/siteforge-ops/siteforge-backend/internal/domain/consts"
	"github.com/siteforge-ops/siteforge-backend/internal/infra/db"
)

type SiteRepo interface {
	InsertSite(ctx context.Context, site db.Site) (uint64, error)
	GetSite(ctx context.Context, id uint64) (db.Site, error)
	GetSiteByDomain(ctx context.Context, domain string) (*db.Site, error)
	SetStatus(ctx context.Context, id uint64, status consts.SiteStatus, message string) error
	SetFailed(ctx context.Context, id uint64, errorMessage string) error
	ClaimDomain(ctx context.Context, id uint64, domain string) error
	SetBundle(ctx context.Context, id uint64, url string, size int64) error
	SetServer(ctx context.Context, id uint64, serverID int64, ip, sshUser, keyPEM string, keyID int64) error
	DeleteSite(ctx context.Context, id uint64) error
}

type ActivityRepo interface {
	Append(ctx context.Context, siteID uint64, action, detail string) error
	ListBySite(ctx context.Context, siteID uint64) ([]db.Activity, error)
}

type ImageRepo interface {
	ActiveImage(ctx context.Context) (*db.ImageVersion, error)
	Activate(ctx context.Context, image db.ImageVersion) error
}

type TaskRepo interface {
	InsertTask(ctx context.Context, task db.Task) (uuid.UUID, error)
	GetTask(ctx context.Context, id uuid.UUID) (db.Task, error)
	ListBySite(ctx context.Context, siteID uint64) ([]db.Task, error)
	ClaimPending(ctx context.Context, limit int) ([]db.Task, error)
	MarkFinished(ctx context.Context, id uuid.UUID, status consts.TaskStatus, errorMessage string) error
	UpdatePayload(ctx context.Context, id uuid.UUID, payload []byte) error
	Requeue(ctx context.Context, id uuid.UUID) error
}

type LeaseRepo interface {
	Acquire(ctx context.Context, siteID uint64, owner string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, siteID uint64, owner string) error
}
