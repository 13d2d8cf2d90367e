package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/siteforge-ops/siteforge-backend/internal/application/errs"
	"github.com/siteforge-ops/siteforge-backend/internal/application/interfaces"
	"github.com/siteforge-ops/siteforge-backend/internal/domain/consts"
	"github.com/siteforge-ops/siteforge-backend/internal/infra/db"
	dbs "github.com/siteforge-ops/siteforge-backend/pkg/db"
)

const uniqueViolation = "23505"

const siteColumns = `id, domain, status, status_message, error_message, server_id, server_ip,
	ssh_user, ssh_key_pem, ssh_key_id, bundle_url, bundle_size, created_at, updated_at`

type SiteRepo struct {
	factory *dbs.UOWFactory
}

var _ interfaces.SiteRepo = (*SiteRepo)(nil)

func NewSiteRepo(factory *dbs.UOWFactory) *SiteRepo {
	return &SiteRepo{factory: factory}
}

func scanSite(row pgx.Row) (db.Site, error) {
	var site db.Site
	err := row.Scan(&site.ID, &site.Domain, &site.Status, &site.StatusMessage, &site.ErrorMessage,
		&site.ServerID, &site.ServerIP, &site.SSHUser, &site.SSHKeyPEM, &site.SSHKeyID,
		&site.BundleURL, &site.BundleSize, &site.CreatedAt, &site.UpdatedAt)
	return site, err
}

func (r *SiteRepo) InsertSite(ctx context.Context, site db.Site) (uint64, error) {
	var id uint64
	err := r.factory.Pool.QueryRow(ctx,
		`INSERT INTO forge.sites (domain, status, status_message, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5) RETURNING id`,
		site.Domain, site.Status, site.StatusMessage, time.Now(), time.Now()).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("err inserting site, %v", err)
	}
	return id, nil
}

func (r *SiteRepo) GetSite(ctx context.Context, id uint64) (db.Site, error) {
	row := r.factory.Pool.QueryRow(ctx,
		"SELECT "+siteColumns+" FROM forge.sites WHERE id = $1", id)
	site, err := scanSite(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return db.Site{}, errs.ValidationError{Msg: fmt.Sprintf("site %d does not exist", id)}
		}
		return db.Site{}, err
	}
	return site, nil
}

func (r *SiteRepo) GetSiteByDomain(ctx context.Context, domain string) (*db.Site, error) {
	row := r.factory.Pool.QueryRow(ctx,
		"SELECT "+siteColumns+" FROM forge.sites WHERE domain = $1", domain)
	site, err := scanSite(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &site, nil
}

// SetStatus writes a provisional or confirmed pipeline status together with
// its human-readable message, clearing any stale error text.
func (r *SiteRepo) SetStatus(ctx context.Context, id uint64, status consts.SiteStatus, message string) error {
	_, err := r.factory.Pool.Exec(ctx,
		`UPDATE forge.sites SET status = $1, status_message = $2, error_message = '', updated_at = $3 WHERE id = $4`,
		status, message, time.Now(), id)
	return err
}

// SetFailed marks the site Failed keeping every already-acquired field so a
// retry resumes at the failed step.
func (r *SiteRepo) SetFailed(ctx context.Context, id uint64, errorMessage string) error {
	_, err := r.factory.Pool.Exec(ctx,
		`UPDATE forge.sites SET status = $1, error_message = $2, updated_at = $3 WHERE id = $4`,
		consts.SiteStatusFailed, errorMessage, time.Now(), id)
	return err
}

// ClaimDomain atomically attaches domain to the site. A domain held by
// another live site is rejected naming the holder; the partial unique index
// backstops two claims racing.
func (r *SiteRepo) ClaimDomain(ctx context.Context, id uint64, domain string) error {
	holder, err := r.GetSiteByDomain(ctx, domain)
	if err != nil {
		return err
	}
	if holder != nil && holder.ID != id {
		return errs.ValidationError{Msg: fmt.Sprintf("domain %v is already attached to site %d", domain, holder.ID)}
	}

	_, err = r.factory.Pool.Exec(ctx,
		`UPDATE forge.sites SET domain = $1, updated_at = $2 WHERE id = $3`, domain, time.Now(), id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return errs.ValidationError{Msg: fmt.Sprintf("domain %v was just claimed by another site", domain)}
		}
		return err
	}
	return nil
}

func (r *SiteRepo) SetBundle(ctx context.Context, id uint64, url string, size int64) error {
	_, err := r.factory.Pool.Exec(ctx,
		`UPDATE forge.sites SET bundle_url = $1, bundle_size = $2, updated_at = $3 WHERE id = $4`,
		url, size, time.Now(), id)
	return err
}

func (r *SiteRepo) SetServer(ctx context.Context, id uint64, serverID int64, ip, sshUser, keyPEM string, keyID int64) error {
	_, err := r.factory.Pool.Exec(ctx,
		`UPDATE forge.sites SET server_id = $1, server_ip = $2, ssh_user = $3, ssh_key_pem = $4, ssh_key_id = $5, updated_at = $6 WHERE id = $7`,
		serverID, ip, sshUser, keyPEM, keyID, time.Now(), id)
	return err
}

func (r *SiteRepo) DeleteSite(ctx context.Context, id uint64) error {
	_, err := r.factory.Pool.Exec(ctx, "DELETE FROM forge.sites WHERE id = $1", id)
	return err
}

type ActivityRepo struct {
	factory *dbs.UOWFactory
}

var _ interfaces.ActivityRepo = (*ActivityRepo)(nil)

func NewActivityRepo(factory *dbs.UOWFactory) *ActivityRepo {
	return &ActivityRepo{factory: factory}
}

func (r *ActivityRepo) Append(ctx context.Context, siteID uint64, action, detail string) error {
	_, err := r.factory.Pool.Exec(ctx,
		"INSERT INTO forge.activity (site_id, action, detail, created_at) VALUES ($1,$2,$3,$4)",
		siteID, action, detail, time.Now())
	if err != nil {
		return fmt.Errorf("err appending activity, %v", err)
	}
	return nil
}

func (r *ActivityRepo) ListBySite(ctx context.Context, siteID uint64) ([]db.Activity, error) {
	rows, err := r.factory.Pool.Query(ctx,
		"SELECT id, site_id, action, detail, created_at FROM forge.activity WHERE site_id = $1 ORDER BY created_at",
		siteID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []db.Activity
	for rows.Next() {
		var event db.Activity
		if err = rows.Scan(&event.ID, &event.SiteID, &event.Action, &event.Detail, &event.CreatedAt); err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

type ImageRepo struct {
	factory *dbs.UOWFactory
}

var _ interfaces.ImageRepo = (*ImageRepo)(nil)

func NewImageRepo(factory *dbs.UOWFactory) *ImageRepo {
	return &ImageRepo{factory: factory}
}

func (r *ImageRepo) ActiveImage(ctx context.Context) (*db.ImageVersion, error) {
	var image db.ImageVersion
	err := r.factory.Pool.QueryRow(ctx,
		"SELECT id, snapshot_id, name, verify_output, baked_at, active FROM forge.image_versions WHERE active").Scan(
		&image.ID, &image.SnapshotID, &image.Name, &image.VerifyOutput, &image.BakedAt, &image.Active)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &image, nil
}

// Activate inserts the freshly baked version and flips the active flag in one
// transaction. Superseded rows are kept as the audit trail; a failed bake
// never reaches this call, so the previous pointer survives partial failures.
func (r *ImageRepo) Activate(ctx context.Context, image db.ImageVersion) error {
	uow := r.factory.GetUoW()
	tx, err := uow.Begin()
	if err != nil {
		return err
	}
	if _, err = tx.Exec(ctx, "UPDATE forge.image_versions SET active = false WHERE active"); err != nil {
		_ = uow.Rollback()
		return fmt.Errorf("err deactivating previous image, %v", err)
	}
	_, err = tx.Exec(ctx,
		"INSERT INTO forge.image_versions (snapshot_id, name, verify_output, baked_at, active) VALUES ($1,$2,$3,$4,true)",
		image.SnapshotID, image.Name, image.VerifyOutput, image.BakedAt)
	if err != nil {
		_ = uow.Rollback()
		return fmt.Errorf("err inserting image version, %v", err)
	}
	return uow.Commit()
}

type TaskRepo struct {
	factory *dbs.UOWFactory
}

var _ interfaces.TaskRepo = (*TaskRepo)(nil)

func NewTaskRepo(factory *dbs.UOWFactory) *TaskRepo {
	return &TaskRepo{factory: factory}
}

func (r *TaskRepo) InsertTask(ctx context.Context, task db.Task) (uuid.UUID, error) {
	id := uuid.New()
	_, err := r.factory.Pool.Exec(ctx,
		`INSERT INTO forge.tasks (id, type, site_id, status, payload, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		id, task.Type, task.SiteID, consts.TaskStatusPending, task.Payload, time.Now())
	if err != nil {
		return uuid.Nil, fmt.Errorf("err inserting task, %v", err)
	}
	return id, nil
}

func (r *TaskRepo) GetTask(ctx context.Context, id uuid.UUID) (db.Task, error) {
	var task db.Task
	err := r.factory.Pool.QueryRow(ctx,
		`SELECT id, type, site_id, status, payload, error, created_at, started_at, finished_at
		FROM forge.tasks WHERE id = $1`, id).Scan(
		&task.ID, &task.Type, &task.SiteID, &task.Status, &task.Payload, &task.Error,
		&task.CreatedAt, &task.StartedAt, &task.FinishedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return db.Task{}, errs.ValidationError{Msg: fmt.Sprintf("task %v does not exist", id)}
		}
		return db.Task{}, err
	}
	return task, nil
}

func (r *TaskRepo) ListBySite(ctx context.Context, siteID uint64) ([]db.Task, error) {
	rows, err := r.factory.Pool.Query(ctx,
		`SELECT id, type, site_id, status, payload, error, created_at, started_at, finished_at
		FROM forge.tasks WHERE site_id = $1 ORDER BY created_at DESC`, siteID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tasks []db.Task
	for rows.Next() {
		var task db.Task
		if err = rows.Scan(&task.ID, &task.Type, &task.SiteID, &task.Status, &task.Payload, &task.Error,
			&task.CreatedAt, &task.StartedAt, &task.FinishedAt); err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

// ClaimPending moves up to limit pending tasks to Running and returns them.
// SKIP LOCKED keeps multiple workers from claiming the same row.
func (r *TaskRepo) ClaimPending(ctx context.Context, limit int) ([]db.Task, error) {
	uow := r.factory.GetUoW()
	tx, err := uow.Begin()
	if err != nil {
		return nil, err
	}

	rows, err := tx.Query(ctx,
		`SELECT id, type, site_id, status, payload, error, created_at
		FROM forge.tasks WHERE status = $1 ORDER BY created_at FOR UPDATE SKIP LOCKED LIMIT $2`,
		consts.TaskStatusPending, limit)
	if err != nil {
		_ = uow.Rollback()
		return nil, err
	}

	var tasks []db.Task
	var ids []uuid.UUID
	for rows.Next() {
		var task db.Task
		if err = rows.Scan(&task.ID, &task.Type, &task.SiteID, &task.Status, &task.Payload, &task.Error, &task.CreatedAt); err != nil {
			rows.Close()
			_ = uow.Rollback()
			return nil, err
		}
		tasks = append(tasks, task)
		ids = append(ids, task.ID)
	}
	rows.Close()
	if err = rows.Err(); err != nil {
		_ = uow.Rollback()
		return nil, err
	}

	if len(ids) == 0 {
		_ = uow.Rollback()
		return nil, nil
	}

	_, err = tx.Exec(ctx, "UPDATE forge.tasks SET status = $1, started_at = $2 WHERE id = ANY($3)",
		consts.TaskStatusRunning, time.Now(), ids)
	if err != nil {
		_ = uow.Rollback()
		return nil, err
	}
	if err = uow.Commit(); err != nil {
		return nil, err
	}
	return tasks, nil
}

func (r *TaskRepo) MarkFinished(ctx context.Context, id uuid.UUID, status consts.TaskStatus, errorMessage string) error {
	_, err := r.factory.Pool.Exec(ctx,
		"UPDATE forge.tasks SET status = $1, error = $2, finished_at = $3 WHERE id = $4",
		status, errorMessage, time.Now(), id)
	return err
}

// UpdatePayload persists resumable pipeline state, e.g. the bake cursor.
func (r *TaskRepo) UpdatePayload(ctx context.Context, id uuid.UUID, payload []byte) error {
	_, err := r.factory.Pool.Exec(ctx, "UPDATE forge.tasks SET payload = $1 WHERE id = $2", payload, id)
	return err
}

// Requeue puts a claimed task back to pending, used when its site lease is
// held by someone else.
func (r *TaskRepo) Requeue(ctx context.Context, id uuid.UUID) error {
	_, err := r.factory.Pool.Exec(ctx,
		"UPDATE forge.tasks SET status = $1, started_at = NULL WHERE id = $2",
		consts.TaskStatusPending, id)
	return err
}

type LeaseRepo struct {
	factory *dbs.UOWFactory
}

var _ interfaces.LeaseRepo = (*LeaseRepo)(nil)

func NewLeaseRepo(factory *dbs.UOWFactory) *LeaseRepo {
	return &LeaseRepo{factory: factory}
}

// Acquire takes the per-site operation lease for ttl. It succeeds when no
// lease exists, the previous one expired, or the same owner re-acquires.
func (r *LeaseRepo) Acquire(ctx context.Context, siteID uint64, owner string, ttl time.Duration) (bool, error) {
	tag, err := r.factory.Pool.Exec(ctx,
		`INSERT INTO forge.site_leases (site_id, owner, expires_at) VALUES ($1,$2,$3)
		ON CONFLICT (site_id) DO UPDATE SET owner = EXCLUDED.owner, expires_at = EXCLUDED.expires_at
		WHERE forge.site_leases.expires_at < now() OR forge.site_leases.owner = EXCLUDED.owner`,
		siteID, owner, time.Now().Add(ttl))
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *LeaseRepo) Release(ctx context.Context, siteID uint64, owner string) error {
	_, err := r.factory.Pool.Exec(ctx,
		"DELETE FROM forge.site_leases WHERE site_id = $1 AND owner = $2", siteID, owner)
	return err
}
