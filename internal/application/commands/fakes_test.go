package commands

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/siteforge-ops/siteforge-backend/internal/application/errs"
	"github.com/siteforge-ops/siteforge-backend/internal/domain/consts"
	"github.com/siteforge-ops/siteforge-backend/internal/infra/compute"
	"github.com/siteforge-ops/siteforge-backend/internal/infra/config"
	"github.com/siteforge-ops/siteforge-backend/internal/infra/db"
	"github.com/siteforge-ops/siteforge-backend/internal/infra/remote"
)

func testConfig() *config.ProvisionConfig {
	return &config.ProvisionConfig{
		ServerType:          "cx22",
		Location:            "nbg1",
		BaseImage:           "ubuntu-22.04",
		SSHUser:             "root",
		Webroot:             "/var/www/html",
		ServerActiveTimeout: 50 * time.Millisecond,
		SSHReadyTimeout:     50 * time.Millisecond,
		SnapshotTimeout:     50 * time.Millisecond,
		PollInterval:        time.Millisecond,
		ReachabilityTimeout: 100 * time.Millisecond,
	}
}

// fakeSites is an in-memory SiteRepo.
type fakeSites struct {
	mu    sync.Mutex
	next  uint64
	sites map[uint64]db.Site
}

func newFakeSites(seed ...db.Site) *fakeSites {
	f := &fakeSites{sites: map[uint64]db.Site{}}
	for _, site := range seed {
		f.sites[site.ID] = site
		if site.ID > f.next {
			f.next = site.ID
		}
	}
	return f
}

func (f *fakeSites) InsertSite(_ context.Context, site db.Site) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.next++
	site.ID = f.next
	f.sites[site.ID] = site
	return site.ID, nil
}

func (f *fakeSites) GetSite(_ context.Context, id uint64) (db.Site, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	site, ok := f.sites[id]
	if !ok {
		return db.Site{}, fmt.Errorf("site %d not found", id)
	}
	return site, nil
}

func (f *fakeSites) GetSiteByDomain(_ context.Context, domain string) (*db.Site, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, site := range f.sites {
		if site.Domain != nil && *site.Domain == domain {
			copy := site
			return &copy, nil
		}
	}
	return nil, nil
}

func (f *fakeSites) SetStatus(_ context.Context, id uint64, status consts.SiteStatus, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	site := f.sites[id]
	site.Status = status
	site.StatusMessage = message
	site.ErrorMessage = ""
	f.sites[id] = site
	return nil
}

func (f *fakeSites) SetFailed(_ context.Context, id uint64, errorMessage string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	site := f.sites[id]
	site.Status = consts.SiteStatusFailed
	site.ErrorMessage = errorMessage
	f.sites[id] = site
	return nil
}

func (f *fakeSites) ClaimDomain(_ context.Context, id uint64, domain string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for otherID, other := range f.sites {
		if otherID != id && other.Domain != nil && *other.Domain == domain {
			return errs.ValidationError{Msg: fmt.Sprintf("domain %v is already attached to site %d", domain, otherID)}
		}
	}
	site := f.sites[id]
	site.Domain = &domain
	f.sites[id] = site
	return nil
}

func (f *fakeSites) SetBundle(_ context.Context, id uint64, url string, size int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	site := f.sites[id]
	site.BundleURL = url
	site.BundleSize = size
	f.sites[id] = site
	return nil
}

func (f *fakeSites) SetServer(_ context.Context, id uint64, serverID int64, ip, sshUser, keyPEM string, keyID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	site := f.sites[id]
	site.ServerID = &serverID
	site.ServerIP = ip
	site.SSHUser = sshUser
	site.SSHKeyPEM = keyPEM
	site.SSHKeyID = &keyID
	f.sites[id] = site
	return nil
}

func (f *fakeSites) DeleteSite(_ context.Context, id uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.sites, id)
	return nil
}

func (f *fakeSites) get(id uint64) db.Site {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sites[id]
}

// fakeActivity records appended actions in order.
type fakeActivity struct {
	mu      sync.Mutex
	entries []db.Activity
}

func (f *fakeActivity) Append(_ context.Context, siteID uint64, action, detail string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, db.Activity{SiteID: siteID, Action: action, Detail: detail})
	return nil
}

func (f *fakeActivity) ListBySite(_ context.Context, siteID uint64) ([]db.Activity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []db.Activity
	for _, e := range f.entries {
		if e.SiteID == siteID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *fakeActivity) actions() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.entries))
	for _, e := range f.entries {
		out = append(out, e.Action)
	}
	return out
}

// fakeImages holds at most one active version.
type fakeImages struct {
	mu     sync.Mutex
	active *db.ImageVersion
}

func (f *fakeImages) ActiveImage(context.Context) (*db.ImageVersion, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.active, nil
}

func (f *fakeImages) Activate(_ context.Context, image db.ImageVersion) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	image.Active = true
	f.active = &image
	return nil
}

// fakeTasks only needs payload persistence for the bake cursor.
type fakeTasks struct {
	mu       sync.Mutex
	payloads map[uuid.UUID][]byte
}

func newFakeTasks() *fakeTasks {
	return &fakeTasks{payloads: map[uuid.UUID][]byte{}}
}

func (f *fakeTasks) InsertTask(_ context.Context, task db.Task) (uuid.UUID, error) {
	id := uuid.New()
	f.mu.Lock()
	defer f.mu.Unlock()
	f.payloads[id] = task.Payload
	return id, nil
}

func (f *fakeTasks) GetTask(_ context.Context, id uuid.UUID) (db.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return db.Task{ID: id, Payload: f.payloads[id]}, nil
}

func (f *fakeTasks) ListBySite(context.Context, uint64) ([]db.Task, error) { return nil, nil }
func (f *fakeTasks) ClaimPending(context.Context, int) ([]db.Task, error) { return nil, nil }
func (f *fakeTasks) MarkFinished(context.Context, uuid.UUID, consts.TaskStatus, string) error {
	return nil
}

func (f *fakeTasks) UpdatePayload(_ context.Context, id uuid.UUID, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.payloads[id] = payload
	return nil
}

func (f *fakeTasks) Requeue(context.Context, uuid.UUID) error { return nil }

// fakeCloud is a scripted compute.API.
type fakeCloud struct {
	mu          sync.Mutex
	nextID      int64
	servers     map[int64]compute.ServerInfo
	serverNames map[int64]string
	keyNames    map[int64]string

	createdKeyNames []string
	snapshots   []compute.Snapshot
	deleted     []int64
	deletedKeys []int64

	// knobs
	neverActive   bool
	snapshotError error
	pollFails     bool
}

func newFakeCloud() *fakeCloud {
	return &fakeCloud{
		servers:     map[int64]compute.ServerInfo{},
		serverNames: map[int64]string{},
		keyNames:    map[int64]string{},
	}
}

func (f *fakeCloud) CreateServer(_ context.Context, spec compute.ServerSpec) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, name := range f.serverNames {
		if name == spec.Name {
			return 0, errs.PermanentError{Err: fmt.Errorf("server with name %v already exists (uniqueness_error)", spec.Name)}
		}
	}
	f.nextID++
	f.serverNames[f.nextID] = spec.Name
	status := compute.ServerStatusRunning
	ip := fmt.Sprintf("192.0.2.%d", f.nextID)
	if f.neverActive {
		status = "initializing"
		ip = ""
	}
	f.servers[f.nextID] = compute.ServerInfo{ID: f.nextID, Status: status, PublicIP: ip}
	return f.nextID, nil
}

func (f *fakeCloud) GetServer(_ context.Context, id int64) (compute.ServerInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	info, ok := f.servers[id]
	if !ok {
		return compute.ServerInfo{}, fmt.Errorf("server %d not found", id)
	}
	return info, nil
}

func (f *fakeCloud) DeleteServer(_ context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.servers, id)
	delete(f.serverNames, id)
	f.deleted = append(f.deleted, id)
	return nil
}

func (f *fakeCloud) PowerOff(_ context.Context, id int64) (int64, error) {
	return 100 + id, nil
}

func (f *fakeCloud) CreateSnapshot(_ context.Context, serverID int64, name string) (int64, error) {
	if f.snapshotError != nil {
		return 0, f.snapshotError
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	f.snapshots = append(f.snapshots, compute.Snapshot{ID: f.nextID, Name: name, Created: time.Now()})
	return 200 + serverID, nil
}

func (f *fakeCloud) ListSnapshots(context.Context) ([]compute.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]compute.Snapshot(nil), f.snapshots...), nil
}

func (f *fakeCloud) PollAction(context.Context, int64, time.Duration) bool {
	return !f.pollFails
}

func (f *fakeCloud) CreateSSHKey(_ context.Context, name, _ string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.keyNames {
		if existing == name {
			return 0, errs.PermanentError{Err: fmt.Errorf("ssh key with name %v already exists (uniqueness_error)", name)}
		}
	}
	f.nextID++
	f.keyNames[f.nextID] = name
	f.createdKeyNames = append(f.createdKeyNames, name)
	return f.nextID, nil
}

func (f *fakeCloud) DeleteSSHKey(_ context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.keyNames, id)
	f.deletedKeys = append(f.deletedKeys, id)
	return nil
}

// fakeExec answers every script with success unless told otherwise.
type fakeExec struct {
	mu        sync.Mutex
	scripts   []string
	results   map[string]remote.Result
	reachable bool
}

func newFakeExec() *fakeExec {
	return &fakeExec{results: map[string]remote.Result{}, reachable: true}
}

func (f *fakeExec) Exec(_ context.Context, _ string, _ remote.Credentials, script string, _ time.Duration) (remote.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scripts = append(f.scripts, script)
	if result, ok := f.results[script]; ok {
		return result, nil
	}
	return remote.Result{}, nil
}

func (f *fakeExec) Reachable(context.Context, string, remote.Credentials) bool {
	return f.reachable
}

// fakeRegistrar is a scripted dns.Registrar.
type fakeRegistrar struct {
	zones     map[string]string
	available map[string]bool
	upserts   []string
	requested []string
}

func newFakeRegistrar() *fakeRegistrar {
	return &fakeRegistrar{zones: map[string]string{}, available: map[string]bool{}}
}

func (f *fakeRegistrar) CheckAvailability(_ context.Context, domain string) (bool, error) {
	return f.available[domain], nil
}

func (f *fakeRegistrar) RequestDomain(_ context.Context, domain string) (string, error) {
	f.requested = append(f.requested, domain)
	return "op-" + domain, nil
}

func (f *fakeRegistrar) ZoneForDomain(_ context.Context, domain string) (string, error) {
	return f.zones[domain], nil
}

func (f *fakeRegistrar) UpsertARecords(_ context.Context, zoneID, domain, ip string) error {
	f.upserts = append(f.upserts, fmt.Sprintf("%v %v %v", zoneID, domain, ip))
	return nil
}

// fakeStore keeps blobs in a map, keyed as stored.
type fakeStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	deleted []string
}

func newFakeStore() *fakeStore {
	return &fakeStore{objects: map[string][]byte{}}
}

func (f *fakeStore) Put(_ context.Context, key string, data []byte) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[key] = data
	return "https://store.test/" + key, nil
}

func (f *fakeStore) Get(_ context.Context, key string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[key]
	if !ok {
		return nil, fmt.Errorf("object %v not found", key)
	}
	return data, nil
}

func (f *fakeStore) PresignGet(_ context.Context, key string, _ time.Duration) (string, error) {
	return "https://store.test/" + key + "?signed=1", nil
}

func (f *fakeStore) Delete(_ context.Context, url string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, url)
	return nil
}

// roundTripperFunc lets a test script the reachability probe without a live
// listener on the other end.
type roundTripperFunc func(*http.Request) (*http.Response, error)

func (f roundTripperFunc) RoundTrip(r *http.Request) (*http.Response, error) {
	return f(r)
}

func stubClient(status int) *http.Client {
	return &http.Client{Transport: roundTripperFunc(func(r *http.Request) (*http.Response, error) {
		return &http.Response{
			StatusCode: status,
			Status:     fmt.Sprintf("%d %s", status, http.StatusText(status)),
			Body:       io.NopCloser(strings.NewReader("")),
			Request:    r,
		}, nil
	})}
}

func unreachableClient() *http.Client {
	return &http.Client{Transport: roundTripperFunc(func(*http.Request) (*http.Response, error) {
		return nil, fmt.Errorf("connect: connection timed out")
	})}
}
