package commands

import (
	"context"
	"testing"

	"github.com/siteforge-ops/siteforge-backend/internal/application/errs"
	"github.com/siteforge-ops/siteforge-backend/internal/domain/consts"
	"github.com/siteforge-ops/siteforge-backend/internal/infra/db"
	"github.com/stretchr/testify/require"
)

func activeImage() *fakeImages {
	images := &fakeImages{}
	_ = images.Activate(context.Background(), db.ImageVersion{ID: 1, SnapshotID: 777, Name: "golden-test"})
	return images
}

func Test_EnsureServer_When_No_Golden_Image_Exists_Then_Validation_Error_And_No_Server_Created(t *testing.T) {
	sites := newFakeSites(db.Site{ID: 1, Status: consts.SiteStatusDomainPending})
	cloud := newFakeCloud()
	p := NewServerProvisioner(testConfig(), sites, &fakeActivity{}, &fakeImages{}, cloud, newFakeExec())

	_, err := p.EnsureServer(context.Background(), sites.get(1))

	require.Error(t, err)
	require.True(t, errs.IsValidation(err))
	require.Empty(t, cloud.servers)
}

func Test_EnsureServer_When_Server_Becomes_Active_Then_Record_Carries_Server_And_Key(t *testing.T) {
	sites := newFakeSites(db.Site{ID: 1, Status: consts.SiteStatusDomainPending})
	activity := &fakeActivity{}
	p := NewServerProvisioner(testConfig(), sites, activity, activeImage(), newFakeCloud(), newFakeExec())

	site, err := p.EnsureServer(context.Background(), sites.get(1))

	require.NoError(t, err)
	require.NotNil(t, site.ServerID)
	require.NotEmpty(t, site.ServerIP)
	require.NotEmpty(t, site.SSHKeyPEM)
	persisted := sites.get(1)
	require.Equal(t, *site.ServerID, *persisted.ServerID)
	require.Contains(t, activity.actions(), consts.ActionServerCreated)
}

func Test_EnsureServer_When_Server_Never_Becomes_Active_Then_Timeout_Error_Within_Bound(t *testing.T) {
	sites := newFakeSites(db.Site{ID: 1, Status: consts.SiteStatusDomainPending})
	cloud := newFakeCloud()
	cloud.neverActive = true
	p := NewServerProvisioner(testConfig(), sites, &fakeActivity{}, activeImage(), cloud, newFakeExec())

	_, err := p.EnsureServer(context.Background(), sites.get(1))

	require.Error(t, err)
	require.True(t, errs.IsTimeout(err))
	require.Contains(t, err.Error(), "becoming active")
	// the stuck server and its key must not orphan in the provider account
	require.Len(t, cloud.deleted, 1)
	require.Len(t, cloud.deletedKeys, 1)
	require.Empty(t, cloud.servers)
}

func Test_EnsureServer_When_Retried_After_Activation_Timeout_Then_Second_Attempt_Succeeds(t *testing.T) {
	sites := newFakeSites(db.Site{ID: 1, Status: consts.SiteStatusDomainPending})
	cloud := newFakeCloud()
	cloud.neverActive = true
	p := NewServerProvisioner(testConfig(), sites, &fakeActivity{}, activeImage(), cloud, newFakeExec())

	_, err := p.EnsureServer(context.Background(), sites.get(1))
	require.True(t, errs.IsTimeout(err))

	cloud.neverActive = false
	site, err := p.EnsureServer(context.Background(), sites.get(1))

	// the provider enforces unique resource names, so this only passes when
	// the retry does not reuse the first attempt's names
	require.NoError(t, err)
	require.NotNil(t, site.ServerID)
	require.NotNil(t, sites.get(1).ServerID)
	require.Len(t, cloud.createdKeyNames, 2)
	require.NotEqual(t, cloud.createdKeyNames[0], cloud.createdKeyNames[1])
}

func Test_EnsureServer_When_SSH_Never_Answers_Then_Timeout_Error_After_Server_Persisted(t *testing.T) {
	sites := newFakeSites(db.Site{ID: 1, Status: consts.SiteStatusDomainPending})
	exec := newFakeExec()
	exec.reachable = false
	p := NewServerProvisioner(testConfig(), sites, &fakeActivity{}, activeImage(), newFakeCloud(), exec)

	_, err := p.EnsureServer(context.Background(), sites.get(1))

	require.Error(t, err)
	require.True(t, errs.IsTimeout(err))
	// the server exists and must remain on the record for a retry
	require.NotNil(t, sites.get(1).ServerID)
}

func Test_EnsureServer_When_Server_Already_Assigned_Then_No_Cloud_Calls(t *testing.T) {
	serverID := int64(42)
	sites := newFakeSites(db.Site{ID: 1, ServerID: &serverID, ServerIP: "192.0.2.42"})
	cloud := newFakeCloud()
	p := NewServerProvisioner(testConfig(), sites, &fakeActivity{}, activeImage(), cloud, newFakeExec())

	site, err := p.EnsureServer(context.Background(), sites.get(1))

	require.NoError(t, err)
	require.Equal(t, serverID, *site.ServerID)
	require.Empty(t, cloud.servers)
}
