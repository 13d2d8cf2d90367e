package commands

import (
	"context"
	"testing"

	"github.com/siteforge-ops/siteforge-backend/internal/application/errs"
	"github.com/siteforge-ops/siteforge-backend/internal/application/tasks"
	"github.com/siteforge-ops/siteforge-backend/internal/domain/consts"
	"github.com/siteforge-ops/siteforge-backend/internal/infra/db"
	"github.com/siteforge-ops/siteforge-backend/internal/infra/remote"
	"github.com/siteforge-ops/siteforge-backend/internal/infra/vhost"
	"github.com/stretchr/testify/require"
)

func vhostReadyExec() *fakeExec {
	exec := newFakeExec()
	exec.results[`php -r 'echo PHP_MAJOR_VERSION.".".PHP_MINOR_VERSION;'`] = remote.Result{Stdout: "8.1"}
	exec.results["ls /run/php/php8.1-fpm.sock 2>/dev/null || ls /run/php/*.sock | head -n 1"] =
		remote.Result{Stdout: "/run/php/php8.1-fpm.sock"}
	return exec
}

func siteWithDomain(domain string) db.Site {
	serverID := int64(7)
	keyID := int64(8)
	return db.Site{
		ID:        1,
		Domain:    &domain,
		Status:    consts.SiteStatusDomainPending,
		ServerID:  &serverID,
		ServerIP:  "192.0.2.7",
		SSHUser:   "root",
		SSHKeyPEM: "key",
		SSHKeyID:  &keyID,
	}
}

func newConfigure(sites *fakeSites, activity *fakeActivity, registrar *fakeRegistrar, exec *fakeExec) *ConfigureDomain {
	cfg := testConfig()
	provisioner := NewServerProvisioner(cfg, sites, activity, activeImage(), newFakeCloud(), exec)
	return NewConfigureDomain(cfg, sites, activity, registrar, vhost.NewActivator(exec), provisioner)
}

func Test_ConfigureDomain_When_Zone_Managed_Then_Records_Upserted_And_Activity_Recorded(t *testing.T) {
	sites := newFakeSites(siteWithDomain("example.com"))
	activity := &fakeActivity{}
	registrar := newFakeRegistrar()
	registrar.zones["example.com"] = "Z123"

	err := newConfigure(sites, activity, registrar, vhostReadyExec()).Handle(context.Background(), tasks.ConfigureDomain{SiteID: 1})

	require.NoError(t, err)
	require.Equal(t, []string{"Z123 example.com 192.0.2.7"}, registrar.upserts)
	require.Contains(t, activity.actions(), consts.ActionVhostConfigured)
	require.Contains(t, activity.actions(), consts.ActionDNSConfigured)
	require.Contains(t, sites.get(1).StatusMessage, "DNS configured")
}

func Test_ConfigureDomain_When_Zone_Unmanaged_Then_Partial_Warning_Keeps_Vhost_Result(t *testing.T) {
	sites := newFakeSites(siteWithDomain("elsewhere.net"))
	activity := &fakeActivity{}

	err := newConfigure(sites, activity, newFakeRegistrar(), vhostReadyExec()).Handle(context.Background(), tasks.ConfigureDomain{SiteID: 1})

	require.Error(t, err)
	require.True(t, errs.IsPartial(err))
	site := sites.get(1)
	require.NotEqual(t, consts.SiteStatusFailed, site.Status)
	require.Contains(t, site.StatusMessage, "set A records")
	require.Contains(t, activity.actions(), consts.ActionVhostConfigured)
}

func Test_ConfigureDomain_When_No_Domain_Attached_Then_Validation_Error(t *testing.T) {
	site := siteWithDomain("example.com")
	site.Domain = nil
	sites := newFakeSites(site)

	err := newConfigure(sites, &fakeActivity{}, newFakeRegistrar(), vhostReadyExec()).Handle(context.Background(), tasks.ConfigureDomain{SiteID: 1})

	require.Error(t, err)
	require.True(t, errs.IsValidation(err))
}

func Test_ConfigureDomain_When_Vhost_Activation_Fails_Then_Site_Failed_With_Message(t *testing.T) {
	sites := newFakeSites(siteWithDomain("example.com"))
	exec := vhostReadyExec()
	exec.results["nginx -t"] = remote.Result{ExitCode: 1, Stderr: "broken config"}

	err := newConfigure(sites, &fakeActivity{}, newFakeRegistrar(), exec).Handle(context.Background(), tasks.ConfigureDomain{SiteID: 1})

	require.Error(t, err)
	site := sites.get(1)
	require.Equal(t, consts.SiteStatusFailed, site.Status)
	require.Contains(t, site.ErrorMessage, "example.com")
	// server assignment survives the failure for a resume
	require.NotNil(t, site.ServerID)
}
