package commands

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/siteforge-ops/siteforge-backend/internal/application/dto"
	"github.com/siteforge-ops/siteforge-backend/internal/domain/consts"
	"github.com/siteforge-ops/siteforge-backend/internal/infra/bundle"
	"github.com/siteforge-ops/siteforge-backend/internal/infra/db"
	"github.com/stretchr/testify/require"
)

func Test_UploadBundle_When_Bytes_Given_Then_Stored_And_Status_Advances_To_DomainPending(t *testing.T) {
	sites := newFakeSites(db.Site{ID: 1, Status: consts.SiteStatusPending})
	activity := &fakeActivity{}
	store := newFakeStore()
	cmd := NewUploadBundle(sites, activity, bundle.NewFetcher(), store)

	resp, err := cmd.Execute(context.Background(), 1, testZip(t, "index.html", "style.css"), "")

	require.NoError(t, err)
	require.Equal(t, consts.SiteStatusDomainPending, resp.Status)
	require.NotZero(t, resp.BundleSize)
	site := sites.get(1)
	require.Equal(t, resp.BundleURL, site.BundleURL)
	require.Contains(t, activity.actions(), consts.ActionBundleUploaded)
	_, err = store.Get(context.Background(), "bundles/1/site.zip")
	require.NoError(t, err)
}

func Test_UploadBundle_When_Source_URL_Given_Then_Fetched_Then_Stored(t *testing.T) {
	archive := testZip(t, "index.html")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/zip")
		_, _ = w.Write(archive)
	}))
	defer srv.Close()

	sites := newFakeSites(db.Site{ID: 1, Status: consts.SiteStatusPending})
	store := newFakeStore()
	cmd := NewUploadBundle(sites, &fakeActivity{}, bundle.NewFetcherWithClient(srv.Client()), store)

	resp, err := cmd.Execute(context.Background(), 1, nil, srv.URL+"/site.zip")

	require.NoError(t, err)
	require.Equal(t, int64(len(archive)), resp.BundleSize)
	stored, err := store.Get(context.Background(), "bundles/1/site.zip")
	require.NoError(t, err)
	require.Equal(t, archive, stored)
}

func Test_UploadBundle_When_Replacing_Existing_Bundle_Then_Old_Blob_Deleted(t *testing.T) {
	sites := newFakeSites(db.Site{ID: 1, Status: consts.SiteStatusDomainPending, BundleURL: "https://store.test/bundles/1/site.zip"})
	store := newFakeStore()
	cmd := NewUploadBundle(sites, &fakeActivity{}, bundle.NewFetcher(), store)

	_, err := cmd.Execute(context.Background(), 1, testZip(t, "index.html"), "")

	require.NoError(t, err)
	require.Equal(t, []string{"https://store.test/bundles/1/site.zip"}, store.deleted)
}

func Test_UploadBundle_When_Archive_Is_Garbage_Then_Failed_With_Message_And_Nothing_Stored(t *testing.T) {
	sites := newFakeSites(db.Site{ID: 1, Status: consts.SiteStatusPending})
	store := newFakeStore()
	cmd := NewUploadBundle(sites, &fakeActivity{}, bundle.NewFetcher(), store)

	_, err := cmd.Execute(context.Background(), 1, []byte("not a zip"), "")

	require.Error(t, err)
	require.Equal(t, consts.SiteStatusFailed, sites.get(1).Status)
	require.Empty(t, store.objects)
}

func Test_CreateSite_Then_Pending_Record_And_Creation_Activity(t *testing.T) {
	sites := newFakeSites()
	activity := &fakeActivity{}
	cmd := NewCreateSite(sites, activity)

	resp, err := cmd.Execute(context.Background(), dto.CreateSiteRequest{Name: "spring-sale"})

	require.NoError(t, err)
	require.Equal(t, consts.SiteStatusPending, resp.Status)
	require.Equal(t, consts.SiteStatusPending, sites.get(resp.SiteID).Status)
	require.Equal(t, []string{consts.ActionSiteCreated}, activity.actions())
}
