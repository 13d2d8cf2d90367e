package application

import (
	"github.com/siteforge-ops/siteforge-backend/internal/application/commands"
	"github.com/siteforge-ops/siteforge-backend/internal/application/query"
)

type Collection struct {
	*commands.CreateSite
	*commands.UploadBundle
	*commands.SetDomain
	*commands.ConfigureDomain
	*commands.DeploySite
	*commands.BakeImage
	*commands.DeleteSite
	*commands.EnqueueTask
	*query.GetSite
	*query.CheckDomain
	*query.SearchDomain
	*query.CheckPropagation
	*query.GetActivity
	*query.GetTask
}
