package consts

type SiteStatus string

const SiteStatusPending SiteStatus = "Pending"
const SiteStatusUploading SiteStatus = "Uploading"
const SiteStatusDomainPending SiteStatus = "DomainPending"
const SiteStatusDomainPurchased SiteStatus = "DomainPurchased"
const SiteStatusDNSConfiguring SiteStatus = "DNSConfiguring"
const SiteStatusFilesUploaded SiteStatus = "FilesUploaded"
const SiteStatusDeploying SiteStatus = "Deploying"
const SiteStatusLive SiteStatus = "Live"
const SiteStatusFailed SiteStatus = "Failed"

type TaskType string

const (
	TaskDeploySite      TaskType = "DeploySite"
	TaskConfigureDomain TaskType = "ConfigureDomain"
	TaskBakeImage       TaskType = "BakeImage"
	TaskDeleteSite      TaskType = "DeleteSite"
)

type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "Pending"
	TaskStatusRunning   TaskStatus = "Running"
	TaskStatusSucceeded TaskStatus = "Succeeded"
	TaskStatusFailed    TaskStatus = "Failed"
	TaskStatusCancelled TaskStatus = "Cancelled"
)

// Activity action tags, one per orchestrator step.
const (
	ActionSiteCreated     = "site.created"
	ActionBundleUploaded  = "bundle.uploaded"
	ActionDomainSet       = "domain.set"
	ActionDomainPurchased = "domain.purchased"
	ActionDNSConfigured   = "dns.configured"
	ActionVhostConfigured = "vhost.configured"
	ActionServerCreated   = "server.created"
	ActionFilesDeployed   = "files.deployed"
	ActionSiteLive        = "site.live"
	ActionSiteFailed      = "site.failed"
	ActionSiteDeleted     = "site.deleted"
	ActionImageBaked      = "image.baked"
)
