package dto

import "github.com/siteforge-ops/siteforge-backend/internal/domain/consts"

type CreateSiteRequest struct {
	Name string `json:"name"`
}

type CreateSiteResponse struct {
	SiteID        uint64            `json:"siteId"`
	Status        consts.SiteStatus `json:"status"`
	StatusMessage string            `json:"statusMessage"`
}

type UploadBundleRequest struct {
	URL string `json:"url"`
}

type UploadBundleResponse struct {
	SiteID        uint64            `json:"siteId"`
	BundleURL     string            `json:"bundleUrl"`
	BundleSize    int64             `json:"bundleSize"`
	Status        consts.SiteStatus `json:"status"`
	StatusMessage string            `json:"statusMessage"`
}

type SetDomainRequest struct {
	Domain           string `json:"domain"`
	Purchase         bool   `json:"purchase"`
	ConfirmManualDNS bool   `json:"confirmManualDns"`
}

type SetDomainResponse struct {
	SiteID uint64 `json:"siteId"`
	Domain string `json:"domain,omitempty"`
	// RequiresConfirmation signals the domain is not in the managed account;
	// the caller must repeat the request with confirmManualDns to proceed.
	RequiresConfirmation bool              `json:"requiresConfirmation,omitempty"`
	ManagedDNS           bool              `json:"managedDns"`
	Status               consts.SiteStatus `json:"status,omitempty"`
	StatusMessage        string            `json:"statusMessage,omitempty"`
}

type SearchDomainResponse struct {
	Domain  string            `json:"domain"`
	Results []DomainCandidate `json:"results"`
}

type DomainCandidate struct {
	Domain    string `json:"domain"`
	Available bool   `json:"available"`
}

type GetSiteResponse struct {
	SiteID        uint64            `json:"siteId"`
	Domain        string            `json:"domain,omitempty"`
	Status        consts.SiteStatus `json:"status"`
	StatusMessage string            `json:"statusMessage"`
	ErrorMessage  string            `json:"errorMessage,omitempty"`
	ServerIP      string            `json:"serverIp,omitempty"`
	BundleURL     string            `json:"bundleUrl,omitempty"`
	BundleSize    int64             `json:"bundleSize,omitempty"`
	Reachability  string            `json:"reachability"`
}

type PropagationResponse struct {
	SiteID     uint64 `json:"siteId"`
	Domain     string `json:"domain"`
	Propagated bool   `json:"propagated"`
	Detail     string `json:"detail"`
}

type TaskResponse struct {
	TaskID       string            `json:"taskId"`
	Type         consts.TaskType   `json:"type"`
	SiteID       *uint64           `json:"siteId,omitempty"`
	Status       consts.TaskStatus `json:"status"`
	ErrorMessage string            `json:"errorMessage,omitempty"`
	CreatedAt    string            `json:"createdAt"`
	FinishedAt   string            `json:"finishedAt,omitempty"`
}

type ActivityEntry struct {
	Action    string `json:"action"`
	Detail    string `json:"detail"`
	CreatedAt string `json:"createdAt"`
}

type ActivityResponse struct {
	SiteID uint64          `json:"siteId"`
	Events []ActivityEntry `json:"events"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}
