package compute

import (
	"errors"

	"github.com/hetznercloud/hcloud-go/v2/hcloud"
	"github.com/siteforge-ops/siteforge-backend/internal/application/errs"
)

// classify separates provider rejections (surfaced immediately, never
// retried) from network-level failures the caller may retry.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var apiErr hcloud.Error
	if errors.As(err, &apiErr) {
		if isRetryableCode(apiErr.Code) {
			return errs.TransientError{Err: err}
		}
		return errs.PermanentError{Err: err}
	}
	// No structured API error means the request never got a verdict.
	return errs.TransientError{Err: err}
}

func isRetryableCode(code hcloud.ErrorCode) bool {
	switch code {
	case hcloud.ErrorCodeRateLimitExceeded,
		hcloud.ErrorCodeConflict,
		hcloud.ErrorCodeLocked,
		hcloud.ErrorCodeResourceLocked,
		hcloud.ErrorCodeResourceUnavailable:
		return true
	}
	return false
}
