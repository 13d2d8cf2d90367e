package dns

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/siteforge-ops/siteforge-backend/internal/application/errs"
)

var domainRe = regexp.MustCompile(`^([a-z0-9]([a-z0-9-]*[a-z0-9])?\.)+[a-z]{2,}$`)

// CleanDomain reduces operator input to the bare registrable domain:
// "http://www.Example.com/some/path" becomes "example.com".
func CleanDomain(raw string) (string, error) {
	domain := strings.TrimSpace(strings.ToLower(raw))
	for _, scheme := range []string{"https://", "http://", "//"} {
		domain = strings.TrimPrefix(domain, scheme)
	}
	if idx := strings.IndexAny(domain, "/?#"); idx >= 0 {
		domain = domain[:idx]
	}
	if idx := strings.Index(domain, ":"); idx >= 0 {
		domain = domain[:idx]
	}
	domain = strings.TrimPrefix(domain, "www.")
	domain = strings.TrimSuffix(domain, ".")
	if !domainRe.MatchString(domain) {
		return "", errs.ValidationError{Msg: fmt.Sprintf("%q is not a valid domain name", raw)}
	}
	return domain, nil
}
