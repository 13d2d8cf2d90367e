// Package bundle acquires site archives, either uploaded directly or pulled
// from a cloud-drive share link, and inspects them before deployment.
package bundle

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/siteforge-ops/siteforge-backend/internal/application/errs"
)

// Interstitial markers. Drive hosts answer some requests with an HTML page
// instead of the payload; status codes alone don't tell the cases apart.
const (
	markerAccessDenied = "you can't view or download this file"
	markerNotFound     = "File not found"
	markerVirusScan    = "Virus scan warning"
)

var (
	shareLinkRe    = regexp.MustCompile(`/file/d/([0-9A-Za-z_-]+)`)
	confirmTokenRe = regexp.MustCompile(`confirm=([0-9A-Za-z_-]+)`)
	hiddenInputRe  = regexp.MustCompile(`<input type="hidden" name="([^"]+)" value="([^"]*)">`)
	formActionRe   = regexp.MustCompile(`<form[^>]*action="([^"]+)"`)
)

type Fetcher struct {
	client *http.Client
}

func NewFetcher() *Fetcher {
	return &Fetcher{client: &http.Client{Timeout: 2 * time.Minute}}
}

// NewFetcherWithClient is used by tests to point at a stub host.
func NewFetcherWithClient(client *http.Client) *Fetcher {
	return &Fetcher{client: client}
}

// Fetch downloads the archive behind a direct or share link. When the host
// answers with an interstitial HTML page embedding a confirmation token, the
// token is followed exactly once and the final payload returned unmodified.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	directURL, err := DirectURL(rawURL)
	if err != nil {
		return nil, err
	}

	body, isHTML, err := f.get(ctx, directURL)
	if err != nil {
		return nil, err
	}
	if !isHTML {
		return body, nil
	}

	confirmURL, err := confirmationURL(directURL, string(body))
	if err != nil {
		return nil, err
	}

	body, isHTML, err = f.get(ctx, confirmURL)
	if err != nil {
		return nil, err
	}
	if isHTML {
		return nil, errs.PermanentError{Err: fmt.Errorf("source kept answering with an interstitial page for %v", rawURL)}
	}
	return body, nil
}

func (f *Fetcher) get(ctx context.Context, target string) (body []byte, isHTML bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, false, errs.ValidationError{Msg: fmt.Sprintf("bad bundle url %v: %v", target, err)}
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, false, errs.TransientError{Err: fmt.Errorf("fetching bundle: %w", err)}
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err = io.ReadAll(resp.Body)
	if err != nil {
		return nil, false, errs.TransientError{Err: fmt.Errorf("reading bundle body: %w", err)}
	}
	if resp.StatusCode >= 500 {
		return nil, false, errs.TransientError{Err: fmt.Errorf("source answered %v", resp.Status)}
	}

	isHTML = strings.Contains(resp.Header.Get("Content-Type"), "text/html")
	return body, isHTML, nil
}

// confirmationURL classifies an interstitial page and extracts the follow-up
// request for the oversized-needs-confirmation case.
func confirmationURL(requested, page string) (string, error) {
	switch {
	case strings.Contains(page, markerAccessDenied):
		return "", errs.PermanentError{Err: fmt.Errorf("source denies access to the file, check the share settings")}
	case strings.Contains(page, markerNotFound):
		return "", errs.PermanentError{Err: fmt.Errorf("source reports the file does not exist")}
	}

	// Newer interstitials carry the whole follow-up request as a form.
	if action := formActionRe.FindStringSubmatch(page); action != nil {
		followUp, err := url.Parse(action[1])
		if err == nil {
			query := followUp.Query()
			for _, input := range hiddenInputRe.FindAllStringSubmatch(page, -1) {
				query.Set(input[1], input[2])
			}
			if query.Get("confirm") != "" || strings.Contains(page, markerVirusScan) {
				followUp.RawQuery = query.Encode()
				return followUp.String(), nil
			}
		}
	}

	// Older ones inline a confirm token next to the original link.
	if token := confirmTokenRe.FindStringSubmatch(page); token != nil {
		parsed, err := url.Parse(requested)
		if err != nil {
			return "", errs.ValidationError{Msg: fmt.Sprintf("bad bundle url %v: %v", requested, err)}
		}
		query := parsed.Query()
		query.Set("confirm", token[1])
		parsed.RawQuery = query.Encode()
		return parsed.String(), nil
	}

	return "", errs.PermanentError{Err: fmt.Errorf("source answered with an unrecognized interstitial page")}
}

// DirectURL converts a share link into its direct-download form. Plain URLs
// pass through untouched.
func DirectURL(rawURL string) (string, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return "", errs.ValidationError{Msg: fmt.Sprintf("bundle url %q is not a valid absolute url", rawURL)}
	}
	if match := shareLinkRe.FindStringSubmatch(parsed.Path); match != nil {
		direct := *parsed
		direct.Path = "/uc"
		direct.RawQuery = url.Values{"export": {"download"}, "id": {match[1]}}.Encode()
		return direct.String(), nil
	}
	return rawURL, nil
}
