package fetch

import (
	"context"
	"io"
	"net/http"
	"net/url"
)

// DefaultMaxRedirects bounds ResolveApplyURL when the caller passes zero.
const DefaultMaxRedirects = 10

// Resolution is the outcome of following an apply link's redirect chain.
type Resolution struct {
	InputURL      string
	ResolvedURL   string
	WasRedirected bool
	HopsFollowed  int
	// LimitReached is set when the chain was cut off at maxRedirects.
	LimitReached bool
	StatusCode   int
}

// ResolveApplyURL follows 3xx responses one hop at a time until a non-redirect
// response, a redirect without a Location header, or maxRedirects hops.
func ResolveApplyURL(ctx context.Context, rawURL string, maxRedirects int) (*Resolution, error) {
	return ResolveApplyURLWith(ctx, rawURL, maxRedirects, nil)
}

// ResolveApplyURLWith is ResolveApplyURL using opts for timeout and headers.
func ResolveApplyURLWith(ctx context.Context, rawURL string, maxRedirects int, opts *Options) (*Resolution, error) {
	if opts == nil {
		opts = DefaultOptions()
	}
	if maxRedirects <= 0 {
		maxRedirects = DefaultMaxRedirects
	}

	current, err := parseAbsolute(rawURL)
	if err != nil {
		return nil, err
	}

	client := &http.Client{
		Timeout: opts.Timeout,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

	res := &Resolution{InputURL: rawURL, ResolvedURL: rawURL}
	for {
		status, location, err := hop(ctx, client, current.String(), opts)
		if err != nil {
			return nil, err
		}
		res.StatusCode = status

		if !isRedirect(status) || location == "" {
			return res, nil
		}
		if res.HopsFollowed >= maxRedirects {
			res.LimitReached = true
			return res, nil
		}

		next, err := current.Parse(location)
		if err != nil {
			return nil, &Error{URL: current.String(), Message: "invalid Location header", Cause: err}
		}
		current = next
		res.HopsFollowed++
		res.WasRedirected = true
		res.ResolvedURL = current.String()
	}
}

func hop(ctx context.Context, client *http.Client, target string, opts *Options) (int, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return 0, "", &Error{URL: target, Message: "failed to create request", Cause: err}
	}
	setHeaders(req, opts)

	resp, err := client.Do(req)
	if err != nil {
		return 0, "", &Error{URL: target, Message: "HTTP request failed", Cause: err}
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	return resp.StatusCode, resp.Header.Get("Location"), nil
}

func isRedirect(status int) bool {
	switch status {
	case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther,
		http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
		return true
	}
	return false
}

func parseAbsolute(rawURL string) (*url.URL, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, &Error{URL: rawURL, Message: "invalid URL", Cause: err}
	}
	return parsed, nil
}
