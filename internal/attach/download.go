package attach

import (
	"context"
	"fmt"
	"mime"
	"net/url"
	"path"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/jonathan/job-autofill/internal/dom"
	"github.com/jonathan/job-autofill/internal/fetch"
	"github.com/jonathan/job-autofill/internal/types"
)

// proxyPath is the job board endpoint that streams a stored document to an
// authenticated caller.
const proxyPath = "/api/extension/documents/proxy"

// Downloader turns a document entry into a file ready for an upload input.
type Downloader interface {
	Download(ctx context.Context, entry types.DocumentEntry) (dom.File, error)
}

// HTTPDownloader fetches documents directly, or through the job board's
// authenticated proxy when the document lives on the board's own domain.
type HTTPDownloader struct {
	// BaseURL is the job board API origin. Documents on this host, or a
	// subdomain of it, are requested through the proxy with Token.
	BaseURL string
	Token   string
	Options *fetch.Options
}

// NewHTTPDownloader creates a downloader for the given job board.
func NewHTTPDownloader(baseURL, token string) *HTTPDownloader {
	return &HTTPDownloader{
		BaseURL: strings.TrimSuffix(baseURL, "/"),
		Token:   token,
		Options: fetch.DefaultOptions(),
	}
}

// Download fetches entry and names the file. The MIME type is guessed from the
// file extension, falling back to sniffing the content.
func (d *HTTPDownloader) Download(ctx context.Context, entry types.DocumentEntry) (dom.File, error) {
	target, opts := entry.URL, d.options()
	if d.proxied(entry.URL) {
		target = d.BaseURL + proxyPath + "?url=" + url.QueryEscape(entry.URL)
		headers := make(map[string]string, len(opts.Headers)+1)
		for k, v := range opts.Headers {
			headers[k] = v
		}
		headers["Authorization"] = "Bearer " + d.Token
		opts.Headers = headers
	}

	res, err := fetch.Get(ctx, target, opts)
	if err != nil {
		return dom.File{}, err
	}
	if len(res.Body) == 0 {
		return dom.File{}, fmt.Errorf("document %s is empty", entry.URL)
	}

	name := entry.FileName
	if name == "" {
		name = res.FileName
	}
	return NewFile(name, entry.Type, res.Body), nil
}

// options returns a copy so per-request headers never leak between downloads.
func (d *HTTPDownloader) options() *fetch.Options {
	if d.Options == nil {
		return fetch.DefaultOptions()
	}
	o := *d.Options
	return &o
}

func (d *HTTPDownloader) proxied(raw string) bool {
	if d.BaseURL == "" || d.Token == "" {
		return false
	}
	board, err := url.Parse(d.BaseURL)
	if err != nil || board.Hostname() == "" {
		return false
	}
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	host, boardHost := strings.ToLower(u.Hostname()), strings.ToLower(board.Hostname())
	return host == boardHost || strings.HasSuffix(host, "."+boardHost)
}

// NewFile wraps data as an upload. A name without an extension gets one from
// the sniffed type, and an empty name falls back to the document type.
func NewFile(name, docType string, data []byte) dom.File {
	mt := mime.TypeByExtension(strings.ToLower(path.Ext(name)))
	if mt == "" {
		detected := mimetype.Detect(data)
		mt = detected.String()
		if path.Ext(name) == "" {
			if name == "" {
				name = docType
			}
			name += detected.Extension()
		}
	}
	if name == "" {
		name = docType
	}
	return dom.File{Name: name, MIMEType: mt, Data: data}
}
