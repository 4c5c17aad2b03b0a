// Package attach uploads profile documents into the file inputs of an
// application form.
package attach

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/jonathan/job-autofill/internal/dom"
	"github.com/jonathan/job-autofill/internal/fetch"
	"github.com/jonathan/job-autofill/internal/patterns"
	"github.com/jonathan/job-autofill/internal/settings"
	"github.com/jonathan/job-autofill/internal/types"
)

// DownloadConcurrency bounds the parallel document downloads of one run.
const DownloadConcurrency = 3

// Lookup resolves descriptor indexes to live elements; *scanner.Snapshot implements it.
type Lookup interface {
	Element(index int) (dom.Element, bool)
}

// Attacher matches file fields to profile documents and attaches them.
type Attacher struct {
	downloader Downloader
	doc        dom.Document
	platform   fetch.Platform
	settings   settings.Settings
	now        func() time.Time
	logger     zerolog.Logger
}

// Option configures an Attacher.
type Option func(*Attacher)

// WithDocument sets the page searched for drop zones.
func WithDocument(doc dom.Document) Option {
	return func(a *Attacher) { a.doc = doc }
}

// WithPlatform selects platform-specific drop-zone selectors.
func WithPlatform(p fetch.Platform) Option {
	return func(a *Attacher) { a.platform = p }
}

// WithSettings sets the auto-attach switches.
func WithSettings(s settings.Settings) Option {
	return func(a *Attacher) { a.settings = s }
}

// WithNow sets the time used to ignore expired documents.
func WithNow(now func() time.Time) Option {
	return func(a *Attacher) { a.now = now }
}

// WithLogger sets the attacher's logger.
func WithLogger(l zerolog.Logger) Option {
	return func(a *Attacher) { a.logger = l }
}

// New creates an attacher that downloads through d.
func New(d Downloader, opts ...Option) *Attacher {
	a := &Attacher{
		downloader: d,
		platform:   fetch.PlatformUnknown,
		settings:   settings.Defaults(),
		now:        time.Now,
		logger:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.logger = a.logger.With().Str("component", "attach").Logger()
	return a
}

// plan is the work for one file field.
type plan struct {
	field  types.MappedField
	detail types.AttachDetail
	entry  *types.DocumentEntry
	file   dom.File
	err    error
}

// AttachDocuments attaches a document to every file field. Downloads run in
// parallel up front; attachment is strictly sequential in field order. Every
// field gets exactly one detail.
func (a *Attacher) AttachDocuments(ctx context.Context, lookup Lookup, fileFields []types.MappedField, documents []types.DocumentEntry) *types.DocumentAttachResult {
	result := &types.DocumentAttachResult{Details: make([]types.AttachDetail, 0, len(fileFields))}

	plans := make([]*plan, 0, len(fileFields))
	for _, f := range fileFields {
		docType := f.DocumentType
		if docType == "" {
			docType = patterns.DefaultDocumentType
		}
		p := &plan{field: f, detail: types.AttachDetail{
			FieldIndex:   f.Index(),
			FieldLabel:   f.Descriptor.Identifier(),
			DocumentType: docType,
		}}
		plans = append(plans, p)

		if !a.enabled(docType) {
			p.detail.Status, p.detail.Error = types.AttachSkipped, "auto-attach disabled for "+docType
			continue
		}
		entry, err := a.findDocument(documents, docType)
		if err != nil {
			p.detail.Status, p.detail.Error = types.AttachNoDocument, err.Error()
			continue
		}
		p.entry = entry
		p.detail.FileName = entry.FileName
	}

	a.download(ctx, plans)

	for _, p := range plans {
		if p.detail.Status == "" {
			a.attach(ctx, lookup, p)
		}
		result.Record(p.detail)
		a.logger.Debug().
			Int("field", p.detail.FieldIndex).
			Str("document_type", p.detail.DocumentType).
			Str("status", string(p.detail.Status)).
			Str("error", p.detail.Error).
			Msg("document processed")
	}

	a.logger.Info().
		Int("total", result.Total).
		Int("attached", result.Attached).
		Int("failed", result.Failed).
		Int("skipped", result.Skipped).
		Msg("document attach complete")
	return result
}

func (a *Attacher) enabled(docType string) bool {
	if patterns.CanonicalDocumentType(docType) == patterns.DefaultDocumentType {
		return a.settings.AutoAttachResume
	}
	return a.settings.AutoAttachOtherDocs
}

// findDocument picks the entry for docType: exact type first, then the alias
// table, then an entry whose label names the type. Expired entries are ignored.
func (a *Attacher) findDocument(documents []types.DocumentEntry, docType string) (*types.DocumentEntry, error) {
	now := a.now()
	var expired bool
	tiers := []func(types.DocumentEntry) bool{
		func(d types.DocumentEntry) bool { return d.Type == docType },
		func(d types.DocumentEntry) bool { return patterns.DocumentTypeMatches(d.Type, docType) },
		func(d types.DocumentEntry) bool { return labelNames(d, docType) },
	}
	for _, match := range tiers {
		for i := range documents {
			if !match(documents[i]) {
				continue
			}
			if documents[i].Expired(now) {
				expired = true
				continue
			}
			return &documents[i], nil
		}
	}
	if expired {
		return nil, fmt.Errorf("%s on file has expired", docType)
	}
	return nil, fmt.Errorf("no %s in profile", docType)
}

// labelNames reports whether an entry's label or file name explicitly names docType.
func labelNames(d types.DocumentEntry, docType string) bool {
	want := patterns.CanonicalDocumentType(docType)
	text := patterns.Normalize(d.Label + " " + d.FileName)
	for _, t := range patterns.DocumentTypes() {
		if t.Type == want {
			return t.Label.MatchString(text)
		}
	}
	return false
}

// download fetches every planned document, at most DownloadConcurrency at a
// time. A failed download only affects its own field.
func (a *Attacher) download(ctx context.Context, plans []*plan) {
	var g errgroup.Group
	g.SetLimit(DownloadConcurrency)
	for _, p := range plans {
		if p.entry == nil {
			continue
		}
		g.Go(func() error {
			p.file, p.err = a.downloader.Download(ctx, *p.entry)
			if p.err != nil {
				a.logger.Warn().Err(p.err).Str("url", p.entry.URL).Msg("document download failed")
			}
			return nil
		})
	}
	_ = g.Wait()
}

func (a *Attacher) attach(ctx context.Context, lookup Lookup, p *plan) {
	d := &p.detail
	if p.err != nil {
		d.Status, d.Error = types.AttachDownloadFailed, p.err.Error()
		return
	}
	d.FileName = p.file.Name

	el, ok := lookup.Element(p.field.Index())
	if !ok {
		d.Status, d.Error = types.AttachFailed, "file input no longer present"
		return
	}
	method, err := a.attachFile(ctx, el, p.file)
	if err != nil {
		d.Status, d.Error = types.AttachFailed, err.Error()
		return
	}
	d.Status, d.Method = types.AttachAttached, method
}

// attachFile assigns file through a DataTransfer and, when the input does not
// reflect it, drops it on the nearest drop zone around the input.
func (a *Attacher) attachFile(ctx context.Context, el dom.Element, file dom.File) (types.AttachMethod, error) {
	files := []dom.File{file}
	if err := el.SetFiles(ctx, files); err != nil {
		return "", fmt.Errorf("assign files: %w", err)
	}
	n, err := el.FileCount(ctx)
	if err != nil {
		return "", fmt.Errorf("read files: %w", err)
	}
	if n > 0 {
		return types.AttachViaDataTransfer, nil
	}

	zone, err := a.dropZone(ctx, el)
	if err != nil {
		return "", err
	}
	if err := zone.DropFiles(ctx, files); err != nil {
		return "", fmt.Errorf("drop files: %w", err)
	}
	return types.AttachViaDropZone, nil
}

var errNoDropZone = errors.New("input ignored the file and no drop zone was found")

// dropZone returns the closest ancestor of el matching a drop-zone selector.
func (a *Attacher) dropZone(ctx context.Context, el dom.Element) (dom.Element, error) {
	if a.doc == nil {
		return nil, errNoDropZone
	}
	zones := make(map[string]dom.Element)
	for _, sel := range fetch.DropZoneSelectors(a.platform) {
		found, err := a.doc.QueryAll(ctx, sel)
		if err != nil {
			return nil, fmt.Errorf("query %s: %w", sel, err)
		}
		for _, z := range found {
			zones[z.Key()] = z
		}
	}
	for cur := el.Parent(); cur != nil; cur = cur.Parent() {
		if z, ok := zones[cur.Key()]; ok {
			return z, nil
		}
	}
	return nil, errNoDropZone
}
