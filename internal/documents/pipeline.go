// Package documents downloads case documents, archives them and prunes
// old local copies.
package documents

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"time"

	"github.com/JustJay7/court-lead-harvester/internal/config"
	"github.com/JustJay7/court-lead-harvester/internal/database"
	"github.com/JustJay7/court-lead-harvester/internal/scraper"
	"github.com/JustJay7/court-lead-harvester/pkg/logger"
	"github.com/go-resty/resty/v2"
)

// DocumentStore is the document bookkeeping of the case store
type DocumentStore interface {
	PendingDownloads(ctx context.Context, limit int) ([]database.CaseDocument, error)
	MarkDownloaded(ctx context.Context, id uint, path string) error
	PendingArchive(ctx context.Context, limit int) ([]database.CaseDocument, error)
	MarkArchived(ctx context.Context, id uint, key string) error
	StaleLocalFiles(ctx context.Context, cutoff time.Time) ([]database.CaseDocument, error)
	ClearLocalFile(ctx context.Context, id uint) error
}

// Result counts what one pipeline pass did
type Result struct {
	Downloaded int `json:"downloaded"`
	Archived   int `json:"archived"`
	Removed    int `json:"removed"`
	Failed     int `json:"failed"`
}

// Pipeline moves documents from their court URL to local disk and then to
// archive storage. A failed document is logged and retried on the next pass.
type Pipeline struct {
	docs    DocumentStore
	storage Storage
	client  *resty.Client
	dir     string
	maxAge  int
	logger  *logger.Logger
	now     func() time.Time
}

func NewPipeline(cfg *config.Config, docs DocumentStore, storage Storage, log *logger.Logger) (*Pipeline, error) {
	opts := scraper.HTTPOptionsFromConfig(cfg, "")
	opts.Timeout = 60 * time.Second
	client, err := scraper.NewHTTPClient(opts)
	if err != nil {
		return nil, err
	}
	return &Pipeline{
		docs:    docs,
		storage: storage,
		client:  client,
		dir:     cfg.DocumentsDir,
		maxAge:  cfg.DocumentMaxAge,
		logger:  log,
		now:     time.Now,
	}, nil
}

// Run downloads, archives and cleans up in that order
func (p *Pipeline) Run(ctx context.Context, limit int) (Result, error) {
	var total Result
	for _, step := range []func(context.Context, int) (Result, error){
		p.DownloadPending,
		p.ArchivePending,
		func(ctx context.Context, _ int) (Result, error) { return p.CleanupLocal(ctx) },
	} {
		res, err := step(ctx, limit)
		total.Downloaded += res.Downloaded
		total.Archived += res.Archived
		total.Removed += res.Removed
		total.Failed += res.Failed
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// DownloadPending fetches documents that only have a source URL
func (p *Pipeline) DownloadPending(ctx context.Context, limit int) (Result, error) {
	var res Result
	docs, err := p.docs.PendingDownloads(ctx, limit)
	if err != nil {
		return res, err
	}
	p.logger.Info("Found documents to download", "count", len(docs))

	for _, doc := range docs {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		fullPath, size, err := p.download(ctx, doc)
		if err != nil {
			p.logger.Error("Failed to download document", "document_id", doc.ID, "case_id", doc.CaseID, "error", err)
			res.Failed++
			continue
		}
		if err := p.docs.MarkDownloaded(ctx, doc.ID, fullPath); err != nil {
			return res, err
		}
		res.Downloaded++
		p.logger.Info("Document downloaded", "document_id", doc.ID, "size", size, "path", fullPath)
	}
	return res, nil
}

func (p *Pipeline) download(ctx context.Context, doc database.CaseDocument) (string, int64, error) {
	dir := filepath.Join(p.dir, safeName(doc.CaseID))
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", 0, fmt.Errorf("failed to create directory: %w", err)
	}
	fullPath := filepath.Join(dir, fileNameFor(doc))

	resp, err := p.client.R().
		SetContext(ctx).
		SetDoNotParseResponse(true).
		Get(doc.Source)
	if err != nil {
		return "", 0, fmt.Errorf("failed to download: %w", err)
	}
	body := resp.RawBody()
	defer body.Close()

	if resp.StatusCode() != http.StatusOK {
		return "", 0, fmt.Errorf("bad status: %s", resp.Status())
	}

	file, err := os.Create(fullPath)
	if err != nil {
		return "", 0, fmt.Errorf("failed to create file: %w", err)
	}
	size, err := io.Copy(file, body)
	if cerr := file.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(fullPath)
		return "", 0, fmt.Errorf("failed to save file: %w", err)
	}
	return fullPath, size, nil
}

// ArchivePending uploads downloaded documents to storage
func (p *Pipeline) ArchivePending(ctx context.Context, limit int) (Result, error) {
	var res Result
	docs, err := p.docs.PendingArchive(ctx, limit)
	if err != nil {
		return res, err
	}

	for _, doc := range docs {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		key := storageKey(doc.CaseID, doc.FilePath)
		if err := p.archive(ctx, doc.FilePath, key); err != nil {
			p.logger.Error("Failed to archive document", "document_id", doc.ID, "storage", p.storage.Name(), "error", err)
			res.Failed++
			continue
		}
		if err := p.docs.MarkArchived(ctx, doc.ID, key); err != nil {
			return res, err
		}
		res.Archived++
	}
	if res.Archived > 0 {
		p.logger.Info("Documents archived", "count", res.Archived, "storage", p.storage.Name())
	}
	return res, nil
}

func (p *Pipeline) archive(ctx context.Context, filePath, key string) error {
	f, err := os.Open(filePath)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}
	return p.storage.Put(ctx, key, f, info.Size())
}

// CleanupLocal removes local copies of archived documents older than the
// configured age
func (p *Pipeline) CleanupLocal(ctx context.Context) (Result, error) {
	var res Result
	if p.maxAge <= 0 {
		return res, nil
	}
	cutoff := p.now().AddDate(0, 0, -p.maxAge)

	docs, err := p.docs.StaleLocalFiles(ctx, cutoff)
	if err != nil {
		return res, err
	}
	for _, doc := range docs {
		if err := os.Remove(doc.FilePath); err != nil && !errors.Is(err, os.ErrNotExist) {
			p.logger.Warn("Failed to remove document", "path", doc.FilePath, "error", err)
			res.Failed++
			continue
		}
		if err := p.docs.ClearLocalFile(ctx, doc.ID); err != nil {
			return res, err
		}
		res.Removed++
		p.logger.Debug("Removed local document", "document_id", doc.ID)
	}
	return res, nil
}

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

func safeName(s string) string {
	return unsafeChars.ReplaceAllString(s, "_")
}

// fileNameFor keeps the file name of the source URL when it has one
func fileNameFor(doc database.CaseDocument) string {
	name := ""
	if u, err := url.Parse(doc.Source); err == nil {
		name = safeName(path.Base(u.Path))
	}
	if name == "" || name == "." || name == "_" {
		name = "document.pdf"
	}
	return fmt.Sprintf("%d_%s", doc.ID, name)
}
