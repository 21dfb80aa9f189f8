package report

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/hireworks/jobsift/internal/jobs"
)

const defaultContentType = "application/json; charset=utf-8"

// WriterConfig controls where report artifacts land.
type WriterConfig struct {
	Prefix      string
	ContentType string
}

// Writer marshals reports, content-hashes them, and stores them via the
// blob store.
type Writer struct {
	blob   jobs.BlobStore
	hasher jobs.Hasher
	cfg    WriterConfig
}

// NewWriter builds a Writer.
func NewWriter(blob jobs.BlobStore, hasher jobs.Hasher, cfg WriterConfig) *Writer {
	if cfg.ContentType == "" {
		cfg.ContentType = defaultContentType
	}
	return &Writer{blob: blob, hasher: hasher, cfg: cfg}
}

// Write persists the report and returns its URI and content hash. The path
// embeds the hash so re-writing an identical report is a harmless
// overwrite.
func (w *Writer) Write(ctx context.Context, rpt Report) (string, string, error) {
	if w.blob == nil {
		return "", "", fmt.Errorf("blob store is not configured")
	}
	data, err := json.MarshalIndent(rpt, "", "  ")
	if err != nil {
		return "", "", fmt.Errorf("marshal report: %w", err)
	}
	hash, err := w.hasher.Hash(data)
	if err != nil {
		return "", "", fmt.Errorf("hash report: %w", err)
	}
	uri, err := w.blob.PutObject(ctx, w.buildPath(rpt.RunID, hash), w.cfg.ContentType, data)
	if err != nil {
		return "", "", fmt.Errorf("store report: %w", err)
	}
	return uri, hash, nil
}

func (w *Writer) buildPath(runID, hash string) string {
	prefix := strings.Trim(w.cfg.Prefix, "/")
	if prefix == "" {
		return fmt.Sprintf("%s/%s.json", runID, hash)
	}
	return fmt.Sprintf("%s/%s/%s.json", prefix, runID, hash)
}
