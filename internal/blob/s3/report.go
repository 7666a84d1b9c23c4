package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/alanyoungcy/freightquote/internal/domain"
)

// ReportArchiver uploads bulk calculation reports as JSONL and records each
// upload in the audit log.
type ReportArchiver struct {
	writer domain.BlobWriter
	audit  domain.AuditStore
	prefix string
}

// NewReportArchiver creates a ReportArchiver. audit may be nil.
func NewReportArchiver(writer domain.BlobWriter, audit domain.AuditStore, prefix string) *ReportArchiver {
	if prefix == "" {
		prefix = "reports"
	}
	return &ReportArchiver{writer: writer, audit: audit, prefix: prefix}
}

// ArchiveReport writes records under kind, partitioned by the day of at, and
// returns the object path. Empty reports are not uploaded.
func ArchiveReport[T any](ctx context.Context, a *ReportArchiver, kind string, at time.Time, records []T) (string, error) {
	if len(records) == 0 {
		return "", nil
	}
	data, err := marshalJSONL(records)
	if err != nil {
		return "", fmt.Errorf("s3blob: archive %s: %w", kind, err)
	}

	path := reportPath(a.prefix, kind, at)
	if err := a.writer.Put(ctx, path, bytes.NewReader(data), "application/x-ndjson"); err != nil {
		return "", fmt.Errorf("s3blob: archive %s: %w", kind, err)
	}

	if a.audit != nil {
		_ = a.audit.Log(ctx, "report_archived", map[string]any{
			"kind":    kind,
			"path":    path,
			"records": len(records),
			"bytes":   len(data),
		})
	}
	return path, nil
}

// reportPath builds the object key for a report:
//
//	reports/bulk/2026-10-15/143005.jsonl
func reportPath(prefix, kind string, at time.Time) string {
	at = at.UTC()
	return fmt.Sprintf("%s/%s/%s/%s.jsonl", prefix, kind, at.Format("2006-01-02"), at.Format("150405"))
}

func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}
