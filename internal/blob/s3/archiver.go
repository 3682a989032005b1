package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/basisbot/internal/domain"
)

const (
	ndjson         = "application/x-ndjson"
	auditPageSize  = 1000
	auditPartBytes = 8 << 20
)

// Archiver uploads run reports and day-partitioned audit log exports.
type Archiver struct {
	writer domain.BlobWriter
	reader domain.BlobReader
	audit  domain.AuditStore
	prefix string
	logger *slog.Logger
}

// NewArchiver creates an Archiver. Keys are written under prefix.
func NewArchiver(writer domain.BlobWriter, reader domain.BlobReader, audit domain.AuditStore, prefix string, logger *slog.Logger) *Archiver {
	return &Archiver{
		writer: writer,
		reader: reader,
		audit:  audit,
		prefix: prefix,
		logger: logger.With(slog.String("component", "archiver")),
	}
}

// PutReport writes v as indented JSON to <prefix>reports/<name>.json and
// returns the key.
func (a *Archiver) PutReport(ctx context.Context, name string, v any) (string, error) {
	body, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", fmt.Errorf("s3blob: marshal report: %w", err)
	}
	key := a.prefix + "reports/" + name + ".json"
	if err := a.writer.Put(ctx, key, bytes.NewReader(body), "application/json"); err != nil {
		return "", err
	}
	return key, nil
}

// ArchiveAuditDay exports the audit entries of the UTC day containing day
// as JSONL. A day already archived is skipped. It returns the number of
// entries written.
func (a *Archiver) ArchiveAuditDay(ctx context.Context, day time.Time) (int, error) {
	start := day.UTC().Truncate(24 * time.Hour)
	end := start.Add(24*time.Hour - time.Nanosecond)
	key := auditKey(a.prefix, start)

	if a.reader != nil {
		exists, err := a.reader.Exists(ctx, key)
		if err != nil {
			return 0, err
		}
		if exists {
			return 0, nil
		}
	}

	var entries []domain.AuditEntry
	for offset := 0; ; offset += auditPageSize {
		page, err := a.audit.List(ctx, domain.ListOpts{Since: &start, Until: &end, Limit: auditPageSize, Offset: offset})
		if err != nil {
			return 0, fmt.Errorf("s3blob: audit query: %w", err)
		}
		entries = append(entries, page...)
		if len(page) < auditPageSize {
			break
		}
	}
	if len(entries) == 0 {
		return 0, nil
	}

	// List is newest first; archives read oldest first.
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
	body, err := marshalJSONL(entries)
	if err != nil {
		return 0, fmt.Errorf("s3blob: audit marshal: %w", err)
	}
	if err := a.writer.PutMultipart(ctx, key, bytes.NewReader(body), auditPartBytes); err != nil {
		return 0, err
	}
	if err := a.audit.Log(ctx, "archive.audit", map[string]any{
		"key":   key,
		"count": len(entries),
		"day":   start.Format(time.DateOnly),
	}); err != nil {
		a.logger.WarnContext(ctx, "archive audit entry not recorded", slog.String("error", err.Error()))
	}
	return len(entries), nil
}

// Run archives the previous UTC day once per interval.
func (a *Archiver) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			day := now.UTC().Add(-24 * time.Hour)
			n, err := a.ArchiveAuditDay(ctx, day)
			if err != nil {
				a.logger.ErrorContext(ctx, "audit archive failed", slog.String("error", err.Error()))
				continue
			}
			if n > 0 {
				a.logger.InfoContext(ctx, "audit archived", slog.Int("entries", n), slog.String("day", day.Format(time.DateOnly)))
			}
		}
	}
}

func auditKey(prefix string, day time.Time) string {
	return fmt.Sprintf("%saudit/%s.jsonl", prefix, day.Format(time.DateOnly))
}

type auditLine struct {
	ID        int64          `json:"id"`
	Event     string         `json:"event"`
	Detail    map[string]any `json:"detail,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

func marshalJSONL(entries []domain.AuditEntry) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	for _, e := range entries {
		if err := enc.Encode(auditLine{ID: e.ID, Event: e.Event, Detail: e.Detail, CreatedAt: e.CreatedAt}); err != nil {
			return nil, fmt.Errorf("jsonl entry %d: %w", e.ID, err)
		}
	}
	return buf.Bytes(), nil
}
