package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/harborfund/vaultd/internal/domain"
)

// Archiver moves aged withdrawal and settlement history out of the primary
// store into S3 as JSONL. Each run uploads one object per record kind,
// partitioned by the cutoff year-month, and records the archival in the
// audit log.
//
// Deletion of the archived rows from the primary store is intentionally NOT
// performed here -- that is a separate, explicit step to be executed after
// the archive has been verified.
type Archiver struct {
	writer      domain.BlobWriter
	withdrawals domain.WithdrawalStore
	settlements domain.SettlementStore
	audit       domain.AuditStore
}

// NewArchiver creates a new Archiver.
func NewArchiver(
	writer domain.BlobWriter,
	withdrawals domain.WithdrawalStore,
	settlements domain.SettlementStore,
	audit domain.AuditStore,
) *Archiver {
	return &Archiver{
		writer:      writer,
		withdrawals: withdrawals,
		settlements: settlements,
		audit:       audit,
	}
}

// ArchiveWithdrawals queries all withdrawals before the cutoff, serializes
// them to JSONL, and uploads the file to S3 at
// archive/withdrawals/YYYY-MM.jsonl. The archival event is recorded in the
// audit log and the count of archived records is returned.
func (a *Archiver) ArchiveWithdrawals(ctx context.Context, before time.Time) (int64, error) {
	recs, err := a.withdrawals.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive withdrawals query: %w", err)
	}
	if len(recs) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(recs)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive withdrawals marshal: %w", err)
	}

	path := archivePath("withdrawals", before)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive withdrawals upload: %w", err)
	}

	count := int64(len(recs))

	if err := a.audit.Log(ctx, "archive.withdrawals", map[string]any{
		"path":   path,
		"count":  count,
		"before": before.Format(time.RFC3339),
	}); err != nil {
		return count, fmt.Errorf("s3blob: archive withdrawals audit log: %w", err)
	}

	return count, nil
}

// ArchiveSettlements queries all settlements before the cutoff, serializes
// them to JSONL, and uploads the file to S3 at
// archive/settlements/YYYY-MM.jsonl. The archival event is recorded in the
// audit log and the count of archived records is returned.
func (a *Archiver) ArchiveSettlements(ctx context.Context, before time.Time) (int64, error) {
	recs, err := a.settlements.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive settlements query: %w", err)
	}
	if len(recs) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(recs)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive settlements marshal: %w", err)
	}

	path := archivePath("settlements", before)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive settlements upload: %w", err)
	}

	count := int64(len(recs))

	if err := a.audit.Log(ctx, "archive.settlements", map[string]any{
		"path":   path,
		"count":  count,
		"before": before.Format(time.RFC3339),
	}); err != nil {
		return count, fmt.Errorf("s3blob: archive settlements audit log: %w", err)
	}

	return count, nil
}

// ---------------------------------------------------------------------------
// helpers
// ---------------------------------------------------------------------------

// archivePath builds the S3 key for an archive file, partitioned by the
// year-month of the cutoff time.
//
//	archive/withdrawals/2025-01.jsonl
//	archive/settlements/2025-01.jsonl
func archivePath(kind string, before time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, before.Format("2006-01"))
}

// marshalJSONL serialises a slice of values as newline-delimited JSON (JSONL).
// Each element is marshalled as a single compact JSON line followed by '\n'.
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
