package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/wallbot/internal/domain"
)

const (
	contentTypeJSONL = "application/x-ndjson"
	defaultPageSize  = 50000
)

// TickArchiver implements domain.Archiver. It pages recorded ticks older
// than the cutoff out of the tick store as JSONL objects, uploads them, and
// deletes exactly what was uploaded.
type TickArchiver struct {
	writer   domain.BlobWriter
	ticks    domain.TickStore
	audit    domain.AuditStore
	pageSize int
	logger   *slog.Logger
}

// NewTickArchiver creates a TickArchiver. pageSize <= 0 uses 50000 rows per
// object.
func NewTickArchiver(writer domain.BlobWriter, ticks domain.TickStore, audit domain.AuditStore, pageSize int, logger *slog.Logger) *TickArchiver {
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	return &TickArchiver{
		writer:   writer,
		ticks:    ticks,
		audit:    audit,
		pageSize: pageSize,
		logger:   logger.With(slog.String("component", "tick_archiver")),
	}
}

// ArchiveTicks moves every tick recorded before the cutoff to object storage
// and returns the number archived. A failed upload leaves the page in the
// database for the next run.
func (a *TickArchiver) ArchiveTicks(ctx context.Context, before time.Time) (int64, error) {
	var total int64
	for part := 0; ; part++ {
		page, err := a.ticks.ListTicksBefore(ctx, before, a.pageSize)
		if err != nil {
			return total, fmt.Errorf("s3blob: archive ticks query: %w", err)
		}
		if len(page) == 0 {
			break
		}

		// A full page may stop midway through a timestamp. Only rows strictly
		// older than the last one are guaranteed complete.
		cutoff := before
		last := len(page) < a.pageSize
		if !last {
			cutoff = page[len(page)-1].ReceivedAt
			page = olderThan(page, cutoff)
			if len(page) == 0 {
				return total, fmt.Errorf("s3blob: archive ticks: more than %d rows share %s", a.pageSize, cutoff.Format(time.RFC3339Nano))
			}
		}

		buf, err := marshalJSONL(page)
		if err != nil {
			return total, fmt.Errorf("s3blob: archive ticks marshal: %w", err)
		}
		p := archivePath("ticks", page[0].ReceivedAt, part)
		if int64(len(buf)) > minPartSize {
			err = a.writer.PutMultipart(ctx, p, bytes.NewReader(buf), minPartSize)
		} else {
			err = a.writer.Put(ctx, p, bytes.NewReader(buf), contentTypeJSONL)
		}
		if err != nil {
			return total, fmt.Errorf("s3blob: archive ticks upload: %w", err)
		}

		deleted, err := a.ticks.DeleteTicksBefore(ctx, cutoff)
		if err != nil {
			return total, fmt.Errorf("s3blob: archive ticks delete: %w", err)
		}
		total += int64(len(page))

		a.logger.InfoContext(ctx, "ticks archived",
			slog.String("path", p),
			slog.Int("rows", len(page)),
			slog.Int64("deleted", deleted),
		)
		if err := a.audit.Log(ctx, "archive.ticks", map[string]any{
			"path":   p,
			"count":  len(page),
			"before": cutoff.Format(time.RFC3339Nano),
		}); err != nil {
			a.logger.WarnContext(ctx, "audit log failed", slog.String("error", err.Error()))
		}

		if last {
			break
		}
	}
	return total, nil
}

// olderThan returns the prefix of ticks (sorted by receive time) strictly
// before t.
func olderThan(ticks []domain.TradeEvent, t time.Time) []domain.TradeEvent {
	for i, tk := range ticks {
		if !tk.ReceivedAt.Before(t) {
			return ticks[:i]
		}
	}
	return ticks
}

// archivePath partitions objects by day of the oldest row:
//
//	archive/ticks/2025-01-31/20250131T000000.000Z-0.jsonl
func archivePath(kind string, first time.Time, part int) string {
	first = first.UTC()
	return fmt.Sprintf("archive/%s/%s/%s-%d.jsonl",
		kind, first.Format("2006-01-02"), first.Format("20060102T150405.000Z"), part)
}

// tickRecord is the archived JSON shape of one tick.
type tickRecord struct {
	Time         time.Time `json:"time"`
	ExchTime     time.Time `json:"exch_time"`
	Symbol       string    `json:"symbol"`
	TradeID      string    `json:"trade_id,omitempty"`
	Price        float64   `json:"price"`
	Volume       float64   `json:"volume"`
	Side         string    `json:"side,omitempty"`
	IsBuyerMaker bool      `json:"is_buyer_maker"`
}

func marshalJSONL(ticks []domain.TradeEvent) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, t := range ticks {
		rec := tickRecord{
			Time:         t.ReceivedAt.UTC(),
			ExchTime:     t.Timestamp.UTC(),
			Symbol:       t.Symbol,
			TradeID:      t.TradeID,
			Price:        t.Price,
			Volume:       t.Volume,
			Side:         string(t.Side),
			IsBuyerMaker: t.IsBuyerMaker,
		}
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

// Compile-time interface check.
var _ domain.Archiver = (*TickArchiver)(nil)
