package importer

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-importer/internal/pipeline"
	"github.com/JakeFAU/catalog-importer/internal/progress"
)

const defaultBatchSize = 1000

const msgMissingFields = "Each row must include non-empty 'name' and 'sku' values."

// Config tunes the importer.
//   - BatchSize: unique rows per catalog upsert (default 1000).
//   - Strict: fail the job on the first bad row instead of skipping it.
type Config struct {
	BatchSize int
	Strict    bool
}

// Result summarizes one import run.
type Result struct {
	Processed int64
	RowErrors int64
	Created   int64
	Updated   int64
}

// RowError is a tolerated failure on a single data row. Row is 1-based and
// excludes the header.
type RowError struct {
	Row int64
	Msg string
	Err error
}

func (e *RowError) Error() string {
	return fmt.Sprintf("row %d: %s", e.Row, e.Msg)
}

func (e *RowError) Unwrap() error { return e.Err }

// Importer reads product rows and upserts them into a CatalogSink.
type Importer struct {
	cfg      Config
	sink     pipeline.CatalogSink
	notifier pipeline.Notifier
	logger   *zap.Logger
}

// New constructs an Importer. notifier may be nil.
func New(cfg Config, sink pipeline.CatalogSink, notifier pipeline.Notifier, logger *zap.Logger) *Importer {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Importer{cfg: cfg, sink: sink, notifier: notifier, logger: logger}
}

// Import consumes src to the end. Row errors are reported through rep and do
// not stop the run unless Strict is set. Any returned error matches
// pipeline.ErrInvalidSource except context cancellation.
func (i *Importer) Import(ctx context.Context, src io.Reader, rep progress.Reporter) (Result, error) {
	run := &run{imp: i, rep: rep, index: make(map[string]int)}
	reader := newReader(src)
	header, err := reader.Read()
	if err != nil {
		return run.res, headerOrReadError(err)
	}
	cols, err := resolveColumns(header)
	if err != nil {
		return run.res, pipeline.NewSourceError(err.Error(), nil)
	}

	for {
		if err := ctx.Err(); err != nil {
			return run.res, fmt.Errorf("import interrupted: %w", err)
		}
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		run.rowNum++
		if err != nil {
			var parseErr *csv.ParseError
			if !errors.As(err, &parseErr) {
				return run.res, pipeline.NewSourceError("CSV read failed", err)
			}
			if rowErr := run.reject(ctx, parseErr.Err.Error(), parseErr); rowErr != nil {
				return run.res, rowErr
			}
			continue
		}
		name := field(record, cols.name)
		sku := field(record, cols.sku)
		if name == "" || sku == "" {
			if rowErr := run.reject(ctx, msgMissingFields, nil); rowErr != nil {
				return run.res, rowErr
			}
			continue
		}
		row := pipeline.ProductInput{
			Name:          name,
			SKU:           sku,
			SKUNormalized: pipeline.NormalizeSKU(sku),
			Active:        true,
		}
		if desc := field(record, cols.description); desc != "" {
			row.Description = &desc
		}
		run.add(row)
		if len(run.batch) >= i.cfg.BatchSize {
			if err := run.flush(ctx); err != nil {
				return run.res, err
			}
		}
	}
	if err := run.flush(ctx); err != nil {
		return run.res, err
	}
	return run.res, nil
}

type run struct {
	imp     *Importer
	rep     progress.Reporter
	res     Result
	rowNum  int64
	batch   []pipeline.ProductInput
	index   map[string]int
	pending int64
}

// reject records a row error; in strict mode it returns the fatal error.
func (r *run) reject(ctx context.Context, msg string, cause error) error {
	rowErr := &RowError{Row: r.rowNum, Msg: msg, Err: cause}
	r.res.Processed++
	r.res.RowErrors++
	if r.rep != nil {
		r.rep.Log(rowErr.Error())
		r.rep.Advance(ctx, r.res.Processed, r.res.RowErrors)
	}
	if r.imp.cfg.Strict {
		return pipeline.NewSourceError("Import aborted on invalid row", rowErr)
	}
	return nil
}

// add appends row to the batch; a repeated SKU replaces the earlier row.
func (r *run) add(row pipeline.ProductInput) {
	r.pending++
	if idx, ok := r.index[row.SKUNormalized]; ok {
		r.batch[idx] = row
		return
	}
	r.index[row.SKUNormalized] = len(r.batch)
	r.batch = append(r.batch, row)
}

func (r *run) flush(ctx context.Context) error {
	if len(r.batch) == 0 {
		return nil
	}
	results, err := r.imp.sink.UpsertProducts(ctx, r.batch)
	if err != nil {
		return pipeline.NewSourceError("catalog upsert failed", err)
	}
	for _, res := range results {
		evt := pipeline.Event{Type: pipeline.EventProductUpdated, Payload: res.Product}
		if res.Created {
			evt.Type = pipeline.EventProductCreated
			r.res.Created++
		} else {
			r.res.Updated++
		}
		if r.imp.notifier != nil {
			r.imp.notifier.Notify(evt)
		}
	}
	r.res.Processed += r.pending
	r.imp.logger.Debug("batch upserted",
		zap.Int("unique_rows", len(r.batch)),
		zap.Int64("raw_rows", r.pending),
		zap.Int64("processed", r.res.Processed))
	r.batch = r.batch[:0]
	clear(r.index)
	r.pending = 0
	if r.rep != nil {
		r.rep.Advance(ctx, r.res.Processed, r.res.RowErrors)
	}
	return nil
}
