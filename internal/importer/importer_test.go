package importer

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/catalog-importer/internal/pipeline"
	"github.com/JakeFAU/catalog-importer/internal/storage/memory"
)

const tenRowsTwoBad = `Name,SKU,Description
Widget,W-1,Blue widget
Gadget,G-1,
,X-1,no name
Sprocket,S-1,Steel
Bolt,B-1,M6
Nut,,no sku
Washer,WA-1,
Screw,SC-1,Wood
Nail,N-1,
Rivet,R-1,Pop
`

func TestImportTolerantSkipsBadRows(t *testing.T) {
	t.Parallel()

	catalog := memory.NewCatalog()
	notifier := &recordingNotifier{}
	rep := &recordingReporter{}
	imp := New(Config{BatchSize: 3}, catalog, notifier, nil)

	res, err := imp.Import(context.Background(), strings.NewReader(tenRowsTwoBad), rep)
	require.NoError(t, err)
	require.Equal(t, int64(10), res.Processed)
	require.Equal(t, int64(2), res.RowErrors)
	require.Equal(t, int64(8), res.Created)
	require.Equal(t, 8, catalog.Len())
	require.Equal(t, []string{
		"row 3: " + msgMissingFields,
		"row 6: " + msgMissingFields,
	}, rep.lines)
	require.Equal(t, int64(10), rep.lastProcessed())
	require.Len(t, notifier.byType(pipeline.EventProductCreated), 8)

	widget, ok := catalog.Product("w-1")
	require.True(t, ok)
	require.Equal(t, "Blue widget", *widget.Description)
	gadget, ok := catalog.Product("g-1")
	require.True(t, ok)
	require.Nil(t, gadget.Description)
}

func TestImportStrictFailsOnFirstBadRow(t *testing.T) {
	t.Parallel()

	catalog := memory.NewCatalog()
	imp := New(Config{BatchSize: 100, Strict: true}, catalog, nil, nil)

	res, err := imp.Import(context.Background(), strings.NewReader(tenRowsTwoBad), &recordingReporter{})
	require.ErrorIs(t, err, pipeline.ErrInvalidSource)
	var rowErr *RowError
	require.ErrorAs(t, err, &rowErr)
	require.Equal(t, int64(3), rowErr.Row)
	require.Equal(t, int64(1), res.RowErrors)
	require.Zero(t, catalog.Len(), "pending batch must not be flushed")
}

func TestImportDeduplicatesWithinBatch(t *testing.T) {
	t.Parallel()

	catalog := memory.NewCatalog()
	notifier := &recordingNotifier{}
	imp := New(Config{BatchSize: 10}, catalog, notifier, nil)
	src := "sku,name,description\nA-1,First,\na-1 ,Second,\nB-2,Other,\n"

	res, err := imp.Import(context.Background(), strings.NewReader(src), nil)
	require.NoError(t, err)
	require.Equal(t, int64(3), res.Processed)
	require.Equal(t, int64(2), res.Created)
	product, ok := catalog.Product("a-1")
	require.True(t, ok)
	require.Equal(t, "Second", product.Name)
	require.Equal(t, "a-1", product.SKU)
}

func TestImportReportsUpdatesOnReimport(t *testing.T) {
	t.Parallel()

	catalog := memory.NewCatalog()
	notifier := &recordingNotifier{}
	imp := New(Config{}, catalog, notifier, nil)
	src := "name,sku,description\nWidget,W-1,\n"

	_, err := imp.Import(context.Background(), strings.NewReader(src), nil)
	require.NoError(t, err)
	res, err := imp.Import(context.Background(), strings.NewReader(src), nil)
	require.NoError(t, err)
	require.Equal(t, int64(1), res.Updated)
	require.Len(t, notifier.byType(pipeline.EventProductUpdated), 1)
}

func TestImportParseErrorIsRowError(t *testing.T) {
	t.Parallel()

	imp := New(Config{}, memory.NewCatalog(), nil, nil)
	rep := &recordingReporter{}
	src := "name,sku,description\nWidget,W-1,\"unterminated\"x\nGadget,G-1,ok\n"

	res, err := imp.Import(context.Background(), strings.NewReader(src), rep)
	require.NoError(t, err)
	require.Equal(t, int64(1), res.RowErrors)
	require.Equal(t, int64(2), res.Processed)
	require.Len(t, rep.lines, 1)
	require.True(t, strings.HasPrefix(rep.lines[0], "row 1: "))
}

func TestImportStructuralFailures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		src     io.Reader
		sinkErr error
		want    string
	}{
		{name: "empty", src: strings.NewReader(""), want: "CSV file is missing a header row."},
		{name: "missing columns", src: strings.NewReader("name,price\n"), want: "CSV missing required columns: sku, description"},
		{name: "unreadable", src: &failingReader{data: "name,sku,description\nA,A-1,\n"}, want: "CSV read failed: disk gone"},
		{name: "sink fault", src: strings.NewReader("name,sku,description\nA,A-1,\n"), sinkErr: errors.New("db down"), want: "catalog upsert failed: db down"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			catalog := memory.NewCatalog()
			catalog.FailWith(tt.sinkErr)
			_, err := New(Config{}, catalog, nil, nil).Import(context.Background(), tt.src, nil)
			require.ErrorIs(t, err, pipeline.ErrInvalidSource)
			require.EqualError(t, err, tt.want)
		})
	}
}

func TestImportStopsOnCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New(Config{}, memory.NewCatalog(), nil, nil).
		Import(ctx, strings.NewReader("name,sku,description\nA,A-1,\n"), nil)
	require.ErrorIs(t, err, context.Canceled)
}

type recordingReporter struct {
	mu        sync.Mutex
	lines     []string
	processed []int64
}

func (r *recordingReporter) Advance(_ context.Context, processed, _ int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.processed = append(r.processed, processed)
}

func (r *recordingReporter) Log(line string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lines = append(r.lines, line)
}

func (r *recordingReporter) lastProcessed() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.processed) == 0 {
		return 0
	}
	return r.processed[len(r.processed)-1]
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []pipeline.Event
}

func (n *recordingNotifier) Notify(evt pipeline.Event) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, evt)
}

func (n *recordingNotifier) byType(t pipeline.EventType) []pipeline.Event {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []pipeline.Event
	for _, evt := range n.events {
		if evt.Type == t {
			out = append(out, evt)
		}
	}
	return out
}

// failingReader returns data and then a non-EOF error.
type failingReader struct {
	data string
	read bool
}

func (f *failingReader) Read(p []byte) (int, error) {
	if f.read {
		return 0, errors.New("disk gone")
	}
	f.read = true
	return copy(p, f.data), nil
}
