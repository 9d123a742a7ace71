package redis

import (
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/catalog-importer/internal/pipeline"
)

func TestJobHashRoundTrip(t *testing.T) {
	t.Parallel()

	created := time.Date(2024, 5, 1, 12, 0, 0, 123456789, time.UTC)
	job := pipeline.Job{
		ID:               "0b6f4bd4-0f69-4d7f-9b55-7f5c4b1d2a10",
		Status:           pipeline.JobStatusProcessing,
		Filename:         "products.csv",
		TotalRecords:     500000,
		ProcessedRecords: 1200,
		RowErrors:        3,
		Progress:         0,
		Message:          "Processing 1200 of 500000 records",
		CreatedAt:        created,
		UpdatedAt:        created.Add(time.Second),
	}

	fields := map[string]string{}
	for k, v := range encodeJob(job) {
		switch val := v.(type) {
		case string:
			fields[k] = val
		case int64:
			fields[k] = strconv.FormatInt(val, 10)
		case int:
			fields[k] = strconv.Itoa(val)
		default:
			t.Fatalf("unexpected field type %T for %s", v, k)
		}
	}

	got, err := decodeJob(fields)
	require.NoError(t, err)
	assert.Equal(t, job, got)
}

func TestDecodeJobRejectsCorruptFields(t *testing.T) {
	t.Parallel()

	_, err := decodeJob(map[string]string{"id": "x", "status": "exploded"})
	require.ErrorContains(t, err, "unknown status")

	_, err = decodeJob(map[string]string{"id": "x", "status": "accepted", "total_records": "many"})
	require.ErrorContains(t, err, "total_records")

	_, err = decodeJob(map[string]string{"id": "x", "status": "accepted", "created_at": "yesterday"})
	require.ErrorContains(t, err, "created_at")
}

func TestDecodeJobToleratesMissingCounters(t *testing.T) {
	t.Parallel()

	got, err := decodeJob(map[string]string{"id": "x", "status": "accepted"})
	require.NoError(t, err)
	assert.Equal(t, int64(0), got.TotalRecords)
	assert.True(t, got.CreatedAt.IsZero())
}
