package pipeline

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPercentBounds(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		status    JobStatus
		processed int64
		total     int64
		want      int
	}{
		{name: "unknown total", status: JobStatusProcessing, processed: 10, total: 0, want: 0},
		{name: "floor", status: JobStatusProcessing, processed: 1, total: 3, want: 33},
		{name: "all rows but not completed", status: JobStatusProcessing, processed: 10, total: 10, want: 99},
		{name: "overshoot clamps", status: JobStatusFailed, processed: 20, total: 10, want: 99},
		{name: "completed", status: JobStatusCompleted, processed: 0, total: 0, want: 100},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tt.want, Percent(tt.status, tt.processed, tt.total))
		})
	}
}

func TestApplyLifecycle(t *testing.T) {
	t.Parallel()

	start := time.Unix(100, 0).UTC()
	job := NewJob("job-1", "products.csv", start)

	job, changed, err := Apply(job, Delta{
		Status: StatusPtr(JobStatusProcessing),
		Total:  Int64Ptr(10),
	}, start.Add(time.Second))
	require.NoError(t, err)
	require.True(t, changed)
	require.Equal(t, JobStatusProcessing, job.Status)
	require.Equal(t, int64(10), job.TotalRecords)

	job, _, err = Apply(job, Delta{Processed: Int64Ptr(5)}, start.Add(2*time.Second))
	require.NoError(t, err)
	require.Equal(t, 50, job.Progress)

	job, _, err = Apply(job, Delta{Processed: Int64Ptr(3)}, start.Add(3*time.Second))
	require.NoError(t, err)
	require.Equal(t, int64(5), job.ProcessedRecords, "processed must not decrease")

	job, _, err = Apply(job, Delta{
		Status:    StatusPtr(JobStatusCompleted),
		Processed: Int64Ptr(10),
		Message:   StringPtr("done"),
	}, start.Add(4*time.Second))
	require.NoError(t, err)
	require.Equal(t, 100, job.Progress)
	require.Equal(t, job.ProcessedRecords, job.TotalRecords)

	frozen, changed, err := Apply(job, Delta{
		Status:    StatusPtr(JobStatusFailed),
		Processed: Int64Ptr(99),
	}, start.Add(5*time.Second))
	require.NoError(t, err)
	require.False(t, changed)
	require.Equal(t, job, frozen)
}

func TestApplyRejectsBackwardsTransition(t *testing.T) {
	t.Parallel()

	job := NewJob("job-2", "", time.Unix(0, 0))
	_, _, err := Apply(job, Delta{Status: StatusPtr(JobStatusCompleted)}, time.Unix(1, 0))
	require.True(t, errors.Is(err, ErrInvalidTransition))

	job, _, err = Apply(job, Delta{Status: StatusPtr(JobStatusFailed), Message: StringPtr("boom")}, time.Unix(1, 0))
	require.NoError(t, err)
	require.Equal(t, JobStatusFailed, job.Status)
	require.Equal(t, 0, job.Progress)
}

func TestNormalizeSKU(t *testing.T) {
	t.Parallel()

	require.Equal(t, "abc-123", NormalizeSKU("  ABC-123 "))
}

func TestEventTypeValid(t *testing.T) {
	t.Parallel()

	require.True(t, EventImportCompleted.Valid())
	require.False(t, EventType("order.created").Valid())
}

func TestErrorTypesMatchSentinels(t *testing.T) {
	t.Parallel()

	input := error(NewInputError("Uploaded file is empty."))
	require.ErrorIs(t, input, ErrInvalidUpload)
	require.EqualError(t, input, "Uploaded file is empty.")

	cause := errors.New("connection reset")
	source := error(NewSourceError("CSV read failed", cause))
	require.ErrorIs(t, source, ErrInvalidSource)
	require.ErrorIs(t, source, cause)
	require.EqualError(t, source, "CSV read failed: connection reset")
	require.EqualError(t, NewSourceError("CSV file is missing a header row.", nil), "CSV file is missing a header row.")
}
