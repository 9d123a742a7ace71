package gateway

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/JakeFAU/catalog-importer/internal/pipeline"
)

// Event is the payload of one `progress` SSE message.
type Event struct {
	JobID            string             `json:"job_id"`
	Status           pipeline.JobStatus `json:"status"`
	Progress         int                `json:"progress"`
	ProcessedRecords int64              `json:"processed_records"`
	TotalRecords     int64              `json:"total_records"`
	Message          string             `json:"message,omitempty"`
}

// EventFromJob projects a job snapshot onto the wire payload.
func EventFromJob(job pipeline.Job) Event {
	return Event{
		JobID:            job.ID,
		Status:           job.Status,
		Progress:         job.Progress,
		ProcessedRecords: job.ProcessedRecords,
		TotalRecords:     job.TotalRecords,
		Message:          job.Message,
	}
}

// UnmarshalJSON accepts counters as JSON numbers or numeric strings, and the
// short aliases `processed` and `total`. Null and empty values decode as zero.
func (e *Event) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decode progress event: %w", err)
	}

	var out Event
	var err error
	str := func(keys ...string) string {
		for _, k := range keys {
			v, ok := raw[k]
			if !ok || isNull(v) {
				continue
			}
			var s string
			if uerr := json.Unmarshal(v, &s); uerr != nil && err == nil {
				err = fmt.Errorf("decode progress event: field %s: %w", k, uerr)
			}
			return s
		}
		return ""
	}
	num := func(keys ...string) int64 {
		for _, k := range keys {
			v, ok := raw[k]
			if !ok || isNull(v) {
				continue
			}
			n, nerr := flexInt(v)
			if nerr != nil && err == nil {
				err = fmt.Errorf("decode progress event: field %s: %w", k, nerr)
			}
			return n
		}
		return 0
	}

	out.JobID = str("job_id")
	out.Status = pipeline.JobStatus(str("status"))
	out.Message = str("message", "error_message")
	out.Progress = int(num("progress"))
	out.ProcessedRecords = num("processed_records", "processed")
	out.TotalRecords = num("total_records", "total")
	if err != nil {
		return err
	}
	*e = out
	return nil
}

func isNull(v json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(v), []byte("null"))
}

func flexInt(v json.RawMessage) (int64, error) {
	v = bytes.TrimSpace(v)
	if len(v) > 0 && v[0] == '"' {
		var s string
		if err := json.Unmarshal(v, &s); err != nil {
			return 0, err
		}
		v = []byte(strings.TrimSpace(s))
		if len(v) == 0 {
			return 0, nil
		}
	}
	if n, err := strconv.ParseInt(string(v), 10, 64); err == nil {
		return n, nil
	}
	f, err := strconv.ParseFloat(string(v), 64)
	if err != nil {
		return 0, fmt.Errorf("not a number: %s", v)
	}
	return int64(f), nil
}
