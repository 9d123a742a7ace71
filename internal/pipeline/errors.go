package pipeline

// InputError is an upload rejected before a job exists. Detail is safe to
// show to the caller verbatim.
type InputError struct {
	Detail string
}

// NewInputError builds an InputError with detail.
func NewInputError(detail string) *InputError {
	return &InputError{Detail: detail}
}

func (e *InputError) Error() string { return e.Detail }

// Is matches ErrInvalidUpload.
func (e *InputError) Is(target error) bool { return target == ErrInvalidUpload }

// SourceError is a structural failure while consuming a record source. Its
// message becomes the failed job's message.
type SourceError struct {
	Detail string
	Err    error
}

// NewSourceError builds a SourceError; err may be nil.
func NewSourceError(detail string, err error) *SourceError {
	return &SourceError{Detail: detail, Err: err}
}

func (e *SourceError) Error() string {
	if e.Err == nil {
		return e.Detail
	}
	return e.Detail + ": " + e.Err.Error()
}

func (e *SourceError) Unwrap() error { return e.Err }

// Is matches ErrInvalidSource.
func (e *SourceError) Is(target error) bool { return target == ErrInvalidSource }
