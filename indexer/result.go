package indexer

import "fmt"

const (
	StatusOK        = "ok"
	StatusSkipped   = "skipped"
	StatusInvalid   = "invalid"
	StatusContended = "contended"
	StatusNotFound  = "not_found"
	StatusFailed    = "failed"
	StatusRetrying  = "retrying"
	StatusExhausted = "exhausted"
)

// Result is the reported outcome of a job. Input errors and contention are
// results, not errors: nothing upstream retries them.
type Result struct {
	status string
	msg    string
	err    error
}

func result(status string, format string, args ...interface{}) Result {
	return Result{status: status, msg: fmt.Sprintf(format, args...)}
}

func failed(err error, format string, args ...interface{}) Result {
	return Result{
		status: StatusFailed,
		msg:    fmt.Sprintf(format, args...) + " error: " + err.Error(),
		err:    err,
	}
}

func (r Result) Status() string {
	return r.status
}

func (r Result) String() string {
	return r.msg
}

// Err is the collaborator error behind a failed result.
func (r Result) Err() error {
	return r.err
}
