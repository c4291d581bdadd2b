package redash

import "fmt"

// ConfigError indicates the client is missing required configuration,
// such as the API key. It is returned before any network call is made.
type ConfigError struct {
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("redash config error: %s", e.Message)
}

// SubmitError indicates that creating the query job failed.
type SubmitError struct {
	StatusCode int
	Message    string
	Cause      error
}

func (e *SubmitError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("redash submit failed: %s: %v", e.Message, e.Cause)
	}
	return fmt.Sprintf("redash submit failed: %s", e.Message)
}

func (e *SubmitError) Unwrap() error {
	return e.Cause
}

// PollError indicates a poll request itself failed at the transport level,
// or the job completed without producing a result reference. The wait is
// aborted; there is no retry layer around individual poll requests.
type PollError struct {
	JobID   string
	Message string
	Cause   error
}

func (e *PollError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("redash poll failed for job %s: %s: %v", e.JobID, e.Message, e.Cause)
	}
	return fmt.Sprintf("redash poll failed for job %s: %s", e.JobID, e.Message)
}

func (e *PollError) Unwrap() error {
	return e.Cause
}

// PollTimeoutError indicates the job did not reach a terminal status within
// the configured number of polling attempts.
type PollTimeoutError struct {
	JobID    string
	Attempts int
}

func (e *PollTimeoutError) Error() string {
	return fmt.Sprintf("redash job %s timed out after %d attempts", e.JobID, e.Attempts)
}

// JobFailedError carries the failure message reported by the Redash server
// for a query job that reached the failed status.
type JobFailedError struct {
	JobID   string
	Message string
}

func (e *JobFailedError) Error() string {
	return fmt.Sprintf("redash job %s failed: %s", e.JobID, e.Message)
}

// FetchError indicates retrieving the query result by its reference failed.
type FetchError struct {
	ResultID   int64
	StatusCode int
	Message    string
	Cause      error
}

func (e *FetchError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("redash fetch failed for result %d: %s: %v", e.ResultID, e.Message, e.Cause)
	}
	return fmt.Sprintf("redash fetch failed for result %d: %s", e.ResultID, e.Message)
}

func (e *FetchError) Unwrap() error {
	return e.Cause
}
