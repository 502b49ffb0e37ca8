package apqueue

import (
	"encoding/json"
	"fmt"
)

// jobStatus Enum Type
type jobStatus uint8

const (
	// jobPending : waiting to be processed
	jobPending jobStatus = iota
	// jobInProgress : processing in progress
	jobInProgress
	// jobComplete : processing complete
	jobComplete
	// jobFailed : processing errored out
	jobFailed
)

func (s jobStatus) HumanReadable() string {
	switch s {
	case jobPending:
		return "pending"
	case jobInProgress:
		return "inprogress"
	case jobComplete:
		return "complete"
	case jobFailed:
		return "failed"
	}
	return fmt.Sprintf("status(%d)", uint8(s))
}

type Job struct {
	Type string `json:"type"`
	// external reference, for bundles this is the bundle ULID
	Name string `json:"name"`
	Data []byte `json:"data"`

	// id of the job in the queue system
	// This ID is generate by this package in a sequence. The ID is gurantee to
	// be unqiue and increasing
	ID uint64 `json:"id"`

	EnqueuedAt int64  `json:"enqueued_at"`
	FinishedAt int64  `json:"finished_at,omitempty"`
	Error      string `json:"error,omitempty"`
}

func encodeJob(j *Job) ([]byte, error) {
	return json.Marshal(j)
}

func decodeJob(b []byte) (*Job, error) {
	j := &Job{}
	if err := json.Unmarshal(b, j); err != nil {
		return nil, err
	}
	return j, nil
}
