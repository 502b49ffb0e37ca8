package apqueue

import (
	"errors"
	"fmt"
	"sync"
	"time"

	sdklogging "github.com/Layr-Labs/eigensdk-go/logging"

	"github.com/AvaProtocol/ethuo/pkg/logger"
	"github.com/AvaProtocol/ethuo/storage"
)

var ErrQueueStopped = errors.New("queue is stopped")

type Queue struct {
	db storage.Storage

	seq    storage.Sequence
	dbLock sync.Mutex

	eventCh   chan uint64
	closeCh   chan struct{}
	closeOnce sync.Once

	prefix string
	logger sdklogging.Logger
}

type QueueOption struct {
	Prefix string
}

// New creates a queue whose jobs live under q:<prefix>: in db.
func New(db storage.Storage, lgr sdklogging.Logger, opts *QueueOption) *Queue {
	q := &Queue{
		db:     db,
		prefix: "d",
		logger: logger.EnsureLogger(lgr),

		eventCh: make(chan uint64, 1000),
		closeCh: make(chan struct{}),
	}

	if opts != nil && opts.Prefix != "" {
		q.prefix = opts.Prefix
	}

	return q
}

// Start acquires the id sequence. It must be called before Enqueue.
func (q *Queue) Start() error {
	seq, err := q.db.GetSequence([]byte("q:seq:"+q.prefix), 1000)
	if err != nil {
		return fmt.Errorf("cannot acquire queue sequence: %w", err)
	}
	q.seq = seq
	return nil
}

// Recover moves jobs left in progress by an abrupt shutdown back to pending
// and wakes the worker for them.
func (q *Queue) Recover() (int, error) {
	q.dbLock.Lock()
	defer q.dbLock.Unlock()

	kvs, err := q.db.GetByPrefix(q.getQueueKeyPrefix(jobInProgress))
	if err != nil {
		return 0, err
	}

	for _, kv := range kvs {
		job, err := decodeJob(kv.Value)
		if err != nil {
			q.logger.Error("cannot decode stuck job", "key", string(kv.Key), "error", err)
			continue
		}
		if err := q.db.Move(kv.Key, q.getJobKey(jobPending, job.ID)); err != nil {
			return 0, err
		}
		q.notify(job.ID)
	}

	if len(kvs) > 0 {
		q.logger.Info("recovered in progress jobs", "count", len(kvs), "queue", q.prefix)
	}
	return len(kvs), nil
}

// Stop wakes up the worker so it exits, and releases the sequence.
func (q *Queue) Stop() error {
	var err error
	q.closeOnce.Do(func() {
		close(q.closeCh)
		if q.seq != nil {
			// release sequence to avoid wasting counter
			err = q.seq.Release()
		}
	})
	return err
}

func getNextSeq(seq storage.Sequence) (num uint64, err error) {
	defer func() {
		if r := recover(); r != nil {
			// badger panics on a released sequence
			err = fmt.Errorf("queue sequence: %v", r)
		}
	}()

	return seq.Next()
}

func (q *Queue) notify(id uint64) {
	select {
	case q.eventCh <- id:
	default:
		// the worker drains all pending jobs on every wake up
	}
}

// Enqueue adds a new job to the pending queue and returns its id.
func (q *Queue) Enqueue(jobType string, name string, data []byte) (uint64, error) {
	select {
	case <-q.closeCh:
		return 0, ErrQueueStopped
	default:
	}
	if q.seq == nil {
		return 0, errors.New("queue is not started")
	}

	num, err := getNextSeq(q.seq)
	if err != nil {
		return 0, err
	}

	j := &Job{
		Type:       jobType,
		Name:       name,
		Data:       data,
		ID:         num + 1,
		EnqueuedAt: time.Now().UnixMilli(),
	}

	b, err := encodeJob(j)
	if err != nil {
		return 0, err
	}
	if err := q.db.Set(q.getJobKey(jobPending, j.ID), b); err != nil {
		return 0, err
	}

	q.notify(j.ID)
	return j.ID, nil
}

// Dequeue moves the oldest pending job to in progress. It returns nil, nil
// when nothing is pending.
func (q *Queue) Dequeue() (*Job, error) {
	q.dbLock.Lock()
	defer q.dbLock.Unlock()

	k, v, err := q.db.FirstKVHasPrefix(q.getQueueKeyPrefix(jobPending))
	if err != nil {
		return nil, err
	}

	// there is no more job
	if k == nil {
		return nil, nil
	}

	j, err := decodeJob(v)
	if err != nil {
		return nil, err
	}

	if err := q.db.Move(k, q.getJobKey(jobInProgress, j.ID)); err != nil {
		return nil, err
	}
	return j, nil
}

// markJobDone moves a job from in progress to complete or failed, recording
// the failure reason.
func (q *Queue) markJobDone(job *Job, status jobStatus, cause error) error {
	if status != jobComplete && status != jobFailed {
		return errors.New("can only move to complete or failed status")
	}

	job.FinishedAt = time.Now().UnixMilli()
	if cause != nil {
		job.Error = cause.Error()
	}
	b, err := encodeJob(job)
	if err != nil {
		return err
	}

	q.dbLock.Lock()
	defer q.dbLock.Unlock()

	if err := q.db.Delete(q.getJobKey(jobInProgress, job.ID)); err != nil {
		return err
	}
	return q.db.Set(q.getJobKey(status, job.ID), b)
}

func (q *Queue) list(status jobStatus) ([]*Job, error) {
	kvs, err := q.db.GetByPrefix(q.getQueueKeyPrefix(status))
	if err != nil {
		return nil, err
	}

	jobs := make([]*Job, 0, len(kvs))
	for _, kv := range kvs {
		j, err := decodeJob(kv.Value)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, nil
}

func (q *Queue) Pending() ([]*Job, error)    { return q.list(jobPending) }
func (q *Queue) InProgress() ([]*Job, error) { return q.list(jobInProgress) }
func (q *Queue) Completed() ([]*Job, error)  { return q.list(jobComplete) }
func (q *Queue) Failed() ([]*Job, error)     { return q.list(jobFailed) }

// Stats counts jobs per status name.
func (q *Queue) Stats() (map[string]int64, error) {
	stats := make(map[string]int64, 4)
	for _, status := range []jobStatus{jobPending, jobInProgress, jobComplete, jobFailed} {
		n, err := q.db.CountKeysByPrefix(q.getQueueKeyPrefix(status))
		if err != nil {
			return nil, err
		}
		stats[status.HumanReadable()] = n
	}
	return stats, nil
}

func (q *Queue) getQueueKeyPrefix(status jobStatus) []byte {
	return []byte(fmt.Sprintf("q:%s:%v:", q.prefix, uint8(status)))
}

func (q *Queue) getJobKey(status jobStatus, jID uint64) []byte {
	return append(q.getQueueKeyPrefix(status), []byte(fmt.Sprintf("%020d", jID))...)
}
