package apqueue

import (
	"fmt"
	"sync"

	sdklogging "github.com/Layr-Labs/eigensdk-go/logging"
)

type JobProcessor interface {
	Perform(j *Job) error
}

type Worker struct {
	q *Queue

	mu                sync.RWMutex
	processorRegistry map[string]JobProcessor
	logger            sdklogging.Logger

	wg sync.WaitGroup
}

func (w *Worker) RegisterProcessor(jobType string, processor JobProcessor) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.processorRegistry[jobType] = processor
}

// A worker monitors queue, and use a processor to perform job
func NewWorker(q *Queue) *Worker {
	return &Worker{
		q:      q,
		logger: q.logger,

		processorRegistry: make(map[string]JobProcessor),
	}
}

// drain performs every pending job in id order.
func (w *Worker) drain() {
	for {
		job, err := w.q.Dequeue()
		if err != nil {
			w.logger.Error("failed to dequeue", "error", err)
			return
		}
		if job == nil {
			return
		}
		w.perform(job)
	}
}

func (w *Worker) perform(job *Job) {
	w.mu.RLock()
	processor, ok := w.processorRegistry[job.Type]
	w.mu.RUnlock()

	var err error
	if ok {
		err = processor.Perform(job)
	} else {
		err = fmt.Errorf("unsupported job type %q", job.Type)
	}

	if err == nil {
		if err := w.q.markJobDone(job, jobComplete, nil); err != nil {
			w.logger.Error("failed to mark job complete", "job_id", job.ID, "error", err)
		}
		w.logger.Debug("succesfully perform job", "job_id", job.ID, "name", job.Name)
		return
	}

	if markErr := w.q.markJobDone(job, jobFailed, err); markErr != nil {
		w.logger.Error("failed to mark job failed", "job_id", job.ID, "error", markErr)
	}
	w.logger.Warn("failed to perform job", "error", err, "job_id", job.ID, "name", job.Name)
}

func (w *Worker) loop() {
	defer w.wg.Done()

	// pick up jobs left over by Recover or a previous run
	w.drain()
	for {
		select {
		case <-w.q.eventCh:
			w.drain()
		case <-w.q.closeCh: // loop was stopped
			return
		}
	}
}

func (w *Worker) MustStart() {
	w.wg.Add(1)
	go w.loop()
}

// Wait blocks until the loop exits after Queue.Stop.
func (w *Worker) Wait() {
	w.wg.Wait()
}
