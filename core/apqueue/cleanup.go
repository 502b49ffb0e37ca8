package apqueue

import (
	"time"
)

// CleanupStats holds statistics about the cleanup operation
type CleanupStats struct {
	TotalJobs     int
	RemovedJobs   int
	FailedCleanup int
	Duration      time.Duration
}

// PruneFinished removes complete and failed jobs that finished more than
// retention ago.
func (q *Queue) PruneFinished(retention time.Duration) (*CleanupStats, error) {
	startTime := time.Now()
	stats := &CleanupStats{}
	cutoff := startTime.Add(-retention).UnixMilli()

	for _, status := range []jobStatus{jobComplete, jobFailed} {
		kvs, err := q.db.GetByPrefix(q.getQueueKeyPrefix(status))
		if err != nil {
			q.logger.Error("failed to get jobs for cleanup", "status", status.HumanReadable(), "error", err)
			stats.FailedCleanup++
			continue
		}

		var expired [][]byte
		for _, kv := range kvs {
			stats.TotalJobs++

			job, err := decodeJob(kv.Value)
			if err != nil {
				q.logger.Error("failed to decode job during cleanup", "key", string(kv.Key), "error", err)
				stats.FailedCleanup++
				continue
			}
			if job.FinishedAt > 0 && job.FinishedAt < cutoff {
				expired = append(expired, kv.Key)
			}
		}
		if len(expired) == 0 {
			continue
		}

		q.dbLock.Lock()
		err = q.db.BatchDelete(expired)
		q.dbLock.Unlock()
		if err != nil {
			q.logger.Error("failed to remove finished jobs", "status", status.HumanReadable(), "error", err)
			stats.FailedCleanup += len(expired)
			continue
		}
		stats.RemovedJobs += len(expired)
	}

	stats.Duration = time.Since(startTime)

	q.logger.Debug("finished jobs cleanup completed",
		"total_jobs", stats.TotalJobs,
		"removed_jobs", stats.RemovedJobs,
		"failed_cleanup", stats.FailedCleanup,
		"duration_ms", stats.Duration.Milliseconds())

	return stats, nil
}

// SchedulePeriodicCleanup runs PruneFinished every interval until the queue stops.
func (q *Queue) SchedulePeriodicCleanup(interval, retention time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if stats, err := q.PruneFinished(retention); err != nil {
					q.logger.Error("periodic cleanup failed", "error", err)
				} else if stats.RemovedJobs > 0 {
					q.logger.Info("periodic cleanup removed finished jobs", "removed_jobs", stats.RemovedJobs)
				}
			case <-q.closeCh:
				return
			}
		}
	}()
}
