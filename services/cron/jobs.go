package cron

import (
	"fmt"
	"log"
	"time"

	"github.com/sahilchouksey/exam-extract-api/model"
)

// staleJobCutoff is how long a processing conversion job may go without an
// update before it is considered orphaned. The polling loop touches the job
// row on every progress change, so a silent job means its goroutine is gone
// (crash or restart).
const staleJobCutoff = 15 * time.Minute

// ReapStaleConversionJobs fails conversion jobs that stopped making progress
// and releases their document pairs so a restart can be attempted.
// Runs every 5 minutes.
func (m *CronManager) ReapStaleConversionJobs() {
	jobName := "reap_stale_conversion_jobs"

	cutoff := time.Now().Add(-staleJobCutoff)

	var staleJobs []model.ConversionJob
	err := m.db.Where("status = ? AND updated_at < ?", model.ConversionJobProcessing, cutoff).
		Find(&staleJobs).Error
	if err != nil {
		m.logJobError(jobName, fmt.Errorf("failed to query stale jobs: %w", err))
		return
	}

	if len(staleJobs) == 0 {
		m.logJobComplete(jobName, "No stale conversion jobs found")
		return
	}

	reaped := 0
	for _, job := range staleJobs {
		now := time.Now()
		err := m.db.Model(&model.ConversionJob{}).Where("id = ?", job.ID).Updates(map[string]interface{}{
			"status":        model.ConversionJobFailed,
			"error_message": fmt.Sprintf("job made no progress for %s and was reaped", staleJobCutoff),
			"completed_at":  &now,
		}).Error
		if err != nil {
			log.Printf("[CRON] Failed to reap job %d: %v", job.ID, err)
			continue
		}

		err = m.db.Model(&model.DocumentPair{}).
			Where("id = ? AND status = ?", job.DocumentPairID, model.DocumentPairProcessing).
			Updates(map[string]interface{}{
				"status":         model.DocumentPairFailed,
				"status_message": "conversion stalled and was reaped; restart conversion to retry",
			}).Error
		if err != nil {
			log.Printf("[CRON] Failed to release pair %d: %v", job.DocumentPairID, err)
			continue
		}

		reaped++
	}

	m.logJobComplete(jobName, fmt.Sprintf("Reaped %d of %d stale conversion jobs", reaped, len(staleJobs)))
}

// CleanupOldLogs removes aged log records to keep the database lean.
// Runs daily at 2 AM.
func (m *CronManager) CleanupOldLogs() {
	jobName := "cleanup_old_logs"

	totalCleaned := 0

	// 1. Job logs older than 30 days; their conversion jobs remain
	cutoffJobLogs := time.Now().Add(-30 * 24 * time.Hour)
	result := m.db.Where("created_at < ?", cutoffJobLogs).Delete(&model.JobLog{})
	if result.Error != nil {
		log.Printf("[CRON] Failed to clean job logs: %v", result.Error)
	} else {
		log.Printf("[CRON] Cleaned %d old job logs", result.RowsAffected)
		totalCleaned += int(result.RowsAffected)
	}

	// 2. Cron job logs older than 90 days
	cutoffCronLogs := time.Now().Add(-90 * 24 * time.Hour)
	result = m.db.Where("created_at < ?", cutoffCronLogs).Delete(&model.CronJobLog{})
	if result.Error != nil {
		log.Printf("[CRON] Failed to clean cron logs: %v", result.Error)
	} else {
		log.Printf("[CRON] Cleaned %d old cron logs", result.RowsAffected)
		totalCleaned += int(result.RowsAffected)
	}

	m.logJobComplete(jobName, fmt.Sprintf("Cleaned up %d total records", totalCleaned))
}
