// File: internal/jobs/session_sweeper.go
package jobs

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"kopiclub_backend/internal/config"
	"kopiclub_backend/internal/profile"
)

// SessionSweeperJob periodically closes idle edit sessions so stale sessions
// do not keep live Firestore listeners open.
type SessionSweeperJob struct {
	manager       *profile.Manager
	logger        *zap.Logger
	cfg           *config.Config
	cronScheduler *cron.Cron
}

// NewSessionSweeperJob creates a new SessionSweeperJob.
func NewSessionSweeperJob(
	manager *profile.Manager,
	logger *zap.Logger,
	cfg *config.Config,
) *SessionSweeperJob {
	scheduler := cron.New(cron.WithLogger(NewCronLogger(logger.Named("cron"))))

	return &SessionSweeperJob{
		manager:       manager,
		logger:        logger.Named("SessionSweeperJob"),
		cfg:           cfg,
		cronScheduler: scheduler,
	}
}

// SetupAndStart schedules and starts the cron job.
func (j *SessionSweeperJob) SetupAndStart() error {
	jobSpec := j.cfg.SessionSweeperSchedule
	if jobSpec == "" {
		j.logger.Warn("Session sweeper schedule not defined (SESSION_SWEEPER_SCHEDULE). Job will not run.")
		return nil // Not a fatal error, just won't run
	}

	jobID, err := j.cronScheduler.AddFunc(jobSpec, j.runJob)
	if err != nil {
		j.logger.Error("Failed to schedule session sweeper job", zap.String("spec", jobSpec), zap.Error(err))
		return err
	}

	j.logger.Info("Session sweeper job scheduled", zap.String("spec", jobSpec), zap.Any("jobID", jobID))
	j.cronScheduler.Start()
	return nil
}

// runJob is the actual work performed by the cron job.
func (j *SessionSweeperJob) runJob() {
	swept := j.manager.SweepIdle(j.cfg.EditSessionIdleTTL)
	if swept > 0 {
		j.logger.Info("Session sweeper run completed", zap.Int("sessions_closed", swept))
	} else {
		j.logger.Debug("Session sweeper run completed; nothing to sweep")
	}
}

// Stop gracefully stops the cron scheduler.
func (j *SessionSweeperJob) Stop() {
	if j.cronScheduler != nil {
		j.logger.Info("Stopping session sweeper job scheduler...")
		stopCtx := j.cronScheduler.Stop()
		select {
		case <-stopCtx.Done():
			j.logger.Info("Session sweeper job scheduler stopped gracefully.")
		case <-time.After(10 * time.Second):
			j.logger.Warn("Session sweeper job scheduler stop timed out.")
		}
	}
}

// --- Cron Logger Adapter ---

// cronLogger adapts zap.Logger to cron.Logger interface.
type cronLogger struct {
	zl *zap.Logger
}

// NewCronLogger creates a new cronLogger.
func NewCronLogger(zl *zap.Logger) cron.Logger {
	return &cronLogger{zl: zl}
}

// Info logs routine messages from cron.
func (cl *cronLogger) Info(msg string, keysAndValues ...interface{}) {
	cl.zl.Info(msg, cl.parseKeysAndValues(keysAndValues...)...)
}

// Error logs error messages from cron.
func (cl *cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	fields := cl.parseKeysAndValues(keysAndValues...)
	fields = append(fields, zap.Error(err))
	cl.zl.Error(msg, fields...)
}

func (cl *cronLogger) parseKeysAndValues(keysAndValues ...interface{}) []zap.Field {
	var fields []zap.Field
	for i := 0; i < len(keysAndValues); i += 2 {
		if i+1 < len(keysAndValues) {
			fields = append(fields, zap.Any(fmt.Sprintf("%v", keysAndValues[i]), keysAndValues[i+1]))
		} else {
			fields = append(fields, zap.Any(fmt.Sprintf("%v", keysAndValues[i]), "MISSING_VALUE"))
		}
	}
	return fields
}
