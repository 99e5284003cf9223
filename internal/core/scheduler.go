package core

// scheduler.go provides the periodic cleanup of abandoned uploads and
// expired rollback manifests.
//
// Uploads idle for longer than UploadTTL lose their file, cached parse and
// session record. Completed manifests older than RollbackRetention are
// purged, after which the import can no longer be rolled back. Pending and
// failed manifests are kept: they describe expenses that may still need to
// be removed. Audit entries older than AuditRetention are dropped.

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron"
)

// DefaultJanitorSchedule runs the sweep every fifteen minutes.
const DefaultJanitorSchedule = "@every 15m"

// janitorTimeout bounds one scheduled sweep.
const janitorTimeout = 10 * time.Minute

// Sweep removes expired uploads, purges completed manifests past the
// rollback retention window and trims the audit log.
func (s *Service) Sweep(ctx context.Context) (SweepResult, error) {
	var result SweepResult
	now := s.now()

	uploads, err := s.sessions.ListUploadsBefore(ctx, now.Add(-s.opts.UploadTTL))
	if err != nil {
		return result, fmt.Errorf("list expired uploads: %w", err)
	}
	var errs []error
	for _, rec := range uploads {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		expired, err := s.expireUpload(ctx, rec.ID, now)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if expired {
			result.ExpiredUploads++
		}
	}

	manifests, err := s.sessions.ListManifestsBefore(ctx, now.Add(-s.opts.RollbackRetention))
	if err != nil {
		return result, errors.Join(append(errs, fmt.Errorf("list expired manifests: %w", err))...)
	}
	for _, m := range manifests {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		if m.Status != ManifestComplete {
			continue
		}
		if err := s.purgeManifest(ctx, &m); err != nil {
			errs = append(errs, err)
			continue
		}
		result.PurgedManifests++
	}

	purged, err := s.purgeAudit(ctx, now)
	if err != nil {
		errs = append(errs, err)
	}
	result.PurgedAuditEntries = purged

	return result, errors.Join(errs...)
}

// expireUpload drops an upload that is still idle once its lock is held.
func (s *Service) expireUpload(ctx context.Context, uploadID string, now time.Time) (bool, error) {
	unlock := s.locks.Lock(uploadID)
	defer unlock()

	rec, err := s.sessions.GetUpload(ctx, uploadID)
	if errors.Is(err, ErrUploadNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("load upload %s: %w", uploadID, err)
	}
	if !rec.UpdatedAt.Before(now.Add(-s.opts.UploadTTL)) {
		return false, nil
	}

	s.discardFiles(ctx, rec)
	if err := s.sessions.DeleteUpload(ctx, rec.ID); err != nil {
		return false, fmt.Errorf("delete upload %s: %w", rec.ID, err)
	}

	if rec.Status != StatusImported {
		entry := historyEntry(rec)
		entry.Status = StatusExpired
		if err := s.sessions.SaveHistory(ctx, entry); err != nil {
			s.logger.Warn("failed to mark history entry expired", "upload_id", rec.ID, "error", err)
		}
	}

	s.logAudit(ctx, AuditLogParams{
		Action:   ActionUploadExpired,
		UserID:   rec.UserID,
		UploadID: rec.ID,
		FileName: rec.FileName,
		Reason:   string(rec.Status),
	})
	s.logger.Debug("upload expired", "upload_id", rec.ID, "user_id", rec.UserID, "status", rec.Status)
	return true, nil
}

// purgeManifest deletes a completed manifest and withdraws its token from
// the history.
func (s *Service) purgeManifest(ctx context.Context, m *RollbackManifest) error {
	unlock := s.locks.Lock(m.UploadID)
	defer unlock()

	if err := s.sessions.DeleteManifest(ctx, m.Token); err != nil && !errors.Is(err, ErrManifestNotFound) {
		return fmt.Errorf("purge manifest %s: %w", m.Token, err)
	}

	entry, err := s.sessions.GetHistory(ctx, m.UploadID)
	if err != nil || entry == nil || entry.RollbackToken != m.Token {
		return nil
	}
	entry.RollbackToken = ""
	if err := s.sessions.SaveHistory(ctx, entry); err != nil {
		s.logger.Warn("failed to clear rollback token", "upload_id", m.UploadID, "error", err)
	}
	return nil
}

// Janitor runs Sweep on a cron schedule.
type Janitor struct {
	svc  *Service
	cron *cron.Cron
}

// NewJanitor schedules svc.Sweep. schedule accepts the cron package's
// six-field expressions and descriptors such as "@every 30m"; empty selects
// DefaultJanitorSchedule.
func NewJanitor(svc *Service, schedule string) (*Janitor, error) {
	if schedule == "" {
		schedule = DefaultJanitorSchedule
	}
	j := &Janitor{svc: svc, cron: cron.New()}
	if err := j.cron.AddFunc(schedule, j.run); err != nil {
		return nil, fmt.Errorf("schedule janitor %q: %w", schedule, err)
	}
	return j, nil
}

// Start runs one sweep immediately, then follows the schedule in the
// background.
func (j *Janitor) Start() {
	slog.Info("janitor started",
		"upload_ttl", j.svc.opts.UploadTTL.String(),
		"rollback_retention", j.svc.opts.RollbackRetention.String(),
	)
	go j.run()
	j.cron.Start()
}

// Stop halts the schedule. A sweep in progress finishes on its own.
func (j *Janitor) Stop() {
	j.cron.Stop()
	slog.Info("janitor stopped")
}

// run performs one sweep.
func (j *Janitor) run() {
	ctx, cancel := context.WithTimeout(context.Background(), janitorTimeout)
	defer cancel()

	slog.Debug("janitor sweep started")
	start := time.Now()

	result, err := j.svc.Sweep(ctx)
	if err != nil {
		slog.Error("janitor sweep failed", "error", err)
	}
	slog.Info("janitor sweep completed",
		"expired_uploads", result.ExpiredUploads,
		"purged_manifests", result.PurgedManifests,
		"purged_audit_entries", result.PurgedAuditEntries,
		"duration_ms", time.Since(start).Milliseconds(),
	)
}
