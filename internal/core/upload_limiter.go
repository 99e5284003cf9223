package core

// upload_limiter.go bounds how many import steps run at once.
//
// Storing an upload, parsing a statement and writing the confirmed expenses
// each hold one slot, tagged with the upload and the step, so health checks
// and shutdown can say which imports are still in flight. When all slots
// are taken, callers wait up to maxWait before failing with
// ErrTooManyUploads.

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"
)

// ErrTooManyUploads is returned when all slots are occupied and the wait
// timeout expires. Clients should retry after a short delay.
var ErrTooManyUploads = errors.New("too many concurrent uploads, please try again later")

// DefaultMaxConcurrentUploads is the default number of slots.
const DefaultMaxConcurrentUploads = 5

// DefaultMaxWaitTime is how long to wait for a slot before rejecting.
const DefaultMaxWaitTime = 30 * time.Second

// Stage names the import step holding a slot.
type Stage string

const (
	StageUpload  Stage = "upload"
	StageParse   Stage = "parse"
	StageConfirm Stage = "confirm"
)

// ImportSlot describes one held slot.
type ImportSlot struct {
	UploadID string    `json:"upload_id"`
	Stage    Stage     `json:"stage"`
	Since    time.Time `json:"since"`
}

// UploadLimiter is a counting semaphore over import steps.
type UploadLimiter struct {
	slots   chan struct{}
	maxWait time.Duration
	logger  *slog.Logger

	mu   sync.Mutex
	seq  uint64
	held map[uint64]ImportSlot
}

// NewUploadLimiter creates a limiter with maxConcurrent slots. A nil logger
// uses slog.Default().
func NewUploadLimiter(maxConcurrent int, maxWait time.Duration, logger *slog.Logger) *UploadLimiter {
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrentUploads
	}
	if maxWait <= 0 {
		maxWait = DefaultMaxWaitTime
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &UploadLimiter{
		slots:   make(chan struct{}, maxConcurrent),
		maxWait: maxWait,
		logger:  logger,
		held:    make(map[uint64]ImportSlot),
	}
}

// Acquire waits for a slot for the given upload and step. The returned
// release func frees it and is safe to call more than once.
func (l *UploadLimiter) Acquire(ctx context.Context, uploadID string, stage Stage) (func(), error) {
	select {
	case l.slots <- struct{}{}:
		return l.hold(uploadID, stage), nil
	default:
	}

	l.logger.Debug("waiting for import slot",
		"upload_id", uploadID, "stage", stage, "in_flight", l.uploadIDs())

	waitCtx, cancel := context.WithTimeout(ctx, l.maxWait)
	defer cancel()

	select {
	case l.slots <- struct{}{}:
		return l.hold(uploadID, stage), nil

	case <-waitCtx.Done():
		// The caller's own cancellation wins over our timeout.
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		l.logger.Warn("import slot wait timed out",
			"upload_id", uploadID, "stage", stage,
			"waited", l.maxWait, "in_flight", l.uploadIDs())
		return nil, ErrTooManyUploads
	}
}

func (l *UploadLimiter) hold(uploadID string, stage Stage) func() {
	l.mu.Lock()
	l.seq++
	key := l.seq
	l.held[key] = ImportSlot{UploadID: uploadID, Stage: stage, Since: time.Now()}
	l.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			slot := l.held[key]
			delete(l.held, key)
			l.mu.Unlock()
			<-l.slots

			l.logger.Debug("import slot released",
				"upload_id", slot.UploadID, "stage", slot.Stage,
				"held", time.Since(slot.Since).Round(time.Millisecond))
		})
	}
}

// Do runs fn while holding a slot for the given upload and step.
func (l *UploadLimiter) Do(ctx context.Context, uploadID string, stage Stage, fn func() error) error {
	release, err := l.Acquire(ctx, uploadID, stage)
	if err != nil {
		return err
	}
	defer release()
	return fn()
}

// InFlight returns the held slots, oldest first.
func (l *UploadLimiter) InFlight() []ImportSlot {
	l.mu.Lock()
	slots := make([]ImportSlot, 0, len(l.held))
	for _, s := range l.held {
		slots = append(slots, s)
	}
	l.mu.Unlock()

	sort.Slice(slots, func(i, j int) bool {
		if !slots[i].Since.Equal(slots[j].Since) {
			return slots[i].Since.Before(slots[j].Since)
		}
		return slots[i].UploadID < slots[j].UploadID
	})
	return slots
}

func (l *UploadLimiter) uploadIDs() []string {
	slots := l.InFlight()
	ids := make([]string, len(slots))
	for i, s := range slots {
		ids[i] = s.UploadID + "/" + string(s.Stage)
	}
	return ids
}

// WaitForDrain blocks until every slot is free. When ctx ends first the
// error names the uploads still holding slots.
func (l *UploadLimiter) WaitForDrain(ctx context.Context) error {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		if len(l.slots) == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: still importing %s", ctx.Err(), strings.Join(l.uploadIDs(), ", "))
		case <-ticker.C:
		}
	}
}

// UploadLimiterStatus is a snapshot of the limiter, served by /healthz.
type UploadLimiterStatus struct {
	Active        int           `json:"active"`
	Available     int           `json:"available"`
	MaxConcurrent int           `json:"max_concurrent"`
	Stages        map[Stage]int `json:"stages,omitempty"`
}

// Status returns the current limiter state with a per-step count.
func (l *UploadLimiter) Status() UploadLimiterStatus {
	l.mu.Lock()
	defer l.mu.Unlock()

	status := UploadLimiterStatus{
		Active:        len(l.held),
		Available:     cap(l.slots) - len(l.held),
		MaxConcurrent: cap(l.slots),
	}
	if len(l.held) > 0 {
		status.Stages = make(map[Stage]int)
		for _, s := range l.held {
			status.Stages[s.Stage]++
		}
	}
	return status
}
