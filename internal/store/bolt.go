// Package store holds the persistence adapters behind the import service:
// a bbolt session store and audit log, and local file storage for uploaded
// statements.
package store

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"go.etcd.io/bbolt"

	"github.com/frno10/ExpenseTracker-sub000/internal/core"
	"github.com/frno10/ExpenseTracker-sub000/internal/parser"
)

const (
	uploadsBucket      = "uploads"
	parseResultsBucket = "parse_results"
	manifestsBucket    = "manifests"
	historyBucket      = "history"
	auditBucket        = "audit"
)

var buckets = []string{uploadsBucket, parseResultsBucket, manifestsBucket, historyBucket, auditBucket}

// BoltStore implements core.SessionStore and core.AuditLog on a single
// bbolt file. Values are JSON, keyed by upload id or rollback token. Audit
// entries are keyed by an insertion sequence.
type BoltStore struct {
	db *bbolt.DB
}

var (
	_ core.SessionStore = (*BoltStore)(nil)
	_ core.AuditLog     = (*BoltStore)(nil)
)

// NewBoltStore opens or creates the database at path.
func NewBoltStore(path string) (*BoltStore, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening boltdb: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range buckets {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating buckets: %w", err)
	}

	return &BoltStore{db: db}, nil
}

// Close closes the database file.
func (b *BoltStore) Close() error {
	return b.db.Close()
}

// put stores v as JSON under key.
func (b *BoltStore) put(ctx context.Context, bucket, key string, v any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshaling %s entry: %w", bucket, err)
	}
	return b.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(bucket)).Put([]byte(key), data)
	})
}

// get decodes the value under key into v and reports whether it existed.
func (b *BoltStore) get(ctx context.Context, bucket, key string, v any) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	found := false
	err := b.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket([]byte(bucket)).Get([]byte(key))
		if data == nil {
			return nil
		}
		found = true
		if err := json.Unmarshal(data, v); err != nil {
			return fmt.Errorf("unmarshaling %s entry: %w", bucket, err)
		}
		return nil
	})
	return found, err
}

func (b *BoltStore) delete(ctx context.Context, bucket, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return b.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(bucket)).Delete([]byte(key))
	})
}

// each decodes every value of bucket and hands it to fn.
func each[T any](ctx context.Context, b *BoltStore, bucket string, fn func(*T)) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return b.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(bucket)).ForEach(func(k, v []byte) error {
			var item T
			if err := json.Unmarshal(v, &item); err != nil {
				return fmt.Errorf("unmarshaling %s entry %s: %w", bucket, k, err)
			}
			fn(&item)
			return nil
		})
	})
}

// SaveUpload inserts or replaces an upload record.
func (b *BoltStore) SaveUpload(ctx context.Context, rec *core.UploadRecord) error {
	return b.put(ctx, uploadsBucket, rec.ID, rec)
}

// GetUpload returns core.ErrUploadNotFound for unknown ids.
func (b *BoltStore) GetUpload(ctx context.Context, id string) (*core.UploadRecord, error) {
	var rec core.UploadRecord
	found, err := b.get(ctx, uploadsBucket, id, &rec)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("%w: %s", core.ErrUploadNotFound, id)
	}
	return &rec, nil
}

func (b *BoltStore) DeleteUpload(ctx context.Context, id string) error {
	return b.delete(ctx, uploadsBucket, id)
}

// ListUploadsBefore returns uploads last updated before cutoff.
func (b *BoltStore) ListUploadsBefore(ctx context.Context, cutoff time.Time) ([]core.UploadRecord, error) {
	out := make([]core.UploadRecord, 0)
	err := each(ctx, b, uploadsBucket, func(rec *core.UploadRecord) {
		if rec.UpdatedAt.Before(cutoff) {
			out = append(out, *rec)
		}
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (b *BoltStore) SaveParseResult(ctx context.Context, uploadID string, res *parser.ParseResult) error {
	return b.put(ctx, parseResultsBucket, uploadID, res)
}

// GetParseResult returns nil, nil when nothing is cached.
func (b *BoltStore) GetParseResult(ctx context.Context, uploadID string) (*parser.ParseResult, error) {
	var res parser.ParseResult
	found, err := b.get(ctx, parseResultsBucket, uploadID, &res)
	if err != nil || !found {
		return nil, err
	}
	return &res, nil
}

func (b *BoltStore) DeleteParseResult(ctx context.Context, uploadID string) error {
	return b.delete(ctx, parseResultsBucket, uploadID)
}

func (b *BoltStore) SaveManifest(ctx context.Context, m *core.RollbackManifest) error {
	return b.put(ctx, manifestsBucket, m.Token, m)
}

// GetManifest returns core.ErrManifestNotFound for unknown tokens.
func (b *BoltStore) GetManifest(ctx context.Context, token string) (*core.RollbackManifest, error) {
	var m core.RollbackManifest
	found, err := b.get(ctx, manifestsBucket, token, &m)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, core.ErrManifestNotFound
	}
	return &m, nil
}

func (b *BoltStore) DeleteManifest(ctx context.Context, token string) error {
	return b.delete(ctx, manifestsBucket, token)
}

// ListManifestsBefore returns manifests last updated before cutoff.
func (b *BoltStore) ListManifestsBefore(ctx context.Context, cutoff time.Time) ([]core.RollbackManifest, error) {
	out := make([]core.RollbackManifest, 0)
	err := each(ctx, b, manifestsBucket, func(m *core.RollbackManifest) {
		if m.UpdatedAt.Before(cutoff) {
			out = append(out, *m)
		}
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (b *BoltStore) SaveHistory(ctx context.Context, entry *core.HistoryEntry) error {
	return b.put(ctx, historyBucket, entry.UploadID, entry)
}

// GetHistory returns nil, nil when the upload has no entry.
func (b *BoltStore) GetHistory(ctx context.Context, uploadID string) (*core.HistoryEntry, error) {
	var entry core.HistoryEntry
	found, err := b.get(ctx, historyBucket, uploadID, &entry)
	if err != nil || !found {
		return nil, err
	}
	return &entry, nil
}

func (b *BoltStore) DeleteHistory(ctx context.Context, uploadID string) error {
	return b.delete(ctx, historyBucket, uploadID)
}

// ListHistory pages through a user's entries, newest first.
func (b *BoltStore) ListHistory(ctx context.Context, userID string, limit, offset int) ([]core.HistoryEntry, error) {
	entries, err := b.userHistory(ctx, userID)
	if err != nil {
		return nil, err
	}
	if offset >= len(entries) {
		return []core.HistoryEntry{}, nil
	}
	entries = entries[offset:]
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

// FindHistoryByHash returns the most recent imported upload of the user
// with the given content hash, or nil, nil.
func (b *BoltStore) FindHistoryByHash(ctx context.Context, userID, hash string) (*core.HistoryEntry, error) {
	if hash == "" {
		return nil, nil
	}
	entries, err := b.userHistory(ctx, userID)
	if err != nil {
		return nil, err
	}
	for i := range entries {
		if entries[i].ContentHash == hash && entries[i].Status == core.StatusImported {
			return &entries[i], nil
		}
	}
	return nil, nil
}

// userHistory returns the user's entries sorted newest first.
func (b *BoltStore) userHistory(ctx context.Context, userID string) ([]core.HistoryEntry, error) {
	entries := make([]core.HistoryEntry, 0)
	err := each(ctx, b, historyBucket, func(e *core.HistoryEntry) {
		if e.UserID == userID {
			entries = append(entries, *e)
		}
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(entries, func(i, j int) bool {
		if !entries[i].CreatedAt.Equal(entries[j].CreatedAt) {
			return entries[i].CreatedAt.After(entries[j].CreatedAt)
		}
		return entries[i].UploadID < entries[j].UploadID
	})
	return entries, nil
}

// AppendAudit stores entry under the next audit sequence number.
func (b *BoltStore) AppendAudit(ctx context.Context, entry *core.AuditEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshaling %s entry: %w", auditBucket, err)
	}
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(auditBucket))
		seq, err := bucket.NextSequence()
		if err != nil {
			return err
		}
		return bucket.Put(sequenceKey(seq), data)
	})
}

// ListAudit returns matching entries newest first. Entries with equal
// timestamps keep reverse insertion order.
func (b *BoltStore) ListAudit(ctx context.Context, filter core.AuditLogFilter) ([]core.AuditEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entries := make([]core.AuditEntry, 0)
	err := b.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket([]byte(auditBucket)).Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			var e core.AuditEntry
			if err := json.Unmarshal(v, &e); err != nil {
				return fmt.Errorf("unmarshaling %s entry %d: %w", auditBucket, binary.BigEndian.Uint64(k), err)
			}
			if filter.Matches(e) {
				entries = append(entries, e)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].CreatedAt.After(entries[j].CreatedAt)
	})

	if filter.Offset >= len(entries) {
		return []core.AuditEntry{}, nil
	}
	entries = entries[filter.Offset:]
	if filter.Limit > 0 && len(entries) > filter.Limit {
		entries = entries[:filter.Limit]
	}
	return entries, nil
}

// PurgeAuditBefore deletes entries created before cutoff and reports how
// many were removed.
func (b *BoltStore) PurgeAuditBefore(ctx context.Context, cutoff time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	purged := 0
	err := b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(auditBucket))
		var stale [][]byte
		err := bucket.ForEach(func(k, v []byte) error {
			var e core.AuditEntry
			if err := json.Unmarshal(v, &e); err != nil {
				return fmt.Errorf("unmarshaling %s entry %d: %w", auditBucket, binary.BigEndian.Uint64(k), err)
			}
			if e.CreatedAt.Before(cutoff) {
				stale = append(stale, append([]byte(nil), k...))
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, k := range stale {
			if err := bucket.Delete(k); err != nil {
				return err
			}
		}
		purged = len(stale)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return purged, nil
}

func sequenceKey(seq uint64) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, seq)
	return k
}
