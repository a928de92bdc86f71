// -----------------------------------------------------------------------
// Queue Manager - Persistent conversion queue over BadgerDB with a
// visibility-timeout redelivery model
// -----------------------------------------------------------------------

package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/ternarybob/verso/internal/models"
)

// ErrNoMessage is returned when no conversion request is ready.
var ErrNoMessage = models.ErrNoMessage

// queuedRequest wraps a ConvertRequest with delivery bookkeeping.
type queuedRequest struct {
	ID           string                `json:"id"`
	Body         models.ConvertRequest `json:"body"`
	EnqueuedAt   time.Time             `json:"enqueued_at"`
	VisibleAt    time.Time             `json:"visible_at"`
	ReceiveCount int                   `json:"receive_count"`
}

// Manager is a persistent queue of conversion requests. A received
// request becomes invisible for the visibility timeout; a worker that
// dies mid-conversion simply lets the request reappear. Requests that
// exceed the receive limit are dropped so a poison document cannot loop
// forever.
type Manager struct {
	db                *badger.DB
	queueName         string
	visibilityTimeout time.Duration
	maxReceive        int
}

// NewManager creates a queue manager on an externally managed Badger DB.
func NewManager(db *badger.DB, queueName string, visibilityTimeout time.Duration, maxReceive int) (*Manager, error) {
	if db == nil {
		return nil, errors.New("badger db is required")
	}
	if queueName == "" {
		return nil, errors.New("queue name is required")
	}
	if visibilityTimeout <= 0 {
		visibilityTimeout = 15 * time.Minute
	}
	if maxReceive <= 0 {
		maxReceive = 3
	}
	return &Manager{
		db:                db,
		queueName:         queueName,
		visibilityTimeout: visibilityTimeout,
		maxReceive:        maxReceive,
	}, nil
}

// Enqueue adds a conversion request, immediately visible.
func (m *Manager) Enqueue(_ context.Context, req models.ConvertRequest) error {
	if req.JobID == "" {
		return errors.New("conversion request needs a job id")
	}
	if req.EnqueuedAt.IsZero() {
		req.EnqueuedAt = time.Now().UTC()
	}

	entry := queuedRequest{
		ID:         uuid.New().String(),
		Body:       req,
		EnqueuedAt: req.EnqueuedAt,
		VisibleAt:  time.Now(),
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal queued request: %w", err)
	}

	// The message body lives under a stable key; a separate index key
	// encodes the visibility time so receivers scan in readiness order.
	return m.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(m.msgKey(entry.ID), data); err != nil {
			return err
		}
		return txn.Set(m.indexKey(entry.VisibleAt, entry.ID), []byte{})
	})
}

// Receive claims the next visible request. The returned ack function
// removes it permanently; not acking leaves it to reappear after the
// visibility timeout.
func (m *Manager) Receive(_ context.Context) (*models.ConvertRequest, func() error, error) {
	var claimed queuedRequest
	var claimedID string
	var oldIndexKey []byte

	err := m.db.Update(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		prefix := []byte(fmt.Sprintf("queue:%s:index:", m.queueName))
		it := txn.NewIterator(opts)
		defer it.Close()

		now := time.Now()
		found := false
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			key := it.Item().KeyCopy(nil)
			ts, id, err := m.parseIndexKey(key)
			if err != nil {
				continue
			}
			if ts.After(now) {
				// Index keys sort by visibility time; nothing later is ready.
				break
			}

			item, err := txn.Get(m.msgKey(id))
			if err != nil {
				if err == badger.ErrKeyNotFound {
					// Orphaned index entry; clean it up and move on.
					if err := txn.Delete(key); err != nil {
						return err
					}
					continue
				}
				return err
			}
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &claimed)
			}); err != nil {
				return err
			}

			if claimed.ReceiveCount >= m.maxReceive {
				if err := txn.Delete(key); err != nil {
					return err
				}
				if err := txn.Delete(m.msgKey(id)); err != nil {
					return err
				}
				continue
			}

			found = true
			claimedID = id
			oldIndexKey = key
			break
		}

		if !found {
			return ErrNoMessage
		}

		claimed.ReceiveCount++
		claimed.VisibleAt = time.Now().Add(m.visibilityTimeout)

		data, err := json.Marshal(claimed)
		if err != nil {
			return err
		}
		if err := txn.Set(m.msgKey(claimedID), data); err != nil {
			return err
		}
		if err := txn.Delete(oldIndexKey); err != nil {
			return err
		}
		return txn.Set(m.indexKey(claimed.VisibleAt, claimedID), []byte{})
	})
	if err != nil {
		return nil, nil, err
	}

	ack := func() error {
		return m.db.Update(func(txn *badger.Txn) error {
			item, err := txn.Get(m.msgKey(claimedID))
			if err != nil {
				if err == badger.ErrKeyNotFound {
					return nil
				}
				return err
			}
			var current queuedRequest
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &current)
			}); err != nil {
				return err
			}
			if err := txn.Delete(m.indexKey(current.VisibleAt, claimedID)); err != nil && err != badger.ErrKeyNotFound {
				return err
			}
			return txn.Delete(m.msgKey(claimedID))
		})
	}
	return &claimed.Body, ack, nil
}

// Depth counts queued requests, visible or not.
func (m *Manager) Depth(_ context.Context) (int, error) {
	count := 0
	prefix := []byte(fmt.Sprintf("queue:%s:msg:", m.queueName))
	err := m.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			count++
		}
		return nil
	})
	return count, err
}

func (m *Manager) msgKey(id string) []byte {
	return []byte(fmt.Sprintf("queue:%s:msg:%s", m.queueName, id))
}

// indexKey zero-pads the timestamp so byte ordering matches time ordering.
func (m *Manager) indexKey(visibleAt time.Time, id string) []byte {
	return []byte(fmt.Sprintf("queue:%s:index:%020d:%s", m.queueName, visibleAt.UnixNano(), id))
}

func (m *Manager) parseIndexKey(key []byte) (time.Time, string, error) {
	prefix := fmt.Sprintf("queue:%s:index:", m.queueName)
	suffix := string(key)
	if len(suffix) <= len(prefix) {
		return time.Time{}, "", fmt.Errorf("index key too short")
	}
	suffix = suffix[len(prefix):]
	if len(suffix) < 22 {
		return time.Time{}, "", fmt.Errorf("index key suffix too short")
	}

	var ts int64
	if _, err := fmt.Sscanf(suffix[:20], "%d", &ts); err != nil {
		return time.Time{}, "", err
	}
	return time.Unix(0, ts), suffix[21:], nil
}
