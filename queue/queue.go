// Package queue implements the persistent FIFO sponsorship queue over the
// state store. Four id lists (pending, processing, completed, failed) plus a
// per-request record carry the full lifecycle; an advisory lock built on
// SetNX linearizes list mutations across processes.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/aegis-labs/aegis/log"
	"github.com/aegis-labs/aegis/store"
)

// Queue keys. Lists hold {items, updatedAt} JSON with a 24h TTL; the lock is
// a 5s SetNX mutex.
const (
	keyPrefix     = "aegis:queue:sponsorship:"
	PendingKey    = keyPrefix + "pending"
	ProcessingKey = keyPrefix + "processing"
	CompletedKey  = keyPrefix + "completed"
	FailedKey     = keyPrefix + "failed"
	LockKey       = keyPrefix + "lock"

	requestKeyFmt = keyPrefix + "request:%s"
)

const (
	listTTL    = 24 * time.Hour
	requestTTL = 24 * time.Hour
	lockTTL    = 5 * time.Second

	// lockRetryDelay is the single back-off before the one enqueue retry.
	lockRetryDelay = 100 * time.Millisecond

	// doneListCap bounds the completed and failed lists.
	doneListCap = 1000

	// defaultMaxRetries is the per-request retry budget.
	defaultMaxRetries = 3

	// staleAfter is the processing age at which recovery re-enqueues a
	// request.
	staleAfter = 5 * time.Minute
)

// ErrLockBusy is returned when the advisory lock could not be acquired.
var ErrLockBusy = errors.New("queue: lock busy")

// ErrNotFound is returned when a request record does not exist.
var ErrNotFound = errors.New("queue: request not found")

// RequestKey returns the store key of a request record.
func RequestKey(id string) string {
	return fmt.Sprintf(requestKeyFmt, id)
}

// idList is the persisted shape of a queue list.
type idList struct {
	Items     []string `json:"items"`
	UpdatedAt string   `json:"updatedAt"`
}

// Queue is the sponsorship queue over a shared Store.
type Queue struct {
	store  store.Store
	logger *log.Logger
	now    func() time.Time
	sleep  func(time.Duration)
	newID  func() string
}

// New creates a Queue over the given store.
func New(s store.Store) *Queue {
	return &Queue{
		store:  s,
		logger: log.Default().Module("queue"),
		now:    time.Now,
		sleep:  time.Sleep,
		newID:  uuid.NewString,
	}
}

// SetClock overrides the time source for tests.
func (q *Queue) SetClock(now func() time.Time) { q.now = now }

// SetSleep overrides the lock retry back-off for tests.
func (q *Queue) SetSleep(sleep func(time.Duration)) { q.sleep = sleep }

// SetIDSource overrides request id generation for tests.
func (q *Queue) SetIDSource(newID func() string) { q.newID = newID }

// Enqueue assigns the request a fresh id, persists it as pending, and
// appends it to the pending list. It is the only operation that retries the
// lock, once after 100ms.
func (q *Queue) Enqueue(ctx context.Context, req Request) (*Enqueued, error) {
	if err := q.acquireLock(ctx, true); err != nil {
		return nil, err
	}
	defer q.releaseLock(ctx)

	req.ID = q.newID()
	req.Status = StatusPending
	req.QueuedAt = rfc3339(q.now())
	req.RetryCount = 0
	if req.MaxRetries == 0 {
		req.MaxRetries = defaultMaxRetries
	}
	if err := q.writeRequest(ctx, &req); err != nil {
		return nil, err
	}

	pending := q.loadList(ctx, PendingKey)
	pending = append(pending, req.ID)
	if err := q.writeList(ctx, PendingKey, pending); err != nil {
		return nil, err
	}

	q.logger.Info("request enqueued", "id", req.ID, "protocol", req.ProtocolID, "position", len(pending))
	return &Enqueued{ID: req.ID, Position: len(pending)}, nil
}

// Dequeue pops the head of pending, marks it processing, and returns it.
// Returns nil with no error when the queue is empty or the head's record
// expired.
func (q *Queue) Dequeue(ctx context.Context) (*Request, error) {
	if err := q.acquireLock(ctx, false); err != nil {
		return nil, err
	}
	defer q.releaseLock(ctx)

	pending := q.loadList(ctx, PendingKey)
	if len(pending) == 0 {
		return nil, nil
	}
	id := pending[0]
	if err := q.writeList(ctx, PendingKey, pending[1:]); err != nil {
		return nil, err
	}

	req, err := q.Status(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			q.logger.Warn("pending request record expired, dropping", "id", id)
			return nil, nil
		}
		return nil, err
	}

	req.Status = StatusProcessing
	req.ProcessingStartedAt = rfc3339(q.now())
	if err := q.writeRequest(ctx, req); err != nil {
		return nil, err
	}

	processing := q.loadList(ctx, ProcessingKey)
	processing = append(processing, id)
	if err := q.writeList(ctx, ProcessingKey, processing); err != nil {
		return nil, err
	}
	return req, nil
}

// Complete records a successful execution: the request moves from processing
// to the head of completed.
func (q *Queue) Complete(ctx context.Context, id string, res Result) error {
	if err := q.acquireLock(ctx, false); err != nil {
		return err
	}
	defer q.releaseLock(ctx)

	req, err := q.Status(ctx, id)
	if err != nil {
		return err
	}
	req.Status = StatusCompleted
	req.CompletedAt = rfc3339(q.now())
	req.TxHash = res.TxHash
	req.UserOpHash = res.UserOpHash
	req.ActualCostUSD = res.ActualCostUSD
	if err := q.writeRequest(ctx, req); err != nil {
		return err
	}

	if err := q.removeFrom(ctx, ProcessingKey, id); err != nil {
		return err
	}
	if err := q.prependCapped(ctx, CompletedKey, id); err != nil {
		return err
	}
	q.logger.Info("request completed", "id", id, "txHash", res.TxHash, "costUsd", res.ActualCostUSD)
	return nil
}

// Fail records a failed execution. Retryable failures with retries left go
// back to pending; everything else lands on the failed list.
func (q *Queue) Fail(ctx context.Context, id, errMsg string, retryable bool) error {
	if err := q.acquireLock(ctx, false); err != nil {
		return err
	}
	defer q.releaseLock(ctx)
	return q.finishLocked(ctx, id, errMsg, retryable, StatusFailed)
}

// Reject permanently denies a request for a policy or signature reason. The
// record carries the rejected status and joins the failed list.
func (q *Queue) Reject(ctx context.Context, id, reason string) error {
	if err := q.acquireLock(ctx, false); err != nil {
		return err
	}
	defer q.releaseLock(ctx)
	return q.finishLocked(ctx, id, "Rejected: "+reason, false, StatusRejected)
}

// Status returns the request record for id.
func (q *Queue) Status(ctx context.Context, id string) (*Request, error) {
	raw, ok, err := q.store.Get(ctx, RequestKey(id))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotFound
	}
	var req Request
	if err := json.Unmarshal(raw, &req); err != nil {
		q.logger.Warn("malformed request record dropped", "id", id)
		return nil, ErrNotFound
	}
	return &req, nil
}

// Stats returns the lengths of the four queue lists.
func (q *Queue) Stats(ctx context.Context) Stats {
	return Stats{
		Pending:    len(q.loadList(ctx, PendingKey)),
		Processing: len(q.loadList(ctx, ProcessingKey)),
		Completed:  len(q.loadList(ctx, CompletedKey)),
		Failed:     len(q.loadList(ctx, FailedKey)),
	}
}

// RecoverStale sweeps the processing list. Entries without a record are
// dropped; entries processing for more than five minutes go back to pending
// when retries remain, otherwise to failed. Returns the number of requests
// acted on.
func (q *Queue) RecoverStale(ctx context.Context) (int, error) {
	if err := q.acquireLock(ctx, false); err != nil {
		return 0, err
	}
	defer q.releaseLock(ctx)

	processing := q.loadList(ctx, ProcessingKey)
	recovered := 0
	for _, id := range processing {
		req, err := q.Status(ctx, id)
		if errors.Is(err, ErrNotFound) {
			q.logger.Warn("processing id without record, dropping", "id", id)
			if err := q.removeFrom(ctx, ProcessingKey, id); err != nil {
				return recovered, err
			}
			recovered++
			continue
		}
		if err != nil {
			return recovered, err
		}

		started, perr := time.Parse(time.RFC3339, req.ProcessingStartedAt)
		if perr != nil || q.now().Sub(started) <= staleAfter {
			continue
		}
		if err := q.finishLocked(ctx, id, "Processing timeout - recovered", true, StatusFailed); err != nil {
			return recovered, err
		}
		recovered++
	}
	return recovered, nil
}

// finishLocked terminates or re-enqueues a request without lock management,
// shared by Fail, Reject, and RecoverStale. terminal is the status written
// when no retry happens.
func (q *Queue) finishLocked(ctx context.Context, id, errMsg string, retryable bool, terminal Status) error {
	req, err := q.Status(ctx, id)
	if err != nil {
		return err
	}
	if err := q.removeFrom(ctx, ProcessingKey, id); err != nil {
		return err
	}

	req.Error = errMsg
	if retryable && req.RetryCount < req.MaxRetries {
		req.RetryCount++
		req.Status = StatusPending
		req.ProcessingStartedAt = ""
		if err := q.writeRequest(ctx, req); err != nil {
			return err
		}
		pending := q.loadList(ctx, PendingKey)
		pending = append(pending, id)
		if err := q.writeList(ctx, PendingKey, pending); err != nil {
			return err
		}
		q.logger.Warn("request re-enqueued", "id", id, "retry", req.RetryCount, "err", errMsg)
		return nil
	}

	req.Status = terminal
	req.FailedAt = rfc3339(q.now())
	if err := q.writeRequest(ctx, req); err != nil {
		return err
	}
	if err := q.prependCapped(ctx, FailedKey, id); err != nil {
		return err
	}
	q.logger.Warn("request finished without success", "id", id, "status", string(terminal), "err", errMsg)
	return nil
}

// ---------------------------------------------------------------------------
// Lock and list plumbing.
// ---------------------------------------------------------------------------

// acquireLock takes the advisory SetNX mutex. retry allows one additional
// attempt after 100ms; only Enqueue uses it.
func (q *Queue) acquireLock(ctx context.Context, retry bool) error {
	stamp := []byte(strconv.FormatInt(q.now().UnixMilli(), 10))
	ok, err := q.store.SetNX(ctx, LockKey, stamp, lockTTL)
	if err != nil {
		return err
	}
	if ok {
		return nil
	}
	if !retry {
		return ErrLockBusy
	}
	q.sleep(lockRetryDelay)
	ok, err = q.store.SetNX(ctx, LockKey, stamp, lockTTL)
	if err != nil {
		return err
	}
	if !ok {
		return ErrLockBusy
	}
	return nil
}

func (q *Queue) releaseLock(ctx context.Context) {
	if err := q.store.Delete(ctx, LockKey); err != nil {
		q.logger.Warn("lock release failed, waiting out TTL", "err", err.Error())
	}
}

func (q *Queue) writeRequest(ctx context.Context, req *Request) error {
	payload, err := json.Marshal(req)
	if err != nil {
		return err
	}
	return q.store.Set(ctx, RequestKey(req.ID), payload, requestTTL)
}

// loadList reads a queue list, treating absence and malformed payloads as
// empty.
func (q *Queue) loadList(ctx context.Context, key string) []string {
	raw, ok, err := q.store.Get(ctx, key)
	if err != nil {
		q.logger.Warn("list read failed", "key", key, "err", err.Error())
		return nil
	}
	if !ok {
		return nil
	}
	var l idList
	if err := json.Unmarshal(raw, &l); err != nil {
		q.logger.Warn("malformed list dropped", "key", key)
		return nil
	}
	return l.Items
}

func (q *Queue) writeList(ctx context.Context, key string, items []string) error {
	if items == nil {
		items = []string{}
	}
	payload, err := json.Marshal(idList{Items: items, UpdatedAt: rfc3339(q.now())})
	if err != nil {
		return err
	}
	return q.store.Set(ctx, key, payload, listTTL)
}

func (q *Queue) removeFrom(ctx context.Context, key, id string) error {
	items := q.loadList(ctx, key)
	kept := items[:0]
	for _, it := range items {
		if it != id {
			kept = append(kept, it)
		}
	}
	return q.writeList(ctx, key, kept)
}

// prependCapped pushes id to the head of a done list and trims it to the
// cap.
func (q *Queue) prependCapped(ctx context.Context, key, id string) error {
	items := append([]string{id}, q.loadList(ctx, key)...)
	if len(items) > doneListCap {
		items = items[:doneListCap]
	}
	return q.writeList(ctx, key, items)
}
