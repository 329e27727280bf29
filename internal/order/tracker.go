package order

import (
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Tracker correlates venue responses with the dispatch that caused them.
type Tracker struct {
	mu        sync.Mutex
	records   map[string]DispatchRecord
	responses []ResponseLogEntry
	log       *zap.Logger
}

func NewTracker(log *zap.Logger) *Tracker {
	if log == nil {
		log = zap.NewNop()
	}
	return &Tracker{
		records: make(map[string]DispatchRecord),
		log:     log,
	}
}

// OnDispatch opens a record for id. A second dispatch of an id that is still
// in flight is an upstream defect: it is logged and the original record kept.
func (t *Tracker) OnDispatch(id string, at time.Time) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if existing, ok := t.records[id]; ok {
		t.log.Warn("duplicate dispatch",
			zap.String("order_id", id),
			zap.Time("first_dispatched_at", existing.DispatchedAt))
		return errors.Wrapf(ErrDuplicateDispatch, "order %s", id)
	}
	t.records[id] = DispatchRecord{ID: id, DispatchedAt: at}
	return nil
}

// OnResponse retires the record for id and appends a log entry. Responses
// for ids with no record are dropped.
func (t *Tracker) OnResponse(id string, typ ResponseType, at time.Time) (ResponseLogEntry, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, ok := t.records[id]
	if !ok {
		t.log.Warn("unknown response dropped",
			zap.String("order_id", id),
			zap.String("response", string(typ)))
		return ResponseLogEntry{}, errors.Wrapf(ErrUnknownResponse, "order %s", id)
	}

	latency := at.Sub(rec.DispatchedAt)
	if latency < 0 {
		// wall clock stepped backwards between dispatch and response
		latency = 0
	}
	entry := ResponseLogEntry{
		ID:          id,
		Type:        typ,
		Latency:     latency,
		RespondedAt: at,
	}
	t.responses = append(t.responses, entry)
	delete(t.records, id)
	return entry, nil
}

// Expire drops records dispatched more than ttl before now and returns them
// oldest first. A non-positive ttl disables expiry.
func (t *Tracker) Expire(now time.Time, ttl time.Duration) []DispatchRecord {
	if ttl <= 0 {
		return nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	var expired []DispatchRecord
	for id, rec := range t.records {
		if now.Sub(rec.DispatchedAt) >= ttl {
			expired = append(expired, rec)
			delete(t.records, id)
		}
	}
	sortRecords(expired)
	return expired
}

func (t *Tracker) InFlight(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.records[id]
	return ok
}

func (t *Tracker) InFlightCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.records)
}

// Records returns the in-flight records, oldest first.
func (t *Tracker) Records() []DispatchRecord {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]DispatchRecord, 0, len(t.records))
	for _, rec := range t.records {
		out = append(out, rec)
	}
	sortRecords(out)
	return out
}

// Responses returns a copy of the response log.
func (t *Tracker) Responses() []ResponseLogEntry {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]ResponseLogEntry, len(t.responses))
	copy(out, t.responses)
	return out
}

func sortRecords(recs []DispatchRecord) {
	sort.Slice(recs, func(i, j int) bool {
		if recs[i].DispatchedAt.Equal(recs[j].DispatchedAt) {
			return recs[i].ID < recs[j].ID
		}
		return recs[i].DispatchedAt.Before(recs[j].DispatchedAt)
	})
}

func (t *Tracker) ResponseCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.responses)
}
