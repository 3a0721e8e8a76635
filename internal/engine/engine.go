// Package engine implements the record CRUD orchestration: validation,
// optimistic-concurrency versioning, uniqueness checking, write-buffer
// submission, and change broadcast.
package engine

import (
	"context"
	"crypto/rand"
	"encoding/base32"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/bridevmx/nanodb/internal/cache"
	"github.com/bridevmx/nanodb/internal/index"
	"github.com/bridevmx/nanodb/internal/keycodec"
	"github.com/bridevmx/nanodb/internal/kv"
	"github.com/bridevmx/nanodb/internal/model"
	"github.com/bridevmx/nanodb/internal/obs/errors"
	"github.com/bridevmx/nanodb/internal/obs/logging"
	"github.com/bridevmx/nanodb/internal/realtime"
	"github.com/bridevmx/nanodb/internal/schema"
	"github.com/bridevmx/nanodb/internal/writebuffer"
)

// maxScanLimit bounds an unfiltered list scan's candidate-id pass.
const maxScanLimit = 100

// maxMaterialized warns when a sort-path list materializes more than this
// many candidate records.
const maxMaterialized = 1000

const (
	maxRetries  = 3
	retryBase   = 10 * time.Millisecond
)

// Publisher is the narrow broadcast dependency the engine needs. The
// concrete realtime.Broadcaster satisfies it; the engine never imports
// realtime's subscriber machinery.
type Publisher interface {
	Publish(ev realtime.Event)
}

// Engine orchestrates every record mutation and read.
type Engine struct {
	store   kv.Store
	schemas *schema.Registry
	cache   *cache.CoalescingCache
	buffer  *writebuffer.Buffer
	pub     Publisher
	logger  *logging.Logger
}

// New constructs an Engine. publisher may be nil, in which case broadcasts
// are dropped (used by the stress harness).
func New(store kv.Store, schemas *schema.Registry, recordCache *cache.CoalescingCache, buffer *writebuffer.Buffer, publisher Publisher, logger *logging.Logger) *Engine {
	return &Engine{
		store:   store,
		schemas: schemas,
		cache:   recordCache,
		buffer:  buffer,
		logger:  logger,
		pub:     publisher,
	}
}

// ListParams controls List's filtering, sorting, and pagination.
type ListParams struct {
	Filter  map[string]any
	Sort    string // optional field name, "-" prefix = descending
	Page    int    // 1-based
	PerPage int
}

// ListResult is the paginated outcome of List.
type ListResult struct {
	Items      []model.Record
	TotalItems int
	Page       int
	PerPage    int
}

// idLength is the fixed length of a generated record id: 15 lowercase
// base32 characters, URL-safe with no padding.
const idLength = 15

func newID() string {
	var b [10]byte
	_, _ = rand.Read(b[:])
	return strings.ToLower(base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(b[:]))[:idLength]
}

// Create inserts a new record into collection. patch must not set id,
// created, updated, or _version; the engine assigns them.
func (e *Engine) Create(ctx context.Context, collection string, patch model.Record) (model.Record, error) {
	return e.retryOnVersionConflict(ctx, func() (model.Record, error) {
		return e.mutate(ctx, collection, newID(), patch, nil, false, realtime.ActionCreate)
	})
}

// Update applies patch over the current record for id. If expectedVersion
// is non-nil, the update fails with VersionConflict unless the current
// record's _version matches.
func (e *Engine) Update(ctx context.Context, collection, id string, patch model.Record, expectedVersion *int64) (model.Record, error) {
	return e.retryOnVersionConflict(ctx, func() (model.Record, error) {
		return e.mutate(ctx, collection, id, patch, expectedVersion, false, realtime.ActionUpdate)
	})
}

// Delete removes id from collection. If expectedVersion is non-nil, the
// delete fails with VersionConflict unless the current record's _version
// matches.
func (e *Engine) Delete(ctx context.Context, collection, id string, expectedVersion *int64) error {
	_, err := e.retryOnVersionConflict(ctx, func() (model.Record, error) {
		return e.mutate(ctx, collection, id, nil, expectedVersion, true, realtime.ActionDelete)
	})
	return err
}

func (e *Engine) retryOnVersionConflict(ctx context.Context, fn func() (model.Record, error)) (model.Record, error) {
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		rec, err := fn()
		if err == nil {
			return rec, nil
		}
		if !errors.Is(err, errors.ErrCodeVersionConflict) {
			return nil, err
		}
		lastErr = err
		if attempt == maxRetries {
			break
		}
		select {
		case <-time.After(retryBase << attempt):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return nil, lastErr
}

// mutate implements spec §4.6's eleven-step sequence shared by create,
// update, and delete.
func (e *Engine) mutate(ctx context.Context, collection, id string, patch model.Record, expectedVersion *int64, isDelete bool, action realtime.Action) (model.Record, error) {
	sch, found, err := e.schemas.Get(ctx, collection)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, errors.NotFound(collection, id)
	}

	old, err := e.rawGet(ctx, collection, id)
	if err != nil {
		return nil, err
	}

	if expectedVersion != nil {
		var current int64
		if old != nil {
			current = old.Version()
		}
		if current != *expectedVersion {
			return nil, errors.VersionConflict(*expectedVersion, current)
		}
	}

	if isDelete {
		if old == nil {
			return nil, errors.NotFound(collection, id)
		}
		return e.commitDelete(ctx, collection, id, old, sch)
	}

	if old == nil && action == realtime.ActionUpdate {
		return nil, errors.NotFound(collection, id)
	}

	newRecord := mergeRecord(old, patch, collection, id, action == realtime.ActionCreate)

	if issues := schema.Validate(sch, newRecord); len(issues) > 0 {
		msgs := make([]string, len(issues))
		for i, iss := range issues {
			msgs[i] = iss.String()
		}
		return nil, errors.Validation("record failed schema validation", msgs)
	}

	if err := index.CheckUniqueness(ctx, e.store, collection, newRecord, sch, id); err != nil {
		return nil, err
	}

	ops := []kv.Op{kv.PutOp(kv.Main, keycodec.Record(collection, id), encodeRecord(newRecord))}
	ops = append(ops, index.Diff(collection, id, newRecord, old, sch)...)

	cacheKey := keycodec.Record(collection, id)
	if err := e.submit(ctx, ops, []writebuffer.CacheUpdate{{Key: cacheKey, Value: newRecord}}); err != nil {
		return nil, err
	}

	sanitized := model.Sanitize(newRecord, sch)
	e.deferredBroadcast(collection, action, sanitized)
	return sanitized, nil
}

func (e *Engine) commitDelete(ctx context.Context, collection, id string, old model.Record, sch *model.Schema) (model.Record, error) {
	ops := []kv.Op{kv.DelOp(kv.Main, keycodec.Record(collection, id))}
	ops = append(ops, index.Diff(collection, id, nil, old, sch)...)

	cacheKey := keycodec.Record(collection, id)
	if err := e.submit(ctx, ops, []writebuffer.CacheUpdate{{Key: cacheKey, Value: nil}}); err != nil {
		return nil, err
	}

	sanitized := model.Sanitize(old, sch)
	e.deferredBroadcast(collection, realtime.ActionDelete, sanitized)
	return sanitized, nil
}

// submit hands ops to the write buffer and blocks until the commit
// outcome (or the optimistic enqueue ack) is known.
func (e *Engine) submit(ctx context.Context, ops []kv.Op, updates []writebuffer.CacheUpdate) error {
	done := make(chan error, 1)
	e.buffer.Add(ctx, ops, updates, func(err error) { done <- err })
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// deferredBroadcast fires the change event on its own goroutine so the
// write's return path is never blocked by a slow subscriber.
func (e *Engine) deferredBroadcast(collection string, action realtime.Action, record model.Record) {
	if e.pub == nil {
		return
	}
	go e.pub.Publish(realtime.Event{Collection: collection, Action: action, Record: record})
}

// mergeRecord composes the new record state per spec §4.6 step 6.
func mergeRecord(old model.Record, patch model.Record, collection, id string, isCreate bool) model.Record {
	now := time.Now().UTC().Format(time.RFC3339Nano)

	out := model.Record{}
	if old != nil {
		out = old.Clone()
	}
	for k, v := range patch {
		out[k] = v
	}

	out["id"] = id
	if isCreate {
		out["created"] = now
		out["updated"] = now
		out["_version"] = int64(1)
	} else {
		if old != nil {
			out["created"] = old["created"]
		}
		out["updated"] = now
		var prevVersion int64
		if old != nil {
			prevVersion = old.Version()
		}
		out["_version"] = prevVersion + 1
	}
	return out
}

// rawGet reads the unsanitized record (private fields intact), coalesced
// through single-flight. Returns (nil, nil) if absent.
func (e *Engine) rawGet(ctx context.Context, collection, id string) (model.Record, error) {
	key := keycodec.Record(collection, id)
	rec, found, err := e.cache.Get(ctx, key, func(ctx context.Context, key string) (model.Record, bool, error) {
		raw, found, err := e.store.Get(ctx, kv.Main, key)
		if err != nil {
			return nil, false, errors.Substrate("engine.get", err)
		}
		if !found {
			return nil, false, nil
		}
		rec, err := decodeRecord(raw)
		if err != nil {
			return nil, false, errors.Internal("decode record", err)
		}
		return rec, true, nil
	})
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	return rec, nil
}

// FindOneRaw looks up the single record in collection whose field equals
// value, via that field's uniqueness index, and returns it unsanitized
// (private fields intact). Used internally by the auth glue to read a
// stored password hash; never exposed to external callers. field must be
// declared unique in collection's schema.
func (e *Engine) FindOneRaw(ctx context.Context, collection, field string, value any) (model.Record, bool, error) {
	key := keycodec.Uniqueness(collection, field, keycodec.NormValue(value))
	raw, found, err := e.store.Get(ctx, kv.Indexes, key)
	if err != nil {
		return nil, false, errors.Substrate("engine.findOneRaw", err)
	}
	if !found {
		return nil, false, nil
	}
	id := index.IDFromIndexEntry(raw)
	rec, err := e.rawGet(ctx, collection, id)
	if err != nil {
		return nil, false, err
	}
	if rec == nil {
		return nil, false, nil
	}
	return rec, true, nil
}

// Get reads and sanitizes a record for an external caller.
func (e *Engine) Get(ctx context.Context, collection, id string) (model.Record, error) {
	sch, found, err := e.schemas.Get(ctx, collection)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, errors.NotFound(collection, id)
	}

	rec, err := e.rawGet(ctx, collection, id)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, errors.NotFound(collection, id)
	}
	return model.Sanitize(rec, sch), nil
}

// List implements spec §4.6's filtered, sorted, paginated list operation.
func (e *Engine) List(ctx context.Context, collection string, params ListParams) (*ListResult, error) {
	sch, found, err := e.schemas.Get(ctx, collection)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, errors.NotFound(collection, "")
	}

	if params.Page <= 0 {
		params.Page = 1
	}
	if params.PerPage <= 0 {
		params.PerPage = 30
	}

	ids, truncated, err := e.candidateIDs(ctx, collection, sch, params.Filter)
	if err != nil {
		return nil, err
	}
	if truncated && e.logger != nil {
		e.logger.Warn(ctx, "list scan hit MAX_SCAN_LIMIT guard", map[string]interface{}{"collection": collection, "limit": maxScanLimit})
	}

	if params.Sort == "" {
		return e.listFastPath(ctx, collection, sch, ids, params)
	}
	return e.listSortPath(ctx, collection, sch, ids, params)
}

// candidateIDs locates at most one indexed filter field and enumerates via
// the index prefix; otherwise falls back to a bounded primary-key scan.
func (e *Engine) candidateIDs(ctx context.Context, collection string, sch *model.Schema, filter map[string]any) ([]string, bool, error) {
	for field, val := range filter {
		prefix, high, ok := index.ListPrefixForFilter(collection, sch, field, val)
		if !ok {
			continue
		}
		entries, err := e.store.Range(ctx, kv.Indexes, kv.RangeOptions{Start: prefix, End: high})
		if err != nil {
			return nil, false, errors.Substrate("engine.list.index", err)
		}
		ids := make([]string, 0, len(entries))
		for _, ent := range entries {
			ids = append(ids, index.IDFromIndexEntry(ent.Value))
		}
		return ids, false, nil
	}

	prefix := keycodec.RecordPrefix(collection)
	entries, err := e.store.Range(ctx, kv.Main, kv.RangeOptions{
		Start: prefix,
		End:   prefix + keycodec.RangeHighSentinel,
		Limit: maxScanLimit + 1,
	})
	if err != nil {
		return nil, false, errors.Substrate("engine.list.scan", err)
	}
	truncated := len(entries) > maxScanLimit
	if truncated {
		entries = entries[:maxScanLimit]
	}
	ids := make([]string, 0, len(entries))
	for _, ent := range entries {
		rec, err := decodeRecord(ent.Value)
		if err != nil {
			continue
		}
		ids = append(ids, rec.ID())
	}
	return ids, truncated, nil
}

func (e *Engine) listFastPath(ctx context.Context, collection string, sch *model.Schema, ids []string, params ListParams) (*ListResult, error) {
	total := 0
	start := params.PerPage * (params.Page - 1)
	end := start + params.PerPage

	var page []model.Record
	for _, id := range ids {
		rec, err := e.rawGet(ctx, collection, id)
		if err != nil {
			return nil, err
		}
		if rec == nil || !matchesFilter(rec, params.Filter) {
			continue
		}
		idx := total
		total++
		if idx >= start && idx < end {
			page = append(page, model.Sanitize(rec, sch))
		}
	}

	return &ListResult{Items: page, TotalItems: total, Page: params.Page, PerPage: params.PerPage}, nil
}

func (e *Engine) listSortPath(ctx context.Context, collection string, sch *model.Schema, ids []string, params ListParams) (*ListResult, error) {
	var all []model.Record
	for _, id := range ids {
		rec, err := e.rawGet(ctx, collection, id)
		if err != nil {
			return nil, err
		}
		if rec == nil || !matchesFilter(rec, params.Filter) {
			continue
		}
		all = append(all, rec)
	}

	if len(all) > maxMaterialized && e.logger != nil {
		e.logger.Warn(ctx, "list sort path materialized a large candidate set", map[string]interface{}{"collection": collection, "count": len(all)})
	}

	field := params.Sort
	descending := false
	if strings.HasPrefix(field, "-") {
		descending = true
		field = field[1:]
	}
	sort.SliceStable(all, func(i, j int) bool {
		less := compareLoose(all[i][field], all[j][field])
		if descending {
			return !less && all[i][field] != all[j][field]
		}
		return less
	})

	total := len(all)
	start := params.PerPage * (params.Page - 1)
	end := start + params.PerPage
	if start > total {
		start = total
	}
	if end > total {
		end = total
	}

	page := make([]model.Record, 0, end-start)
	for _, rec := range all[start:end] {
		page = append(page, model.Sanitize(rec, sch))
	}

	return &ListResult{Items: page, TotalItems: total, Page: params.Page, PerPage: params.PerPage}, nil
}

// matchesFilter applies the residual in-memory filter with loose
// cross-type equality.
func matchesFilter(rec model.Record, filter map[string]any) bool {
	for field, want := range filter {
		if !looseEqual(rec[field], want) {
			return false
		}
	}
	return true
}

func looseEqual(a, b any) bool {
	if a == b {
		return true
	}
	as, aok := toString(a)
	bs, bok := toString(b)
	if aok && bok {
		return as == bs
	}
	return false
}

func toString(v any) (string, bool) {
	switch n := v.(type) {
	case string:
		return n, true
	case float64:
		return strconv.FormatFloat(n, 'f', -1, 64), true
	case int:
		return strconv.Itoa(n), true
	case int64:
		return strconv.FormatInt(n, 10), true
	case bool:
		if n {
			return "true", true
		}
		return "false", true
	default:
		return "", false
	}
}

func compareLoose(a, b any) bool {
	as, aok := toString(a)
	bs, bok := toString(b)
	if !aok || !bok {
		return false
	}
	af, aerr := strconv.ParseFloat(as, 64)
	bf, berr := strconv.ParseFloat(bs, 64)
	if aerr == nil && berr == nil {
		return af < bf
	}
	return as < bs
}
