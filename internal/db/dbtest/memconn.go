// Package dbtest provides an in-memory db.Conn for repository and service tests.
//
// Documents round-trip through JSON on every call, so callers see the same
// shapes (float64 numbers, []any arrays) the oxidb wire protocol produces.
package dbtest

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/catalyzator-io/catalyzator-sub000/internal/db"
	"github.com/catalyzator-io/catalyzator-sub000/internal/oxidb"
)

type object struct {
	data        []byte
	contentType string
	metadata    map[string]string
}

// MemConn implements db.Conn and db.Source.
type MemConn struct {
	mu      sync.Mutex
	nextID  int
	colls   map[string][]map[string]any
	unique  map[string][]string
	indexes map[string][]string
	text    map[string][]string
	buckets map[string]map[string]object

	// FailOn makes the named command fail once with the given error.
	FailOn map[string]error
}

var _ db.Conn = (*MemConn)(nil)

// New returns an empty store.
func New() *MemConn {
	return &MemConn{
		colls:   map[string][]map[string]any{},
		unique:  map[string][]string{},
		indexes: map[string][]string{},
		text:    map[string][]string{},
		buckets: map[string]map[string]object{},
		FailOn:  map[string]error{},
	}
}

// Get implements db.Source.
func (m *MemConn) Get() db.Conn { return m }

// Docs returns a copy of every document in a collection.
func (m *MemConn) Docs(collection string) []map[string]any {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]map[string]any, 0, len(m.colls[collection]))
	for _, d := range m.colls[collection] {
		out = append(out, clone(d))
	}
	return out
}

// Objects returns the keys stored in a bucket.
func (m *MemConn) Objects(bucket string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([]string, 0, len(m.buckets[bucket]))
	for k := range m.buckets[bucket] {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (m *MemConn) fail(cmd string) error {
	if err, ok := m.FailOn[cmd]; ok {
		delete(m.FailOn, cmd)
		return err
	}
	return nil
}

func (m *MemConn) Insert(_ context.Context, collection string, doc map[string]any) (map[string]any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("insert"); err != nil {
		return nil, err
	}
	d := clone(doc)
	if err := m.checkUnique(collection, d, nil); err != nil {
		return nil, err
	}
	m.nextID++
	d["_id"] = float64(m.nextID)
	m.colls[collection] = append(m.colls[collection], d)
	return map[string]any{"id": float64(m.nextID)}, nil
}

func (m *MemConn) Find(_ context.Context, collection string, query map[string]any, opts *oxidb.FindOptions) ([]map[string]any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("find"); err != nil {
		return nil, err
	}
	var out []map[string]any
	for _, d := range m.colls[collection] {
		if matches(d, query) {
			out = append(out, clone(d))
		}
	}
	if opts != nil {
		sortDocs(out, opts.Sort)
		if opts.Skip != nil {
			if *opts.Skip >= len(out) {
				out = nil
			} else {
				out = out[*opts.Skip:]
			}
		}
		if opts.Limit != nil && *opts.Limit > 0 && *opts.Limit < len(out) {
			out = out[:*opts.Limit]
		}
	}
	if out == nil {
		out = []map[string]any{}
	}
	return out, nil
}

func (m *MemConn) FindOne(ctx context.Context, collection string, query map[string]any) (map[string]any, error) {
	m.mu.Lock()
	if err := m.fail("find_one"); err != nil {
		m.mu.Unlock()
		return nil, err
	}
	m.mu.Unlock()
	docs, err := m.Find(ctx, collection, query, nil)
	if err != nil || len(docs) == 0 {
		return nil, err
	}
	return docs[0], nil
}

func (m *MemConn) UpdateOne(_ context.Context, collection string, query, update map[string]any) (map[string]any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("update_one"); err != nil {
		return nil, err
	}
	for i, d := range m.colls[collection] {
		if !matches(d, query) {
			continue
		}
		next := clone(d)
		if set, ok := update["$set"].(map[string]any); ok {
			for k, v := range clone(set) {
				assign(next, k, v)
			}
		}
		if unset, ok := update["$unset"].(map[string]any); ok {
			for k := range unset {
				remove(next, k)
			}
		}
		if err := m.checkUnique(collection, next, d); err != nil {
			return nil, err
		}
		m.colls[collection][i] = next
		return map[string]any{"modified": 1.0}, nil
	}
	return map[string]any{"modified": 0.0}, nil
}

func (m *MemConn) DeleteOne(_ context.Context, collection string, query map[string]any) (map[string]any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("delete_one"); err != nil {
		return nil, err
	}
	docs := m.colls[collection]
	for i, d := range docs {
		if matches(d, query) {
			m.colls[collection] = append(docs[:i:i], docs[i+1:]...)
			return map[string]any{"deleted": 1.0}, nil
		}
	}
	return map[string]any{"deleted": 0.0}, nil
}

func (m *MemConn) Delete(_ context.Context, collection string, query map[string]any) (map[string]any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("delete"); err != nil {
		return nil, err
	}
	kept := m.colls[collection][:0:0]
	deleted := 0
	for _, d := range m.colls[collection] {
		if matches(d, query) {
			deleted++
			continue
		}
		kept = append(kept, d)
	}
	m.colls[collection] = kept
	return map[string]any{"deleted": float64(deleted)}, nil
}

func (m *MemConn) Count(_ context.Context, collection string, query map[string]any) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("count"); err != nil {
		return 0, err
	}
	n := 0
	for _, d := range m.colls[collection] {
		if matches(d, query) {
			n++
		}
	}
	return n, nil
}

func (m *MemConn) CreateIndex(_ context.Context, collection, field string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.indexes[collection] = append(m.indexes[collection], field)
	return nil
}

func (m *MemConn) CreateUniqueIndex(_ context.Context, collection, field string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unique[collection] = append(m.unique[collection], field)
	m.indexes[collection] = append(m.indexes[collection], field)
	return nil
}

func (m *MemConn) CreateCompositeIndex(_ context.Context, collection string, fields []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.indexes[collection] = append(m.indexes[collection], strings.Join(fields, "+"))
	return nil
}

func (m *MemConn) CreateTextIndex(_ context.Context, collection string, fields []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.text[collection] = append(m.text[collection], fields...)
	m.indexes[collection] = append(m.indexes[collection], "text:"+strings.Join(fields, "+"))
	return nil
}

// TextSearch matches documents whose text-indexed fields contain every query word.
func (m *MemConn) TextSearch(_ context.Context, collection, query string, limit int) ([]map[string]any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("text_search"); err != nil {
		return nil, err
	}
	words := strings.Fields(strings.ToLower(query))
	out := []map[string]any{}
	for _, d := range m.colls[collection] {
		var sb strings.Builder
		for _, f := range m.text[collection] {
			sb.WriteString(strings.ToLower(fmt.Sprint(lookup(d, f))))
			sb.WriteByte(' ')
		}
		hay := sb.String()
		hit := len(words) > 0
		for _, w := range words {
			if !strings.Contains(hay, w) {
				hit = false
				break
			}
		}
		if hit {
			out = append(out, clone(d))
		}
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// Aggregate supports $match, $group (with $sum), $sort and $limit.
func (m *MemConn) Aggregate(_ context.Context, collection string, pipeline []map[string]any) ([]map[string]any, error) {
	m.mu.Lock()
	if err := m.fail("aggregate"); err != nil {
		m.mu.Unlock()
		return nil, err
	}
	docs := make([]map[string]any, 0, len(m.colls[collection]))
	for _, d := range m.colls[collection] {
		docs = append(docs, clone(d))
	}
	m.mu.Unlock()

	for _, stage := range pipeline {
		stage = clone(stage)
		switch {
		case stage["$match"] != nil:
			q, _ := stage["$match"].(map[string]any)
			kept := docs[:0:0]
			for _, d := range docs {
				if matches(d, q) {
					kept = append(kept, d)
				}
			}
			docs = kept
		case stage["$group"] != nil:
			docs = group(docs, stage["$group"].(map[string]any))
		case stage["$sort"] != nil:
			sortDocs(docs, stage["$sort"].(map[string]any))
		case stage["$limit"] != nil:
			if n := int(toFloat(stage["$limit"])); n < len(docs) {
				docs = docs[:n]
			}
		default:
			return nil, &oxidb.Error{Cmd: "aggregate", Msg: "unsupported stage"}
		}
	}
	return docs, nil
}

func sortDocs(docs []map[string]any, stage map[string]any) {
	for field, dir := range stage {
		desc := toFloat(dir) < 0
		sort.SliceStable(docs, func(i, j int) bool {
			c := compare(lookup(docs[i], field), lookup(docs[j], field))
			if desc {
				return c > 0
			}
			return c < 0
		})
	}
}

func group(docs []map[string]any, stage map[string]any) []map[string]any {
	keyExpr, _ := stage["_id"].(string)
	var order []string
	groups := map[string]map[string]any{}
	for _, d := range docs {
		var key any
		if strings.HasPrefix(keyExpr, "$") {
			key = lookup(d, keyExpr[1:])
		}
		k := fmt.Sprint(key)
		g, ok := groups[k]
		if !ok {
			g = map[string]any{"_id": key}
			groups[k] = g
			order = append(order, k)
		}
		for out, acc := range stage {
			if out == "_id" {
				continue
			}
			ops, _ := acc.(map[string]any)
			if arg, ok := ops["$sum"]; ok {
				var add float64
				if field, ok := arg.(string); ok && strings.HasPrefix(field, "$") {
					add = toFloat(lookup(d, field[1:]))
				} else {
					add = toFloat(arg)
				}
				cur, _ := g[out].(float64)
				g[out] = cur + add
			}
		}
	}
	out := make([]map[string]any, 0, len(order))
	for _, k := range order {
		out = append(out, groups[k])
	}
	return out
}

func (m *MemConn) ListIndexes(_ context.Context, collection string) ([]map[string]any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]map[string]any, 0, len(m.indexes[collection]))
	for _, f := range m.indexes[collection] {
		out = append(out, map[string]any{"field": f})
	}
	return out, nil
}

func (m *MemConn) Compact(_ context.Context, collection string) (map[string]any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return map[string]any{"docs_kept": float64(len(m.colls[collection]))}, nil
}

func (m *MemConn) CreateBucket(_ context.Context, bucket string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.buckets[bucket] == nil {
		m.buckets[bucket] = map[string]object{}
	}
	return nil
}

func (m *MemConn) PutObject(_ context.Context, bucket, key string, data []byte, contentType string, metadata map[string]string) (map[string]any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("put_object"); err != nil {
		return nil, err
	}
	if m.buckets[bucket] == nil {
		m.buckets[bucket] = map[string]object{}
	}
	m.buckets[bucket][key] = object{data: append([]byte(nil), data...), contentType: contentType, metadata: metadata}
	return map[string]any{"key": key, "size": float64(len(data))}, nil
}

func (m *MemConn) GetObject(_ context.Context, bucket, key string) ([]byte, map[string]any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	obj, ok := m.buckets[bucket][key]
	if !ok {
		return nil, nil, &oxidb.Error{Cmd: "get_object", Msg: "object not found"}
	}
	return append([]byte(nil), obj.data...), map[string]any{"content_type": obj.contentType}, nil
}

func (m *MemConn) DeleteObject(_ context.Context, bucket, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("delete_object"); err != nil {
		return err
	}
	delete(m.buckets[bucket], key)
	return nil
}

func (m *MemConn) checkUnique(collection string, doc, self map[string]any) error {
	for _, field := range m.unique[collection] {
		v := lookup(doc, field)
		if v == nil {
			continue
		}
		for _, other := range m.colls[collection] {
			if self != nil && other["_id"] == self["_id"] {
				continue
			}
			if compare(lookup(other, field), v) == 0 {
				return &oxidb.Error{Cmd: "insert", Msg: fmt.Sprintf("duplicate key for unique index on %s", field)}
			}
		}
	}
	return nil
}

func matches(doc, query map[string]any) bool {
	for key, cond := range query {
		if key == "$and" {
			list, _ := cond.([]any)
			for _, sub := range list {
				q, _ := sub.(map[string]any)
				if !matches(doc, q) {
					return false
				}
			}
			continue
		}
		if !matchValue(lookup(doc, key), cond) {
			return false
		}
	}
	return true
}

func matchValue(v, cond any) bool {
	ops, ok := cond.(map[string]any)
	if !ok || !isOperatorMap(ops) {
		return compare(v, normalize(cond)) == 0
	}
	for op, arg := range ops {
		arg = normalize(arg)
		switch op {
		case "$gt":
			if v == nil || compare(v, arg) <= 0 {
				return false
			}
		case "$gte":
			if v == nil || compare(v, arg) < 0 {
				return false
			}
		case "$lt":
			if v == nil || compare(v, arg) >= 0 {
				return false
			}
		case "$lte":
			if v == nil || compare(v, arg) > 0 {
				return false
			}
		case "$ne":
			if compare(v, arg) == 0 {
				return false
			}
		case "$in":
			list, _ := arg.([]any)
			found := false
			for _, item := range list {
				if compare(v, item) == 0 {
					found = true
					break
				}
			}
			if !found {
				return false
			}
		}
	}
	return true
}

func isOperatorMap(m map[string]any) bool {
	for k := range m {
		if !strings.HasPrefix(k, "$") {
			return false
		}
	}
	return len(m) > 0
}

func lookup(doc map[string]any, path string) any {
	var cur any = doc
	for _, part := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur = m[part]
	}
	return cur
}

func assign(doc map[string]any, path string, v any) {
	parts := strings.Split(path, ".")
	cur := doc
	for _, part := range parts[:len(parts)-1] {
		next, ok := cur[part].(map[string]any)
		if !ok {
			next = map[string]any{}
			cur[part] = next
		}
		cur = next
	}
	cur[parts[len(parts)-1]] = v
}

func remove(doc map[string]any, path string) {
	parts := strings.Split(path, ".")
	cur := doc
	for _, part := range parts[:len(parts)-1] {
		next, ok := cur[part].(map[string]any)
		if !ok {
			return
		}
		cur = next
	}
	delete(cur, parts[len(parts)-1])
}

func compare(a, b any) int {
	af, aNum := a.(float64)
	bf, bNum := b.(float64)
	if aNum && bNum {
		switch {
		case af < bf:
			return -1
		case af > bf:
			return 1
		}
		return 0
	}
	as, bs := fmt.Sprint(a), fmt.Sprint(b)
	if a == nil && b == nil {
		return 0
	}
	if a == nil || b == nil {
		if a == nil {
			return -1
		}
		return 1
	}
	return strings.Compare(as, bs)
}

func toFloat(v any) float64 {
	switch n := v.(type) {
	case int:
		return float64(n)
	case float64:
		return n
	}
	return 0
}

func normalize(v any) any {
	data, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return v
	}
	return out
}

func clone(doc map[string]any) map[string]any {
	data, _ := json.Marshal(doc)
	var out map[string]any
	_ = json.Unmarshal(data, &out)
	if out == nil {
		out = map[string]any{}
	}
	return out
}
