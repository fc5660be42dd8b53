// Package oxidb is a TCP client for oxidb-server.
//
// Protocol: each message is [4-byte little-endian length][JSON payload].
// The server responds with {"ok": true, "data": ...} or {"ok": false, "error": "..."}.
package oxidb

import (
	"context"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

// maxFrame bounds a single response; blobs travel base64-encoded inside it.
const maxFrame = 64 << 20

// Client is a single oxidb-server connection. Requests are serialized by a mutex.
type Client struct {
	conn   net.Conn
	mu     sync.Mutex
	broken atomic.Bool
}

// Connect dials host:port.
func Connect(ctx context.Context, host string, port int, timeout time.Duration) (*Client, error) {
	addr := fmt.Sprintf("%s:%d", host, port)
	d := net.Dialer{Timeout: timeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("oxidb: connect to %s: %w", addr, err)
	}
	return NewClient(conn), nil
}

// NewClient wraps an established connection.
func NewClient(conn net.Conn) *Client {
	return &Client{conn: conn}
}

// Close closes the connection.
func (c *Client) Close() error {
	c.broken.Store(true)
	return c.conn.Close()
}

// Healthy is false once an I/O error has left the stream in an unknown state.
func (c *Client) Healthy() bool {
	return !c.broken.Load()
}

// ------------------------------------------------------------------
// Low-level protocol
// ------------------------------------------------------------------

func (c *Client) sendRaw(data []byte) error {
	buf := make([]byte, 4+len(data))
	binary.LittleEndian.PutUint32(buf, uint32(len(data)))
	copy(buf[4:], data)
	_, err := c.conn.Write(buf)
	return err
}

func (c *Client) recvRaw() ([]byte, error) {
	lenBuf := make([]byte, 4)
	if _, err := io.ReadFull(c.conn, lenBuf); err != nil {
		return nil, fmt.Errorf("oxidb: read length: %w", err)
	}
	length := binary.LittleEndian.Uint32(lenBuf)
	if length > maxFrame {
		return nil, fmt.Errorf("oxidb: frame of %d bytes exceeds limit", length)
	}
	payload := make([]byte, length)
	if _, err := io.ReadFull(c.conn, payload); err != nil {
		return nil, fmt.Errorf("oxidb: read payload: %w", err)
	}
	return payload, nil
}

func (c *Client) request(ctx context.Context, payload map[string]any) (map[string]any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.broken.Load() {
		return nil, ErrClosed
	}

	jsonBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("oxidb: marshal request: %w", err)
	}

	deadline, _ := ctx.Deadline()
	_ = c.conn.SetDeadline(deadline)

	if err := c.sendRaw(jsonBytes); err != nil {
		c.broken.Store(true)
		return nil, fmt.Errorf("oxidb: send: %w", err)
	}
	respBytes, err := c.recvRaw()
	if err != nil {
		c.broken.Store(true)
		return nil, err
	}
	var resp map[string]any
	if err := json.Unmarshal(respBytes, &resp); err != nil {
		return nil, fmt.Errorf("oxidb: unmarshal response: %w", err)
	}
	return resp, nil
}

func (c *Client) checked(ctx context.Context, payload map[string]any) (any, error) {
	resp, err := c.request(ctx, payload)
	if err != nil {
		return nil, err
	}
	ok, _ := resp["ok"].(bool)
	if !ok {
		errMsg, _ := resp["error"].(string)
		if errMsg == "" {
			errMsg = "unknown error"
		}
		cmd, _ := payload["cmd"].(string)
		return nil, &Error{Cmd: cmd, Msg: errMsg}
	}
	return resp["data"], nil
}

// Ping sends a ping to the server. Returns "pong".
func (c *Client) Ping(ctx context.Context) (string, error) {
	data, err := c.checked(ctx, map[string]any{"cmd": "ping"})
	if err != nil {
		return "", err
	}
	s, _ := data.(string)
	return s, nil
}

// ------------------------------------------------------------------
// CRUD
// ------------------------------------------------------------------

// Insert inserts a single document. The response carries the new "id".
func (c *Client) Insert(ctx context.Context, collection string, doc map[string]any) (map[string]any, error) {
	data, err := c.checked(ctx, map[string]any{"cmd": "insert", "collection": collection, "doc": doc})
	if err != nil {
		return nil, err
	}
	return asMap(data), nil
}

// FindOptions holds optional parameters for Find.
type FindOptions struct {
	Sort  map[string]any
	Skip  *int
	Limit *int
}

// Find returns documents matching a query.
func (c *Client) Find(ctx context.Context, collection string, query map[string]any, opts *FindOptions) ([]map[string]any, error) {
	payload := map[string]any{"cmd": "find", "collection": collection, "query": query}
	if opts != nil {
		if opts.Sort != nil {
			payload["sort"] = opts.Sort
		}
		if opts.Skip != nil {
			payload["skip"] = *opts.Skip
		}
		if opts.Limit != nil {
			payload["limit"] = *opts.Limit
		}
	}
	data, err := c.checked(ctx, payload)
	if err != nil {
		return nil, err
	}
	return toMapSlice(data), nil
}

// FindOne returns a single document matching a query, or nil.
func (c *Client) FindOne(ctx context.Context, collection string, query map[string]any) (map[string]any, error) {
	data, err := c.checked(ctx, map[string]any{"cmd": "find_one", "collection": collection, "query": query})
	if err != nil {
		return nil, err
	}
	if data == nil {
		return nil, nil
	}
	m, _ := data.(map[string]any)
	return m, nil
}

// UpdateOne updates at most one document. The response carries "modified".
func (c *Client) UpdateOne(ctx context.Context, collection string, query, update map[string]any) (map[string]any, error) {
	data, err := c.checked(ctx, map[string]any{
		"cmd": "update_one", "collection": collection,
		"query": query, "update": update,
	})
	if err != nil {
		return nil, err
	}
	return asMap(data), nil
}

// DeleteOne deletes at most one document. The response carries "deleted".
func (c *Client) DeleteOne(ctx context.Context, collection string, query map[string]any) (map[string]any, error) {
	data, err := c.checked(ctx, map[string]any{
		"cmd": "delete_one", "collection": collection, "query": query,
	})
	if err != nil {
		return nil, err
	}
	return asMap(data), nil
}

// Delete deletes every document matching a query.
func (c *Client) Delete(ctx context.Context, collection string, query map[string]any) (map[string]any, error) {
	data, err := c.checked(ctx, map[string]any{
		"cmd": "delete", "collection": collection, "query": query,
	})
	if err != nil {
		return nil, err
	}
	return asMap(data), nil
}

// Count returns the number of documents matching a query.
func (c *Client) Count(ctx context.Context, collection string, query map[string]any) (int, error) {
	data, err := c.checked(ctx, map[string]any{
		"cmd": "count", "collection": collection, "query": query,
	})
	if err != nil {
		return 0, err
	}
	m, _ := data.(map[string]any)
	count, _ := m["count"].(float64)
	return int(count), nil
}

// ------------------------------------------------------------------
// Indexes
// ------------------------------------------------------------------

// CreateIndex creates a non-unique index on a field.
func (c *Client) CreateIndex(ctx context.Context, collection, field string) error {
	_, err := c.checked(ctx, map[string]any{"cmd": "create_index", "collection": collection, "field": field})
	return err
}

// CreateUniqueIndex creates a unique index on a field.
func (c *Client) CreateUniqueIndex(ctx context.Context, collection, field string) error {
	_, err := c.checked(ctx, map[string]any{"cmd": "create_unique_index", "collection": collection, "field": field})
	return err
}

// CreateCompositeIndex creates a composite index on multiple fields.
func (c *Client) CreateCompositeIndex(ctx context.Context, collection string, fields []string) error {
	_, err := c.checked(ctx, map[string]any{"cmd": "create_composite_index", "collection": collection, "fields": fields})
	return err
}

// CreateTextIndex creates a full-text search index on the given fields.
func (c *Client) CreateTextIndex(ctx context.Context, collection string, fields []string) error {
	_, err := c.checked(ctx, map[string]any{"cmd": "create_text_index", "collection": collection, "fields": fields})
	return err
}

// TextSearch runs a full-text query against a collection's text index.
func (c *Client) TextSearch(ctx context.Context, collection, query string, limit int) ([]map[string]any, error) {
	data, err := c.checked(ctx, map[string]any{
		"cmd": "text_search", "collection": collection, "query": query, "limit": limit,
	})
	if err != nil {
		return nil, err
	}
	return toMapSlice(data), nil
}

// ListIndexes returns metadata for all indexes on a collection.
func (c *Client) ListIndexes(ctx context.Context, collection string) ([]map[string]any, error) {
	data, err := c.checked(ctx, map[string]any{"cmd": "list_indexes", "collection": collection})
	if err != nil {
		return nil, err
	}
	return toMapSlice(data), nil
}

// Aggregate runs an aggregation pipeline ($match, $group, $sort, $limit, ...).
func (c *Client) Aggregate(ctx context.Context, collection string, pipeline []map[string]any) ([]map[string]any, error) {
	data, err := c.checked(ctx, map[string]any{"cmd": "aggregate", "collection": collection, "pipeline": pipeline})
	if err != nil {
		return nil, err
	}
	return toMapSlice(data), nil
}

// Compact compacts a collection. Returns stats with old_size, new_size, docs_kept.
func (c *Client) Compact(ctx context.Context, collection string) (map[string]any, error) {
	data, err := c.checked(ctx, map[string]any{"cmd": "compact", "collection": collection})
	if err != nil {
		return nil, err
	}
	return asMap(data), nil
}

// ------------------------------------------------------------------
// Blob storage
// ------------------------------------------------------------------

// CreateBucket creates a blob storage bucket.
func (c *Client) CreateBucket(ctx context.Context, bucket string) error {
	_, err := c.checked(ctx, map[string]any{"cmd": "create_bucket", "bucket": bucket})
	return err
}

// PutObject uploads a blob object. Data is base64-encoded on the wire.
func (c *Client) PutObject(ctx context.Context, bucket, key string, data []byte, contentType string, metadata map[string]string) (map[string]any, error) {
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	payload := map[string]any{
		"cmd":          "put_object",
		"bucket":       bucket,
		"key":          key,
		"data":         base64.StdEncoding.EncodeToString(data),
		"content_type": contentType,
	}
	if len(metadata) > 0 {
		payload["metadata"] = metadata
	}
	result, err := c.checked(ctx, payload)
	if err != nil {
		return nil, err
	}
	return asMap(result), nil
}

// GetObject downloads a blob object. Returns (data, metadata).
func (c *Client) GetObject(ctx context.Context, bucket, key string) ([]byte, map[string]any, error) {
	result, err := c.checked(ctx, map[string]any{"cmd": "get_object", "bucket": bucket, "key": key})
	if err != nil {
		return nil, nil, err
	}
	m, _ := result.(map[string]any)
	content, _ := m["content"].(string)
	decoded, err := base64.StdEncoding.DecodeString(content)
	if err != nil {
		return nil, nil, fmt.Errorf("oxidb: decode base64: %w", err)
	}
	meta, _ := m["metadata"].(map[string]any)
	return decoded, meta, nil
}

// DeleteObject deletes a blob object.
func (c *Client) DeleteObject(ctx context.Context, bucket, key string) error {
	_, err := c.checked(ctx, map[string]any{"cmd": "delete_object", "bucket": bucket, "key": key})
	return err
}

// ------------------------------------------------------------------
// Helpers
// ------------------------------------------------------------------

// asMap normalizes write responses; inside a transaction the server answers a bare status.
func asMap(data any) map[string]any {
	if m, ok := data.(map[string]any); ok {
		return m
	}
	return map[string]any{"status": data}
}

func toMapSlice(data any) []map[string]any {
	arr, _ := data.([]any)
	result := make([]map[string]any, 0, len(arr))
	for _, v := range arr {
		if m, ok := v.(map[string]any); ok {
			result = append(result, m)
		}
	}
	return result
}
