package oxidb_test

import (
	"context"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/catalyzator-io/catalyzator-sub000/internal/oxidb"
)

// fakeServer answers each framed request with reply(request).
func fakeServer(t *testing.T, reply func(req map[string]any) map[string]any) *oxidb.Client {
	t.Helper()
	clientConn, serverConn := net.Pipe()
	t.Cleanup(func() { _ = clientConn.Close(); _ = serverConn.Close() })

	go func() {
		for {
			lenBuf := make([]byte, 4)
			if _, err := io.ReadFull(serverConn, lenBuf); err != nil {
				return
			}
			body := make([]byte, binary.LittleEndian.Uint32(lenBuf))
			if _, err := io.ReadFull(serverConn, body); err != nil {
				return
			}
			var req map[string]any
			if err := json.Unmarshal(body, &req); err != nil {
				return
			}
			out, _ := json.Marshal(reply(req))
			frame := make([]byte, 4+len(out))
			binary.LittleEndian.PutUint32(frame, uint32(len(out)))
			copy(frame[4:], out)
			if _, err := serverConn.Write(frame); err != nil {
				return
			}
		}
	}()
	return oxidb.NewClient(clientConn)
}

func TestPing(t *testing.T) {
	c := fakeServer(t, func(req map[string]any) map[string]any {
		assert.Equal(t, "ping", req["cmd"])
		return map[string]any{"ok": true, "data": "pong"}
	})

	pong, err := c.Ping(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "pong", pong)
}

func TestFindSendsOptions(t *testing.T) {
	var seen map[string]any
	c := fakeServer(t, func(req map[string]any) map[string]any {
		seen = req
		return map[string]any{"ok": true, "data": []any{
			map[string]any{"_id": 1.0, "name": "Alice"},
			"not-a-doc",
		}}
	})

	limit, skip := 5, 10
	docs, err := c.Find(context.Background(), "users", map[string]any{"name": "Alice"}, &oxidb.FindOptions{
		Sort:  map[string]any{"createdAt": -1},
		Skip:  &skip,
		Limit: &limit,
	})
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "Alice", docs[0]["name"])
	assert.Equal(t, "find", seen["cmd"])
	assert.Equal(t, 5.0, seen["limit"])
	assert.Equal(t, 10.0, seen["skip"])
}

func TestFindOneMissingReturnsNil(t *testing.T) {
	c := fakeServer(t, func(map[string]any) map[string]any {
		return map[string]any{"ok": true, "data": nil}
	})

	doc, err := c.FindOne(context.Background(), "users", map[string]any{"email": "x"})
	require.NoError(t, err)
	assert.Nil(t, doc)
}

func TestServerErrorIsTyped(t *testing.T) {
	c := fakeServer(t, func(map[string]any) map[string]any {
		return map[string]any{"ok": false, "error": "duplicate key for unique index on email"}
	})

	_, err := c.Insert(context.Background(), "users", map[string]any{"email": "a@b.c"})
	require.Error(t, err)

	var oe *oxidb.Error
	require.True(t, errors.As(err, &oe))
	assert.Equal(t, "insert", oe.Cmd)
	assert.True(t, oxidb.IsUniqueViolation(err))
	assert.True(t, c.Healthy(), "a server-side rejection keeps the stream usable")
}

func TestCountAndUpdateResponses(t *testing.T) {
	c := fakeServer(t, func(req map[string]any) map[string]any {
		switch req["cmd"] {
		case "count":
			return map[string]any{"ok": true, "data": map[string]any{"count": 3.0}}
		case "update_one":
			return map[string]any{"ok": true, "data": map[string]any{"modified": 1.0}}
		}
		return map[string]any{"ok": false, "error": "unexpected"}
	})
	ctx := context.Background()

	n, err := c.Count(ctx, "entities", map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	res, err := c.UpdateOne(ctx, "entities", map[string]any{"_path": "entities/e1"}, map[string]any{"$set": map[string]any{"name": "x"}})
	require.NoError(t, err)
	assert.Equal(t, 1.0, res["modified"])
}

func TestObjectRoundTrip(t *testing.T) {
	store := map[string]string{}
	c := fakeServer(t, func(req map[string]any) map[string]any {
		key, _ := req["key"].(string)
		switch req["cmd"] {
		case "put_object":
			assert.Equal(t, "application/octet-stream", req["content_type"])
			store[key], _ = req["data"].(string)
			return map[string]any{"ok": true, "data": map[string]any{"key": key}}
		case "get_object":
			return map[string]any{"ok": true, "data": map[string]any{
				"content":  store[key],
				"metadata": map[string]any{"content_type": "application/pdf"},
			}}
		}
		return map[string]any{"ok": false, "error": "unexpected"}
	})
	ctx := context.Background()

	_, err := c.PutObject(ctx, "files", "a/b.pdf", []byte("%PDF-1.7"), "", nil)
	require.NoError(t, err)
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte("%PDF-1.7")), store["a/b.pdf"])

	data, meta, err := c.GetObject(ctx, "files", "a/b.pdf")
	require.NoError(t, err)
	assert.Equal(t, "%PDF-1.7", string(data))
	assert.Equal(t, "application/pdf", meta["content_type"])
}

func TestDeadlineMarksClientBroken(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer serverConn.Close()
	c := oxidb.NewClient(clientConn)

	// Drain the request but never answer.
	go func() { _, _ = io.Copy(io.Discard, serverConn) }()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := c.Ping(ctx)
	require.Error(t, err)
	assert.False(t, c.Healthy())

	_, err = c.Ping(context.Background())
	assert.ErrorIs(t, err, oxidb.ErrClosed)
}

func TestCanceledContextSkipsRequest(t *testing.T) {
	c := fakeServer(t, func(map[string]any) map[string]any {
		t.Error("request must not reach the server")
		return nil
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.Count(ctx, "users", map[string]any{})
	assert.ErrorIs(t, err, context.Canceled)
}
