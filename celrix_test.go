package celrix

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/celrix/celrix/client"
	"github.com/celrix/celrix/protocol"
)

// startServer runs a server on an ephemeral port and tears it down with
// the test.
func startServer(t *testing.T, optFns ...Option) *Server {
	t.Helper()

	opts := append([]Option{
		WithVectorDimension(0),
		WithPinning(false),
		WithKVWorkers(2),
		WithVectorWorkers(2),
	}, optFns...)

	srv := New("127.0.0.1:0", opts...)
	require.NoError(t, srv.Start(context.Background()))
	t.Cleanup(func() { _ = srv.Close() })
	return srv
}

func dialClient(t *testing.T, srv *Server) *client.Client {
	t.Helper()
	c, err := client.Connect(srv.Addr().String())
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestPingPong(t *testing.T) {
	srv := startServer(t)

	// Raw frames so the echoed request id is visible.
	nc, err := net.Dial("tcp", srv.Addr().String())
	require.NoError(t, err)
	defer nc.Close()

	bw := bufio.NewWriter(nc)
	require.NoError(t, protocol.WriteFrame(bw, protocol.NewFrame(protocol.OpPing, 42, nil)))
	require.NoError(t, bw.Flush())

	resp, err := protocol.ReadFrame(nc, 0)
	require.NoError(t, err)
	assert.Equal(t, protocol.OpPong, resp.Opcode)
	assert.Equal(t, uint64(42), resp.RequestID)
	assert.Empty(t, resp.Payload)
}

func TestSetThenGet(t *testing.T) {
	srv := startServer(t)
	c := dialClient(t, srv)

	require.NoError(t, c.Set("hello", []byte("world"), 0))

	v, ok, err := c.Get("hello")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("world"), v)

	_, ok, err = c.Get("missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestTTLExpiry(t *testing.T) {
	srv := startServer(t)
	c := dialClient(t, srv)

	require.NoError(t, c.Set("x", []byte("y"), time.Second))

	v, ok, err := c.Get("x")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("y"), v)

	time.Sleep(1200 * time.Millisecond)

	_, ok, err = c.Get("x")
	require.NoError(t, err)
	assert.False(t, ok, "expired entry must answer Nil")
}

func TestDelSemantics(t *testing.T) {
	srv := startServer(t)
	c := dialClient(t, srv)

	require.NoError(t, c.Set("a", []byte("1"), 0))

	removed, err := c.Del("a")
	require.NoError(t, err)
	assert.True(t, removed)

	removed, err = c.Del("a")
	require.NoError(t, err)
	assert.False(t, removed)

	_, ok, err := c.Get("a")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestExists(t *testing.T) {
	srv := startServer(t)
	c := dialClient(t, srv)

	ok, err := c.Exists("k")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Set("k", []byte("v"), 0))
	ok, err = c.Exists("k")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestVectorRoundTrip(t *testing.T) {
	srv := startServer(t)
	c := dialClient(t, srv)

	v1 := make([]float32, 1536)
	v2 := make([]float32, 1536)
	for i := range v1 {
		v1[i] = 0.1
		v2[i] = 0.9
	}
	// Make the directions differ so ranking is meaningful.
	v2[0] = -0.9

	require.NoError(t, c.VAdd("v1", v1))
	require.NoError(t, c.VAdd("v2", v2))

	keys, err := c.VSearch(v1, 2)
	require.NoError(t, err)
	require.Len(t, keys, 2)
	assert.Equal(t, "v1", keys[0])
	assert.Equal(t, "v2", keys[1])
}

func TestDimensionMismatch(t *testing.T) {
	srv := startServer(t)
	c := dialClient(t, srv)

	require.NoError(t, c.VAdd("v1", make([]float32, 1536)))

	_, err := c.VSearch(make([]float32, 768), 1)
	var serr *client.ServerError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, "DimensionMismatch", serr.Msg)

	// The connection survives a semantic error.
	require.NoError(t, c.Ping())
}

func TestBadMagicClosesConnection(t *testing.T) {
	srv := startServer(t)

	nc, err := net.Dial("tcp", srv.Addr().String())
	require.NoError(t, err)
	defer nc.Close()

	junk := make([]byte, protocol.HeaderSize)
	copy(junk, "XXXX")
	_, err = nc.Write(junk)
	require.NoError(t, err)

	require.NoError(t, nc.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, err = nc.Read(make([]byte, 1))
	assert.ErrorIs(t, err, io.EOF, "server must close without responding")
}

func TestBadVersionClosesConnection(t *testing.T) {
	srv := startServer(t)

	nc, err := net.Dial("tcp", srv.Addr().String())
	require.NoError(t, err)
	defer nc.Close()

	wire := protocol.NewFrame(protocol.OpPing, 1, nil).AppendEncode(nil)
	wire[4] = 9
	_, err = nc.Write(wire)
	require.NoError(t, err)

	require.NoError(t, nc.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, err = nc.Read(make([]byte, 1))
	assert.ErrorIs(t, err, io.EOF)
}

func TestMalformedPayloadKeepsConnection(t *testing.T) {
	srv := startServer(t)

	nc, err := net.Dial("tcp", srv.Addr().String())
	require.NoError(t, err)
	defer nc.Close()

	// A GET with a truncated key is a per-frame error, not a framing error.
	_, err = nc.Write(protocol.NewFrame(protocol.OpGet, 5, []byte{0, 0, 0, 9}).AppendEncode(nil))
	require.NoError(t, err)

	resp, err := protocol.ReadFrame(nc, 0)
	require.NoError(t, err)
	assert.Equal(t, protocol.OpError, resp.Opcode)
	assert.Equal(t, uint64(5), resp.RequestID)
	assert.Equal(t, "MalformedPayload", string(resp.Payload))

	// Still serving.
	_, err = nc.Write(protocol.NewFrame(protocol.OpPing, 6, nil).AppendEncode(nil))
	require.NoError(t, err)
	resp, err = protocol.ReadFrame(nc, 0)
	require.NoError(t, err)
	assert.Equal(t, protocol.OpPong, resp.Opcode)
}

func TestUnknownOpcodeKeepsConnection(t *testing.T) {
	srv := startServer(t)

	nc, err := net.Dial("tcp", srv.Addr().String())
	require.NoError(t, err)
	defer nc.Close()

	_, err = nc.Write(protocol.NewFrame(protocol.Opcode(0x7F), 9, nil).AppendEncode(nil))
	require.NoError(t, err)

	resp, err := protocol.ReadFrame(nc, 0)
	require.NoError(t, err)
	assert.Equal(t, protocol.OpError, resp.Opcode)
	assert.Equal(t, "UnknownOpcode", string(resp.Payload))
}

// TestPipelinedRequestIDEcho pipelines several requests on one connection
// and checks every response echoes an issued id exactly once, whatever the
// arrival order.
func TestPipelinedRequestIDEcho(t *testing.T) {
	srv := startServer(t)

	nc, err := net.Dial("tcp", srv.Addr().String())
	require.NoError(t, err)
	defer nc.Close()

	const n = 50
	bw := bufio.NewWriter(nc)
	for i := uint64(1); i <= n; i++ {
		key := []byte(fmt.Sprintf("key%d", i))
		cmd := &protocol.Command{Op: protocol.OpSet, Key: key, Value: key}
		require.NoError(t, protocol.WriteFrame(bw, protocol.NewFrame(protocol.OpSet, i, cmd.EncodePayload())))
	}
	require.NoError(t, bw.Flush())

	seen := map[uint64]bool{}
	for i := 0; i < n; i++ {
		resp, err := protocol.ReadFrame(nc, 0)
		require.NoError(t, err)
		assert.Equal(t, protocol.OpOk, resp.Opcode)
		require.False(t, seen[resp.RequestID], "duplicate response for id %d", resp.RequestID)
		require.GreaterOrEqual(t, resp.RequestID, uint64(1))
		require.LessOrEqual(t, resp.RequestID, uint64(n))
		seen[resp.RequestID] = true
	}
	assert.Len(t, seen, n)
}

func TestExtendedOps(t *testing.T) {
	srv := startServer(t)
	c := dialClient(t, srv)

	require.NoError(t, c.MSet(map[string][]byte{
		"user:1": []byte("alice"),
		"user:2": []byte("bob"),
	}))

	values, err := c.MGet("user:1", "user:2", "user:3")
	require.NoError(t, err)
	require.Len(t, values, 3)
	assert.Equal(t, []byte("alice"), values[0])
	assert.Equal(t, []byte("bob"), values[1])
	assert.Nil(t, values[2])

	n, err := c.Incr("hits")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = c.IncrBy("hits", 9)
	require.NoError(t, err)
	assert.Equal(t, int64(10), n)

	n, err = c.DecrBy("hits", 4)
	require.NoError(t, err)
	assert.Equal(t, int64(6), n)

	n, err = c.Decr("hits")
	require.NoError(t, err)
	assert.Equal(t, int64(5), n)

	// INCR against a non-integer value is a semantic error.
	_, err = c.Incr("user:1")
	var serr *client.ServerError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, "value is not an integer", serr.Msg)

	keys, err := c.Keys("user:*")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"user:1", "user:2"}, keys)

	var scanned []string
	cursor := uint64(0)
	for {
		page, next, err := c.Scan(cursor, 100, "user:*")
		require.NoError(t, err)
		scanned = append(scanned, page...)
		if next == 0 {
			break
		}
		cursor = next
	}
	assert.ElementsMatch(t, []string{"user:1", "user:2"}, scanned)

	removed, err := c.MDel("user:1", "user:2", "user:3")
	require.NoError(t, err)
	assert.Equal(t, int64(2), removed)
}

func TestKeyTooLarge(t *testing.T) {
	srv := startServer(t)
	c := dialClient(t, srv)

	err := c.Set(string(make([]byte, protocol.MaxKeySize+1)), []byte("v"), 0)
	var serr *client.ServerError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, "KeyTooLarge", serr.Msg)
}

func TestValueTooLarge(t *testing.T) {
	srv := startServer(t, WithMaxValueSize(8))
	c := dialClient(t, srv)

	err := c.Set("k", make([]byte, 9), 0)
	var serr *client.ServerError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, "ValueTooLarge", serr.Msg)
}

// TestLaneIsolation keeps the vector lane busy with large searches and
// checks KV operations on another connection still answer promptly.
func TestLaneIsolation(t *testing.T) {
	srv := startServer(t, WithVectorWorkers(1))

	vc := dialClient(t, srv)
	const dim = 64
	vec := make([]float32, dim)
	for i := range vec {
		vec[i] = float32(i%7) - 3
	}
	for i := 0; i < 20000; i++ {
		require.NoError(t, vc.VAdd(fmt.Sprintf("v%d", i), vec))
	}

	// Saturate the single vector worker from a dedicated connection.
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 25; i++ {
			if _, err := vc.VSearch(vec, 10); err != nil {
				return
			}
		}
	}()

	kc := dialClient(t, srv)
	require.NoError(t, kc.Set("probe", []byte("x"), 0))

	var worst time.Duration
	for i := 0; i < 200; i++ {
		start := time.Now()
		_, ok, err := kc.Get("probe")
		require.NoError(t, err)
		require.True(t, ok)
		if d := time.Since(start); d > worst {
			worst = d
		}
	}
	wg.Wait()

	assert.Less(t, worst, 250*time.Millisecond,
		"KV lane stalled behind vector compute (worst GET took %v)", worst)
}

func TestDrainOnClientFIN(t *testing.T) {
	srv := startServer(t)

	nc, err := net.Dial("tcp", srv.Addr().String())
	require.NoError(t, err)

	// Pipeline work, then half-close the write side immediately. The
	// server must still answer everything in flight before closing.
	const n = 20
	bw := bufio.NewWriter(nc)
	for i := uint64(1); i <= n; i++ {
		cmd := &protocol.Command{Op: protocol.OpSet, Key: []byte(fmt.Sprintf("d%d", i)), Value: []byte("v")}
		require.NoError(t, protocol.WriteFrame(bw, protocol.NewFrame(protocol.OpSet, i, cmd.EncodePayload())))
	}
	require.NoError(t, bw.Flush())
	require.NoError(t, nc.(*net.TCPConn).CloseWrite())

	require.NoError(t, nc.SetReadDeadline(time.Now().Add(5*time.Second)))
	got := 0
	for {
		resp, err := protocol.ReadFrame(nc, 0)
		if err != nil {
			assert.ErrorIs(t, err, io.EOF)
			break
		}
		assert.Equal(t, protocol.OpOk, resp.Opcode)
		got++
	}
	assert.Equal(t, n, got, "every in-flight request gets exactly one response before close")
	_ = nc.Close()
}

func TestHealthAndMetrics(t *testing.T) {
	srv := startServer(t)
	c := dialClient(t, srv)

	require.NoError(t, c.Ping())
	require.NoError(t, c.Set("k", []byte("v"), 0))
	_, _, err := c.Get("k")
	require.NoError(t, err)
	_, err = c.VSearch([]float32{1}, 1)
	require.NoError(t, err)

	h := srv.Health()
	assert.Equal(t, "ok", h.Status)
	assert.Equal(t, int64(1), h.Connections)
	assert.Equal(t, 1, h.StoreKeys)

	snap := srv.MetricsSnapshot()
	byOp := map[string]OpCount{}
	for _, oc := range snap.Ops {
		byOp[oc.Op] = oc
	}
	assert.Equal(t, uint64(1), byOp["PING"].Count)
	assert.Equal(t, uint64(1), byOp["SET"].Count)
	assert.Equal(t, uint64(1), byOp["GET"].Count)
	assert.Equal(t, uint64(1), byOp["VSEARCH"].Count)
	assert.Zero(t, byOp["GET"].Errors)
	assert.NotZero(t, snap.KVLatency.Count)
	assert.NotZero(t, snap.VectorLatency.Count)
}
