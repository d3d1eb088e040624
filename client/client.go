// Package client is a synchronous Go client for the VCP protocol.
//
// It issues one request at a time and correlates the response by request
// id. The server may interleave responses from other in-flight work on
// pipelined connections; this client never pipelines, so every response it
// reads answers the request it just sent.
package client

import (
	"bufio"
	"fmt"
	"net"
	"time"

	"github.com/celrix/celrix/protocol"
)

// ServerError is an Error response surfaced as a Go error, carrying the
// server's message verbatim.
type ServerError struct {
	Msg string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("server error: %s", e.Msg)
}

// Client is a single-connection VCP client.
// It is not safe for concurrent use; open one client per goroutine.
type Client struct {
	nc        net.Conn
	br        *bufio.Reader
	bw        *bufio.Writer
	nextReqID uint64
}

// Connect dials the server at addr.
func Connect(addr string) (*Client, error) {
	nc, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, err
	}
	return &Client{
		nc:        nc,
		br:        bufio.NewReader(nc),
		bw:        bufio.NewWriter(nc),
		nextReqID: 1,
	}, nil
}

// Close closes the connection.
func (c *Client) Close() error {
	return c.nc.Close()
}

// roundTrip sends one command frame and reads its response.
func (c *Client) roundTrip(cmd *protocol.Command) (*protocol.Response, error) {
	id := c.nextReqID
	c.nextReqID++

	f := protocol.NewFrame(cmd.Op, id, cmd.EncodePayload())
	if err := protocol.WriteFrame(c.bw, f); err != nil {
		return nil, err
	}
	if err := c.bw.Flush(); err != nil {
		return nil, err
	}

	rf, err := protocol.ReadFrame(c.br, 0)
	if err != nil {
		return nil, err
	}
	if rf.RequestID != id {
		return nil, fmt.Errorf("response id %d does not match request id %d", rf.RequestID, id)
	}
	return protocol.ParseResponse(rf)
}

func (c *Client) roundTripChecked(cmd *protocol.Command) (*protocol.Response, error) {
	resp, err := c.roundTrip(cmd)
	if err != nil {
		return nil, err
	}
	if resp.Kind == protocol.RespError {
		return nil, &ServerError{Msg: resp.Msg}
	}
	return resp, nil
}

// Ping checks server liveness.
func (c *Client) Ping() error {
	resp, err := c.roundTripChecked(&protocol.Command{Op: protocol.OpPing})
	if err != nil {
		return err
	}
	if resp.Kind != protocol.RespPong {
		return fmt.Errorf("unexpected response for PING: %v", resp.Kind)
	}
	return nil
}

// Set stores value under key. ttl = 0 means no expiry.
func (c *Client) Set(key string, value []byte, ttl time.Duration) error {
	resp, err := c.roundTripChecked(&protocol.Command{
		Op:    protocol.OpSet,
		Key:   []byte(key),
		Value: value,
		TTL:   uint64(ttl / time.Second),
	})
	if err != nil {
		return err
	}
	if resp.Kind != protocol.RespOk {
		return fmt.Errorf("unexpected response for SET: %v", resp.Kind)
	}
	return nil
}

// Get fetches the value stored under key. The second return is false when
// the key is absent.
func (c *Client) Get(key string) ([]byte, bool, error) {
	resp, err := c.roundTripChecked(&protocol.Command{Op: protocol.OpGet, Key: []byte(key)})
	if err != nil {
		return nil, false, err
	}
	switch resp.Kind {
	case protocol.RespValue:
		return resp.Bytes, true, nil
	case protocol.RespNil:
		return nil, false, nil
	default:
		return nil, false, fmt.Errorf("unexpected response for GET: %v", resp.Kind)
	}
}

// Del removes key and reports whether it existed.
func (c *Client) Del(key string) (bool, error) {
	n, err := c.integerOp(protocol.OpDel, key)
	return n == 1, err
}

// Exists reports whether key holds a live entry.
func (c *Client) Exists(key string) (bool, error) {
	n, err := c.integerOp(protocol.OpExists, key)
	return n == 1, err
}

func (c *Client) integerOp(op protocol.Opcode, key string) (int64, error) {
	resp, err := c.roundTripChecked(&protocol.Command{Op: op, Key: []byte(key)})
	if err != nil {
		return 0, err
	}
	if resp.Kind != protocol.RespInteger {
		return 0, fmt.Errorf("unexpected response for %s: %v", op, resp.Kind)
	}
	return resp.Int, nil
}

// MGet fetches several keys at once. Missing keys yield nil entries.
func (c *Client) MGet(keys ...string) ([][]byte, error) {
	bkeys := make([][]byte, len(keys))
	for i, k := range keys {
		bkeys[i] = []byte(k)
	}
	resp, err := c.roundTripChecked(&protocol.Command{Op: protocol.OpMGet, Keys: bkeys})
	if err != nil {
		return nil, err
	}
	if resp.Kind != protocol.RespArray {
		return nil, fmt.Errorf("unexpected response for MGET: %v", resp.Kind)
	}
	values := make([][]byte, len(resp.Items))
	for i, item := range resp.Items {
		if len(item) == 0 {
			values[i] = nil
		} else {
			values[i] = item
		}
	}
	return values, nil
}

// MSet stores several key-value pairs without TTL.
func (c *Client) MSet(pairs map[string][]byte) error {
	cmd := &protocol.Command{Op: protocol.OpMSet}
	for k, v := range pairs {
		cmd.Pairs = append(cmd.Pairs, protocol.KV{Key: []byte(k), Value: v})
	}
	resp, err := c.roundTripChecked(cmd)
	if err != nil {
		return err
	}
	if resp.Kind != protocol.RespOk {
		return fmt.Errorf("unexpected response for MSET: %v", resp.Kind)
	}
	return nil
}

// MDel removes several keys and returns how many existed.
func (c *Client) MDel(keys ...string) (int64, error) {
	bkeys := make([][]byte, len(keys))
	for i, k := range keys {
		bkeys[i] = []byte(k)
	}
	resp, err := c.roundTripChecked(&protocol.Command{Op: protocol.OpMDel, Keys: bkeys})
	if err != nil {
		return 0, err
	}
	if resp.Kind != protocol.RespInteger {
		return 0, fmt.Errorf("unexpected response for MDEL: %v", resp.Kind)
	}
	return resp.Int, nil
}

// Incr adds one to the integer at key and returns the new value.
func (c *Client) Incr(key string) (int64, error) {
	return c.integerOp(protocol.OpIncr, key)
}

// Decr subtracts one from the integer at key and returns the new value.
func (c *Client) Decr(key string) (int64, error) {
	return c.integerOp(protocol.OpDecr, key)
}

// IncrBy adds delta to the integer at key and returns the new value.
func (c *Client) IncrBy(key string, delta int64) (int64, error) {
	return c.deltaOp(protocol.OpIncrBy, key, delta)
}

// DecrBy subtracts delta from the integer at key and returns the new value.
func (c *Client) DecrBy(key string, delta int64) (int64, error) {
	return c.deltaOp(protocol.OpDecrBy, key, delta)
}

func (c *Client) deltaOp(op protocol.Opcode, key string, delta int64) (int64, error) {
	resp, err := c.roundTripChecked(&protocol.Command{Op: op, Key: []byte(key), Delta: delta})
	if err != nil {
		return 0, err
	}
	if resp.Kind != protocol.RespInteger {
		return 0, fmt.Errorf("unexpected response for %s: %v", op, resp.Kind)
	}
	return resp.Int, nil
}

// Scan returns one page of keys and the cursor for the next call.
// Start with cursor 0; a returned cursor of 0 ends the walk. pattern ""
// matches everything.
func (c *Client) Scan(cursor uint64, count int, pattern string) ([]string, uint64, error) {
	cmd := &protocol.Command{Op: protocol.OpScan, Cursor: cursor, Count: uint32(count)}
	if pattern != "" {
		cmd.Pattern = []byte(pattern)
	}
	resp, err := c.roundTripChecked(cmd)
	if err != nil {
		return nil, 0, err
	}
	if resp.Kind != protocol.RespArray || len(resp.Items) < 1 {
		return nil, 0, fmt.Errorf("unexpected response for SCAN: %v", resp.Kind)
	}
	var next uint64
	if _, err := fmt.Sscanf(string(resp.Items[0]), "%d", &next); err != nil {
		return nil, 0, fmt.Errorf("bad scan cursor %q", resp.Items[0])
	}
	keys := make([]string, 0, len(resp.Items)-1)
	for _, item := range resp.Items[1:] {
		keys = append(keys, string(item))
	}
	return keys, next, nil
}

// Keys returns all keys matching pattern. pattern "" matches everything.
func (c *Client) Keys(pattern string) ([]string, error) {
	cmd := &protocol.Command{Op: protocol.OpKeys}
	if pattern != "" {
		cmd.Pattern = []byte(pattern)
	}
	resp, err := c.roundTripChecked(cmd)
	if err != nil {
		return nil, err
	}
	if resp.Kind != protocol.RespArray {
		return nil, fmt.Errorf("unexpected response for KEYS: %v", resp.Kind)
	}
	keys := make([]string, len(resp.Items))
	for i, item := range resp.Items {
		keys[i] = string(item)
	}
	return keys, nil
}

// VAdd stores an embedding under key.
func (c *Client) VAdd(key string, vector []float32) error {
	resp, err := c.roundTripChecked(&protocol.Command{
		Op:     protocol.OpVAdd,
		Key:    []byte(key),
		Vector: vector,
	})
	if err != nil {
		return err
	}
	if resp.Kind != protocol.RespOk {
		return fmt.Errorf("unexpected response for VADD: %v", resp.Kind)
	}
	return nil
}

// VSearch returns up to k keys most similar to the query vector, most
// similar first.
func (c *Client) VSearch(vector []float32, k int) ([]string, error) {
	resp, err := c.roundTripChecked(&protocol.Command{
		Op:     protocol.OpVSearch,
		Vector: vector,
		K:      k,
	})
	if err != nil {
		return nil, err
	}
	if resp.Kind != protocol.RespArray {
		return nil, fmt.Errorf("unexpected response for VSEARCH: %v", resp.Kind)
	}
	keys := make([]string, len(resp.Items))
	for i, item := range resp.Items {
		keys[i] = string(item)
	}
	return keys, nil
}
