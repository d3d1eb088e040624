package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func parseBack(t *testing.T, cmd *Command, requestID uint64) *Command {
	t.Helper()
	f := NewFrame(cmd.Op, requestID, cmd.EncodePayload())
	parsed, err := ParseCommand(f)
	require.NoError(t, err)
	return parsed
}

func TestParsePing(t *testing.T) {
	cmd := parseBack(t, &Command{Op: OpPing}, 1)
	assert.Equal(t, OpPing, cmd.Op)
}

func TestParseGet(t *testing.T) {
	cmd := parseBack(t, &Command{Op: OpGet, Key: []byte("mykey")}, 1)
	assert.Equal(t, []byte("mykey"), cmd.Key)
}

func TestParseSet(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
		ttl  uint64
	}{
		{"No ttl", "key", "value", 0},
		{"With ttl", "session", "data", 3600},
		{"Empty value", "empty", "", 0},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cmd := parseBack(t, &Command{
				Op:    OpSet,
				Key:   []byte(tc.key),
				Value: []byte(tc.val),
				TTL:   tc.ttl,
			}, 1)
			assert.Equal(t, []byte(tc.key), cmd.Key)
			assert.Equal(t, []byte(tc.val), cmd.Value)
			assert.Equal(t, tc.ttl, cmd.TTL)
		})
	}
}

func TestParseMultiKey(t *testing.T) {
	cmd := parseBack(t, &Command{
		Op:   OpMGet,
		Keys: [][]byte{[]byte("a"), []byte("b"), []byte("c")},
	}, 1)
	require.Len(t, cmd.Keys, 3)
	assert.Equal(t, []byte("b"), cmd.Keys[1])

	cmd = parseBack(t, &Command{
		Op: OpMSet,
		Pairs: []KV{
			{Key: []byte("k1"), Value: []byte("v1")},
			{Key: []byte("k2"), Value: []byte("v2")},
		},
	}, 1)
	require.Len(t, cmd.Pairs, 2)
	assert.Equal(t, []byte("v2"), cmd.Pairs[1].Value)
}

func TestParseCounters(t *testing.T) {
	cmd := parseBack(t, &Command{Op: OpIncrBy, Key: []byte("n"), Delta: -17}, 1)
	assert.Equal(t, []byte("n"), cmd.Key)
	assert.Equal(t, int64(-17), cmd.Delta)
}

func TestParseScan(t *testing.T) {
	cmd := parseBack(t, &Command{Op: OpScan, Cursor: 3, Count: 25, Pattern: []byte("user:*")}, 1)
	assert.Equal(t, uint64(3), cmd.Cursor)
	assert.Equal(t, uint32(25), cmd.Count)
	assert.Equal(t, []byte("user:*"), cmd.Pattern)

	// Pattern is optional.
	cmd = parseBack(t, &Command{Op: OpScan, Cursor: 0, Count: 10}, 1)
	assert.Nil(t, cmd.Pattern)
}

func TestParseVAdd(t *testing.T) {
	vec := []float32{0.25, -1.5, 3.0, 0.125}
	cmd := parseBack(t, &Command{Op: OpVAdd, Key: []byte("v1"), Vector: vec}, 1)
	assert.Equal(t, []byte("v1"), cmd.Key)
	assert.Equal(t, vec, cmd.Vector)
}

func TestParseVSearch(t *testing.T) {
	vec := []float32{1, 2, 3}
	cmd := parseBack(t, &Command{Op: OpVSearch, Vector: vec, K: 5}, 1)
	assert.Equal(t, vec, cmd.Vector)
	assert.Equal(t, 5, cmd.K)
}

func TestParseVSearchDefaultK(t *testing.T) {
	cmd := parseBack(t, &Command{Op: OpVSearch, Vector: []float32{1}, K: 0}, 1)
	assert.Equal(t, DefaultSearchK, cmd.K)
}

func TestParseMalformed(t *testing.T) {
	tests := []struct {
		name    string
		op      Opcode
		payload []byte
	}{
		{"Get with empty payload", OpGet, nil},
		{"Get with short length prefix", OpGet, []byte{0, 0}},
		{"Get with truncated key", OpGet, []byte{0, 0, 0, 10, 'a', 'b'}},
		{"Set missing ttl", OpSet, (&Command{Op: OpGet, Key: []byte("k")}).EncodePayload()},
		{"Ping with trailing bytes", OpPing, []byte{1}},
		{"VSearch missing k", OpVSearch, []byte{0, 0, 0, 1, 0, 0, 0, 0}},
		{"MGet count overrun", OpMGet, []byte{0, 0, 0, 5, 0, 0, 0, 1, 'a'}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseCommand(NewFrame(tc.op, 1, tc.payload))
			assert.ErrorIs(t, err, ErrMalformedPayload)
		})
	}
}

func TestParseUnknownOpcode(t *testing.T) {
	_, err := ParseCommand(NewFrame(Opcode(0x7F), 1, nil))
	assert.ErrorIs(t, err, ErrUnknownOpcode)

	// Response opcodes are not valid requests either.
	_, err = ParseCommand(NewFrame(OpOk, 1, nil))
	assert.ErrorIs(t, err, ErrUnknownOpcode)
}
