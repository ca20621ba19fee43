package msg

import (
	"encoding/binary"
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func word(v int64) []byte {
	return binary.LittleEndian.AppendUint64(nil, uint64(v))
}

func concat(parts ...[]byte) []byte {
	var out []byte
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

func TestRoundTrip(t *testing.T) {
	cases := map[string]Value{
		"zero int":     Int(0),
		"negative int": Int(-42),
		"max int":      Int(math.MaxInt64),
		"min int":      Int(math.MinInt64),
		"empty string": Str(""),
		"string":       Str("/bin/true"),
		"binary bytes": Str("a\x00b\xff"),
		"empty array":  Arr{},
		"empty struct": Struct{},
		"mixed array":  Arr{Int(1), Str("two"), Arr{Int(3)}},
		"launch command": Struct{
			{Name: "type", Value: Str("launch")},
			{Name: "executable", Value: Str("/bin/true")},
			{Name: "arguments", Value: Arr{Str("-v"), Str("x")}},
			{Name: "working_dir", Value: Str("/tmp")},
			{Name: "environments", Value: Arr{}},
		},
		"duplicate keys": Struct{{Name: "a", Value: Int(1)}, {Name: "a", Value: Int(2)}},
		"nested structs": Struct{
			{Name: "outer", Value: Struct{{Name: "inner", Value: Arr{Struct{{Name: "x", Value: Int(9)}}}}}},
		},
	}
	for name, v := range cases {
		t.Run(name, func(t *testing.T) {
			data := Encode(v)
			got, err := DecodeFrame(data)
			require.NoError(t, err)
			assert.True(t, Equal(v, got), "decoded %#v, want %#v", got, v)
		})
	}
}

func TestRoundTripDeepNesting(t *testing.T) {
	var v Value = Int(7)
	for i := 0; i < 200; i++ {
		if i%2 == 0 {
			v = Arr{v}
		} else {
			v = Struct{{Name: fmt.Sprintf("k%d", i), Value: v}}
		}
	}
	got, err := DecodeFrame(Encode(v))
	require.NoError(t, err)
	assert.True(t, Equal(v, got))
}

func TestStructKeysPrecedeValues(t *testing.T) {
	v := Struct{{Name: "a", Value: Int(1)}, {Name: "bc", Value: Str("x")}}
	want := concat(
		word(int64(TagStruct)), word(2),
		word(1), []byte("a"),
		word(2), []byte("bc"),
		word(int64(TagInt)), word(1),
		word(int64(TagStr)), word(1), []byte("x"),
	)
	assert.Equal(t, want, Encode(v))
}

func TestComposedEncodingMatchesTree(t *testing.T) {
	b := NewBuffer(0)
	AppendStructHeader(b, 2)
	AppendKey(b, "event")
	AppendKey(b, "state")
	AppendString(b, "state-changed")
	AppendString(b, "stopped")

	tree := Struct{{Name: "event", Value: Str("state-changed")}, {Name: "state", Value: Str("stopped")}}
	assert.Equal(t, Encode(tree), b.Bytes())
}

func TestDecodeReportsConsumed(t *testing.T) {
	data := append(Encode(Str("abc")), 0xde, 0xad)
	v, n, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, Str("abc"), v)
	assert.Equal(t, len(data)-2, n)
}

func TestDecodeFrameRejectsTrailingBytes(t *testing.T) {
	data := append(Encode(Int(1)), 0)
	_, err := DecodeFrame(data)
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestDecodeMalformed(t *testing.T) {
	cases := map[string][]byte{
		"empty":            {},
		"short tag":        {1, 2, 3},
		"unknown tag":      concat(word(4), word(0)),
		"negative tag":     concat(word(-1), word(0)),
		"truncated int":    concat(word(int64(TagInt)), []byte{1, 2}),
		"truncated string": concat(word(int64(TagStr)), word(10), []byte("abc")),
		"negative length":  concat(word(int64(TagStr)), word(-3)),
		"huge array":       concat(word(int64(TagArr)), word(math.MaxInt64)),
		"missing element":  concat(word(int64(TagArr)), word(1)),
		"struct no values": concat(word(int64(TagStruct)), word(1), word(1), []byte("a")),
	}
	for name, data := range cases {
		t.Run(name, func(t *testing.T) {
			_, _, err := Decode(data)
			assert.ErrorIs(t, err, ErrMalformed)
		})
	}
}

func TestStructLookupFirstMatch(t *testing.T) {
	s := Struct{{Name: "a", Value: Int(1)}, {Name: "a", Value: Int(2)}}
	v, ok := s.Lookup("a")
	require.True(t, ok)
	assert.Equal(t, Int(1), v)

	_, ok = s.Lookup("b")
	assert.False(t, ok)
}

func TestEqual(t *testing.T) {
	assert.False(t, Equal(Int(1), Str("1")))
	assert.False(t, Equal(Arr{Int(1)}, Arr{Int(1), Int(2)}))
	assert.False(t, Equal(
		Struct{{Name: "a", Value: Int(1)}, {Name: "b", Value: Int(2)}},
		Struct{{Name: "b", Value: Int(2)}, {Name: "a", Value: Int(1)}},
	))
}
