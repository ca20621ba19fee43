package msg

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrMalformed reports bytes that do not form a valid value: an unknown tag,
// a negative or oversized count, truncated input or trailing bytes.
var ErrMalformed = errors.New("malformed value")

const (
	wordSize = 8
	// minValueSize is the smallest encoding of any value (tag plus one word).
	minValueSize = 2 * wordSize
)

// AppendInt encodes an Int.
func AppendInt(b *Buffer, v int64) {
	b.Reserve(2 * wordSize)
	b.appendInt64(int64(TagInt))
	b.appendInt64(v)
}

// AppendString encodes a Str.
func AppendString(b *Buffer, s string) {
	b.Reserve(2*wordSize + len(s))
	b.appendInt64(int64(TagStr))
	AppendKey(b, s)
}

// AppendArrayHeader starts an Arr of n elements. The caller appends the
// elements with further Append calls.
func AppendArrayHeader(b *Buffer, n int) {
	b.Reserve(2 * wordSize)
	b.appendInt64(int64(TagArr))
	b.appendInt64(int64(n))
}

// AppendStructHeader starts a Struct of n fields. The caller appends all n
// keys with AppendKey and then all n values.
func AppendStructHeader(b *Buffer, n int) {
	b.Reserve(2 * wordSize)
	b.appendInt64(int64(TagStruct))
	b.appendInt64(int64(n))
}

// AppendKey encodes a struct key: length and raw bytes, no tag.
func AppendKey(b *Buffer, s string) {
	b.Reserve(wordSize + len(s))
	b.appendInt64(int64(len(s)))
	b.appendString(s)
}

// AppendValue encodes v by composing the primitive encoders.
func AppendValue(b *Buffer, v Value) {
	switch v := v.(type) {
	case Int:
		AppendInt(b, int64(v))
	case Str:
		AppendString(b, string(v))
	case Arr:
		AppendArrayHeader(b, len(v))
		for _, elem := range v {
			AppendValue(b, elem)
		}
	case Struct:
		AppendStructHeader(b, len(v))
		for _, f := range v {
			AppendKey(b, f.Name)
		}
		for _, f := range v {
			AppendValue(b, f.Value)
		}
	default:
		panic(fmt.Sprintf("msg: cannot encode %T", v))
	}
}

// Encode returns the encoding of v in a fresh slice.
func Encode(v Value) []byte {
	b := NewBuffer(64)
	AppendValue(b, v)
	return b.Bytes()
}

// Decode reads one value from the front of data and reports how many bytes
// it consumed.
func Decode(data []byte) (Value, int, error) {
	d := decoder{data: data}
	v, err := d.value()
	if err != nil {
		return nil, d.off, err
	}
	return v, d.off, nil
}

// DecodeFrame decodes a frame payload, which must hold exactly one value.
func DecodeFrame(payload []byte) (Value, error) {
	v, n, err := Decode(payload)
	if err != nil {
		return nil, err
	}
	if n != len(payload) {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrMalformed, len(payload)-n)
	}
	return v, nil
}

type decoder struct {
	data []byte
	off  int
}

func (d *decoder) word() (int64, error) {
	if len(d.data)-d.off < wordSize {
		return 0, fmt.Errorf("%w: truncated at offset %d", ErrMalformed, d.off)
	}
	v := int64(binary.LittleEndian.Uint64(d.data[d.off:]))
	d.off += wordSize
	return v, nil
}

// count reads a length word and checks that n items of at least minSize
// bytes each can still fit, so a hostile count cannot force a huge allocation.
func (d *decoder) count(minSize int) (int, error) {
	n, err := d.word()
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, fmt.Errorf("%w: negative length %d", ErrMalformed, n)
	}
	remaining := int64(len(d.data) - d.off)
	if minSize > 0 && n > remaining/int64(minSize) {
		return 0, fmt.Errorf("%w: length %d exceeds remaining %d bytes", ErrMalformed, n, remaining)
	}
	return int(n), nil
}

func (d *decoder) str() (string, error) {
	n, err := d.count(1)
	if err != nil {
		return "", err
	}
	s := string(d.data[d.off : d.off+n])
	d.off += n
	return s, nil
}

func (d *decoder) value() (Value, error) {
	tagOff := d.off
	raw, err := d.word()
	if err != nil {
		return nil, err
	}
	switch Tag(raw) {
	case TagInt:
		v, err := d.word()
		if err != nil {
			return nil, err
		}
		return Int(v), nil
	case TagStr:
		s, err := d.str()
		if err != nil {
			return nil, err
		}
		return Str(s), nil
	case TagArr:
		n, err := d.count(minValueSize)
		if err != nil {
			return nil, err
		}
		arr := make(Arr, n)
		for i := range arr {
			if arr[i], err = d.value(); err != nil {
				return nil, err
			}
		}
		return arr, nil
	case TagStruct:
		// Each field needs at least a key length word and a minimal value.
		n, err := d.count(wordSize + minValueSize)
		if err != nil {
			return nil, err
		}
		fields := make(Struct, n)
		for i := range fields {
			if fields[i].Name, err = d.str(); err != nil {
				return nil, err
			}
		}
		for i := range fields {
			if fields[i].Value, err = d.value(); err != nil {
				return nil, err
			}
		}
		return fields, nil
	default:
		return nil, fmt.Errorf("%w: unknown tag %d at offset %d", ErrMalformed, raw, tagOff)
	}
}
