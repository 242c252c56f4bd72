package bencode

import (
	"bufio"
	"errors"
	"io"
	"strconv"
)

// countingReader wraps a reader and tracks how many bytes have been consumed
// from it, so callers can recover the exact byte range of a nested value
// without re-encoding it.
type countingReader struct {
	r count
	n int64
}

// count is the minimal reader surface countingReader needs from bufio.Reader.
type count interface {
	io.ByteReader
	io.Reader
	UnreadByte() error
	Peek(int) ([]byte, error)
	ReadBytes(byte) ([]byte, error)
}

func (c *countingReader) ReadByte() (byte, error) {
	b, err := c.r.ReadByte()
	if err == nil {
		c.n++
	}
	return b, err
}

func (c *countingReader) UnreadByte() error {
	err := c.r.UnreadByte()
	if err == nil {
		c.n--
	}
	return err
}

func (c *countingReader) Peek(n int) ([]byte, error) { return c.r.Peek(n) }

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

func (c *countingReader) ReadBytes(delim byte) ([]byte, error) {
	b, err := c.r.ReadBytes(delim)
	c.n += int64(len(b))
	return b, err
}

// Span is the half-open byte range [Start, End) of a bencoded value as it
// appeared in the original input.
type Span struct {
	Start int64
	End   int64
}

// DecodeWithInfoSpan decodes a top-level bencoded dictionary and additionally
// reports the exact byte range occupied by the value stored under the
// "info" key, so callers can SHA-1 those bytes directly instead of
// re-encoding the decoded tree (which is not guaranteed to reproduce the
// original bytes when the source used non-canonical key ordering or
// integer formatting).
//
// infoKey names the top-level key whose span should be tracked; callers
// parsing .torrent files pass "info".
func DecodeWithInfoSpan(r io.Reader, infoKey string) (any, Span, error) {
	br, ok := r.(*bufio.Reader)
	if !ok {
		br = bufio.NewReader(r)
	}

	cr := &countingReader{r: br}
	sd := &spanningDecoder{cr: cr, infoKey: infoKey}

	val, err := sd.decodeTop()
	if err != nil {
		return nil, Span{}, err
	}
	if sd.span == nil {
		return nil, Span{}, errors.New(
			"bencode: top-level dictionary does not contain key " + infoKey,
		)
	}
	return val, *sd.span, nil
}

// spanningDecoder mirrors Decoder's recursive-descent structure (see
// decoder.go) but threads byte offsets through so the span of one
// designated key can be captured as it is decoded.
type spanningDecoder struct {
	cr      *countingReader
	infoKey string
	span    *Span
	depth   int
}

func (d *spanningDecoder) decodeTop() (any, error) {
	top, err := d.decode("")
	if err != nil {
		return nil, err
	}
	return top, nil
}

// decode reads one bencoded value. pendingKey is the dictionary key the
// value is stored under ("" for list elements and the top-level value); a
// span is recorded only when it equals infoKey and the value sits directly
// in the top-level dictionary.
func (d *spanningDecoder) decode(pendingKey string) (any, error) {
	start := d.cr.n

	btype, err := d.cr.ReadByte()
	if err != nil {
		return nil, err
	}

	var val any
	switch btype {
	case byte(bInteger):
		val, err = d.decodeInteger()
	case byte(bList):
		val, err = d.decodeList()
	case byte(bDict):
		val, err = d.decodeDict()
	default:
		if uerr := d.cr.UnreadByte(); uerr != nil {
			return nil, uerr
		}
		val, err = d.decodeString()
	}
	if err != nil {
		return nil, err
	}

	if pendingKey == d.infoKey && d.infoKey != "" && d.depth == 1 && d.span == nil {
		end := d.cr.n
		d.span = &Span{Start: start, End: end}
	}

	return val, nil
}

func (d *spanningDecoder) decodeInteger() (int64, error) {
	return readInteger(d.cr, bDelim)
}

func (d *spanningDecoder) decodeString() (string, error) {
	size, err := readInteger(d.cr, ':')
	if err != nil {
		return "", err
	}
	if size < 0 {
		return "", errors.New(
			"bencode: invalid string, length can't be negative",
		)
	}
	if size == 0 {
		return "", nil
	}

	buf := make([]byte, size)
	if _, err := io.ReadFull(d.cr, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

func (d *spanningDecoder) decodeList() ([]any, error) {
	d.depth++
	defer func() { d.depth-- }()

	list := make([]any, 0)

	for {
		peek, err := d.cr.Peek(1)
		if err != nil {
			return nil, err
		}
		if peek[0] == byte(bDelim) {
			d.cr.ReadByte()
			break
		}

		v, err := d.decode("")
		if err != nil {
			return nil, err
		}
		list = append(list, v)
	}

	return list, nil
}

func (d *spanningDecoder) decodeDict() (map[string]any, error) {
	d.depth++
	defer func() { d.depth-- }()

	dict := make(map[string]any)

	for {
		peek, err := d.cr.Peek(1)
		if err != nil {
			return nil, err
		}
		if peek[0] == byte(bDelim) {
			d.cr.ReadByte()
			break
		}

		key, err := d.decodeString()
		if err != nil {
			return nil, err
		}

		val, err := d.decode(key)
		if err != nil {
			return nil, err
		}

		dict[key] = val
	}

	return dict, nil
}

// readInteger reads a base-10 signed integer terminated by delim, counting
// bytes as it goes via cr.
func readInteger(cr *countingReader, delim bType) (int64, error) {
	read, err := cr.ReadBytes(byte(delim))
	if err != nil {
		return 0, err
	}

	sint := string(read[:len(read)-1])
	return strconv.ParseInt(sint, 10, 64)
}
