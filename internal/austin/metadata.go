package austin

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"strconv"
	"strings"
	"unicode"
)

// metaPrefix marks a metadata line in austin's pipe output.
const metaPrefix = "# "

// metaSeparator splits a metadata line into key and value.
const metaSeparator = ": "

// Well-known metadata keys emitted by austin in pipe mode.
const (
	MetaAustin     = "austin"
	MetaMode       = "mode"
	MetaInterval   = "interval"
	MetaDuration   = "duration"
	MetaSamples    = "samples"
	MetaSaturation = "saturation"
	MetaErrors     = "errors"
)

// Metadata holds the key/value pairs austin writes in its header and footer.
type Metadata map[string]string

// Merge copies every entry of other into m, overwriting existing keys.
func (m Metadata) Merge(other Metadata) {
	for k, v := range other {
		m[k] = v
	}
}

// Clone returns an independent copy of m.
func (m Metadata) Clone() Metadata {
	out := make(Metadata, len(m))
	out.Merge(m)
	return out
}

// Version returns the austin version reported in the header.
func (m Metadata) Version() string {
	return m[MetaAustin]
}

// Mode returns the sampling mode (e.g. "wall", "cpu", "memory").
func (m Metadata) Mode() string {
	return m[MetaMode]
}

// Int returns the integer value of key. The second result is false when
// the key is absent or not an integer.
func (m Metadata) Int(key string) (int64, bool) {
	v, ok := m[key]
	if !ok {
		return 0, false
	}
	n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// Ratio parses values austin reports as "n/total", returning both parts.
// Used for the "saturation" and "errors" footer entries.
func (m Metadata) Ratio(key string) (n, total int64, ok bool) {
	v, found := m[key]
	if !found {
		return 0, 0, false
	}
	// austin may append a percentage, e.g. "12/1000 (1.2%)".
	v, _, _ = strings.Cut(strings.TrimSpace(v), " ")
	left, right, found := strings.Cut(v, "/")
	if !found {
		return 0, 0, false
	}
	n, err := strconv.ParseInt(left, 10, 64)
	if err != nil {
		return 0, 0, false
	}
	total, err = strconv.ParseInt(right, 10, 64)
	if err != nil {
		return 0, 0, false
	}
	return n, total, true
}

// LineReader yields one line at a time from a stream.
type LineReader interface {
	// ReadLine returns the next line without its line ending.
	// At end of stream it returns io.EOF with no data.
	ReadLine() ([]byte, error)
}

// bufferedLineReader adapts a bufio.Reader to LineReader.
type bufferedLineReader struct {
	r *bufio.Reader
}

// NewLineReader returns a LineReader over r. Lines may be of any length.
func NewLineReader(r io.Reader) LineReader {
	return &bufferedLineReader{r: bufio.NewReader(r)}
}

func (b *bufferedLineReader) ReadLine() ([]byte, error) {
	line, err := b.r.ReadBytes('\n')
	if len(line) > 0 {
		// A final line without a newline is still a line.
		return line, nil
	}
	if err == nil {
		err = io.EOF
	}
	return nil, err
}

// ReadMetadata reads "# key: value" lines from r until the first line that
// is not metadata, which is consumed and dropped, or until end of stream.
//
// Trailing whitespace is stripped from each line. The key/value split
// happens once on the first ": "; a line without it yields an empty value.
// Later duplicates overwrite earlier ones.
//
// The returned error is io.EOF when the stream ended before a terminator
// line was seen; the entries read so far are still returned. Any other
// error comes from the underlying reader.
func ReadMetadata(r LineReader) (Metadata, error) {
	meta := make(Metadata)

	for {
		raw, err := r.ReadLine()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return meta, io.EOF
			}
			return meta, err
		}

		line := string(bytes.TrimRightFunc(raw, unicode.IsSpace))
		if !strings.HasPrefix(line, metaPrefix) {
			return meta, nil
		}

		key, value, _ := strings.Cut(line[len(metaPrefix):], metaSeparator)
		meta[key] = value
	}
}
