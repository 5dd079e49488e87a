// Package codec reads and writes the flat, pipe-delimited records that objective nodes and
// contracts persist themselves into. Each record is "Key = f1|f2|...". Readers are
// defensive: the first bad field sticks as the reader's error and later reads return zero
// values, so callers parse everything and check Err once.
package codec

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Version is written as the first field of every record.
const Version = 1

// Separator splits fields; ListSeparator splits items inside a single list field.
const (
	Separator     = "|"
	ListSeparator = ","
)

// FloatPrecision is the fixed number of decimals used for float fields.
const FloatPrecision = 3

var ErrMalformed = errors.New("malformed record")

// FieldError names the field that failed to parse.
type FieldError struct {
	Index int
	Value string
	Err   error
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("field %d (%q): %v", e.Index, e.Value, e.Err)
}

func (e *FieldError) Unwrap() error { return ErrMalformed }

// Record is one persisted node or contract.
type Record struct {
	Key    string
	Fields []string
}

// String encodes the record as a single line.
func (r Record) String() string {
	return r.Key + " = " + strings.Join(r.Fields, Separator)
}

// Value returns only the pipe-joined fields.
func (r Record) Value() string {
	return strings.Join(r.Fields, Separator)
}

// Parse decodes a "Key = a|b|c" line.
func Parse(line string) (Record, error) {
	key, value, ok := strings.Cut(line, "=")
	if !ok {
		return Record{}, fmt.Errorf("%w: missing '='", ErrMalformed)
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return Record{}, fmt.Errorf("%w: empty key", ErrMalformed)
	}
	return FromValue(key, strings.TrimSpace(value)), nil
}

// FromValue builds a record from a key and its pipe-joined value.
func FromValue(key, value string) Record {
	if value == "" {
		return Record{Key: key}
	}
	return Record{Key: key, Fields: strings.Split(value, Separator)}
}

// Writer appends fields in order.
type Writer struct {
	fields []string
}

func NewWriter() *Writer {
	w := &Writer{}
	w.Int(Version)
	return w
}

func (w *Writer) String(s string) *Writer {
	w.fields = append(w.fields, clean(s))
	return w
}

func (w *Writer) Int(v int) *Writer {
	w.fields = append(w.fields, strconv.Itoa(v))
	return w
}

func (w *Writer) Float(v float64) *Writer {
	w.fields = append(w.fields, strconv.FormatFloat(v, 'f', FloatPrecision, 64))
	return w
}

func (w *Writer) Bool(v bool) *Writer {
	w.fields = append(w.fields, strconv.FormatBool(v))
	return w
}

func (w *Writer) List(items []string) *Writer {
	cleaned := make([]string, 0, len(items))
	for _, it := range items {
		it = strings.ReplaceAll(clean(it), ListSeparator, "_")
		if it != "" {
			cleaned = append(cleaned, it)
		}
	}
	w.fields = append(w.fields, strings.Join(cleaned, ListSeparator))
	return w
}

// Record finishes the writer under key.
func (w *Writer) Record(key string) Record {
	out := make([]string, len(w.fields))
	copy(out, w.fields)
	return Record{Key: key, Fields: out}
}

func clean(s string) string {
	return strings.ReplaceAll(strings.TrimSpace(s), Separator, "/")
}

// Reader consumes fields in the order they were written.
type Reader struct {
	fields  []string
	pos     int
	cur     int
	err     error
	version int
}

// NewReader checks the leading version field. A record from a newer format is rejected.
func NewReader(rec Record) *Reader {
	r := &Reader{fields: rec.Fields}
	r.version = r.Int()
	if r.err == nil && (r.version < 1 || r.version > Version) {
		r.fail(strconv.Itoa(r.version), fmt.Errorf("unsupported version %d", r.version))
	}
	return r
}

func (r *Reader) Version() int { return r.version }

// Err returns the first parse failure, if any.
func (r *Reader) Err() error { return r.err }

func (r *Reader) next() (string, bool) {
	if r.err != nil {
		return "", false
	}
	r.cur = r.pos
	if r.pos >= len(r.fields) {
		r.fail("", errors.New("missing field"))
		return "", false
	}
	v := r.fields[r.pos]
	r.pos++
	return strings.TrimSpace(v), true
}

func (r *Reader) fail(value string, err error) {
	if r.err == nil {
		r.err = &FieldError{Index: r.cur, Value: value, Err: err}
	}
}

func (r *Reader) String() string {
	v, _ := r.next()
	return v
}

// RequiredString fails on an empty field.
func (r *Reader) RequiredString() string {
	v, ok := r.next()
	if ok && v == "" {
		r.fail(v, errors.New("empty field"))
	}
	return v
}

func (r *Reader) Int() int {
	v, ok := r.next()
	if !ok {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		r.fail(v, err)
		return 0
	}
	return n
}

func (r *Reader) Float() float64 {
	v, ok := r.next()
	if !ok {
		return 0
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		r.fail(v, err)
		return 0
	}
	return f
}

// FloatOr is tolerant: a malformed or missing value yields def without failing the reader.
func (r *Reader) FloatOr(def float64) float64 {
	if r.err != nil || r.pos >= len(r.fields) {
		return def
	}
	v := strings.TrimSpace(r.fields[r.pos])
	r.pos++
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

func (r *Reader) Bool() bool {
	v, ok := r.next()
	if !ok {
		return false
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		r.fail(v, err)
		return false
	}
	return b
}

func (r *Reader) List() []string {
	v, ok := r.next()
	if !ok || v == "" {
		return nil
	}
	parts := strings.Split(v, ListSeparator)
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// FormatSeed renders a generation seed as the fixed-width hash string stored on contracts.
func FormatSeed(seed int64) string {
	return fmt.Sprintf("%016x", uint64(seed))
}

// ParseSeed reverses FormatSeed.
func ParseSeed(s string) (int64, error) {
	u, err := strconv.ParseUint(strings.TrimSpace(s), 16, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: seed %q", ErrMalformed, s)
	}
	return int64(u), nil
}
