package codec

import (
	"errors"
	"testing"
)

func TestWriterReaderOrder(t *testing.T) {
	rec := NewWriter().
		String("goo|scout").
		Int(3).
		Float(0.12345).
		Bool(true).
		List([]string{"a", "", "b,c"}).
		Record("CollectScience")
	if rec.String() != "CollectScience = 1|goo/scout|3|0.123|true|a,b_c" {
		t.Fatalf("unexpected encoding %q", rec.String())
	}
	parsed, err := Parse(rec.String())
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	r := NewReader(parsed)
	if r.Version() != Version {
		t.Fatalf("version: %d", r.Version())
	}
	if s := r.String(); s != "goo/scout" {
		t.Fatalf("string: %q", s)
	}
	if n := r.Int(); n != 3 {
		t.Fatalf("int: %d", n)
	}
	if f := r.Float(); f != 0.123 {
		t.Fatalf("float: %v", f)
	}
	if !r.Bool() {
		t.Fatalf("bool")
	}
	if l := r.List(); len(l) != 2 || l[1] != "b_c" {
		t.Fatalf("list: %v", l)
	}
	if r.Err() != nil {
		t.Fatalf("unexpected error: %v", r.Err())
	}
}

func TestReaderStickyError(t *testing.T) {
	r := NewReader(FromValue("X", "1|abc|4"))
	_ = r.Int()
	n := r.Int()
	if n != 0 {
		t.Fatalf("expected zero value after failure, got %d", n)
	}
	if !errors.Is(r.Err(), ErrMalformed) {
		t.Fatalf("expected ErrMalformed, got %v", r.Err())
	}
	var fe *FieldError
	if !errors.As(r.Err(), &fe) || fe.Index != 1 || fe.Value != "abc" {
		t.Fatalf("expected field error on index 1, got %#v", r.Err())
	}
}

func TestReaderMissingField(t *testing.T) {
	r := NewReader(FromValue("X", "1|2"))
	_ = r.Int()
	_ = r.Float()
	if r.Err() == nil {
		t.Fatalf("expected missing field error")
	}
}

func TestReaderTolerantFloat(t *testing.T) {
	r := NewReader(FromValue("X", "1|nope"))
	if v := r.FloatOr(7.5); v != 7.5 {
		t.Fatalf("expected default, got %v", v)
	}
	if v := r.FloatOr(2); v != 2 {
		t.Fatalf("expected default for missing, got %v", v)
	}
	if r.Err() != nil {
		t.Fatalf("tolerant reads must not fail: %v", r.Err())
	}
}

func TestReaderVersion(t *testing.T) {
	if err := NewReader(FromValue("X", "9|a")).Err(); err == nil {
		t.Fatalf("expected newer version rejected")
	}
	if err := NewReader(FromValue("X", "")).Err(); err == nil {
		t.Fatalf("expected empty record rejected")
	}
}

func TestParseRejects(t *testing.T) {
	for _, line := range []string{"no equals", " = 1|2"} {
		if _, err := Parse(line); !errors.Is(err, ErrMalformed) {
			t.Fatalf("%q: expected ErrMalformed, got %v", line, err)
		}
	}
}

func TestSeedRoundTrip(t *testing.T) {
	for _, seed := range []int64{0, 1, -1, 1 << 62} {
		s := FormatSeed(seed)
		if len(s) != 16 {
			t.Fatalf("seed %d: width %d", seed, len(s))
		}
		got, err := ParseSeed(s)
		if err != nil || got != seed {
			t.Fatalf("seed %d: got %d err %v", seed, got, err)
		}
	}
	if _, err := ParseSeed("xyz"); err == nil {
		t.Fatalf("expected bad seed error")
	}
}
