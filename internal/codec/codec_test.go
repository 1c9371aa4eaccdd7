package codec

import "testing"

func TestUintRoundTrip(t *testing.T) {
	buf := make([]byte, 8)

	PutUint64(buf, 0x0102030405060708)
	if got := GetUint64(buf); got != 0x0102030405060708 {
		t.Fatalf("got %x", got)
	}

	if buf[0] != 0x01 || buf[7] != 0x08 {
		t.Fatalf("not big-endian: %x", buf)
	}
}

func TestFloatRoundTrip(t *testing.T) {
	buf := make([]byte, 8)

	PutFloat64(buf, 3.25)
	if got := GetFloat64(buf); got != 3.25 {
		t.Fatalf("got %v", got)
	}
}

func TestOptionalRoundTrip(t *testing.T) {
	buf := make([]byte, OptionalSize(4))

	payload := make([]byte, 4)
	PutUint32(payload, 42)
	PutOptional(buf, true, payload)

	present, got := GetOptional(buf, 4)
	if !present || GetUint32(got) != 42 {
		t.Fatalf("present=%v got=%v", present, got)
	}

	PutOptional(buf, false, make([]byte, 4))

	present, got = GetOptional(buf, 4)
	if present {
		t.Fatalf("expected absent")
	}

	if GetUint32(got) != 0 {
		t.Fatalf("expected zeroed payload, got %v", got)
	}
}

func TestUnionTagBounds(t *testing.T) {
	buf := make([]byte, 1)
	PutUnionTag(buf, 15)

	if GetUnionTag(buf) != 15 {
		t.Fatalf("got %d", GetUnionTag(buf))
	}
}

func TestUnionTagOutOfRangePanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic")
		}
	}()

	PutUnionTag(make([]byte, 1), MaxUnionAlternatives)
}

func TestFormatBuilderDeterministic(t *testing.T) {
	build := func() uint64 {
		return NewFormatBuilder("btree.anchor").
			Field("root", 8).
			Field("height", 4).
			Array("reserved", 1, 16).
			Sum()
	}

	a, b := build(), build()
	if a != b {
		t.Fatalf("descriptor not deterministic: %d != %d", a, b)
	}
}

func TestFormatBuilderSensitiveToShape(t *testing.T) {
	a := NewFormatBuilder("x").Field("f", 8).Sum()
	b := NewFormatBuilder("x").Field("f", 4).Sum()

	if a == b {
		t.Fatal("expected different descriptors for different field sizes")
	}

	c := NewFormatBuilder("y").Field("f", 8).Sum()
	if a == c {
		t.Fatal("expected different descriptors for different struct names")
	}
}
