package nebulaid

import (
	"encoding/json"
	"testing"
)

// TestIdKinds tests the variant constructors and accessors.
func TestIdKinds(t *testing.T) {
	n := NumericId(42)
	if n.Kind() != IdNumeric || n.Uint64() != 42 || n.Int64() != 42 {
		t.Errorf("NumericId(42) = kind %v value %d", n.Kind(), n.Uint64())
	}

	var raw [16]byte
	raw[0] = 0xab
	u := UuidId(raw)
	if u.Kind() != IdUuid || u.Uuid() != raw {
		t.Errorf("UuidId() lost the value")
	}

	f := FormattedId("ORD-42")
	if f.Kind() != IdFormatted || f.String() != "ORD-42" {
		t.Errorf("FormattedId() = kind %v string %q", f.Kind(), f.String())
	}

	if !(Id{}).IsZero() {
		t.Error("zero Id not reported as zero")
	}
	if n.IsZero() {
		t.Error("NumericId(42) reported as zero")
	}
}

// TestIdString tests the canonical representations.
func TestIdString(t *testing.T) {
	if got := NumericId(1234567890123456789).String(); got != "1234567890123456789" {
		t.Errorf("String() = %q", got)
	}

	var raw [16]byte
	copy(raw[:], []byte{0x01, 0x8f, 0x3a, 0x5e, 0x7c, 0x9b, 0x7d, 0xef,
		0x8a, 0x42, 0x13, 0x57, 0x9b, 0xdf, 0x02, 0x46})
	got := UuidId(raw).String()
	if len(got) != 36 {
		t.Errorf("UUID String() = %q, want RFC 4122 form", got)
	}
}

// TestBase62 tests the base-62 encoding.
func TestBase62(t *testing.T) {
	tests := []struct {
		in   uint64
		want string
	}{
		{0, "0"},
		{9, "9"},
		{10, "A"},
		{61, "z"},
		{62, "10"},
		{3844, "100"},
	}
	for _, tt := range tests {
		if got := NumericId(tt.in).Base62(); got != tt.want {
			t.Errorf("NumericId(%d).Base62() = %q, want %q", tt.in, got, tt.want)
		}
	}

	if got := FormattedId("x").Base62(); got != "" {
		t.Errorf("Base62() on a formatted ID = %q, want empty", got)
	}
}

// TestIdJSON tests the JSON round trip for every variant.
func TestIdJSON(t *testing.T) {
	tests := []struct {
		name string
		id   Id
		want string
	}{
		{"numeric", NumericId(123456), `"123456"`},
		{"formatted", FormattedId("ORD-1"), `"ORD-1"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := json.Marshal(tt.id)
			if err != nil {
				t.Fatalf("Marshal() error = %v", err)
			}
			if string(data) != tt.want {
				t.Errorf("Marshal() = %s, want %s", data, tt.want)
			}

			var back Id
			if err := json.Unmarshal(data, &back); err != nil {
				t.Fatalf("Unmarshal() error = %v", err)
			}
			if back.String() != tt.id.String() {
				t.Errorf("round trip = %q, want %q", back.String(), tt.id.String())
			}
		})
	}
}

// TestIdJSONUuid tests that a UUID string round-trips back to the UUID kind.
func TestIdJSONUuid(t *testing.T) {
	var back Id
	if err := json.Unmarshal([]byte(`"018f3a5e-7c9b-7def-8a42-13579bdf0246"`), &back); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if back.Kind() != IdUuid {
		t.Errorf("Kind() = %v, want IdUuid", back.Kind())
	}
	if back.String() != "018f3a5e-7c9b-7def-8a42-13579bdf0246" {
		t.Errorf("String() = %q", back.String())
	}
}

// TestIdSQL tests the Valuer and Scanner implementations.
func TestIdSQL(t *testing.T) {
	v, err := NumericId(42).Value()
	if err != nil {
		t.Fatalf("Value() error = %v", err)
	}
	if v != int64(42) {
		t.Errorf("Value() = %v (%T), want int64 42", v, v)
	}

	v, err = FormattedId("ORD-1").Value()
	if err != nil {
		t.Fatalf("Value() error = %v", err)
	}
	if v != "ORD-1" {
		t.Errorf("Value() = %v, want ORD-1", v)
	}

	var id Id
	if err := id.Scan(int64(77)); err != nil {
		t.Fatalf("Scan(int64) error = %v", err)
	}
	if id.Uint64() != 77 {
		t.Errorf("Scan(int64) = %d, want 77", id.Uint64())
	}

	if err := id.Scan("ORD-9"); err != nil {
		t.Fatalf("Scan(string) error = %v", err)
	}
	if id.Kind() != IdFormatted || id.String() != "ORD-9" {
		t.Errorf("Scan(string) = kind %v %q", id.Kind(), id.String())
	}

	if err := id.Scan(nil); err != nil {
		t.Fatalf("Scan(nil) error = %v", err)
	}
	if !id.IsZero() {
		t.Error("Scan(nil) did not reset the Id")
	}

	if err := id.Scan(3.14); err == nil {
		t.Error("Scan(float64) did not fail")
	}
}
