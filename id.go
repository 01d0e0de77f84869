// Package nebulaid - id.go provides the Id type: a tagged union over the
// three shapes an issued identifier can take.
//
// Numeric IDs come from the Segment and Snowflake algorithms, UUID IDs from
// the v7/v4 fallbacks, and formatted IDs from tenant prefix templates. The
// type implements the standard marshaling and database interfaces so IDs flow
// through JSON APIs and SQL columns without manual conversion.

package nebulaid

import (
	"database/sql/driver"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// IdKind discriminates the variants of Id.
type IdKind uint8

// Id variants.
const (
	// IdNumeric is a 64-bit numeric identifier (Segment, Snowflake).
	IdNumeric IdKind = iota

	// IdUuid is a 128-bit identifier (UUIDv7, UUIDv4).
	IdUuid

	// IdFormatted is a string identifier produced by a format template.
	IdFormatted
)

// Id is a generated identifier.
//
// The zero value is the numeric ID 0, which no algorithm ever issues; IsZero
// reports whether an Id is unset.
//
// # Interface Implementations
//
//   - json.Marshaler/Unmarshaler: string form (JavaScript-safe for numerics)
//   - encoding.TextMarshaler/Unmarshaler: for XML, YAML, TOML
//   - sql.Scanner/driver.Valuer: numeric IDs store as int64, others as text
//   - fmt.Stringer: canonical string representation
type Id struct {
	kind IdKind
	num  uint64
	uid  [16]byte
	str  string
}

// NumericId wraps a 64-bit value as an Id.
func NumericId(v uint64) Id {
	return Id{kind: IdNumeric, num: v}
}

// UuidId wraps a 128-bit value as an Id.
func UuidId(u [16]byte) Id {
	return Id{kind: IdUuid, uid: u}
}

// FormattedId wraps a template-rendered string as an Id.
func FormattedId(s string) Id {
	return Id{kind: IdFormatted, str: s}
}

// Kind returns the variant of this Id.
func (id Id) Kind() IdKind {
	return id.kind
}

// IsZero reports whether the Id is unset.
func (id Id) IsZero() bool {
	return id.kind == IdNumeric && id.num == 0
}

// Uint64 returns the numeric value. Zero for non-numeric IDs.
func (id Id) Uint64() uint64 {
	return id.num
}

// Int64 returns the numeric value as int64 for database and API
// compatibility. Zero for non-numeric IDs.
func (id Id) Int64() int64 {
	return int64(id.num)
}

// Uuid returns the 128-bit value. Zero for non-UUID IDs.
func (id Id) Uuid() [16]byte {
	return id.uid
}

// String returns the canonical string representation: decimal for numeric,
// RFC 4122 form for UUID, the rendered string for formatted IDs.
func (id Id) String() string {
	switch id.kind {
	case IdUuid:
		return uuid.UUID(id.uid).String()
	case IdFormatted:
		return id.str
	default:
		return strconv.FormatUint(id.num, 10)
	}
}

// base62Alphabet orders digits before letters so lexicographic and numeric
// ordering agree.
const base62Alphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

// Base62 returns the URL-safe base-62 encoding of a numeric ID.
// Empty for non-numeric IDs.
func (id Id) Base62() string {
	if id.kind != IdNumeric {
		return ""
	}
	if id.num == 0 {
		return "0"
	}
	var buf [11]byte // ceil(64 / log2(62))
	i := len(buf)
	for v := id.num; v > 0; v /= 62 {
		i--
		buf[i] = base62Alphabet[v%62]
	}
	return string(buf[i:])
}

// MarshalJSON encodes the ID as a JSON string.
//
// Numeric IDs are encoded as strings rather than numbers because JavaScript
// cannot represent integers above 2^53 exactly.
func (id Id) MarshalJSON() ([]byte, error) {
	return strconv.AppendQuote(nil, id.String()), nil
}

// UnmarshalJSON decodes an ID from a JSON string or number.
func (id *Id) UnmarshalJSON(data []byte) error {
	s := string(data)
	if len(s) >= 2 && s[0] == '"' {
		unquoted, err := strconv.Unquote(s)
		if err != nil {
			return fmt.Errorf("invalid ID JSON: %w", err)
		}
		s = unquoted
	}
	return id.UnmarshalText([]byte(s))
}

// MarshalText implements encoding.TextMarshaler.
func (id Id) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
//
// Decimal strings become numeric IDs, RFC 4122 strings become UUID IDs, and
// anything else becomes a formatted ID.
func (id *Id) UnmarshalText(text []byte) error {
	s := string(text)
	if v, err := strconv.ParseUint(s, 10, 64); err == nil {
		*id = NumericId(v)
		return nil
	}
	if len(s) == 36 && strings.Count(s, "-") == 4 {
		u, err := uuid.Parse(s)
		if err == nil {
			*id = UuidId([16]byte(u))
			return nil
		}
	}
	*id = FormattedId(s)
	return nil
}

// Value implements driver.Valuer. Numeric IDs store as int64, UUID and
// formatted IDs as their string form.
func (id Id) Value() (driver.Value, error) {
	if id.kind == IdNumeric {
		return int64(id.num), nil
	}
	return id.String(), nil
}

// Scan implements sql.Scanner.
func (id *Id) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		*id = Id{}
		return nil
	case int64:
		*id = NumericId(uint64(v))
		return nil
	case uint64:
		*id = NumericId(v)
		return nil
	case string:
		return id.UnmarshalText([]byte(v))
	case []byte:
		return id.UnmarshalText(v)
	default:
		return fmt.Errorf("cannot scan %T into Id", src)
	}
}
