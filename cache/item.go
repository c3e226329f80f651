package cache

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// Well-known item field names.
const (
	FieldID     = "id"
	FieldStatus = "status"
)

// Field is a single named value of an Item, kept as raw JSON.
type Field struct {
	Name  string
	Value json.RawMessage
}

// NewField encodes value as JSON and returns it as a Field.
func NewField(name string, value any) (Field, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return Field{}, fmt.Errorf("cache: encode field %q: %w", name, err)
	}
	return Field{Name: name, Value: raw}, nil
}

// Item is an opaque record returned by the remote source.
//
// Only the id and status fields are interpreted; every other field is kept
// verbatim and in its original order through all transformations. Items are
// values: methods that change an item return a modified copy.
type Item struct {
	fields []Field
}

// NewItem builds an item from the given fields. Later duplicates of a name
// overwrite the value of the first occurrence in place.
func NewItem(fields ...Field) Item {
	var it Item
	for _, f := range fields {
		it.set(f.Name, cloneRaw(f.Value))
	}
	return it
}

// ParseItem decodes a JSON object into an Item.
func ParseItem(data []byte) (Item, error) {
	var it Item
	if err := it.UnmarshalJSON(data); err != nil {
		return Item{}, err
	}
	return it, nil
}

// MustParseItem is like ParseItem but panics on error.
// It is intended for tests and static fixtures.
func MustParseItem(data string) Item {
	it, err := ParseItem([]byte(data))
	if err != nil {
		panic(err)
	}
	return it
}

// ID returns the string form of the id field, or "" when absent.
//
// JSON strings are returned unquoted and numbers in their shortest decimal
// form, so an id of 5 and an id of "5" compare equal.
func (it Item) ID() string {
	raw, ok := it.Get(FieldID)
	if !ok {
		return ""
	}
	return scalarString(raw)
}

// Status returns the string form of the status field, or "" when absent.
func (it Item) Status() string {
	raw, ok := it.Get(FieldStatus)
	if !ok {
		return ""
	}
	return scalarString(raw)
}

// Get returns the raw JSON value of the named field.
func (it Item) Get(name string) (json.RawMessage, bool) {
	for _, f := range it.fields {
		if f.Name == name {
			return f.Value, true
		}
	}
	return nil, false
}

// Fields returns a copy of the item's fields in order.
func (it Item) Fields() []Field {
	out := make([]Field, len(it.fields))
	for i, f := range it.fields {
		out[i] = Field{Name: f.Name, Value: cloneRaw(f.Value)}
	}
	return out
}

// Len returns the number of fields.
func (it Item) Len() int {
	return len(it.fields)
}

// WithStatus returns a copy of the item with status replaced. The status
// field keeps its position; it is appended when the item has none.
func (it Item) WithStatus(status string) Item {
	raw, _ := json.Marshal(status)
	out := Item{fields: make([]Field, len(it.fields), len(it.fields)+1)}
	copy(out.fields, it.fields)
	out.set(FieldStatus, raw)
	return out
}

// Equal reports whether both items have the same fields, in the same order,
// with byte-identical values.
func (it Item) Equal(other Item) bool {
	if len(it.fields) != len(other.fields) {
		return false
	}
	for i, f := range it.fields {
		o := other.fields[i]
		if f.Name != o.Name || !bytes.Equal(f.Value, o.Value) {
			return false
		}
	}
	return true
}

// MarshalJSON encodes the item as a JSON object preserving field order.
func (it Item) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, f := range it.fields {
		if i > 0 {
			buf.WriteByte(',')
		}
		name, err := json.Marshal(f.Name)
		if err != nil {
			return nil, err
		}
		buf.Write(name)
		buf.WriteByte(':')
		if len(f.Value) == 0 {
			buf.WriteString("null")
			continue
		}
		buf.Write(f.Value)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes a JSON object, keeping field order.
func (it *Item) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrItemNotObject, err)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return ErrItemNotObject
	}

	var decoded Item
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return fmt.Errorf("cache: decode item: %w", err)
		}
		name, ok := tok.(string)
		if !ok {
			return fmt.Errorf("cache: decode item: unexpected token %v", tok)
		}
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return fmt.Errorf("cache: decode item field %q: %w", name, err)
		}
		decoded.set(name, raw)
	}
	if _, err := dec.Token(); err != nil {
		return fmt.Errorf("cache: decode item: %w", err)
	}

	*it = decoded
	return nil
}

func (it *Item) set(name string, value json.RawMessage) {
	for i := range it.fields {
		if it.fields[i].Name == name {
			it.fields[i].Value = value
			return
		}
	}
	it.fields = append(it.fields, Field{Name: name, Value: value})
}

func scalarString(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}
	switch raw[0] {
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			return s
		}
	case '-', '0', '1', '2', '3', '4', '5', '6', '7', '8', '9':
		if n, err := strconv.ParseInt(string(raw), 10, 64); err == nil {
			return strconv.FormatInt(n, 10)
		}
		if f, err := strconv.ParseFloat(string(raw), 64); err == nil {
			return strconv.FormatFloat(f, 'f', -1, 64)
		}
	}
	return string(raw)
}

func cloneRaw(raw json.RawMessage) json.RawMessage {
	if raw == nil {
		return nil
	}
	out := make(json.RawMessage, len(raw))
	copy(out, raw)
	return out
}

// cloneItems returns a shallow copy of the slice; items are immutable values.
func cloneItems(items []Item) []Item {
	if items == nil {
		return nil
	}
	out := make([]Item, len(items))
	copy(out, items)
	return out
}
