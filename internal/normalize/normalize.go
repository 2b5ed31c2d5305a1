// ABOUTME: Converts loosely-typed BSON metadata values into wire-ready Go values
// ABOUTME: Recovers from unknown types by stringifying; never returns an error

package normalize

import (
	"encoding/json"
	"log/slog"
	"strings"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// wrapperField is the single field name that marks an "effectively scalar"
// wrapper document. Such documents are unwrapped before normalization so
// clients see the scalar shape they stored.
const wrapperField = "value"

// Normalizer converts BSON values into maps, slices, and scalars suitable
// for the generic JSON layer of the session transport.
type Normalizer struct {
	logger *slog.Logger
}

// New creates a Normalizer. Pass nil logger for default.
func New(logger *slog.Logger) *Normalizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Normalizer{logger: logger.With("component", "normalizer")}
}

// Value normalizes an arbitrary stored value. The zero RawValue (absent
// metadata) normalizes to nil. This function must not fail: malformed or
// unrecognized input degrades to a string representation.
func (n *Normalizer) Value(rv bson.RawValue) any {
	if len(rv.Value) == 0 && rv.Type == 0 {
		return nil
	}
	if unwrapped, ok := n.unwrap(rv); ok {
		rv = unwrapped
	}
	return n.value(rv)
}

// unwrap detects a wrapper document whose sole field is named "value" and
// returns that field's value.
func (n *Normalizer) unwrap(rv bson.RawValue) (bson.RawValue, bool) {
	if rv.Type != bson.TypeEmbeddedDocument {
		return bson.RawValue{}, false
	}
	doc, ok := rv.DocumentOK()
	if !ok {
		return bson.RawValue{}, false
	}
	elems, err := doc.Elements()
	if err != nil || len(elems) != 1 {
		return bson.RawValue{}, false
	}
	if elems[0].Key() != wrapperField {
		return bson.RawValue{}, false
	}
	return elems[0].Value(), true
}

func (n *Normalizer) value(rv bson.RawValue) any {
	switch rv.Type {
	case bson.TypeEmbeddedDocument:
		return n.document(rv)
	case bson.TypeArray:
		return n.array(rv)
	case bson.TypeString:
		return n.text(rv.StringValue())
	case bson.TypeBoolean:
		return rv.Boolean()
	case bson.TypeInt32:
		return rv.Int32()
	case bson.TypeInt64:
		return rv.Int64()
	case bson.TypeDouble:
		return rv.Double()
	case bson.TypeDecimal128:
		return rv.Decimal128().String()
	case bson.TypeDateTime:
		return rv.Time().UTC()
	case bson.TypeObjectID:
		return rv.ObjectID().Hex()
	case bson.TypeNull, bson.TypeUndefined:
		return nil
	default:
		// Recoverable: anything unrecognized rides along as its
		// extended JSON string form.
		n.logger.Warn("stringifying unrecognized metadata value", "bson_type", rv.Type.String())
		return rv.String()
	}
}

func (n *Normalizer) document(rv bson.RawValue) any {
	doc, ok := rv.DocumentOK()
	if !ok {
		return rv.String()
	}
	elems, err := doc.Elements()
	if err != nil {
		n.logger.Warn("stringifying malformed document", "error", err)
		return rv.String()
	}
	out := make(map[string]any, len(elems))
	for _, elem := range elems {
		out[elem.Key()] = n.value(elem.Value())
	}
	return out
}

func (n *Normalizer) array(rv bson.RawValue) any {
	arr, ok := rv.ArrayOK()
	if !ok {
		return rv.String()
	}
	vals, err := arr.Values()
	if err != nil {
		n.logger.Warn("stringifying malformed array", "error", err)
		return rv.String()
	}
	out := make([]any, 0, len(vals))
	for _, v := range vals {
		out = append(out, n.value(v))
	}
	return out
}

// text opportunistically re-parses strings that look like embedded JSON
// objects or arrays. Parse failures fall back to the raw string.
func (n *Normalizer) text(s string) any {
	trimmed := strings.TrimSpace(s)
	if !looksLikeJSON(trimmed) {
		return s
	}
	var parsed any
	if err := json.Unmarshal([]byte(trimmed), &parsed); err != nil {
		return s
	}
	return parsed
}

func looksLikeJSON(s string) bool {
	if len(s) < 2 {
		return false
	}
	switch s[0] {
	case '{':
		return s[len(s)-1] == '}'
	case '[':
		return s[len(s)-1] == ']'
	}
	return false
}
