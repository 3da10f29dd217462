package httpclient

import (
	"bytes"
	"encoding"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/goccy/go-json"
)

// decodeJSONStrict decodes body into out. Before unmarshalling it walks the
// payload against the target type so that a failure can be reported with
// the exact location, e.g. user.addresses[2].zip.
//
// Struct fields are required unless they are pointers, slices, maps,
// interfaces or Optional, or carry `omitempty`. null is only accepted where
// the target can hold it: pointers, slices, maps, interfaces and types with
// their own UnmarshalJSON.
func decodeJSONStrict(body []byte, out any) error {
	rv := reflect.ValueOf(out)
	if !rv.IsValid() || rv.Kind() != reflect.Pointer || rv.IsNil() {
		return &DecodeError{Body: body, Err: fmt.Errorf("decode target must be a non-nil pointer, got %T", out)}
	}

	w := &jsonWalker{}
	if err := w.walk(body, rv.Type().Elem(), nil); err != nil {
		err.Body = body
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return &DecodeError{Body: body, Err: err}
	}
	return nil
}

var (
	errMissingField = errors.New("missing field")
	errNullValue    = errors.New("null is not allowed")
	errEmptyBody    = errors.New("empty response body")

	jsonUnmarshalerType = reflect.TypeOf((*json.Unmarshaler)(nil)).Elem()
	textUnmarshalerType = reflect.TypeOf((*encoding.TextUnmarshaler)(nil)).Elem()
)

type jsonWalker struct{}

func (w *jsonWalker) fail(path DecodePath, err error) *DecodeError {
	return &DecodeError{Path: append(DecodePath(nil), path...), Err: err}
}

func (w *jsonWalker) walk(data []byte, t reflect.Type, path DecodePath) *DecodeError {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return w.fail(path, errEmptyBody)
	}
	if string(data) == "null" {
		if acceptsNull(t) {
			return nil
		}
		return w.fail(path, fmt.Errorf("%w for %s", errNullValue, t))
	}

	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}

	if reflect.PointerTo(t).Implements(jsonUnmarshalerType) ||
		reflect.PointerTo(t).Implements(textUnmarshalerType) {
		return w.leaf(data, t, path)
	}

	switch t.Kind() {
	case reflect.Interface:
		return w.leaf(data, t, path)
	case reflect.Struct:
		return w.walkStruct(data, t, path)
	case reflect.Map:
		return w.walkMap(data, t, path)
	case reflect.Slice:
		if t.Elem().Kind() == reflect.Uint8 {
			return w.leaf(data, t, path)
		}
		return w.walkArray(data, t, path)
	case reflect.Array:
		return w.walkArray(data, t, path)
	default:
		return w.leaf(data, t, path)
	}
}

func (w *jsonWalker) leaf(data []byte, t reflect.Type, path DecodePath) *DecodeError {
	if err := json.Unmarshal(data, reflect.New(t).Interface()); err != nil {
		return w.fail(path, fmt.Errorf("cannot decode %s into %s: %w", jsonKind(data), t, unwrapJSONError(err)))
	}
	return nil
}

func (w *jsonWalker) walkStruct(data []byte, t reflect.Type, path DecodePath) *DecodeError {
	if data[0] != '{' {
		return w.fail(path, fmt.Errorf("expected object for %s, got %s", t, jsonKind(data)))
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err != nil {
		return w.fail(path, unwrapJSONError(err))
	}

	for _, f := range jsonFields(t) {
		key, ok := lookupField(obj, f.name)
		if !ok {
			if f.required {
				return w.fail(append(path, Field(f.name)), errMissingField)
			}
			continue
		}
		if f.quoted {
			continue
		}
		if err := w.walk(obj[key], f.typ, append(path, Field(key))); err != nil {
			return err
		}
	}
	return nil
}

func (w *jsonWalker) walkMap(data []byte, t reflect.Type, path DecodePath) *DecodeError {
	if data[0] != '{' {
		return w.fail(path, fmt.Errorf("expected object for %s, got %s", t, jsonKind(data)))
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err != nil {
		return w.fail(path, unwrapJSONError(err))
	}
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := w.walk(obj[k], t.Elem(), append(path, Field(k))); err != nil {
			return err
		}
	}
	return nil
}

func (w *jsonWalker) walkArray(data []byte, t reflect.Type, path DecodePath) *DecodeError {
	if data[0] != '[' {
		return w.fail(path, fmt.Errorf("expected array for %s, got %s", t, jsonKind(data)))
	}
	var items []json.RawMessage
	if err := json.Unmarshal(data, &items); err != nil {
		return w.fail(path, unwrapJSONError(err))
	}
	if t.Kind() == reflect.Array && len(items) > t.Len() {
		return w.fail(path, fmt.Errorf("array of %d elements does not fit %s", len(items), t))
	}
	for i, item := range items {
		if err := w.walk(item, t.Elem(), append(path, Index(i))); err != nil {
			return err
		}
	}
	return nil
}

type jsonField struct {
	name     string
	typ      reflect.Type
	required bool
	quoted   bool
}

// jsonFields lists the JSON-visible fields of t following encoding/json
// naming rules, flattening untagged embedded structs.
func jsonFields(t reflect.Type) []jsonField {
	var fields []jsonField
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		tag := sf.Tag.Get("json")
		if tag == "-" {
			continue
		}
		name, opts, _ := strings.Cut(tag, ",")

		if sf.Anonymous && name == "" {
			ft := sf.Type
			if ft.Kind() == reflect.Pointer {
				ft = ft.Elem()
			}
			if ft.Kind() == reflect.Struct {
				embedded := jsonFields(ft)
				if sf.Type.Kind() == reflect.Pointer {
					for j := range embedded {
						embedded[j].required = false
					}
				}
				fields = append(fields, embedded...)
				continue
			}
		}
		if !sf.IsExported() {
			continue
		}
		if name == "" {
			name = sf.Name
		}
		fields = append(fields, jsonField{
			name:     name,
			typ:      sf.Type,
			required: isRequiredField(sf.Type, opts),
			quoted:   hasTagOption(opts, "string"),
		})
	}
	return fields
}

func isRequiredField(t reflect.Type, opts string) bool {
	if hasTagOption(opts, "omitempty") || hasTagOption(opts, "omitzero") {
		return false
	}
	switch t.Kind() {
	case reflect.Pointer, reflect.Slice, reflect.Map, reflect.Interface:
		return false
	}
	return !t.Implements(optionalType)
}

func hasTagOption(opts, want string) bool {
	for opts != "" {
		var opt string
		opt, opts, _ = strings.Cut(opts, ",")
		if opt == want {
			return true
		}
	}
	return false
}

// acceptsNull reports whether unmarshalling null into t is meaningful.
func acceptsNull(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.Pointer, reflect.Slice, reflect.Map, reflect.Interface:
		return true
	}
	return reflect.PointerTo(t).Implements(jsonUnmarshalerType)
}

// lookupField returns the payload key bound to a field: the exact name, or
// else the smallest key that matches it case-insensitively.
func lookupField(obj map[string]json.RawMessage, name string) (string, bool) {
	if _, ok := obj[name]; ok {
		return name, true
	}
	var (
		match string
		found bool
	)
	for k := range obj {
		if strings.EqualFold(k, name) && (!found || k < match) {
			match, found = k, true
		}
	}
	return match, found
}

func jsonKind(data []byte) string {
	if len(data) == 0 {
		return "nothing"
	}
	switch data[0] {
	case '{':
		return "object"
	case '[':
		return "array"
	case '"':
		return "string"
	case 't', 'f':
		return "bool"
	case 'n':
		return "null"
	default:
		return "number"
	}
}

// unwrapJSONError drops the Go-type details goccy adds, which would repeat
// information already carried by the path.
func unwrapJSONError(err error) error {
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		return fmt.Errorf("%s is not a valid %s", typeErr.Value, typeErr.Type)
	}
	return err
}
