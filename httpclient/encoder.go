package httpclient

import (
	"encoding"
	"errors"
	"fmt"
	"math"
	"net/url"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/schema"
)

// Pair is one encoded key/value. Bare pairs render as the key alone and mark
// an explicitly empty collection in strict presence mode.
type Pair struct {
	Key   string
	Value string
	Bare  bool
}

// Pairs is an ordered list of query or form pairs. Order is significant and
// preserved on the wire.
type Pairs []Pair

// Add appends a key/value pair.
func (p *Pairs) Add(key, value string) {
	*p = append(*p, Pair{Key: key, Value: value})
}

// Encode renders the pairs as `k=v&k2=v2` using query escaping.
func (p Pairs) Encode() string {
	if len(p) == 0 {
		return ""
	}
	var b strings.Builder
	for i, pair := range p {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(url.QueryEscape(pair.Key))
		if pair.Bare {
			continue
		}
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(pair.Value))
	}
	return b.String()
}

// Values converts the pairs to url.Values. Per-key order is kept; the
// relative order of different keys is lost.
func (p Pairs) Values() url.Values {
	v := make(url.Values, len(p))
	for _, pair := range p {
		if pair.Bare {
			if _, ok := v[pair.Key]; !ok {
				v[pair.Key] = []string{}
			}
			continue
		}
		v[pair.Key] = append(v[pair.Key], pair.Value)
	}
	return v
}

var pairsDecoder = func() *schema.Decoder {
	d := schema.NewDecoder()
	d.SetAliasTag("url")
	d.IgnoreUnknownKeys(true)
	return d
}()

// Decode fills dst (a pointer to struct) from the pairs. It understands the
// same `url` tags and dotted nested keys the Encoder produces.
func (p Pairs) Decode(dst any) error {
	return pairsDecoder.Decode(dst, p.Values())
}

// ParsePairs parses a query string keeping pair order.
func ParsePairs(raw string) (Pairs, error) {
	var out Pairs
	for raw != "" {
		var part string
		part, raw, _ = strings.Cut(raw, "&")
		if part == "" {
			continue
		}
		k, v, hasValue := strings.Cut(part, "=")
		key, err := url.QueryUnescape(k)
		if err != nil {
			return nil, err
		}
		value, err := url.QueryUnescape(v)
		if err != nil {
			return nil, err
		}
		out = append(out, Pair{Key: key, Value: value, Bare: !hasValue})
	}
	return out, nil
}

const defaultMaxDepth = 32

// Encoder turns typed values into ordered pairs. The zero value is not
// usable; create one with NewEncoder. An Encoder is safe for concurrent use.
type Encoder struct {
	strictPresence bool
	maxDepth       int
	timeLayout     string
}

// EncoderOption configures an Encoder.
type EncoderOption func(*Encoder)

// WithStrictPresence makes an empty repeated value encode as a bare key so
// the server can tell it apart from an omitted parameter.
//
// Default: off (both encode to nothing).
func WithStrictPresence() EncoderOption {
	return func(e *Encoder) { e.strictPresence = true }
}

// WithMaxDepth bounds nesting of structured values.
//
// Default: 32
func WithMaxDepth(depth int) EncoderOption {
	return func(e *Encoder) {
		if depth > 0 {
			e.maxDepth = depth
		}
	}
}

// WithTimeLayout sets the layout used for time.Time values.
//
// Default: time.RFC3339
func WithTimeLayout(layout string) EncoderOption {
	return func(e *Encoder) { e.timeLayout = layout }
}

// NewEncoder creates an Encoder.
func NewEncoder(opts ...EncoderOption) *Encoder {
	e := &Encoder{maxDepth: defaultMaxDepth, timeLayout: time.RFC3339}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

var (
	errAbsentScalar     = errors.New("scalar value is absent")
	errNotFinite        = errors.New("non-finite number cannot be encoded")
	errMaxDepthExceeded = errors.New("structured value nested too deeply")
)

// Encode renders v under key with the given strategy and collection format.
func (e *Encoder) Encode(key string, v any, strategy Strategy, format CollectionFormat) (Pairs, error) {
	var out Pairs
	if err := e.encode(&out, key, reflect.ValueOf(v), strategy, format, 0); err != nil {
		return nil, err
	}
	return out, nil
}

// EncodeParam renders an argument for a query or form parameter. The fields
// of a structured argument are keyed by field name alone unless p is
// Prefixed; nested records below it still use dotted keys.
func (e *Encoder) EncodeParam(p Param, v any) (Pairs, error) {
	key := p.Name
	if !p.Prefixed && isStructuredArg(p.Strategy, reflect.ValueOf(v)) {
		key = ""
	}
	return e.Encode(key, v, p.Strategy, p.Format)
}

func isStructuredArg(strategy Strategy, rv reflect.Value) bool {
	switch strategy {
	case StrategyStructured:
		return true
	case StrategyInfer, StrategyOptional:
		inner := unwrap(rv)
		return inner.IsValid() && inferStrategy(inner) == StrategyStructured
	default:
		return false
	}
}

var (
	timeType          = reflect.TypeOf(time.Time{})
	textMarshalerType = reflect.TypeOf((*encoding.TextMarshaler)(nil)).Elem()
	stringerType      = reflect.TypeOf((*fmt.Stringer)(nil)).Elem()
	optionalType      = reflect.TypeOf((*optional)(nil)).Elem()
	byteSliceType     = reflect.TypeOf([]byte(nil))
)

// isAbsent reports whether rv is a nil pointer/interface or an absent Optional.
func isAbsent(rv reflect.Value) bool {
	if !rv.IsValid() {
		return true
	}
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface:
		return rv.IsNil()
	}
	if rv.Type().Implements(optionalType) {
		_, ok := rv.Interface().(optional).optionalValue()
		return !ok
	}
	return false
}

// unwrap strips pointers, interfaces and Optional wrappers from a present value.
func unwrap(rv reflect.Value) reflect.Value {
	for rv.IsValid() {
		switch {
		case rv.Kind() == reflect.Pointer || rv.Kind() == reflect.Interface:
			if rv.IsNil() {
				return reflect.Value{}
			}
			rv = rv.Elem()
		case rv.Type().Implements(optionalType):
			v, ok := rv.Interface().(optional).optionalValue()
			if !ok {
				return reflect.Value{}
			}
			rv = reflect.ValueOf(v)
		default:
			return rv
		}
	}
	return rv
}

func isScalarType(t reflect.Type) bool {
	if t == timeType || t.Implements(textMarshalerType) || t.Implements(stringerType) {
		return true
	}
	switch t.Kind() {
	case reflect.String, reflect.Bool,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	}
	return t == byteSliceType
}

func inferStrategy(rv reflect.Value) Strategy {
	if !rv.IsValid() {
		return StrategyOptional
	}
	t := rv.Type()
	switch {
	case t.Kind() == reflect.Pointer || t.Kind() == reflect.Interface || t.Implements(optionalType):
		return StrategyOptional
	case isScalarType(t):
		return StrategyScalar
	case t.Kind() == reflect.Slice || t.Kind() == reflect.Array:
		return StrategyRepeated
	case t.Kind() == reflect.Struct || t.Kind() == reflect.Map:
		return StrategyStructured
	default:
		return StrategyScalar
	}
}

func (e *Encoder) encode(out *Pairs, key string, rv reflect.Value, strategy Strategy, format CollectionFormat, depth int) error {
	if strategy == StrategyInfer {
		strategy = inferStrategy(rv)
	}

	switch strategy {
	case StrategyOptional:
		if isAbsent(rv) {
			return nil
		}
		inner := unwrap(rv)
		return e.encode(out, key, inner, StrategyInfer, format, depth)

	case StrategyScalar:
		inner := unwrap(rv)
		if !inner.IsValid() {
			return errAbsentScalar
		}
		s, err := e.scalarString(inner)
		if err != nil {
			return err
		}
		out.Add(key, s)
		return nil

	case StrategyRepeated:
		return e.encodeRepeated(out, key, unwrap(rv), format)

	case StrategyStructured:
		inner := unwrap(rv)
		if !inner.IsValid() {
			return nil
		}
		if depth+1 > e.maxDepth {
			return errMaxDepthExceeded
		}
		switch inner.Kind() {
		case reflect.Struct:
			return e.encodeStruct(out, key, inner, depth+1)
		case reflect.Map:
			return e.encodeMap(out, key, inner, format, depth+1)
		default:
			return fmt.Errorf("%s is not a struct or map", inner.Type())
		}

	default:
		return fmt.Errorf("unknown strategy %d", strategy)
	}
}

func (e *Encoder) encodeRepeated(out *Pairs, key string, rv reflect.Value, format CollectionFormat) error {
	if !rv.IsValid() {
		return e.emptyCollection(out, key)
	}
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return fmt.Errorf("%s is not a slice or array", rv.Type())
	}

	values := make([]string, 0, rv.Len())
	for i := 0; i < rv.Len(); i++ {
		elem := rv.Index(i)
		if isAbsent(elem) {
			continue
		}
		s, err := e.scalarString(unwrap(elem))
		if err != nil {
			return fmt.Errorf("element %d: %w", i, err)
		}
		values = append(values, s)
	}
	if len(values) == 0 {
		return e.emptyCollection(out, key)
	}

	if sep := format.separator(); sep != "" {
		out.Add(key, strings.Join(values, sep))
		return nil
	}
	for _, s := range values {
		out.Add(key, s)
	}
	return nil
}

func (e *Encoder) emptyCollection(out *Pairs, key string) error {
	if e.strictPresence {
		*out = append(*out, Pair{Key: key, Bare: true})
	}
	return nil
}

func joinKey(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return prefix + "." + name
}

func (e *Encoder) encodeStruct(out *Pairs, prefix string, rv reflect.Value, depth int) error {
	t := rv.Type()
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if !field.IsExported() {
			continue
		}
		tag := parseURLTag(field)
		if tag.skip {
			continue
		}
		fv := rv.Field(i)

		if field.Anonymous && tag.name == "" && unwrap(fv).Kind() == reflect.Struct {
			if err := e.encodeStruct(out, prefix, unwrap(fv), depth); err != nil {
				return err
			}
			continue
		}

		name := tag.name
		if name == "" {
			name = field.Name
		}
		if tag.omitEmpty && fv.IsZero() {
			continue
		}
		if err := e.encode(out, joinKey(prefix, name), fv, StrategyInfer, tag.format, depth); err != nil {
			return fmt.Errorf("field %s: %w", field.Name, err)
		}
	}
	return nil
}

func (e *Encoder) encodeMap(out *Pairs, prefix string, rv reflect.Value, format CollectionFormat, depth int) error {
	if rv.Type().Key().Kind() != reflect.String {
		return fmt.Errorf("map key type %s is not a string", rv.Type().Key())
	}
	keys := make([]string, 0, rv.Len())
	for _, k := range rv.MapKeys() {
		keys = append(keys, k.String())
	}
	sort.Strings(keys)
	for _, k := range keys {
		v := rv.MapIndex(reflect.ValueOf(k).Convert(rv.Type().Key()))
		if err := e.encode(out, joinKey(prefix, k), v, StrategyInfer, format, depth); err != nil {
			return fmt.Errorf("key %q: %w", k, err)
		}
	}
	return nil
}

func (e *Encoder) scalarString(rv reflect.Value) (string, error) {
	if !rv.IsValid() {
		return "", errAbsentScalar
	}
	if rv.Type() == timeType {
		return rv.Interface().(time.Time).Format(e.timeLayout), nil
	}
	if rv.Type().Implements(textMarshalerType) {
		b, err := rv.Interface().(encoding.TextMarshaler).MarshalText()
		if err != nil {
			return "", err
		}
		return string(b), nil
	}
	if rv.Type().Implements(stringerType) {
		return rv.Interface().(fmt.Stringer).String(), nil
	}

	switch rv.Kind() {
	case reflect.String:
		return rv.String(), nil
	case reflect.Bool:
		return strconv.FormatBool(rv.Bool()), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(rv.Int(), 10), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return strconv.FormatUint(rv.Uint(), 10), nil
	case reflect.Float32, reflect.Float64:
		f := rv.Float()
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return "", errNotFinite
		}
		return strconv.FormatFloat(f, 'f', -1, rv.Type().Bits()), nil
	case reflect.Slice:
		if rv.Type() == byteSliceType {
			return string(rv.Bytes()), nil
		}
	}
	return "", fmt.Errorf("%s cannot be rendered as a scalar", rv.Type())
}

type urlTag struct {
	name      string
	skip      bool
	omitEmpty bool
	format    CollectionFormat
}

// parseURLTag reads `url:"name,omitempty,csv"`.
func parseURLTag(f reflect.StructField) urlTag {
	raw, ok := f.Tag.Lookup("url")
	if !ok {
		return urlTag{}
	}
	if raw == "-" {
		return urlTag{skip: true}
	}
	parts := strings.Split(raw, ",")
	tag := urlTag{name: parts[0]}
	for _, opt := range parts[1:] {
		switch opt {
		case "omitempty":
			tag.omitEmpty = true
		case "csv":
			tag.format = CollectionCSV
		case "ssv":
			tag.format = CollectionSSV
		case "pipes":
			tag.format = CollectionPipes
		}
	}
	return tag
}
