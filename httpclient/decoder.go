package httpclient

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Decoder turns a Response into a typed value or an error.
type Decoder struct {
	errorDecoder ErrorDecoder
	validate     *validator.Validate
}

// DecoderOption configures a Decoder.
type DecoderOption func(*Decoder)

// WithDecoderErrorDecoder installs a hook for non-2xx responses.
func WithDecoderErrorDecoder(fn ErrorDecoder) DecoderOption {
	return func(d *Decoder) { d.errorDecoder = fn }
}

// WithDecoderValidation validates decoded structs with v.
func WithDecoderValidation(v *validator.Validate) DecoderOption {
	return func(d *Decoder) { d.validate = v }
}

// NewDecoder creates a Decoder.
func NewDecoder(opts ...DecoderOption) *Decoder {
	d := &Decoder{}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// NewValidator returns a validator that reports JSON field names, so
// validation failures carry the same paths as decode failures.
func NewValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		switch name {
		case "-":
			return ""
		case "":
			return f.Name
		default:
			return name
		}
	})
	return v
}

// Decode interprets resp for an operation declaring kind.
//
//   - non-2xx: the ErrorDecoder's error, or *StatusError. The body is never
//     decoded into out.
//   - ResponseNone, or a nil out: success, body ignored.
//   - empty body: *DecodeError.
//   - otherwise decode per kind; failures are *DecodeError with a path.
func (d *Decoder) Decode(resp *Response, kind ResponseKind, out any) error {
	if resp == nil {
		return &TransportError{Err: ErrNoResponse}
	}

	if !resp.IsSuccess() {
		if d.errorDecoder != nil {
			if err := d.errorDecoder(resp); err != nil {
				return err
			}
		}
		return newStatusError(resp)
	}

	if kind == ResponseNone || out == nil {
		return nil
	}
	if len(bytes.TrimSpace(resp.Body)) == 0 {
		return &DecodeError{Body: resp.Body, Err: errEmptyBody}
	}

	var err error
	switch kind {
	case ResponseXML:
		if xerr := xml.Unmarshal(resp.Body, out); xerr != nil {
			err = &DecodeError{Body: resp.Body, Err: xerr}
		}
	case ResponseRaw:
		err = decodeRaw(resp.Body, out)
	default:
		err = decodeJSONStrict(resp.Body, out)
	}
	if err != nil {
		return err
	}

	return d.validateValue(resp.Body, out)
}

func (d *Decoder) validateValue(body []byte, out any) error {
	if d.validate == nil {
		return nil
	}
	rv := reflect.ValueOf(out)
	for rv.Kind() == reflect.Pointer && !rv.IsNil() {
		rv = rv.Elem()
	}
	if rv.Kind() != reflect.Struct {
		return nil
	}

	err := d.validate.Struct(out)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		fe := fieldErrs[0]
		return &DecodeError{
			Body: body,
			Path: parseNamespace(fe.Namespace()),
			Err:  fmt.Errorf("failed %q validation", fe.Tag()),
		}
	}
	return &DecodeError{Body: body, Err: err}
}

// parseNamespace converts a validator namespace such as
// "Envelope.user.addresses[2].zip" into a DecodePath, dropping the root
// type name.
func parseNamespace(ns string) DecodePath {
	_, rest, found := strings.Cut(ns, ".")
	if !found {
		return nil
	}
	var path DecodePath
	for _, part := range strings.Split(rest, ".") {
		name := part
		var indexes []int
		if open := strings.IndexByte(part, '['); open >= 0 {
			name = part[:open]
			for _, idx := range strings.Split(strings.TrimSuffix(part[open+1:], "]"), "][") {
				if n, err := strconv.Atoi(idx); err == nil {
					indexes = append(indexes, n)
				}
			}
		}
		if name != "" {
			path = append(path, Field(name))
		}
		for _, n := range indexes {
			path = append(path, Index(n))
		}
	}
	return path
}

func decodeRaw(body []byte, out any) error {
	switch dst := out.(type) {
	case *[]byte:
		*dst = append((*dst)[:0], body...)
	case *string:
		*dst = string(body)
	case io.Writer:
		if _, err := dst.Write(body); err != nil {
			return &DecodeError{Body: body, Err: err}
		}
	default:
		return &DecodeError{Body: body, Err: fmt.Errorf("raw response expects *[]byte, *string or io.Writer, got %T", out)}
	}
	return nil
}

// kindForContentType picks a response kind for ad-hoc requests.
func kindForContentType(contentType string) ResponseKind {
	ct := strings.ToLower(contentType)
	switch {
	case strings.Contains(ct, "json"):
		return ResponseJSON
	case strings.Contains(ct, "application/xml"), strings.Contains(ct, "text/xml"), strings.HasSuffix(ct, "+xml"):
		return ResponseXML
	default:
		return ResponseJSON
	}
}
