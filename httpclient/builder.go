package httpclient

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"reflect"
	"strings"

	"github.com/goccy/go-json"
)

const (
	contentTypeJSON = "application/json"
	contentTypeXML  = "application/xml"
	contentTypeForm = "application/x-www-form-urlencoded"
)

// Builder turns an Operation plus argument values into a Request. It never
// performs I/O: a Build either yields a complete Request or a
// *ConstructionError.
type Builder struct {
	baseURL *url.URL
	encoder *Encoder
	headers http.Header
}

// NewBuilder creates a Builder rooted at baseURL. defaultHeaders are applied
// to every request before operation headers; nil is allowed.
func NewBuilder(baseURL string, encoder *Encoder, defaultHeaders http.Header) (*Builder, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, &ConstructionError{Err: fmt.Errorf("base url: %w", err)}
	}
	if !u.IsAbs() || u.Host == "" {
		return nil, &ConstructionError{Err: fmt.Errorf("base url %q must be absolute", baseURL)}
	}
	if encoder == nil {
		encoder = NewEncoder()
	}
	return &Builder{
		baseURL: u,
		encoder: encoder,
		headers: defaultHeaders.Clone(),
	}, nil
}

// BaseURL returns a copy of the base URL.
func (b *Builder) BaseURL() *url.URL {
	u := *b.baseURL
	return &u
}

// Encoder returns the encoder used for query, form and header values.
func (b *Builder) Encoder() *Encoder { return b.encoder }

// Build assembles the request for op. args are matched to op.Params() by
// position.
func (b *Builder) Build(op *Operation, args ...any) (*Request, error) {
	if op == nil {
		return nil, &ConstructionError{Err: errors.New("nil operation")}
	}
	params := op.params
	if len(args) != len(params) {
		return nil, constructionErr(op.name, "", "expected %d argument(s), got %d", len(params), len(args))
	}

	var (
		bindings   = make(map[string]PathBinding)
		query      Pairs
		form       Pairs
		headerArgs []headerValues
		bodyArg    any
		hasBody    bool
	)

	for i, p := range params {
		arg := args[i]
		absent := isAbsent(reflect.ValueOf(arg))
		if absent && p.Required {
			return nil, constructionErr(op.name, p.Name, "required %s parameter is absent", p.Role)
		}

		switch p.Role {
		case RolePath:
			s, err := b.encoder.scalarString(unwrap(reflect.ValueOf(arg)))
			if err != nil {
				return nil, &ConstructionError{Operation: op.name, Param: p.Name, Err: err}
			}
			bindings[p.Name] = PathBinding{Value: s, MultiSegment: p.MultiSegment}

		case RoleQuery, RoleForm:
			pairs, err := b.encoder.EncodeParam(p, arg)
			if err != nil {
				return nil, &ConstructionError{Operation: op.name, Param: p.Name, Err: err}
			}
			if p.Role == RoleQuery {
				query = append(query, pairs...)
			} else {
				form = append(form, pairs...)
			}

		case RoleHeader:
			if absent {
				continue
			}
			values, err := b.headerValues(p, arg)
			if err != nil {
				return nil, &ConstructionError{Operation: op.name, Param: p.Name, Err: err}
			}
			headerArgs = append(headerArgs, headerValues{name: p.Name, values: values})

		case RoleBody:
			if !absent {
				bodyArg, hasBody = arg, true
			}
		}
	}

	path, err := op.template.Expand(bindings)
	if err != nil {
		return nil, &ConstructionError{Operation: op.name, Err: err}
	}

	req := &Request{
		Method: op.method,
		URL:    b.resolve(path, query),
		Header: b.headers.Clone(),
	}
	if req.Header == nil {
		req.Header = make(http.Header)
	}
	for k, vs := range op.headers {
		req.Header[k] = append([]string(nil), vs...)
	}

	switch {
	case op.hasForm:
		req.Body = []byte(form.Encode())
		req.Header.Set("Content-Type", contentTypeForm)
	case hasBody:
		body, contentType, err := encodeBody(op.body, bodyArg)
		if err != nil {
			return nil, &ConstructionError{Operation: op.name, Param: params[op.bodyIndex].Name, Err: err}
		}
		req.Body = body
		if contentType != "" && req.Header.Get("Content-Type") == "" {
			req.Header.Set("Content-Type", contentType)
		}
	}

	applyHeaderArgs(req.Header, headerArgs)

	OperationKey.Set(&req.Extensions, op)
	PathTemplateKey.Set(&req.Extensions, joinPath(b.baseURL.Path, op.template.String()))
	return req, nil
}

type headerValues struct {
	name   string
	values []string
}

// applyHeaderArgs replaces any earlier header of the same name, then lets
// header arguments sharing a name accumulate.
func applyHeaderArgs(h http.Header, args []headerValues) {
	replaced := make(map[string]bool, len(args))
	for _, a := range args {
		key := http.CanonicalHeaderKey(a.name)
		if !replaced[key] {
			h.Del(key)
			replaced[key] = true
		}
		for _, v := range a.values {
			h.Add(key, v)
		}
	}
}

func (b *Builder) headerValues(p Param, arg any) ([]string, error) {
	strategy := p.Strategy
	if strategy == StrategyInfer {
		strategy = inferStrategy(reflect.ValueOf(arg))
	}
	if strategy == StrategyStructured {
		return nil, errors.New("structured values cannot be sent as a header")
	}
	pairs, err := b.encoder.Encode(p.Name, arg, strategy, p.Format)
	if err != nil {
		return nil, err
	}
	values := make([]string, 0, len(pairs))
	for _, pair := range pairs {
		if pair.Bare {
			continue
		}
		if strings.ContainsAny(pair.Value, "\r\n") {
			return nil, errors.New("header value contains a line break")
		}
		values = append(values, pair.Value)
	}
	return values, nil
}

// resolve joins the base URL with the expanded path and appends the base
// query followed by the encoded pairs.
func (b *Builder) resolve(path string, query Pairs) *url.URL {
	u := *b.baseURL
	rawPath := joinPath(b.baseURL.EscapedPath(), path)
	decoded, err := url.PathUnescape(rawPath)
	if err != nil {
		decoded = rawPath
	}
	u.Path = decoded
	u.RawPath = rawPath

	raw := b.baseURL.RawQuery
	if encoded := query.Encode(); encoded != "" {
		if raw != "" {
			raw += "&"
		}
		raw += encoded
	}
	u.RawQuery = raw
	u.Fragment = ""
	return &u
}

func joinPath(base, path string) string {
	switch {
	case path == "":
		return base
	case base == "" || base == "/":
		if !strings.HasPrefix(path, "/") {
			return "/" + path
		}
		return path
	default:
		return strings.TrimSuffix(base, "/") + "/" + strings.TrimPrefix(path, "/")
	}
}

func encodeBody(enc BodyEncoding, v any) ([]byte, string, error) {
	switch body := v.(type) {
	case *Multipart:
		return body.Encode()
	case Multipart:
		return body.Encode()
	}

	switch enc {
	case BodyXML:
		data, err := xml.Marshal(v)
		return data, contentTypeXML, err
	case BodyRaw:
		return rawBody(v)
	case BodyMultipart:
		return nil, "", fmt.Errorf("multipart body expects *Multipart, got %T", v)
	default:
		data, err := json.Marshal(v)
		return data, contentTypeJSON, err
	}
}

func rawBody(v any) ([]byte, string, error) {
	switch body := v.(type) {
	case []byte:
		return body, "application/octet-stream", nil
	case string:
		return []byte(body), "text/plain; charset=utf-8", nil
	case url.Values:
		return []byte(body.Encode()), contentTypeForm, nil
	case io.Reader:
		data, err := io.ReadAll(body)
		return data, "", err
	default:
		return nil, "", fmt.Errorf("raw body expects []byte, string or io.Reader, got %T", v)
	}
}
