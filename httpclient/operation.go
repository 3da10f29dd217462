package httpclient

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ResponseKind declares how a successful body is decoded.
type ResponseKind int

const (
	// ResponseJSON decodes the body as JSON. An empty body is an error.
	ResponseJSON ResponseKind = iota
	// ResponseXML decodes the body as XML. An empty body is an error.
	ResponseXML
	// ResponseRaw copies the body into *[]byte or *string.
	ResponseRaw
	// ResponseNone ignores the body; used for 204-style operations.
	ResponseNone
)

// BodyEncoding declares how the Body parameter is serialized.
type BodyEncoding int

const (
	// BodyJSON encodes the body parameter as JSON.
	BodyJSON BodyEncoding = iota
	// BodyXML encodes the body parameter as XML.
	BodyXML
	// BodyRaw sends []byte, string or io.Reader values as-is.
	BodyRaw
	// BodyMultipart sends a *Multipart value.
	BodyMultipart
)

// Operation describes one remote API method. It is immutable once built and
// safe to share between goroutines.
//
// Example:
//
//	var getUser = httpclient.MustOperation("GetUser", http.MethodGet, "/users/{id}",
//	    []httpclient.Param{
//	        httpclient.Path("id"),
//	        httpclient.Query("fields", httpclient.WithFormat(httpclient.CollectionCSV)),
//	        httpclient.Header("X-Request-Tag"),
//	    },
//	)
//
//	var user User
//	err := client.Call(ctx, getUser, &user, 42, []string{"name", "email"}, "batch")
type Operation struct {
	name       string
	method     string
	template   *PathTemplate
	params     []Param
	response   ResponseKind
	body       BodyEncoding
	idempotent bool
	headers    http.Header
	metadata   []ParamMetadata

	bodyIndex int
	hasForm   bool
}

// OperationOption customizes an Operation.
type OperationOption func(*Operation)

// WithResponse sets how the success body is decoded. Default: ResponseJSON.
func WithResponse(kind ResponseKind) OperationOption {
	return func(op *Operation) { op.response = kind }
}

// WithBodyEncoding sets how the Body parameter is serialized. Default: BodyJSON.
func WithBodyEncoding(enc BodyEncoding) OperationOption {
	return func(op *Operation) { op.body = enc }
}

// WithIdempotent overrides the idempotency derived from the method. Retry
// only re-sends idempotent operations unless told otherwise.
func WithIdempotent(idempotent bool) OperationOption {
	return func(op *Operation) { op.idempotent = idempotent }
}

// WithStaticHeader adds a header sent on every call of the operation.
func WithStaticHeader(key, value string) OperationOption {
	return func(op *Operation) { op.headers.Add(key, value) }
}

var validMethods = map[string]bool{
	http.MethodGet:     true,
	http.MethodHead:    true,
	http.MethodPost:    true,
	http.MethodPut:     true,
	http.MethodPatch:   true,
	http.MethodDelete:  true,
	http.MethodOptions: true,
	http.MethodTrace:   true,
	http.MethodConnect: true,
}

// IsIdempotentMethod reports whether repeating a request with method has the
// same effect as sending it once.
func IsIdempotentMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodTrace,
		http.MethodPut, http.MethodDelete:
		return true
	default:
		return false
	}
}

// IsSafeMethod reports whether method is read-only.
func IsSafeMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodTrace:
		return true
	default:
		return false
	}
}

// NewOperation validates and builds an Operation. All wiring mistakes are
// reported here, so a successfully built Operation can only fail at call
// time because of argument values.
func NewOperation(
	name, method, pathTemplate string,
	params []Param,
	opts ...OperationOption,
) (*Operation, error) {
	fail := func(param string, err error) (*Operation, error) {
		return nil, &ConstructionError{Operation: name, Param: param, Err: err}
	}

	if strings.TrimSpace(name) == "" {
		return fail("", errors.New("operation name is required"))
	}
	method = strings.ToUpper(method)
	if !validMethods[method] {
		return fail("", fmt.Errorf("unsupported method %q", method))
	}

	tmpl, err := ParsePathTemplate(pathTemplate)
	if err != nil {
		return fail("", err)
	}

	op := &Operation{
		name:       name,
		method:     method,
		template:   tmpl,
		params:     append([]Param(nil), params...),
		idempotent: IsIdempotentMethod(method),
		headers:    make(http.Header),
		bodyIndex:  -1,
	}
	for _, opt := range opts {
		opt(op)
	}

	seen := make(map[string]bool, len(params))
	pathParams := make(map[string]bool)
	for i, p := range op.params {
		if p.Name == "" && p.Role != RoleQuery && p.Role != RoleForm {
			return fail("", fmt.Errorf("%s parameter #%d has no name", p.Role, i))
		}
		// Header and query names may repeat; each binding adds its own values.
		if p.Role == RolePath || p.Role == RoleBody {
			key := p.Role.String() + ":" + p.Name
			if seen[key] {
				return fail(p.Name, fmt.Errorf("duplicate %s parameter", p.Role))
			}
			seen[key] = true
		}

		switch p.Role {
		case RolePath:
			if !tmpl.Has(p.Name) {
				return fail(p.Name, fmt.Errorf("no placeholder {%s} in %q", p.Name, pathTemplate))
			}
			pathParams[p.Name] = true
		case RoleBody:
			if op.bodyIndex >= 0 {
				return fail(p.Name, errors.New("more than one body parameter"))
			}
			op.bodyIndex = i
		case RoleForm:
			op.hasForm = true
		case RoleQuery, RoleHeader:
		default:
			return fail(p.Name, fmt.Errorf("unknown role %d", p.Role))
		}

		op.metadata = append(op.metadata, ParamMetadata{
			Name:     p.Name,
			Location: p.Role.String(),
			Required: p.Required,
		})
	}

	for _, name := range tmpl.Placeholders() {
		if !pathParams[name] {
			return fail(name, fmt.Errorf("placeholder {%s} has no path parameter", name))
		}
	}
	if op.bodyIndex >= 0 && op.hasForm {
		return fail("", errors.New("body and form parameters are mutually exclusive"))
	}
	if op.body == BodyMultipart && op.hasForm {
		return fail("", errors.New("multipart body cannot be combined with form parameters"))
	}

	return op, nil
}

// MustOperation is like NewOperation but panics on error. Intended for
// package-level declarations.
func MustOperation(
	name, method, pathTemplate string,
	params []Param,
	opts ...OperationOption,
) *Operation {
	op, err := NewOperation(name, method, pathTemplate, params, opts...)
	if err != nil {
		panic(err)
	}
	return op
}

// Name returns the operation name.
func (op *Operation) Name() string { return op.name }

// Method returns the HTTP method.
func (op *Operation) Method() string { return op.method }

// PathTemplate returns the parsed path template.
func (op *Operation) PathTemplate() *PathTemplate { return op.template }

// Params returns a copy of the parameter descriptors.
func (op *Operation) Params() []Param { return append([]Param(nil), op.params...) }

// Response returns the declared response kind.
func (op *Operation) Response() ResponseKind { return op.response }

// BodyEncoding returns the declared body encoding.
func (op *Operation) BodyEncoding() BodyEncoding { return op.body }

// Idempotent reports whether the operation may be re-sent safely.
func (op *Operation) Idempotent() bool { return op.idempotent }

// StaticHeaders returns a copy of the headers sent on every call.
func (op *Operation) StaticHeaders() http.Header { return op.headers.Clone() }

// Metadata returns the parameter metadata in declaration order.
func (op *Operation) Metadata() []ParamMetadata {
	return append([]ParamMetadata(nil), op.metadata...)
}

func (op *Operation) String() string {
	return op.name + " " + op.method + " " + op.template.String()
}
