package httpclient

// Role says where an argument is placed in the request.
type Role int

const (
	RolePath Role = iota
	RoleQuery
	RoleBody
	RoleHeader
	RoleForm
)

func (r Role) String() string {
	switch r {
	case RolePath:
		return "path"
	case RoleQuery:
		return "query"
	case RoleBody:
		return "body"
	case RoleHeader:
		return "header"
	case RoleForm:
		return "form"
	default:
		return "unknown"
	}
}

// Strategy selects how a query, form or header argument becomes key/value
// pairs.
type Strategy int

const (
	// StrategyInfer picks the strategy from the argument's dynamic type.
	StrategyInfer Strategy = iota
	// StrategyScalar renders one pair.
	StrategyScalar
	// StrategyOptional renders nothing when absent and delegates otherwise.
	StrategyOptional
	// StrategyRepeated renders one pair per element (or one joined pair for
	// non-multi collection formats).
	StrategyRepeated
	// StrategyStructured renders one pair per present field of a struct or map.
	StrategyStructured
)

func (s Strategy) String() string {
	switch s {
	case StrategyScalar:
		return "scalar"
	case StrategyOptional:
		return "optional"
	case StrategyRepeated:
		return "repeated"
	case StrategyStructured:
		return "structured"
	default:
		return "infer"
	}
}

// CollectionFormat controls how repeated values are rendered.
type CollectionFormat int

const (
	// CollectionMulti repeats the key: a=1&a=2.
	CollectionMulti CollectionFormat = iota
	// CollectionCSV joins with commas: a=1,2.
	CollectionCSV
	// CollectionSSV joins with spaces: a=1 2.
	CollectionSSV
	// CollectionPipes joins with pipes: a=1|2.
	CollectionPipes
)

func (f CollectionFormat) separator() string {
	switch f {
	case CollectionCSV:
		return ","
	case CollectionSSV:
		return " "
	case CollectionPipes:
		return "|"
	default:
		return ""
	}
}

// Param describes one argument of an operation.
type Param struct {
	Name     string
	Role     Role
	Strategy Strategy
	Format   CollectionFormat

	// MultiSegment lets a path argument span several path segments.
	MultiSegment bool

	// Required rejects absent (nil/None) arguments at build time.
	Required bool

	// Prefixed keys the fields of a structured argument as name.field
	// instead of the bare field names.
	Prefixed bool
}

// ParamOption customizes a Param.
type ParamOption func(*Param)

// AsScalar forces the scalar strategy.
func AsScalar() ParamOption { return func(p *Param) { p.Strategy = StrategyScalar } }

// AsOptional forces the optional strategy.
func AsOptional() ParamOption { return func(p *Param) { p.Strategy = StrategyOptional } }

// AsRepeated forces the repeated strategy.
func AsRepeated() ParamOption { return func(p *Param) { p.Strategy = StrategyRepeated } }

// AsStructured forces the structured strategy.
func AsStructured() ParamOption { return func(p *Param) { p.Strategy = StrategyStructured } }

// WithFormat sets the collection format for repeated values.
func WithFormat(f CollectionFormat) ParamOption { return func(p *Param) { p.Format = f } }

// MultiSegment marks a path parameter as allowed to contain "/".
func MultiSegment() ParamOption { return func(p *Param) { p.MultiSegment = true } }

// Prefixed makes a structured query or form argument emit name.field keys.
func Prefixed() ParamOption { return func(p *Param) { p.Prefixed = true } }

// Required marks the parameter as mandatory.
func Required() ParamOption { return func(p *Param) { p.Required = true } }

func newParam(name string, role Role, opts []ParamOption) Param {
	p := Param{Name: name, Role: role}
	for _, opt := range opts {
		opt(&p)
	}
	return p
}

// Path declares a path parameter bound to placeholder {name}. Path
// parameters are always required.
func Path(name string, opts ...ParamOption) Param {
	p := newParam(name, RolePath, opts)
	p.Required = true
	return p
}

// Query declares a query string parameter. A structured argument contributes
// its field names as keys; the parameter name is only used with Prefixed.
func Query(name string, opts ...ParamOption) Param {
	return newParam(name, RoleQuery, opts)
}

// Header declares a header parameter. Repeated values become repeated
// header lines.
func Header(name string, opts ...ParamOption) Param {
	return newParam(name, RoleHeader, opts)
}

// Body declares the request body parameter.
func Body(name string, opts ...ParamOption) Param {
	return newParam(name, RoleBody, opts)
}

// Form declares a form field parameter. Structured arguments are keyed like
// Query.
func Form(name string, opts ...ParamOption) Param {
	return newParam(name, RoleForm, opts)
}

// ParamMetadata is the read-only view of a parameter exposed to middleware.
type ParamMetadata struct {
	Name     string `json:"name"`
	Location string `json:"location"`
	Required bool   `json:"required"`
}
