package httpclient

// ExtensionKey is a typed key into a Request's Extensions. Keys compare by
// identity, so two keys created with the same name never collide.
//
// Example:
//
//	var tenantKey = httpclient.NewExtensionKey[string]("tenant")
//
//	httpclient.OnRequest(func(ctx context.Context, req *httpclient.Request) error {
//	    if tenant, ok := tenantKey.Lookup(req.Extensions); ok {
//	        req.Header.Set("X-Tenant", tenant)
//	    }
//	    return nil
//	})
type ExtensionKey[T any] struct {
	name *string
}

// NewExtensionKey creates a new key. The name is only used for debugging.
func NewExtensionKey[T any](name string) ExtensionKey[T] {
	return ExtensionKey[T]{name: &name}
}

// String returns the debug name of the key.
func (k ExtensionKey[T]) String() string {
	if k.name == nil {
		return "<nil>"
	}
	return *k.name
}

// Set stores v under k.
func (k ExtensionKey[T]) Set(ext *Extensions, v T) {
	if ext.values == nil {
		ext.values = make(map[any]any)
	}
	ext.values[k.name] = v
}

// Lookup returns the value stored under k.
func (k ExtensionKey[T]) Lookup(ext Extensions) (T, bool) {
	v, ok := ext.values[k.name]
	if !ok {
		var zero T
		return zero, false
	}
	t, ok := v.(T)
	return t, ok
}

// Get returns the value stored under k or the zero value.
func (k ExtensionKey[T]) Get(ext Extensions) T {
	v, _ := k.Lookup(ext)
	return v
}

// Extensions is a typed side channel carried by a Request through the
// middleware chain. The transport never reads it.
type Extensions struct {
	values map[any]any
}

// Len returns the number of stored values.
func (e Extensions) Len() int { return len(e.values) }

// clone returns a shallow copy so retries and redirects can annotate their
// own attempt without touching the caller's request.
func (e Extensions) clone() Extensions {
	if e.values == nil {
		return Extensions{}
	}
	out := make(map[any]any, len(e.values))
	for k, v := range e.values {
		out[k] = v
	}
	return Extensions{values: out}
}

// Built-in extension keys.
var (
	// OperationKey holds the *Operation a request was built from.
	OperationKey = NewExtensionKey[*Operation]("operation")

	// PathTemplateKey holds the unexpanded path template.
	PathTemplateKey = NewExtensionKey[string]("path_template")

	// AttemptKey holds the 1-based attempt number, set by Retry.
	AttemptKey = NewExtensionKey[int]("attempt")

	// RedirectKey holds the number of redirects followed so far.
	RedirectKey = NewExtensionKey[int]("redirect")
)
