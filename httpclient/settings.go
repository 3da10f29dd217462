package httpclient

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Settings is the file form of a client configuration. Load it with
// LoadSettings and turn it into options with Options.
//
// Example file:
//
//	base_url: https://api.example.com/v1
//	service_name: billing-client
//	headers:
//	  X-Tenant: acme
//	transport:
//	  preset: high_throughput
//	  timeout: 5s
//	retry:
//	  max_retries: 3
//	  initial_interval: 100ms
//	auth:
//	  bearer_token: ${BILLING_TOKEN}
//
// ${VAR} references are expanded from the environment before parsing.
type Settings struct {
	BaseURL     string            `yaml:"base_url"`
	ServiceName string            `yaml:"service_name,omitempty"`
	UserAgent   string            `yaml:"user_agent,omitempty"`
	Headers     map[string]string `yaml:"headers,omitempty"`

	Transport   TransportSettings    `yaml:"transport,omitempty"`
	Retry       *RetrySettings       `yaml:"retry,omitempty"`
	Breaker     *BreakerSettings     `yaml:"breaker,omitempty"`
	RateLimit   *RateLimitSettings   `yaml:"rate_limit,omitempty"`
	Concurrency *ConcurrencySettings `yaml:"concurrency,omitempty"`
	Auth        *AuthSettings        `yaml:"auth,omitempty"`

	// MaxRedirects enables FollowRedirects with this many hops.
	MaxRedirects int `yaml:"max_redirects,omitempty"`

	Decompression bool `yaml:"decompression,omitempty"`
	RequestID     bool `yaml:"request_id,omitempty"`
}

// TransportSettings selects a Config preset and overrides some fields.
type TransportSettings struct {
	// Preset is one of default, high_throughput, low_latency, conservative.
	Preset string `yaml:"preset,omitempty"`

	Timeout              time.Duration `yaml:"timeout,omitempty"`
	MaxIdleConns         int           `yaml:"max_idle_conns,omitempty"`
	MaxIdleConnsPerHost  int           `yaml:"max_idle_conns_per_host,omitempty"`
	MaxConnsPerHost      int           `yaml:"max_conns_per_host,omitempty"`
	IdleConnTimeout      time.Duration `yaml:"idle_conn_timeout,omitempty"`
	MaxResponseBodyBytes int64         `yaml:"max_response_body_bytes,omitempty"`
	ForceHTTP2           bool          `yaml:"force_http2,omitempty"`
}

// RetrySettings mirrors RetryConfig. Unset fields keep DefaultRetryConfig values.
type RetrySettings struct {
	MaxRetries         uint          `yaml:"max_retries"`
	InitialInterval    time.Duration `yaml:"initial_interval,omitempty"`
	MaxInterval        time.Duration `yaml:"max_interval,omitempty"`
	MaxElapsedTime     time.Duration `yaml:"max_elapsed_time,omitempty"`
	Multiplier         float64       `yaml:"multiplier,omitempty"`
	JitterFactor       float64       `yaml:"jitter_factor,omitempty"`
	RetryNonIdempotent bool          `yaml:"retry_non_idempotent,omitempty"`
	StatusCodes        []int         `yaml:"status_codes,omitempty"`
}

// BreakerSettings mirrors BreakerConfig. Unset fields keep DefaultBreakerConfig values.
type BreakerSettings struct {
	MaxRequests         uint32        `yaml:"max_requests,omitempty"`
	Interval            time.Duration `yaml:"interval,omitempty"`
	Timeout             time.Duration `yaml:"timeout,omitempty"`
	FailureThreshold    uint32        `yaml:"failure_threshold,omitempty"`
	FailureRatio        float64       `yaml:"failure_ratio,omitempty"`
	ConsecutiveFailures uint32        `yaml:"consecutive_failures,omitempty"`
}

// RateLimitSettings mirrors RateLimitConfig.
type RateLimitSettings struct {
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst,omitempty"`
	Wait              bool    `yaml:"wait,omitempty"`
	// Key is "", "operation" or "host".
	Key string `yaml:"key,omitempty"`
}

// ConcurrencySettings mirrors ConcurrencyConfig.
type ConcurrencySettings struct {
	Limit int64 `yaml:"limit"`
	// Mode is "queue" (default) or "reject".
	Mode    string        `yaml:"mode,omitempty"`
	MaxWait time.Duration `yaml:"max_wait,omitempty"`
}

// AuthSettings configures at most one authentication scheme.
type AuthSettings struct {
	BearerToken string `yaml:"bearer_token,omitempty"`
	Basic       *struct {
		Username string `yaml:"username"`
		Password string `yaml:"password"`
	} `yaml:"basic,omitempty"`
	APIKey *struct {
		Header string `yaml:"header,omitempty"`
		Query  string `yaml:"query,omitempty"`
		Value  string `yaml:"value"`
	} `yaml:"api_key,omitempty"`
}

// LoadSettings parses YAML settings from r.
func LoadSettings(r io.Reader) (*Settings, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read settings: %w", err)
	}

	var s Settings
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &s); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// LoadSettingsFile reads settings from path.
func LoadSettingsFile(path string) (*Settings, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open settings file: %w", err)
	}
	defer f.Close()
	return LoadSettings(f)
}

// Validate reports settings that cannot be turned into options.
func (s *Settings) Validate() error {
	if s.BaseURL == "" {
		return fmt.Errorf("settings: base_url is required")
	}
	if _, err := s.Transport.config(); err != nil {
		return err
	}
	if s.RateLimit != nil {
		if _, err := keyFuncFor(s.RateLimit.Key); err != nil {
			return err
		}
	}
	if s.Concurrency != nil {
		switch strings.ToLower(s.Concurrency.Mode) {
		case "", "queue", "reject":
		default:
			return fmt.Errorf("settings: unknown concurrency mode %q", s.Concurrency.Mode)
		}
	}
	if s.Auth != nil {
		n := 0
		if s.Auth.BearerToken != "" {
			n++
		}
		if s.Auth.Basic != nil {
			n++
		}
		if s.Auth.APIKey != nil {
			n++
			if (s.Auth.APIKey.Header == "") == (s.Auth.APIKey.Query == "") {
				return fmt.Errorf("settings: api_key needs exactly one of header or query")
			}
		}
		if n > 1 {
			return fmt.Errorf("settings: auth configures more than one scheme")
		}
	}
	return nil
}

// Options converts the settings into client options. extra options are
// applied after them, so code can override the file.
//
// Example:
//
//	s, err := httpclient.LoadSettingsFile("billing.yaml")
//	if err != nil {
//	    return err
//	}
//	client, err := httpclient.New(s.BaseURL, s.Options(httpclient.WithLogger(logger))...)
func (s *Settings) Options(extra ...Option) []Option {
	var opts []Option

	var maxBody int64
	if cfg, err := s.Transport.config(); err == nil {
		opts = append(opts, WithConfig(cfg))
		maxBody = cfg.MaxResponseBodyBytes
	}
	if s.ServiceName != "" {
		opts = append(opts, WithServiceName(s.ServiceName))
	}
	if s.UserAgent != "" {
		opts = append(opts, WithUserAgent(s.UserAgent))
	}

	keys := make([]string, 0, len(s.Headers))
	for k := range s.Headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		opts = append(opts, WithDefaultHeader(k, s.Headers[k]))
	}

	if s.Retry != nil {
		opts = append(opts, WithRetryConfig(s.Retry.config()))
	}
	if s.Breaker != nil {
		opts = append(opts, WithBreakerConfig(s.Breaker.config()))
	}
	if s.RateLimit != nil {
		keyFunc, _ := keyFuncFor(s.RateLimit.Key)
		opts = append(opts, WithRateLimit(RateLimitConfig{
			RequestsPerSecond: s.RateLimit.RequestsPerSecond,
			Burst:             s.RateLimit.Burst,
			WaitOnLimit:       s.RateLimit.Wait,
			KeyFunc:           keyFunc,
		}))
	}
	if s.Concurrency != nil {
		mode := ConcurrencyQueue
		if strings.EqualFold(s.Concurrency.Mode, "reject") {
			mode = ConcurrencyReject
		}
		opts = append(opts, WithConcurrencyLimit(ConcurrencyConfig{
			Limit:   s.Concurrency.Limit,
			Mode:    mode,
			MaxWait: s.Concurrency.MaxWait,
		}))
	}
	if s.MaxRedirects > 0 {
		opts = append(opts, WithFollowRedirects(s.MaxRedirects))
	}

	var mws []Middleware
	if s.RequestID {
		mws = append(mws, RequestID())
	}
	if auth := s.Auth.middleware(); auth != nil {
		mws = append(mws, auth)
	}
	if s.Decompression {
		mws = append(mws, Decompression(maxBody))
	}
	if len(mws) > 0 {
		opts = append(opts, WithMiddleware(mws...))
	}

	return append(opts, extra...)
}

func (t TransportSettings) config() (Config, error) {
	var cfg Config
	switch strings.ToLower(t.Preset) {
	case "", "default":
		cfg = DefaultConfig()
	case "high_throughput":
		cfg = HighThroughputConfig()
	case "low_latency":
		cfg = LowLatencyConfig()
	case "conservative":
		cfg = ConservativeConfig()
	default:
		return Config{}, fmt.Errorf("settings: unknown transport preset %q", t.Preset)
	}

	if t.Timeout > 0 {
		cfg.Timeout = t.Timeout
	}
	if t.MaxIdleConns > 0 {
		cfg.MaxIdleConns = t.MaxIdleConns
	}
	if t.MaxIdleConnsPerHost > 0 {
		cfg.MaxIdleConnsPerHost = t.MaxIdleConnsPerHost
	}
	if t.MaxConnsPerHost > 0 {
		cfg.MaxConnsPerHost = t.MaxConnsPerHost
	}
	if t.IdleConnTimeout > 0 {
		cfg.IdleConnTimeout = t.IdleConnTimeout
	}
	if t.MaxResponseBodyBytes > 0 {
		cfg.MaxResponseBodyBytes = t.MaxResponseBodyBytes
	}
	if t.ForceHTTP2 {
		cfg.ForceHTTP2 = true
	}
	return cfg, nil
}

func (r *RetrySettings) config() RetryConfig {
	cfg := DefaultRetryConfig()
	cfg.MaxRetries = r.MaxRetries
	if r.InitialInterval > 0 {
		cfg.InitialInterval = r.InitialInterval
	}
	if r.MaxInterval > 0 {
		cfg.MaxInterval = r.MaxInterval
	}
	if r.MaxElapsedTime > 0 {
		cfg.MaxElapsedTime = r.MaxElapsedTime
	}
	if r.Multiplier > 0 {
		cfg.Multiplier = r.Multiplier
	}
	if r.JitterFactor > 0 {
		cfg.JitterFactor = r.JitterFactor
	}
	cfg.RetryNonIdempotent = r.RetryNonIdempotent
	if len(r.StatusCodes) > 0 {
		cfg.Classifier = StatusCodeClassifier(r.StatusCodes...)
	}
	return cfg
}

func (b *BreakerSettings) config() BreakerConfig {
	cfg := DefaultBreakerConfig()
	if b.MaxRequests > 0 {
		cfg.MaxRequests = b.MaxRequests
	}
	if b.Interval > 0 {
		cfg.Interval = b.Interval
	}
	if b.Timeout > 0 {
		cfg.Timeout = b.Timeout
	}
	if b.FailureThreshold > 0 {
		cfg.FailureThreshold = b.FailureThreshold
	}
	if b.FailureRatio > 0 {
		cfg.FailureRatio = b.FailureRatio
	}
	if b.ConsecutiveFailures > 0 {
		cfg.ConsecutiveFailures = b.ConsecutiveFailures
	}
	return cfg
}

func (a *AuthSettings) middleware() Middleware {
	switch {
	case a == nil:
		return nil
	case a.BearerToken != "":
		return BearerAuth(a.BearerToken)
	case a.Basic != nil:
		return BasicAuth(a.Basic.Username, a.Basic.Password)
	case a.APIKey != nil && a.APIKey.Header != "":
		return APIKeyAuth(a.APIKey.Header, a.APIKey.Value)
	case a.APIKey != nil:
		return APIKeyQueryAuth(a.APIKey.Query, a.APIKey.Value)
	}
	return nil
}

func keyFuncFor(key string) (KeyFunc, error) {
	switch strings.ToLower(key) {
	case "":
		return nil, nil
	case "operation":
		return KeyByOperation(), nil
	case "host":
		return KeyByHost(), nil
	}
	return nil, fmt.Errorf("settings: unknown rate limit key %q", key)
}
