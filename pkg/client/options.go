package client

import (
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/trace"
)

const (
	defaultReconnectionAttempts = 5
	defaultReconnectionDelay    = 1 * time.Second
	defaultReconnectionDelayMax = 5 * time.Second
	defaultTimeout              = 10 * time.Second
	defaultWriteTimeout         = 5 * time.Second
	defaultPingInterval         = 30 * time.Second
)

// Options configures a Client. The zero value of a duration field means "use the default";
// the client never mutates a caller's Options.
type Options struct {
	// URL is the socket endpoint. http(s) schemes are upgraded to ws(s); a URL without a
	// scheme takes it from Origin.
	URL string
	// Token is appended to the URL as the "token" query parameter when non-empty.
	Token string
	// Origin is the URL of the hosting page. It decides ws or wss for scheme-less URLs and
	// supplies the host for path-only URLs.
	Origin string

	AutoReconnect bool
	// ReconnectionAttempts caps retries after an unexpected close. <= 0 retries forever.
	ReconnectionAttempts int
	ReconnectionDelay    time.Duration
	ReconnectionDelayMax time.Duration

	// Timeout bounds connection establishment and is the default per-call timeout.
	Timeout      time.Duration
	WriteTimeout time.Duration
	// PingInterval is the keepalive period. <= 0 disables keepalive.
	PingInterval time.Duration
	// ReadLimit is the maximum inbound frame size in bytes. 0 keeps the websocket default.
	ReadLimit int64

	// Debug logs every inbound and outbound frame.
	Debug bool
	// Name labels this client in logs and metrics.
	Name string

	Logger         *slog.Logger
	DialOptions    *websocket.DialOptions
	Registerer     prometheus.Registerer
	TracerProvider trace.TracerProvider
}

// DefaultOptions returns an Options struct populated with library defaults.
func DefaultOptions() Options {
	return Options{
		AutoReconnect:        true,
		ReconnectionAttempts: defaultReconnectionAttempts,
		ReconnectionDelay:    defaultReconnectionDelay,
		ReconnectionDelayMax: defaultReconnectionDelayMax,
		Timeout:              defaultTimeout,
		WriteTimeout:         defaultWriteTimeout,
		PingInterval:         defaultPingInterval,
		Logger:               slog.Default(),
	}
}

func (o *Options) normalize() {
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.ReconnectionDelay <= 0 {
		o.ReconnectionDelay = defaultReconnectionDelay
	}
	if o.ReconnectionDelayMax <= 0 {
		o.ReconnectionDelayMax = defaultReconnectionDelayMax
	}
	if o.ReconnectionDelayMax < o.ReconnectionDelay {
		o.ReconnectionDelayMax = o.ReconnectionDelay
	}
	if o.Timeout <= 0 {
		o.Timeout = defaultTimeout
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = defaultWriteTimeout
	}
	if o.Name == "" {
		o.Name = "default"
	}
}

// Endpoint resolves the URL that Connect dials, token included.
func (o Options) Endpoint() (string, error) {
	raw := strings.TrimSpace(o.URL)
	if raw == "" {
		return "", ErrMissingURL
	}

	var origin *url.URL
	if o.Origin != "" {
		u, err := url.Parse(o.Origin)
		if err != nil {
			return "", fmt.Errorf("%w: origin: %v", ErrInvalidURL, err)
		}
		origin = u
	}

	if !strings.Contains(raw, "://") {
		scheme := "ws"
		if origin != nil && (origin.Scheme == "https" || origin.Scheme == "wss") {
			scheme = "wss"
		}
		switch {
		case strings.HasPrefix(raw, "//"):
			raw = scheme + ":" + raw
		case strings.HasPrefix(raw, "/"):
			if origin == nil || origin.Host == "" {
				return "", fmt.Errorf("%w: %q has no host and no origin is set", ErrInvalidURL, raw)
			}
			raw = scheme + "://" + origin.Host + raw
		default:
			raw = scheme + "://" + raw
		}
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	switch u.Scheme {
	case "ws", "wss":
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("%w: unsupported scheme %q", ErrInvalidURL, u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("%w: %q has no host", ErrInvalidURL, o.URL)
	}

	if o.Token != "" {
		q := u.Query()
		q.Set("token", o.Token)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

// Option changes one field of Options.
type Option func(*Options)

// WithURL sets the endpoint.
func WithURL(u string) Option {
	return func(o *Options) {
		o.URL = u
	}
}

// WithToken sets the bearer token sent as a query parameter.
func WithToken(token string) Option {
	return func(o *Options) {
		o.Token = token
	}
}

// WithOrigin sets the hosting page URL.
func WithOrigin(origin string) Option {
	return func(o *Options) {
		o.Origin = origin
	}
}

// WithAutoReconnect toggles reconnection after unexpected closes.
func WithAutoReconnect(enabled bool) Option {
	return func(o *Options) {
		o.AutoReconnect = enabled
	}
}

// WithReconnection sets the retry budget and the backoff bounds.
// attempts <= 0 means unlimited attempts.
func WithReconnection(attempts int, delay, maxDelay time.Duration) Option {
	return func(o *Options) {
		o.ReconnectionAttempts = attempts
		if delay > 0 {
			o.ReconnectionDelay = delay
		}
		if maxDelay > 0 {
			o.ReconnectionDelayMax = maxDelay
		}
	}
}

// WithTimeout sets the connect timeout and the default per-call timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(o *Options) {
		if timeout > 0 {
			o.Timeout = timeout
		}
	}
}

// WithWriteTimeout sets the timeout for a single frame write.
func WithWriteTimeout(timeout time.Duration) Option {
	return func(o *Options) {
		if timeout > 0 {
			o.WriteTimeout = timeout
		}
	}
}

// WithPingInterval sets the keepalive period; interval <= 0 disables keepalive.
func WithPingInterval(interval time.Duration) Option {
	return func(o *Options) {
		o.PingInterval = interval
	}
}

// WithReadLimit sets the maximum inbound frame size.
func WithReadLimit(n int64) Option {
	return func(o *Options) {
		o.ReadLimit = n
	}
}

// WithDebug toggles frame logging.
func WithDebug(debug bool) Option {
	return func(o *Options) {
		o.Debug = debug
	}
}

// WithName sets the name used in logs and as the metrics "client" label.
func WithName(name string) Option {
	return func(o *Options) {
		o.Name = name
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Options) {
		if logger != nil {
			o.Logger = logger
		}
	}
}

// WithDialOptions sets custom websocket.DialOptions.
func WithDialOptions(opts *websocket.DialOptions) Option {
	return func(o *Options) {
		o.DialOptions = opts
	}
}

// WithRegisterer registers the client's Prometheus collectors with reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *Options) {
		o.Registerer = reg
	}
}

// WithTracerProvider sets the OpenTelemetry provider for call spans.
// The global provider is used otherwise.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *Options) {
		o.TracerProvider = tp
	}
}

type callConfig struct {
	timeout time.Duration
}

// CallOption adjusts a single Call.
type CallOption func(*callConfig)

// WithCallTimeout overrides Options.Timeout for one call.
func WithCallTimeout(timeout time.Duration) CallOption {
	return func(c *callConfig) {
		if timeout > 0 {
			c.timeout = timeout
		}
	}
}
