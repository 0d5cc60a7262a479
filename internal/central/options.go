package central

import (
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
)

// Options configures a Manager.
type Options struct {
	// ReconnectDelay is the wait between an unexpected link loss and the auto-connect attempt.
	ReconnectDelay     time.Duration `default:"5s"`
	TargetPayloadSize  int           `default:"185"`
	DefaultPayloadSize int           `default:"23"`

	Logger *logrus.Logger
	Now    func() time.Time
}

// Option is a functional option for configuring a Manager
type Option func(*Options)

func DefaultOptions() Options {
	opts := Options{}
	defaults.SetDefaults(&opts)
	return opts
}

func WithReconnectDelay(d time.Duration) Option {
	return func(o *Options) { o.ReconnectDelay = d }
}

func WithTargetPayloadSize(size int) Option {
	return func(o *Options) { o.TargetPayloadSize = size }
}

func WithDefaultPayloadSize(size int) Option {
	return func(o *Options) { o.DefaultPayloadSize = size }
}

func WithLogger(logger *logrus.Logger) Option {
	return func(o *Options) { o.Logger = logger }
}

// WithOptions replaces all tunables at once, e.g. with values loaded from a config file.
func WithOptions(opts Options) Option {
	return func(o *Options) {
		logger := o.Logger
		*o = opts
		if o.Logger == nil {
			o.Logger = logger
		}
	}
}

func (o *Options) normalize() {
	d := DefaultOptions()
	if o.ReconnectDelay <= 0 {
		o.ReconnectDelay = d.ReconnectDelay
	}
	if o.TargetPayloadSize <= 0 {
		o.TargetPayloadSize = d.TargetPayloadSize
	}
	if o.DefaultPayloadSize <= 0 {
		o.DefaultPayloadSize = d.DefaultPayloadSize
	}
	if o.Logger == nil {
		o.Logger = logrus.New()
	}
	if o.Now == nil {
		o.Now = time.Now
	}
}
