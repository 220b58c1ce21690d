package peer

import (
	"time"

	"peer-rpc/codec"
	"peer-rpc/config"
	"peer-rpc/middleware"
)

const DefaultMaxConcurrency = 100

// Options configures a Peer. A nil *Options or zero fields take defaults.
type Options struct {
	// MaxConcurrency caps outstanding outbound calls, and separately running
	// inbound handlers.
	MaxConcurrency int
	// InvokeTimeout bounds the wait for a free outbound slot. Zero waits
	// until the caller's context ends.
	InvokeTimeout time.Duration
	// ExecTimeout is the default reply deadline of an outbound call. Zero
	// waits until the caller's context ends.
	ExecTimeout time.Duration

	// Codec serializes FUNCTION and RESULT bodies; JSON by default.
	// Serializer and Deserializer, when set, take precedence over it.
	Codec        codec.Codec
	Serializer   codec.Serializer
	Deserializer codec.Deserializer

	// Compress compresses every outgoing message. Compressor defaults to
	// snappy.
	Compress   bool
	Compressor codec.Compressor

	// Middlewares wrap every inbound handler, outermost first.
	Middlewares []middleware.Middleware
}

func (o *Options) withDefaults() Options {
	var out Options
	if o != nil {
		out = *o
	}
	if out.MaxConcurrency <= 0 {
		out.MaxConcurrency = DefaultMaxConcurrency
	}
	if out.Codec == nil {
		out.Codec = &codec.JSONCodec{}
	}
	if out.Serializer == nil {
		out.Serializer = codec.SerializerOf(out.Codec)
	}
	if out.Deserializer == nil {
		out.Deserializer = codec.DeserializerOf(out.Codec)
	}
	if out.Compressor == nil {
		out.Compressor = codec.Snappy{}
	}
	return out
}

// OptionsFromConfig maps environment configuration onto peer options.
// Inbound handlers are always logged. When configured they are also rate
// limited, retried on timeouts and temporary errors, and bounded per attempt
// by PEER_HANDLER_TIMEOUT, in that order from the outside in.
func OptionsFromConfig(cfg *config.Config) *Options {
	mws := []middleware.Middleware{middleware.LoggingMiddleware()}
	if cfg.RateLimit > 0 {
		mws = append(mws, middleware.RateLimitMiddleware(cfg.RateLimit, cfg.RateBurst))
	}
	if cfg.HandlerRetries > 0 {
		mws = append(mws, middleware.RetryMiddleware(cfg.HandlerRetries, cfg.RetryBackoff))
	}
	if cfg.HandlerTimeout > 0 {
		mws = append(mws, middleware.TimeOutMiddleware(cfg.HandlerTimeout))
	}
	return &Options{
		MaxConcurrency: cfg.MaxConcurrency,
		InvokeTimeout:  cfg.InvokeTimeout,
		ExecTimeout:    cfg.ExecTimeout,
		Compress:       cfg.Compress,
		Middlewares:    mws,
	}
}

type callOptions struct {
	orderKey    string
	execTimeout time.Duration
	compress    bool
}

// CallOption customizes one outbound call.
type CallOption func(*callOptions)

// WithOrderKey tags the call with an ordering key. Calls sharing a key are
// only ordered if the caller serializes them.
func WithOrderKey(key string) CallOption {
	return func(o *callOptions) { o.orderKey = key }
}

// WithExecTimeout overrides the peer's reply deadline for this call.
func WithExecTimeout(d time.Duration) CallOption {
	return func(o *callOptions) { o.execTimeout = d }
}

// WithCompression overrides the peer's compression setting for this call.
func WithCompression(on bool) CallOption {
	return func(o *callOptions) { o.compress = on }
}
