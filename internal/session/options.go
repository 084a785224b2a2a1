package session

import (
	"go.uber.org/zap"

	"github.com/DoyleJ11/rps-rooms/internal/store"
)

type options struct {
	namespace  string
	collection string
	log        *zap.Logger
	viewBuffer int
}

type Option func(*options)

func defaultOptions() options {
	return options{
		namespace:  "default",
		collection: store.DefaultCollection,
		log:        zap.NewNop(),
		viewBuffer: 16,
	}
}

// WithNamespace sets the application namespace rooms are stored under.
func WithNamespace(ns string) Option {
	return func(o *options) {
		if ns != "" {
			o.namespace = ns
		}
	}
}

func WithCollection(c string) Option {
	return func(o *options) {
		if c != "" {
			o.collection = c
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.log = l
		}
	}
}

func WithViewBuffer(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.viewBuffer = n
		}
	}
}
