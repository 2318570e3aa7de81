package queue

import (
	"time"

	"go.uber.org/zap"
)

type options struct {
	logger       *zap.Logger
	maxJobs      int
	readBlock    time.Duration
	streamMaxLen int64
	consumerID   string
}

func defaultOptions() options {
	return options{
		logger:     zap.NewNop(),
		maxJobs:    10,
		readBlock:  time.Second,
		consumerID: defaultConsumerID(),
	}
}

type Option func(*options)

func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithMaxJobs bounds how many deliveries of one broker queue are handed to
// listeners at the same time.
func WithMaxJobs(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxJobs = n
		}
	}
}

// WithStreamLength trims non-durable Redis streams to roughly n entries.
func WithStreamLength(n int64) Option {
	return func(o *options) {
		if n >= 0 {
			o.streamMaxLen = n
		}
	}
}

// WithReadBlock sets how long one XREADGROUP call waits for new entries.
func WithReadBlock(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.readBlock = d
		}
	}
}

// WithConsumerID names this process inside Redis consumer groups.
func WithConsumerID(id string) Option {
	return func(o *options) {
		if id != "" {
			o.consumerID = id
		}
	}
}
