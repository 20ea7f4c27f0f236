package queue

import (
	"time"

	"github.com/vvka-141/mailq/pkg/mailq"
)

// Option configures a Service.
type Option func(*Service)

// WithClock replaces the wall clock.
func WithClock(c mailq.Clock) Option {
	return func(s *Service) {
		s.clock = c
	}
}

// WithBackoff replaces the retry delay table.
func WithBackoff(b mailq.BackoffStrategy) Option {
	return func(s *Service) {
		s.backoff = b
	}
}

// WithClassifier replaces the connectivity classifier. An error the
// classifier reports as transient gets the connectivity delay.
func WithClassifier(c mailq.ErrorClassifier) Option {
	return func(s *Service) {
		s.classifier = c
	}
}

// WithConnectivityDelay sets the fixed delay applied after connectivity failures.
func WithConnectivityDelay(d time.Duration) Option {
	return func(s *Service) {
		s.connectivityDelay = d
	}
}

// WithAttemptTimeout bounds each transport call.
func WithAttemptTimeout(d time.Duration) Option {
	return func(s *Service) {
		s.attemptTimeout = d
	}
}

// WithMaxAttempts sets the retry budget given to new entries.
func WithMaxAttempts(n int) Option {
	return func(s *Service) {
		s.maxAttempts = n
	}
}

// WithRecorder installs a telemetry sink.
func WithRecorder(r mailq.Recorder) Option {
	return func(s *Service) {
		s.recorder = r
	}
}
