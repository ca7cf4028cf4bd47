package k8s

import "log/slog"

// Option configures a Source.
type Option func(*Source)

// WithLabelSelector overrides the pod label selector identifying the fleet.
func WithLabelSelector(selector string) Option {
	return func(s *Source) { s.labelSelector = selector }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Source) { s.logger = l }
}
