package logger

// Option configures Init.
type Option func(*options)

type options struct {
	format     string
	stdout     bool
	file       string
	maxSizeMB  int
	maxBackups int
	maxAgeDays int
	compress   bool
}

// WithFormat selects the handler: "text" (default) or "json".
func WithFormat(format string) Option {
	return func(o *options) {
		if format != "" {
			o.format = format
		}
	}
}

// WithFile adds a size-rotated log file next to stdout.
func WithFile(path string, maxSizeMB, maxBackups, maxAgeDays int) Option {
	return func(o *options) {
		o.file = path
		o.maxSizeMB = maxSizeMB
		o.maxBackups = maxBackups
		o.maxAgeDays = maxAgeDays
	}
}

// WithCompression gzips rotated files.
func WithCompression(enabled bool) Option {
	return func(o *options) {
		o.compress = enabled
	}
}

// WithStdout toggles stdout output. It is forced on when no file is set.
func WithStdout(enabled bool) Option {
	return func(o *options) {
		o.stdout = enabled
	}
}
