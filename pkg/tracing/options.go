package tracing

// Option configures Init.
type Option func(*options)

type options struct {
	serviceName    string
	serviceVersion string
	endpoint       string
	insecure       bool
	sampleRatio    float64
}

// WithServiceName sets the service.name resource attribute.
func WithServiceName(name string) Option {
	return func(o *options) {
		if name != "" {
			o.serviceName = name
		}
	}
}

// WithServiceVersion sets the service.version resource attribute.
func WithServiceVersion(version string) Option {
	return func(o *options) {
		o.serviceVersion = version
	}
}

// WithEndpoint enables OTLP/HTTP export to host:port.
func WithEndpoint(endpoint string) Option {
	return func(o *options) {
		o.endpoint = endpoint
	}
}

// WithInsecure toggles plain HTTP for the exporter.
func WithInsecure(insecure bool) Option {
	return func(o *options) {
		o.insecure = insecure
	}
}

// WithSampleRatio sets the head sampling ratio in [0, 1].
func WithSampleRatio(ratio float64) Option {
	return func(o *options) {
		if ratio >= 0 && ratio <= 1 {
			o.sampleRatio = ratio
		}
	}
}
