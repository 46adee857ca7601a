package observability

// Config captures opt-in observability toggles that wire into the server.
type Config struct {
	// EnablePprofTrace mounts the net/http/pprof handlers under /debug/pprof.
	EnablePprofTrace bool `env:"ENABLE_PPROF_TRACE"`
	// OTLPEndpoint is the OTLP/HTTP traces URL. Tracing stays off when empty.
	OTLPEndpoint string `env:"OTEL_ENDPOINT"`
	ServiceName  string `env:"SERVICE_NAME" envDefault:"libblitz"`
}

// TracingEnabled reports whether Setup will install a tracer provider.
func (c Config) TracingEnabled() bool {
	return c.OTLPEndpoint != ""
}
