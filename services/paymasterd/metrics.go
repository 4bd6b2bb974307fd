package paymasterd

import "paymaster/observability"

// Metrics exposes Prometheus collectors for paymasterd instrumentation.
type Metrics = observability.EngineMetrics

// NewMetrics returns the lazily initialised metrics registry.
func NewMetrics() *Metrics { return observability.Engine() }
