// Package prometheus adapts engine metrics to client_golang.
//
// [NewCollector] wraps any [Source] (normally *tokenguard.Engine) as a
// prometheus.Collector. Counters are named tokenguard_*_total and the one
// histogram is tokenguard_authenticate_latency_seconds.
//
// Nothing is registered globally. Use [Handler] for a private registry or
// register the collector yourself.
package prometheus
