package internaldefs

import (
	"strconv"
	"strings"

	"github.com/MrEthical07/tokenguard"
)

// BucketCount is the number of latency buckets, the last one unbounded.
const BucketCount = len(tokenguard.HistogramBoundsMillis) + 1

// AuditDroppedName is the counter for audit events lost to backpressure.
const (
	AuditDroppedName = "tokenguard_audit_dropped_total"
	AuditDroppedHelp = "Audit events dropped because the dispatcher buffer was full."
)

type CounterDef struct {
	ID   tokenguard.MetricID
	Name string
	Help string
}

type HistogramDef struct {
	ID   tokenguard.MetricID
	Name string
	Help string
}

var CounterDefs = []CounterDef{
	{ID: tokenguard.MetricLoginSuccess, Name: "tokenguard_login_success_total", Help: "Successful logins."},
	{ID: tokenguard.MetricLoginFailure, Name: "tokenguard_login_failure_total", Help: "Failed logins."},
	{ID: tokenguard.MetricRefreshSuccess, Name: "tokenguard_refresh_success_total", Help: "Successful refresh rotations."},
	{ID: tokenguard.MetricRefreshFailure, Name: "tokenguard_refresh_failure_total", Help: "Failed refresh rotations, reuse included."},
	{ID: tokenguard.MetricRefreshReuseDetected, Name: "tokenguard_refresh_reuse_detected_total", Help: "Refresh tokens presented after consumption or revocation."},
	{ID: tokenguard.MetricLogout, Name: "tokenguard_logout_total", Help: "Refresh tokens revoked by logout."},
	{ID: tokenguard.MetricRevokeAll, Name: "tokenguard_revoke_all_total", Help: "Subject-wide refresh revocations."},
	{ID: tokenguard.MetricAuthenticateFailure, Name: "tokenguard_authenticate_failure_total", Help: "Rejected access tokens."},
	{ID: tokenguard.MetricLedgerUnavailable, Name: "tokenguard_backend_unavailable_total", Help: "Requests denied because the ledger or principal store was unreachable."},
}

var HistogramDefs = []HistogramDef{
	{ID: tokenguard.MetricAuthenticateLatency, Name: "tokenguard_authenticate_latency_seconds", Help: "Access token verification latency."},
}

// UpperBoundsSeconds returns the finite bucket bounds in seconds.
func UpperBoundsSeconds() []float64 {
	out := make([]float64, len(tokenguard.HistogramBoundsMillis))
	for i, ms := range tokenguard.HistogramBoundsMillis {
		out[i] = float64(ms) / 1000
	}
	return out
}

// BoundSuffixes names each bucket for flat exporters, e.g. "0_005" and "inf".
func BoundSuffixes() []string {
	bounds := UpperBoundsSeconds()
	out := make([]string, 0, BucketCount)
	for _, b := range bounds {
		s := strconv.FormatFloat(b, 'f', -1, 64)
		out = append(out, strings.ReplaceAll(s, ".", "_"))
	}
	return append(out, "inf")
}

// NormalizeBuckets pads or truncates raw to BucketCount entries.
func NormalizeBuckets(raw []uint64) [BucketCount]uint64 {
	var out [BucketCount]uint64
	copy(out[:], raw)
	return out
}

// CumulativeBuckets turns per-bucket counts into running totals.
func CumulativeBuckets(raw [BucketCount]uint64) [BucketCount]uint64 {
	var out [BucketCount]uint64
	var running uint64
	for i, n := range raw {
		running += n
		out[i] = running
	}
	return out
}
