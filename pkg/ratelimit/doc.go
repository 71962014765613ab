/*
Package ratelimit paces outbound byte streams with a token bucket.

Writer wraps an io.Writer and blocks before each chunk until the limiter
grants enough tokens, capping sustained throughput at the configured
bytes-per-second while allowing small bursts. Writes are split into 32KiB
chunks so one large write cannot overdraw the bucket. The wait is
context-aware: a cancelled download aborts immediately instead of draining
the bucket.

A rate of zero or below disables pacing entirely.
*/
package ratelimit
