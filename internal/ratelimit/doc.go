// Package ratelimit provides per-client request admission with burst and
// sustained windows, and background eviction of idle entries.
//
// This is a single-instance, in-memory limiter intended for basic abuse
// prevention on a single server. Each process keeps its own view of client
// state: it does not coordinate limits across instances and does not protect
// against distributed attacks. For those, use an upstream WAF or CDN-level
// rate limiting.
package ratelimit
