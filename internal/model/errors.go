package model

import "errors"

// Error kinds for the pipeline. Parse and transport errors are recovered
// locally (drop, count, continue); ErrStateUnavailable triggers degraded
// scoring; ErrNotifyFailed is scoped to a single session or sink. None of
// these may cross a tenant boundary.
var (
	ErrMalformedFrame   = errors.New("malformed syslog frame")
	ErrUnknownTenant    = errors.New("no tenant for peer")
	ErrTransportClosed  = errors.New("transport closed")
	ErrParseTimeout     = errors.New("parse deadline exceeded")
	ErrStateUnavailable = errors.New("hot state store unavailable")
	ErrNotifyFailed     = errors.New("notification delivery failed")
	ErrPolicyViolation  = errors.New("policy violation")
)
