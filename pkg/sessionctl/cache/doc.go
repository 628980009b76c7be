// Package cache provides the in-process, time-boxed memoization used by the
// session subsystem. Entry lifetimes are jittered to avoid synchronized expiry.
package cache
