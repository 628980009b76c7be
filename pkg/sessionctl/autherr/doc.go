// Package autherr defines the typed errors surfaced by the session subsystem.
// Every error carries a kind from a fixed taxonomy, a technical message, and a
// user-facing message that says what happened and what to do next.
package autherr
