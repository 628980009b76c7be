// Package session owns the signed-in identity context of one process.
//
// An Orchestrator tracks the token, organization, project and workspace as a
// single AuthContext and moves it through a small state machine. Callers
// receive copies; the only way from UNAUTHENTICATED to an authenticated state
// is Login.
package session
