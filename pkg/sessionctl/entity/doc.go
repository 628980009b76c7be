// Package entity resolves the organizations, projects and workspaces visible
// to the signed-in user. Listings come from the accelerator REST service when
// it is reachable and from the identity CLI otherwise; both produce the same
// shapes and share one cache.
package entity
