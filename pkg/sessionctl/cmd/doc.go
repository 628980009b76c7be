// Package cmd implements the sessionctl command tree. Each invocation builds
// one session.Orchestrator for the selected config context, establishes the
// session from the identity CLI's token store and runs a single operation.
package cmd
