// Package recovery repairs a token record that the identity CLI left in the
// corrupted state: a plausible token paired with the zero expiry sentinel.
//
// Recovery escalates through sign-out, deleting the record and a forced
// interactive sign-in, re-inspecting the record after each step. If the
// corruption survives a forced sign-in the engine gives up for the rest of
// the process lifetime.
package recovery
