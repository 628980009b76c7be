// Package token reads the identity CLI's stored access token record and
// classifies it as absent, valid, expired, corrupted, or of unknown expiry.
package token
