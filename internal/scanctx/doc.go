// Package scanctx carries scan-attempt, batch, and request identifiers through
// context.Context and defines the error markers shared by the scanning
// components.
package scanctx
