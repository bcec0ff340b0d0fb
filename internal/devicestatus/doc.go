// Package devicestatus is the HTTP client for the scan service that owns the
// physical scanner. It asks what the scanner is doing, starts and resolves
// batches, fetches the sheet pending review, and reads the session
// configuration the service holds.
//
// Errors are tagged with scanctx markers: ErrTransport when the service could
// not be reached or answered non-2xx, ErrProtocol when a body did not decode,
// and ErrHardware when the service answered with status "error".
package devicestatus
