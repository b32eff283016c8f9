// Package server exposes the submission store over HTTP. It wires the
// routes, middleware, optional catalog and mirror, and provides lifecycle
// helpers used by tests and the production binary.
package server
