// Package store persists form submissions on the local filesystem.
//
// Every submission lives in its own directory named after its identifier:
//
//	<root>/<id>/details.json
//	<root>/<id>/<name>-<age>-<id>.pdf
//
// The directory layout is shared with earlier deployments of the service and
// must not change. The PDF file name is rebuilt from details.json on every
// read, so both files have to stay in sync.
package store
