// Package stream serves the soil reading as a Server-Sent Events stream.
//
// Each GET /stream request gets its own telemetry.Session. The session starts
// at the version held by the cache when the request arrives, so a viewer
// only sees readings that arrive after it connected. Every newer reading is
// written as one event:
//
//	data: <payload>\n\n
//
// No id or retry fields are sent. The handler returns when the client goes
// away or a write fails; other sessions are not affected.
package stream
