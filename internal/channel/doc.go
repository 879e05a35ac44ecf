// Package channel models the request/response port between the scan session
// and the background process that performs downloads and persistence.
//
// The session never talks to a concrete transport. It holds a Port, and the
// CLI wires a Router backed by Background handlers into it. Tests wire a Router
// with stub handlers instead.
package channel
