// Package server hosts the Fiber HTTP service and its middleware chain:
// panic recovery, request IDs, access logging and dispatch through the
// mutable plugin route table. It also owns the shared upstream HTTP client
// and the header helpers plugin runtimes use when forwarding requests.
// Keep exports narrow and accept explicit dependencies; control and
// diagnostics endpoints live in the routes subpackage.
package server
