// Package services adapts the agent's domain components (the health
// monitor, persistence coordinator, recovery worker, and OPC UA server
// manager) to suture.Service, following the teacher's own pattern of thin
// wrappers around a component's context-accepting run method.
//
// None of these types add behavior beyond translating a component's
// existing lifecycle (a blocking Run, or a Start/Stop pair) into the single
// Serve(ctx) error method suture expects, plus a String() for log
// attribution.
package services
