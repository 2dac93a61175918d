// Package router maps a received envelope's destination to the downstream
// service that should handle it.
//
// The decision is observational: nothing is delivered, acknowledged or
// retried here. Consumers log or export the decision; hand-off to the named
// service is the caller's concern.
package router

import "github.com/ava-labs/mqprovider/pkg/message"

// UnassignedHandler is the bucket for envelopes without a routable destination.
const UnassignedHandler = "unassigned"

// Decision is the routing outcome for one envelope.
type Decision struct {
	Destination message.Destination
	HandledBy   string
}

// Route returns the downstream handler for d. It is total: destinations
// outside the known set go to UnassignedHandler.
func Route(d message.Destination) Decision {
	switch d {
	case message.ServiceA:
		return Decision{Destination: d, HandledBy: "MicroserviceA"}
	case message.ServiceB:
		return Decision{Destination: d, HandledBy: "MicroserviceB"}
	case message.ServiceC:
		return Decision{Destination: d, HandledBy: "MicroserviceC"}
	case message.ServiceD:
		return Decision{Destination: d, HandledBy: "MicroserviceD"}
	default:
		return Decision{Destination: message.Unassigned, HandledBy: UnassignedHandler}
	}
}

// Assigned reports whether the decision names a real downstream service.
func (d Decision) Assigned() bool {
	return d.HandledBy != UnassignedHandler
}
