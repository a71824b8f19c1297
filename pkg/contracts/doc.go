// Package contracts defines the wire and domain types shared by the decision
// engine, the trust protocol, the state store and the HTTP API.
//
// Types in this package carry no behaviour beyond validation and JSON
// (de)serialization; evaluation lives in pkg/pdp.
package contracts
