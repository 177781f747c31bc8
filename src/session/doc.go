// Package session holds the ephemeral state of calls: call sessions, the SDP
// offers and answers exchanged by participants, their ICE candidate queues,
// and two secondary indexes (chat -> active calls, user -> active call).
//
// Every record carries the same TTL, refreshed whenever it is written, so that
// the state of calls abandoned by crashed clients or nodes disappears without
// manual cleanup. Three Store implementations are provided: InmemStore for
// tests and single-node deployments, BadgerStore for a single node that must
// survive restarts, and RedisStore for several nodes sharing call state.
package session
