/*
Package types defines the data model shared by every linkcore component:
the Link record, the Event and InFlight records used by the journal and
ack engine, and the StateChange notification delivered to subscribers.

# Invariants

  - pending_subs ∪ acked_subs always equals a Link's configured ingress
    topic set; the two sets are always disjoint.
  - State StateActive implies pending_subs is empty at the moment of
    entry and LastPeerSeen was within PeerSilenceTimeout at entry.
  - At most one InFlight exists per EventID at any time.

These invariants are established and maintained by pkg/linkfsm and
pkg/ackengine; this package only carries the data.
*/
package types
