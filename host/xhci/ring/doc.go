// Package ring implements the xHCI ring protocol over DMA memory.
//
// A producer [Ring] in link mode reserves its last slot for a Link TRB
// pointing back at slot 0; every pass around the ring toggles the cycle
// state, so the consumer can tell fresh entries from stale ones without a
// shared tail register. Command and transfer rings are producer rings.
//
// An [EventRing] is the consumer form: the controller writes event TRBs,
// software reads them while their cycle bit matches the expected state and
// flips that state itself when the dequeue index wraps. The ring is
// described to the controller through a one-entry Event Ring Segment Table.
package ring
