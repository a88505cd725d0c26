// Package redisengine provides a Redis implementation of anomaly.Backend based on optimistic
// transactions (WATCH/MULTI/EXEC).
//
// Resource rows are hashes named "<table>:{<key>}" with a counter field; log tables are lists
// named "<table>:{<key>}:log". The hash tag keeps all structures of one resource key in the
// same cluster slot, so a hot key range maps to a hot set of shard buckets.
//
// A LockingRead records the counter it observed. At commit the session WATCHes every observed
// key, verifies the counters are unchanged and applies the buffered writes in MULTI/EXEC. A
// concurrent writer in between makes the transaction fail with a retryable conflict, which is
// how the hotspot scenario shows up on a store without row locks.
package redisengine
