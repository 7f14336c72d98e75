// Package cozyfs implements a position-independent, in-memory
// hierarchical file system that lives entirely inside a caller-
// supplied byte buffer. The buffer may be memory-mapped to a file
// (durability), mapped into shared memory (cross-process sharing), or
// simply held in RAM; multiple processes may attach to the same
// buffer concurrently and perform operations with crash recovery and
// copy-on-write transaction semantics.
//
// A caller formats a buffer once with Init, then opens one Session
// per attacher with Attach. Every mutating method on Session acquires
// a single cross-process lock word for its duration and also holds a
// per-Session mutex, so calls made on one Session from several
// goroutines execute one at a time (Stat and ForceRestore do not take
// the mutex).
package cozyfs
