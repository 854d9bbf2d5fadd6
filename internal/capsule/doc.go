// Package capsule stores Go values behind opaque abi.Data tokens.
//
// A capsule is how a Go closure crosses the embedding interface: the value
// is boxed into a table, the host only ever sees the integer token, and the
// static trampoline that receives the token borrows the value back. Each
// token is reclaimed exactly once; tokens carry a generation so a stale
// token never resolves to a reused slot.
package capsule
