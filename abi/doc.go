// Package abi declares the embedding interface an addon talks to.
//
// Everything here mirrors a C ABI: handles are opaque integers, every call
// returns a Status, callbacks are plain functions that receive an opaque Data
// token instead of a closure. Nothing in this package allocates or owns host
// values; it only names the boundary.
//
// Addon code should not use this package directly. The napi package wraps it
// with scope discipline, checked casts and closure trampolines. Hosts
// implement the Host interface and call a ModuleEntry to load an addon.
package abi
