// Package refhost is an in-process implementation of the embedding
// interface declared by package abi.
//
// It models the parts of a host runtime an addon depends on: handle scope
// frames with stale-handle rejection, persistent references, mark/sweep
// collection that runs finalizers exactly once, a single event-loop
// goroutine, a bounded worker pool for background work, threadsafe function
// queues and promises. It does not evaluate any language; values are plain
// Go structures.
//
// A Host loads addons through their abi.ModuleEntry and drives them from Go:
//
//	h, err := refhost.New(refhost.DefaultConfig())
//	if err != nil {
//		return err
//	}
//	defer h.Close()
//
//	addon, err := h.Load(ctx, "sample", napi.Entry(sample.Init))
//	if err != nil {
//		return err
//	}
//	result, err := addon.Call(ctx, "greet", "world")
//
// All abi.Host methods except the threadsafe function entry points must be
// called on the loop goroutine; Do runs a function there.
package refhost
