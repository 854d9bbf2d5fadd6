// Package napi is the safe layer addon authors write against.
//
// It sits on top of the raw embedding interface in package abi and owns the
// parts that are easy to get wrong by hand: handle scopes that always close,
// escaping a value exactly once, persistent references, finalizers that fire
// once, and Go closures passed to the host as opaque tokens that are
// reclaimed exactly once when the host finalizes the function holding them.
//
// An addon is an InitFunc wrapped by Entry:
//
//	func Init(env napi.Env, exports napi.Object) (napi.Object, error) {
//		greet, err := napi.NewFunction(env, "greet",
//			func(this napi.Value, args napi.Args1[napi.String]) (napi.String, error) {
//				name, err := args.A1.UTF8()
//				if err != nil {
//					return napi.String{}, err
//				}
//				return env.String("hello, " + name)
//			})
//		if err != nil {
//			return exports, err
//		}
//		return exports, exports.Set("greet", greet.Value)
//	}
//
//	var Entry = napi.Entry(Init)
//
// Errors returned from callbacks are thrown into the host as Error objects
// unless an exception is already pending. Panics are recovered at the
// boundary and thrown with code ERR_NATIVE_PANIC.
//
// Background work (AsyncWork), threadsafe functions and promises bridge Go
// goroutines back to the host's event loop. Every handle operation must run
// on that loop; only ThreadsafeFunction calls may come from other
// goroutines.
package napi
