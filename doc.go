// Package addonruntime provides a safe Go layer over a native addon ABI.
//
// Addons are written against napi, which turns the raw, status-returning
// host interface into typed handles, Go closures and structured errors.
// A reference host in refhost implements the same interface in pure Go so
// addons can be loaded, called and tested without an external engine.
//
// # Architecture Overview
//
// The library is organized into several packages with distinct responsibilities:
//
//	addonruntime/
//	├── abi/              Raw host interface: opaque handles, status codes, callbacks
//	├── errors/           Structured error types keyed by phase and status
//	├── internal/capsule/ Generation-checked table for Go values crossing the ABI
//	├── napi/             Safe addon API: views, scopes, refs, functions, async work
//	├── refhost/          Pure Go host with an event loop and mark/sweep collector
//	├── wasmbind/         Host module letting WebAssembly guests call addons
//	├── addons/sample/    Built-in addon used by the CLI and tests
//	└── cmd/addonrun/     Command line runner with an interactive picker
//
// # Quick Start
//
// Register an addon:
//
//	func init() {
//	    napi.Register("greeter", func(env napi.Env, exports napi.Object) (napi.Object, error) {
//	        greet, err := napi.NewFunction(env, "greet",
//	            func(_ napi.Value, args napi.Args1[napi.String]) (napi.String, error) {
//	                name, err := args.A1.UTF8()
//	                if err != nil {
//	                    return napi.String{}, err
//	                }
//	                return env.String("Hello, " + name + "!")
//	            })
//	        if err != nil {
//	            return exports, err
//	        }
//	        return exports, exports.Set("greet", greet)
//	    })
//	}
//
// Load and call it on the reference host:
//
//	h, err := refhost.New(refhost.DefaultConfig())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer h.Close()
//
//	entry, _ := napi.Lookup("greeter")
//	addon, err := h.Load(ctx, "greeter", entry)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	result, err := addon.Call(ctx, "greet", "World")
//	fmt.Println(result) // "Hello, World!"
//
// # Lifetimes
//
// Values are handles valid until their scope closes. Refs keep values
// alive across calls, finalizers run exactly once when the host collects
// an object, and Go closures handed to the host are reclaimed by the
// finalizer of the function that owns them.
//
// # Concurrency
//
// All handle operations happen on the host's loop goroutine. Work leaves
// the loop through AsyncWork, whose execute step runs on a worker, and
// comes back through ThreadsafeFunction, whose calls are queued from any
// goroutine and delivered on the loop.
//
// # Error Handling
//
// All errors use the structured errors.Error type:
//
//	var e *errors.Error
//	if errors.As(err, &e) {
//	    fmt.Printf("Phase: %s, Status: %s\n", e.Phase, e.Status)
//	}
//
//	if errors.Is(err, errors.ErrStringExpected) {
//	    // wrong argument type
//	}
package addonruntime
