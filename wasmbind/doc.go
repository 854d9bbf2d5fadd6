// Package wasmbind lets WebAssembly guests call addon exports.
//
// A Bridge installs the host module "addon" into a wazero runtime. Guests
// import its functions and pass names and strings as (ptr, len) pairs in
// their exported memory:
//
//	call_f64(name_ptr, name_len, argv_ptr, argc i32) f64
//	call_str(name_ptr, name_len, arg_ptr, arg_len, out_ptr, out_cap i32) i32
//	last_error(out_ptr, out_cap i32) i32
//
// Failures never trap the guest. call_f64 returns NaN and call_str returns
// -1, and last_error then yields the message. A string result that does not
// fit in out_cap is reported as its negated length so the guest can retry
// with a larger buffer.
//
// A Runner owns a runtime with WASI preview1 and the bridge installed and
// runs guest modules against one addon:
//
//	r, err := wasmbind.NewRunner(ctx, addon, wasmbind.Config{Stdout: os.Stdout})
//	if err != nil {
//	    return err
//	}
//	defer r.Close(ctx)
//
//	_, err = r.Run(ctx, wasmBytes, "_start")
package wasmbind
