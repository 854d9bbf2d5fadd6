package abi

// Host is the function table of the embedding interface.
//
// Unless noted otherwise every method must be called on the host's event
// loop with an Env the host supplied. Out-parameters of the C interface are
// returned before the Status; on a non-OK status they are zero.
type Host interface {
	ErrorHost
	ValueHost
	ObjectHost
	FunctionHost
	LifetimeHost
	AsyncHost
	ThreadsafeHost
	PromiseHost
}

// ErrorHost covers exceptions and error reporting.
type ErrorHost interface {
	GetLastErrorInfo(env Env) (ExtendedErrorInfo, Status)
	Throw(env Env, err Value) Status
	ThrowError(env Env, code, msg string) Status
	ThrowTypeError(env Env, code, msg string) Status
	ThrowRangeError(env Env, code, msg string) Status
	IsError(env Env, v Value) (bool, Status)
	IsExceptionPending(env Env) (bool, Status)
	GetAndClearLastException(env Env) (Value, Status)
	CreateError(env Env, code, msg Value) (Value, Status)
	CreateTypeError(env Env, code, msg Value) (Value, Status)
	CreateRangeError(env Env, code, msg Value) (Value, Status)
	// FatalException reports err as uncaught without unwinding the caller.
	FatalException(env Env, err Value) Status
	// FatalError aborts the host. It does not return on a real engine.
	FatalError(location, message string)
	GetVersion(env Env) (uint32, Status)
}

// ValueHost covers primitive creation, typeof and primitive reads.
type ValueHost interface {
	GetUndefined(env Env) (Value, Status)
	GetNull(env Env) (Value, Status)
	GetGlobal(env Env) (Value, Status)
	GetBoolean(env Env, b bool) (Value, Status)

	CreateDouble(env Env, f float64) (Value, Status)
	CreateInt32(env Env, i int32) (Value, Status)
	CreateUint32(env Env, u uint32) (Value, Status)
	CreateInt64(env Env, i int64) (Value, Status)
	CreateStringUTF8(env Env, s string) (Value, Status)
	CreateSymbol(env Env, description Value) (Value, Status)
	CreateBigintInt64(env Env, i int64) (Value, Status)
	CreateBigintUint64(env Env, u uint64) (Value, Status)
	CreateDate(env Env, ms float64) (Value, Status)
	CreateExternal(env Env, data Data, fin Finalize, hint Data) (Value, Status)
	CreateArrayBuffer(env Env, size int) (Value, []byte, Status)

	TypeOf(env Env, v Value) (ValueType, Status)
	GetValueDouble(env Env, v Value) (float64, Status)
	GetValueInt32(env Env, v Value) (int32, Status)
	GetValueUint32(env Env, v Value) (uint32, Status)
	GetValueInt64(env Env, v Value) (int64, Status)
	GetValueBool(env Env, v Value) (bool, Status)
	GetValueStringUTF8(env Env, v Value) (string, Status)
	// GetValueBigintInt64 also reports whether the conversion was lossless.
	GetValueBigintInt64(env Env, v Value) (int64, bool, Status)
	GetValueBigintUint64(env Env, v Value) (uint64, bool, Status)
	GetValueExternal(env Env, v Value) (Data, Status)
	GetDateValue(env Env, v Value) (float64, Status)
	GetArrayBufferInfo(env Env, v Value) ([]byte, Status)
	CoerceToString(env Env, v Value) (Value, Status)

	IsArray(env Env, v Value) (bool, Status)
	IsDate(env Env, v Value) (bool, Status)
	IsArrayBuffer(env Env, v Value) (bool, Status)
	DetachArrayBuffer(env Env, v Value) Status
	IsDetachedArrayBuffer(env Env, v Value) (bool, Status)
	StrictEquals(env Env, a, b Value) (bool, Status)
}

// ObjectHost covers properties and elements.
type ObjectHost interface {
	CreateObject(env Env) (Value, Status)
	CreateArray(env Env) (Value, Status)
	CreateArrayWithLength(env Env, length uint32) (Value, Status)
	GetArrayLength(env Env, v Value) (uint32, Status)

	SetProperty(env Env, obj, key, val Value) Status
	GetProperty(env Env, obj, key Value) (Value, Status)
	HasProperty(env Env, obj, key Value) (bool, Status)
	DeleteProperty(env Env, obj, key Value) (bool, Status)
	SetNamedProperty(env Env, obj Value, name string, val Value) Status
	GetNamedProperty(env Env, obj Value, name string) (Value, Status)
	HasNamedProperty(env Env, obj Value, name string) (bool, Status)
	GetPropertyNames(env Env, obj Value) (Value, Status)
	SetElement(env Env, obj Value, index uint32, val Value) Status
	GetElement(env Env, obj Value, index uint32) (Value, Status)
	HasElement(env Env, obj Value, index uint32) (bool, Status)
	DeleteElement(env Env, obj Value, index uint32) (bool, Status)
	DefineProperties(env Env, obj Value, props []PropertyDescriptor) Status
	ObjectFreeze(env Env, obj Value) Status
	ObjectSeal(env Env, obj Value) Status
	InstanceOf(env Env, obj, ctor Value) (bool, Status)
}

// FunctionHost covers function creation and invocation.
type FunctionHost interface {
	CreateFunction(env Env, name string, cb Callback, data Data) (Value, Status)
	DefineClass(env Env, name string, ctor Callback, data Data, props []PropertyDescriptor) (Value, Status)
	GetCbInfo(env Env, info CallbackInfo) (CallbackArgs, Status)
	GetNewTarget(env Env, info CallbackInfo) (Value, Status)
	CallFunction(env Env, recv, fn Value, args []Value) (Value, Status)
	NewInstance(env Env, ctor Value, args []Value) (Value, Status)
}

// LifetimeHost covers scopes, references, finalizers and instance data.
type LifetimeHost interface {
	OpenHandleScope(env Env) (HandleScope, Status)
	CloseHandleScope(env Env, scope HandleScope) Status
	OpenEscapableHandleScope(env Env) (EscapableHandleScope, Status)
	CloseEscapableHandleScope(env Env, scope EscapableHandleScope) Status
	EscapeHandle(env Env, scope EscapableHandleScope, v Value) (Value, Status)

	CreateReference(env Env, v Value, initial uint32) (Ref, Status)
	DeleteReference(env Env, ref Ref) Status
	ReferenceRef(env Env, ref Ref) (uint32, Status)
	ReferenceUnref(env Env, ref Ref) (uint32, Status)
	// GetReferenceValue returns the null handle when the target was collected.
	GetReferenceValue(env Env, ref Ref) (Value, Status)

	Wrap(env Env, obj Value, data Data, fin Finalize, hint Data) Status
	Unwrap(env Env, obj Value) (Data, Status)
	RemoveWrap(env Env, obj Value) (Data, Status)
	AddFinalizer(env Env, obj Value, data Data, fin Finalize, hint Data) Status

	SetInstanceData(env Env, data Data, fin Finalize, hint Data) Status
	GetInstanceData(env Env) (Data, Status)
}

// AsyncHost covers background work and async contexts.
type AsyncHost interface {
	CreateAsyncWork(env Env, resource Value, name string, execute AsyncExecute, complete AsyncComplete, data Data) (AsyncWork, Status)
	DeleteAsyncWork(env Env, work AsyncWork) Status
	QueueAsyncWork(env Env, work AsyncWork) Status
	CancelAsyncWork(env Env, work AsyncWork) Status

	AsyncInit(env Env, resource Value, name string) (AsyncContext, Status)
	AsyncDestroy(env Env, ctx AsyncContext) Status
	MakeCallback(env Env, ctx AsyncContext, recv, fn Value, args []Value) (Value, Status)
	// OpenCallbackScope enters ctx for native code that calls into the host
	// outside a host callback. A null resource uses the context's own.
	// Callback scopes close in reverse order of opening.
	OpenCallbackScope(env Env, resource Value, ctx AsyncContext) (CallbackScope, Status)
	CloseCallbackScope(env Env, scope CallbackScope) Status
}

// ThreadsafeHost covers threadsafe functions. Call, Acquire, Release and
// GetThreadsafeFunctionContext may be used from any goroutine.
type ThreadsafeHost interface {
	CreateThreadsafeFunction(env Env, fn Value, name string, maxQueue, initialThreads int,
		finalizeData Data, finalize Finalize, context Data, callJS ThreadsafeCallJS) (ThreadsafeFunction, Status)
	GetThreadsafeFunctionContext(tsfn ThreadsafeFunction) (Data, Status)
	CallThreadsafeFunction(tsfn ThreadsafeFunction, data Data, mode TsfnCallMode) Status
	AcquireThreadsafeFunction(tsfn ThreadsafeFunction) Status
	ReleaseThreadsafeFunction(tsfn ThreadsafeFunction, mode TsfnReleaseMode) Status
	RefThreadsafeFunction(env Env, tsfn ThreadsafeFunction) Status
	UnrefThreadsafeFunction(env Env, tsfn ThreadsafeFunction) Status
}

// PromiseHost covers promise/deferred pairs.
type PromiseHost interface {
	CreatePromise(env Env) (Deferred, Value, Status)
	ResolveDeferred(env Env, d Deferred, v Value) Status
	RejectDeferred(env Env, d Deferred, v Value) Status
	IsPromise(env Env, v Value) (bool, Status)
}
