package abi

import "strconv"

// Status is the result code of every embedding interface call.
type Status uint32

const (
	StatusOK Status = iota
	StatusInvalidArg
	StatusObjectExpected
	StatusStringExpected
	StatusNameExpected
	StatusFunctionExpected
	StatusNumberExpected
	StatusBooleanExpected
	StatusArrayExpected
	StatusGenericFailure
	StatusPendingException
	StatusCancelled
	StatusEscapeCalledTwice
	StatusHandleScopeMismatch
	StatusCallbackScopeMismatch
	StatusQueueFull
	StatusClosing
	StatusBigintExpected
	StatusDateExpected
	StatusArraybufferExpected
	StatusDetachableArraybufferExpected
	StatusWouldDeadlock
)

var statusNames = [...]string{
	StatusOK:                            "ok",
	StatusInvalidArg:                    "invalid_arg",
	StatusObjectExpected:                "object_expected",
	StatusStringExpected:                "string_expected",
	StatusNameExpected:                  "name_expected",
	StatusFunctionExpected:              "function_expected",
	StatusNumberExpected:                "number_expected",
	StatusBooleanExpected:               "boolean_expected",
	StatusArrayExpected:                 "array_expected",
	StatusGenericFailure:                "generic_failure",
	StatusPendingException:              "pending_exception",
	StatusCancelled:                     "cancelled",
	StatusEscapeCalledTwice:             "escape_called_twice",
	StatusHandleScopeMismatch:           "handle_scope_mismatch",
	StatusCallbackScopeMismatch:         "callback_scope_mismatch",
	StatusQueueFull:                     "queue_full",
	StatusClosing:                       "closing",
	StatusBigintExpected:                "bigint_expected",
	StatusDateExpected:                  "date_expected",
	StatusArraybufferExpected:           "arraybuffer_expected",
	StatusDetachableArraybufferExpected: "detachable_arraybuffer_expected",
	StatusWouldDeadlock:                 "would_deadlock",
}

func (s Status) String() string {
	if int(s) < len(statusNames) {
		return statusNames[s]
	}
	return "status(" + strconv.FormatUint(uint64(s), 10) + ")"
}

// OK reports whether s is StatusOK.
func (s Status) OK() bool { return s == StatusOK }

// Valid reports whether s is a known status code.
func (s Status) Valid() bool { return int(s) < len(statusNames) }
