package napi

// As returns v as a T after checking its type. A mismatch returns the
// matching expectation error, for example errors.ErrStringExpected.
func As[T View](v Value) (T, error) {
	var zero T
	if err := zero.expect(v); err != nil {
		return zero, err
	}
	return zero.wrap(v).(T), nil
}

// UncheckedAs returns v as a T without asking the host. Reading through a
// view of the wrong type fails with the host's expectation status.
func UncheckedAs[T View](v Value) T {
	var zero T
	return zero.wrap(v).(T)
}

// Is reports whether v can be viewed as a T.
func Is[T View](v Value) bool {
	var zero T
	return zero.expect(v) == nil
}
