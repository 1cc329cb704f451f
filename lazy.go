package mqttest

import "context"

type lazyKind byte

const (
	lazyUnset lazyKind = iota
	lazyValue
	lazyFunc
	lazyAsync
)

// Lazy is a definition field that is either a literal, a producer, or a
// producer that may block and fail. It is evaluated each time Resolve is
// called and never cached.
type Lazy[T any] struct {
	kind  lazyKind
	value T
	fn    func() T
	async func(context.Context) (T, error)
}

func Value[T any](v T) Lazy[T] {
	return Lazy[T]{kind: lazyValue, value: v}
}

func Func[T any](fn func() T) Lazy[T] {
	if fn == nil {
		return Lazy[T]{}
	}
	return Lazy[T]{kind: lazyFunc, fn: fn}
}

func Async[T any](fn func(context.Context) (T, error)) Lazy[T] {
	if fn == nil {
		return Lazy[T]{}
	}
	return Lazy[T]{kind: lazyAsync, async: fn}
}

// IsSet is false for the zero Lazy.
func (l Lazy[T]) IsSet() bool {
	return l.kind != lazyUnset
}

// Resolve evaluates the field. An unset field resolves to the zero T.
func (l Lazy[T]) Resolve(ctx context.Context) (T, error) {
	switch l.kind {
	case lazyValue:
		return l.value, nil
	case lazyFunc:
		return l.fn(), nil
	case lazyAsync:
		return l.async(ctx)
	default:
		var zero T
		return zero, nil
	}
}

// or returns l when set and fallback otherwise.
func (l Lazy[T]) or(fallback Lazy[T]) Lazy[T] {
	if l.IsSet() {
		return l
	}
	return fallback
}
