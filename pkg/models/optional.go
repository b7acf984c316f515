package models

// Optional is a three-state field for partial updates: unset (leave the
// stored value alone), null (clear it), or a concrete value.
type Optional[T any] struct {
	set   bool
	valid bool
	value T
}

// Set returns an Optional carrying a concrete value.
func Set[T any](v T) Optional[T] {
	return Optional[T]{set: true, valid: true, value: v}
}

// Null returns an Optional that clears the stored value.
func Null[T any]() Optional[T] {
	return Optional[T]{set: true}
}

// Unset reports whether the field was omitted from the update.
func (o Optional[T]) Unset() bool { return !o.set }

// IsNull reports whether the field explicitly clears the stored value.
func (o Optional[T]) IsNull() bool { return o.set && !o.valid }

// Get returns the value and whether one is present.
func (o Optional[T]) Get() (T, bool) {
	return o.value, o.set && o.valid
}
