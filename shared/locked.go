package shared

// Locked pairs a value with the SpinLock that guards it. It exists so that
// Shared can expose several independently-lockable fields without every
// caller having to juggle a matching SpinLock by hand.
type Locked[T any] struct {
	lock SpinLock[T]
}

// NewLocked returns a Locked wrapping value.
func NewLocked[T any](value T) *Locked[T] {
	return &Locked[T]{lock: SpinLock[T]{value: value}}
}

// Lock acquires exclusive access to the guarded value.
func (l *Locked[T]) Lock() *SpinLockGuard[T] {
	return l.lock.Lock()
}
