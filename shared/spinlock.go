package shared

import (
	"sync/atomic"

	"duskos/kernel/cpu"
)

// SpinLock is a ticket-based busy-wait lock guarding a value of type T.
// Unlike a simple compare-and-swap lock, tickets guarantee FIFO fairness
// among waiters, which matters once more than two cores are spinning on the
// same lock during AP bring-up and panic handling.
type SpinLock[T any] struct {
	ticket  atomic.Uint64
	release atomic.Uint64
	value   T
}

// NewSpinLock returns a SpinLock initialized to hold value.
func NewSpinLock[T any](value T) *SpinLock[T] {
	return &SpinLock[T]{value: value}
}

// SpinLockGuard provides exclusive access to the value guarded by a
// SpinLock. The lock is released by calling Unlock; there is no finalizer,
// so callers must not forget to release it.
type SpinLockGuard[T any] struct {
	lock *SpinLock[T]
}

// Lock blocks until the calling core is granted exclusive access.
func (l *SpinLock[T]) Lock() *SpinLockGuard[T] {
	ticket := l.ticket.Add(1) - 1

	for ticket != l.release.Load() {
		cpuRelax()
	}

	return &SpinLockGuard[T]{lock: l}
}

// Unlock releases the lock held by g, admitting the next waiting ticket.
func (g *SpinLockGuard[T]) Unlock() {
	g.lock.release.Add(1)
}

// Value returns a pointer to the guarded value. Valid only while the guard
// is held.
func (g *SpinLockGuard[T]) Value() *T {
	return &g.lock.value
}

// Shatter returns a raw pointer to the guarded value, bypassing the lock
// entirely. This exists for interrupt and panic contexts that must never
// block on a lock that might be held by the very core that took the
// interrupt - the APIC EOI path and the panic/soft-reboot path are the only
// callers that may legitimately use it.
func (l *SpinLock[T]) Shatter() *T {
	return &l.value
}

// cpuRelax is a mockable hint to the processor that we're in a busy-wait
// loop. It is automatically inlined by the compiler in production builds.
var cpuRelax = cpu.Pause
