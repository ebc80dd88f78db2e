package shared

import (
	"runtime"
	"sync"
	"testing"
	"time"
)

func TestSpinLockMutualExclusion(t *testing.T) {
	defer func(orig func()) { cpuRelax = orig }(cpuRelax)
	cpuRelax = runtime.Gosched

	var (
		lock       SpinLock[int]
		wg         sync.WaitGroup
		numWorkers = 10
	)

	g := lock.Lock()
	*g.Value() = 1

	wg.Add(numWorkers)
	for i := 0; i < numWorkers; i++ {
		go func() {
			defer wg.Done()
			g := lock.Lock()
			*g.Value()++
			g.Unlock()
		}()
	}

	<-time.After(50 * time.Millisecond)
	g.Unlock()
	wg.Wait()

	g = lock.Lock()
	defer g.Unlock()
	if got := *g.Value(); got != 1+numWorkers {
		t.Errorf("expected counter to be %d, got %d", 1+numWorkers, got)
	}
}

func TestSpinLockTicketOrdering(t *testing.T) {
	defer func(orig func()) { cpuRelax = orig }(cpuRelax)
	cpuRelax = runtime.Gosched

	var lock SpinLock[[]int]
	var order []int
	var wg sync.WaitGroup

	first := lock.Lock()

	wg.Add(3)
	for i := 1; i <= 3; i++ {
		i := i
		go func() {
			defer wg.Done()
			g := lock.Lock()
			order = append(order, i)
			g.Unlock()
		}()
		<-time.After(10 * time.Millisecond)
	}

	first.Unlock()
	wg.Wait()

	if len(order) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(order))
	}
	for i, v := range order {
		if v != i+1 {
			t.Errorf("expected FIFO ticket order 1,2,3, got %v", order)
			break
		}
	}
}

func TestSpinLockShatter(t *testing.T) {
	lock := NewSpinLock(42)
	if v := *lock.Shatter(); v != 42 {
		t.Errorf("expected shattered value 42, got %d", v)
	}
}
