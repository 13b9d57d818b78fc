package coalesce

import (
	"fmt"
	"sync"
	"testing"
)

func TestTryAttachEmptyTable(t *testing.T) {
	table := NewTable()
	if id, ok := table.TryAttach("key"); ok {
		t.Fatalf("TryAttach on empty table returned %q", id)
	}
}

func TestRegisterThenAttach(t *testing.T) {
	table := NewTable()
	owner, registered := table.Register("key", "job-1")
	if !registered || owner != "job-1" {
		t.Fatalf("Register = (%q, %v), want (job-1, true)", owner, registered)
	}
	id, ok := table.TryAttach("key")
	if !ok || id != "job-1" {
		t.Fatalf("TryAttach = (%q, %v), want (job-1, true)", id, ok)
	}
	if table.Len() != 1 {
		t.Fatalf("Len = %d, want 1", table.Len())
	}
}

func TestRegisterLosesToExistingOwner(t *testing.T) {
	table := NewTable()
	table.Register("key", "job-1")
	owner, registered := table.Register("key", "job-2")
	if registered {
		t.Fatal("second Register for the same key should lose")
	}
	if owner != "job-1" {
		t.Fatalf("losing Register returned owner %q, want job-1", owner)
	}
}

func TestReleaseGuardsAgainstStaleOwner(t *testing.T) {
	table := NewTable()
	table.Register("key", "job-1")

	if table.Release("key", "job-2") {
		t.Fatal("release by a non-owner should be refused")
	}
	if _, ok := table.TryAttach("key"); !ok {
		t.Fatal("entry vanished after refused release")
	}

	if !table.Release("key", "job-1") {
		t.Fatal("release by the owner should succeed")
	}
	if _, ok := table.TryAttach("key"); ok {
		t.Fatal("entry survived owner release")
	}

	// A late duplicate release must not touch a newer registration.
	table.Register("key", "job-3")
	if table.Release("key", "job-1") {
		t.Fatal("stale release clobbered a newer registration")
	}
	if id, _ := table.TryAttach("key"); id != "job-3" {
		t.Fatalf("owner after stale release = %q, want job-3", id)
	}
}

func TestConcurrentRegisterSingleWinner(t *testing.T) {
	table := NewTable()
	const workers = 32

	var wg sync.WaitGroup
	owners := make([]string, workers)
	wins := make([]bool, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			owners[i], wins[i] = table.Register("key", fmt.Sprintf("job-%d", i))
		}(i)
	}
	wg.Wait()

	winners := 0
	var winner string
	for i := 0; i < workers; i++ {
		if wins[i] {
			winners++
			winner = owners[i]
		}
	}
	if winners != 1 {
		t.Fatalf("%d registrations won, want exactly 1", winners)
	}
	for i := 0; i < workers; i++ {
		if owners[i] != winner {
			t.Fatalf("worker %d observed owner %q, want %q", i, owners[i], winner)
		}
	}
}
