package ebtree

import "testing"

func TestFreelistPendingNotReusableUntilOldestReaderAdvances(t *testing.T) {
	fl := newFreelist(false)
	fl.free(5, 1, 100, 101)

	if _, ok := fl.allocPage(); ok {
		t.Fatal("page reused before any reader-visibility check")
	}

	fl.setOldestReader(5) // a reader on snapshot 5 could still see the pre-free page
	if _, ok := fl.allocPage(); ok {
		t.Fatal("page reused while a reader at the freeing txn id is still open")
	}

	fl.setOldestReader(6) // oldest reader is now newer than the freeing txn
	id, ok := fl.allocPage()
	if !ok {
		t.Fatal("expected a page to become available once oldestReader reached freedBy+1")
	}
	if id != 100 && id != 101 {
		t.Fatalf("allocPage() = %d, want 100 or 101", id)
	}
}

func TestFreelistSegregatedBucketsByRunLength(t *testing.T) {
	fl := newFreelist(true)
	fl.freeRun(1, 200, 3)
	fl.setOldestReader(2)

	if _, ok := fl.allocRun(2); ok {
		t.Fatal("allocRun(2) should not match a run freed with length 3")
	}
	id, ok := fl.allocRun(3)
	if !ok || id != 200 {
		t.Fatalf("allocRun(3) = (%d,%v), want (200,true)", id, ok)
	}
}

func TestFreelistAvailableCount(t *testing.T) {
	fl := newFreelist(false)
	fl.free(1, 1, 10, 11, 12)
	fl.setOldestReader(2)
	if got := fl.availableCount(); got != 3 {
		t.Fatalf("availableCount() = %d, want 3", got)
	}
}
