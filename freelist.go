package ebtree

import "sort"

// freelist tracks pages that have been COW-replaced and are candidates for
// reuse, while respecting MVCC snapshot isolation: a page freed by the
// transaction that obsoleted it cannot be reused until no open reader could
// still be looking at the pre-free version (§4.3).
//
// Pages a write transaction frees land in pending, keyed by the freeing
// transaction's id. setOldestReader promotes an entry from pending into
// available once every reader old enough to see the freed version has
// gone — i.e. once the oldest live reader's snapshot id is at least
// freeingTxn+1.
type freelist struct {
	pending   map[txnid][]pgno
	available []pgno // sorted ascending; allocPage pops the highest id first

	segregated     bool
	availByClass   map[uint32][]pgno             // size class = contiguous run length, only used when segregated
	pendingClasses map[txnid][]pendingClassEntry // size-class metadata for pages not yet promoted to available

	// pendingDeletes queues freedBy keys whose batch was just promoted into
	// available (or, at Open, reloaded wholesale from the persisted
	// freelist sub-database). The next commit drops these keys from the
	// persisted tree, since their pages are now tracked purely in memory
	// (§4.6 commit step b).
	pendingDeletes []txnid
}

func newFreelist(segregated bool) *freelist {
	fl := &freelist{
		pending: make(map[txnid][]pgno),
	}
	fl.segregated = segregated
	if segregated {
		fl.availByClass = make(map[uint32][]pgno)
	}
	return fl
}

// free records ids as freed by txn, not yet reusable. Each id is the start
// of its own contiguous run of runLen pages (runLen is 1 for an ordinary
// single-page COW free); when the freelist is segregated, every id is also
// bucketed by that size class so allocRun can find it again.
func (fl *freelist) free(txn txnid, runLen uint32, ids ...pgno) {
	fl.pending[txn] = append(fl.pending[txn], ids...)
	if fl.segregated {
		for _, id := range ids {
			fl.pendingClass(txn, id, runLen)
		}
	}
}

// freeRun records a single contiguous run of pages (used for overflow runs)
// as one freed entry, noting its size class when the freelist is segregated.
func (fl *freelist) freeRun(txn txnid, start pgno, runLen uint32) {
	fl.pending[txn] = append(fl.pending[txn], start)
	if fl.segregated {
		fl.pendingClass(txn, start, runLen)
	}
}

// pendingClassEntry remembers the run length a pending page belongs to so
// commitPending can route it to the right size-class bucket.
type pendingClassEntry struct {
	page pgno
	run  uint32
}

func (fl *freelist) pendingClass(txn txnid, start pgno, runLen uint32) {
	if fl.pendingClasses == nil {
		fl.pendingClasses = make(map[txnid][]pendingClassEntry)
	}
	fl.pendingClasses[txn] = append(fl.pendingClasses[txn], pendingClassEntry{page: start, run: runLen})
}

// commitPending returns the batch of pages txn freed during its lifetime,
// for the caller to persist into the freelist sub-database (§4.3, §4.6 step
// b). It does not itself make the pages reusable; that is setOldestReader's
// job once no reader could still need their pre-free contents.
func (fl *freelist) commitPending(txn txnid) []pgno {
	return fl.pending[txn]
}

// seedAvailable installs pages reloaded from the persisted freelist
// sub-database directly into available and queues their batch keys for
// deletion from that sub-database at the next commit. Called once at Open,
// before any reader could exist, so every persisted batch is immediately
// reusable — none of it is still "pending" from this process's point of
// view (§4.6, §8 crash-safety: pre-crash frees must not leak forever).
func (fl *freelist) seedAvailable(batches map[txnid][]pgno) {
	for freedBy, ids := range batches {
		fl.available = append(fl.available, ids...)
		fl.pendingDeletes = append(fl.pendingDeletes, freedBy)
	}
	sort.Slice(fl.available, func(i, j int) bool { return fl.available[i] < fl.available[j] })
}

// drainPendingDeletes returns and clears the queued freedBy keys whose
// persisted batch is now obsolete.
func (fl *freelist) drainPendingDeletes() []txnid {
	out := fl.pendingDeletes
	fl.pendingDeletes = nil
	return out
}

// setOldestReader promotes every pending entry freed by a transaction older
// than oldest into available, since no reader can still need those pages'
// pre-free versions.
func (fl *freelist) setOldestReader(oldest txnid) {
	for freedBy, ids := range fl.pending {
		if freedBy+1 > oldest {
			continue
		}
		if fl.segregated {
			for _, e := range fl.pendingClasses[freedBy] {
				fl.availByClass[e.run] = append(fl.availByClass[e.run], e.page)
			}
			delete(fl.pendingClasses, freedBy)
		} else {
			fl.available = append(fl.available, ids...)
		}
		delete(fl.pending, freedBy)
		fl.pendingDeletes = append(fl.pendingDeletes, freedBy)
	}
	if !fl.segregated {
		sort.Slice(fl.available, func(i, j int) bool { return fl.available[i] < fl.available[j] })
	}
}

// allocPage pops one page from available, falling back to the single-page
// size class when the freelist is segregated, and reports false if none is
// free.
func (fl *freelist) allocPage() (pgno, bool) {
	if len(fl.available) == 0 {
		if fl.segregated {
			return fl.allocRun(1)
		}
		return 0, false
	}
	id := fl.available[len(fl.available)-1]
	fl.available = fl.available[:len(fl.available)-1]
	return id, true
}

// allocRun pops a free contiguous run of exactly runLen pages when the
// freelist is segregated by size class; callers fall back to the allocator's
// bump allocation when it returns false.
func (fl *freelist) allocRun(runLen uint32) (pgno, bool) {
	if !fl.segregated {
		return 0, false
	}
	bucket := fl.availByClass[runLen]
	if len(bucket) == 0 {
		return 0, false
	}
	id := bucket[len(bucket)-1]
	fl.availByClass[runLen] = bucket[:len(bucket)-1]
	return id, true
}

func (fl *freelist) availableCount() int {
	if fl.segregated {
		n := 0
		for _, b := range fl.availByClass {
			n += len(b)
		}
		return n
	}
	return len(fl.available)
}
