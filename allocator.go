package ebtree

// pageAllocator hands out page IDs for a write transaction: it prefers
// recycling a page from the freelist, and otherwise bumps the
// high-water-mark cursor, enforcing the environment's map-size limit and
// rejecting IDs that would overflow the file-offset computation (§4.4).
type pageAllocator struct {
	nextPgno pgno // bump cursor: next never-used page id
	maxPgno  pgno // map_size / page_size, inclusive ceiling
	fl       *freelist
}

func newPageAllocator(initial, max pgno, fl *freelist) *pageAllocator {
	return &pageAllocator{nextPgno: initial, maxPgno: max, fl: fl}
}

// allocPage allocates a single page, preferring freelist reuse.
func (a *pageAllocator) allocPage() (pgno, error) {
	if id, ok := a.fl.allocPage(); ok {
		return id, nil
	}
	return a.bump(1)
}

// allocRun allocates runLen contiguous pages for an overflow value (§4.8).
// A segregated freelist may satisfy this from a matching size class;
// otherwise it always bumps the cursor, since recycled single pages are not
// necessarily contiguous.
func (a *pageAllocator) allocRun(runLen uint32) (pgno, error) {
	if runLen == 0 {
		return 0, invalidParam("run length must be positive")
	}
	if runLen == 1 {
		return a.allocPage()
	}
	if id, ok := a.fl.allocRun(runLen); ok {
		return id, nil
	}
	return a.bump(runLen)
}

func (a *pageAllocator) bump(count uint32) (pgno, error) {
	start := a.nextPgno
	end := start + pgno(count)
	if end > maxPgno {
		return 0, invalidPageIDErr(end, "page id would overflow offset computation")
	}
	if end > a.maxPgno {
		return 0, newError(ErrMapFull)
	}
	a.nextPgno = end
	return start, nil
}

// freePage marks id (freed by txn) as a candidate for future reuse, subject
// to MVCC visibility via the freelist's pending/available split.
func (a *pageAllocator) freePage(txn txnid, id pgno) {
	if id < firstDataPgno {
		return // never recycle meta pages
	}
	a.fl.free(txn, 1, id)
}

// freeRun marks a contiguous run of runLen pages starting at id as freed by txn.
func (a *pageAllocator) freeRun(txn txnid, id pgno, runLen uint32) {
	if id < firstDataPgno {
		return
	}
	a.fl.freeRun(txn, id, runLen)
}

// currentPgno reports the allocator's high-water mark (used by Meta.LastPgno).
func (a *pageAllocator) currentPgno() pgno { return a.nextPgno }

// wouldExceedLimit reports whether allocating count more pages would go past maxPgno.
func (a *pageAllocator) wouldExceedLimit(count uint32) bool {
	return a.nextPgno+pgno(count) > a.maxPgno
}
