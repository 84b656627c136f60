package ebtree

// pageSource is the copy-on-write page arena a B+tree operation mutates
// through. A write transaction is the only production implementation
// (§4.6); tests may supply a lighter fake.
type pageSource interface {
	// getPage returns a read-only view of page id (dirty or committed).
	getPage(id pgno) (*page, error)
	// cowPage returns a writable page for id: if id was already dirtied by
	// this transaction it is returned as-is, otherwise a fresh copy is
	// allocated and id is queued for MVCC-safe reclamation.
	cowPage(id pgno) (*page, error)
	// allocPage formats and returns a brand new dirty page.
	allocPage(flags pageFlags) (*page, error)
	// allocOverflow writes data to a fresh overflow run and returns its header.
	allocOverflow(data []byte) (overflowHeader, error)
	// readOverflow reconstructs a value previously written via allocOverflow.
	readOverflow(h overflowHeader) ([]byte, error)
	// freeOverflow releases an overflow run no longer referenced.
	freeOverflow(h overflowHeader)
	// discardPage releases a page, either immediately (if never committed)
	// or via the freelist (if it was part of a prior snapshot).
	discardPage(id pgno)
	pageSize() uint32
	cmp() CmpFunc
	inlineLimit() uint32
}

// PutFlags modifies Txn.Put behavior (§6).
type PutFlags uint32

const (
	// PutNoOverwrite fails with ErrKeyExists if the key is already present.
	PutNoOverwrite PutFlags = 1 << iota
	// PutAppend marks the key as greater than any existing key: a leaf or
	// branch split whose new entry lands last uses the right-biased 75/25
	// split point. The key is still located by a normal search.
	PutAppend
)

// splitResult carries a promoted separator key and new right sibling up
// one level after a child page split.
type splitResult struct {
	sepKey     []byte
	rightChild pgno
}

// btreeSearch looks up key starting from root, returning its raw node value
// bytes (already overflow-resolved) or ErrNotFound.
func btreeSearch(src pageSource, root pgno, key []byte) ([]byte, error) {
	if root == invalidPgno {
		return nil, newError(ErrNotFound)
	}
	id := root
	for {
		p, err := src.getPage(id)
		if err != nil {
			return nil, err
		}
		if p.isLeaf() {
			idx, found := p.searchKey(key, src.cmp())
			if !found {
				return nil, newError(ErrNotFound)
			}
			return resolveLeafValue(src, p.nodeAt(idx))
		}
		slot := descendSlot(p, key, src.cmp())
		id = branchChildAt(p, slot)
	}
}

// btreeSearchRaw returns the raw node bytes (header+key+value-area) stored
// for key, without resolving overflow or interpreting flags — used by the
// DUP_SORT layer, which needs to inspect nodeGetFlags itself.
func btreeSearchRaw(src pageSource, root pgno, key []byte) ([]byte, error) {
	if root == invalidPgno {
		return nil, newError(ErrNotFound)
	}
	id := root
	for {
		p, err := src.getPage(id)
		if err != nil {
			return nil, err
		}
		if p.isLeaf() {
			idx, found := p.searchKey(key, src.cmp())
			if !found {
				return nil, newError(ErrNotFound)
			}
			n := p.nodeAt(idx)
			return append([]byte(nil), n[:nodeSize(nodeKeySize(n), nodeValSize(n))]...), nil
		}
		slot := descendSlot(p, key, src.cmp())
		id = branchChildAt(p, slot)
	}
}

// resolveLeafValue returns the logical value bytes for a leaf node,
// following an overflow run if the node carries nodeBig.
func resolveLeafValue(src pageSource, n []byte) ([]byte, error) {
	if nodeGetFlags(n)&nodeBig != 0 {
		return src.readOverflow(decodeOverflowHeader(nodeValue(n)))
	}
	return nodeValue(n), nil
}

// descendSlot picks which child pointer of branch page p to follow for key,
// per the convention: slot 0 is leftmostChild, slot i (i>=1) is the child
// after separator key nodeAt(i-1).
func descendSlot(p *page, key []byte, cmp CmpFunc) int {
	idx, found := p.searchKey(key, cmp)
	if found {
		return idx + 1
	}
	return idx
}

func branchChildAt(p *page, slot int) pgno {
	if slot == 0 {
		return p.leftmostChild()
	}
	return childPgno(p.nodeAt(slot - 1))
}

func branchSetChildAt(p *page, slot int, id pgno) {
	if slot == 0 {
		p.setLeftmostChild(id)
		return
	}
	setChildPgno(p.nodeAt(slot-1), id)
}

// btreeInsert inserts/overwrites key->value under root, returning the new
// root page id (path-copying COW may change every page from root to leaf,
// §4.7).
func btreeInsert(src pageSource, root pgno, key, value []byte, flags PutFlags) (pgno, error) {
	if root == invalidPgno {
		leaf, err := src.allocPage(flagLeaf)
		if err != nil {
			return 0, err
		}
		nflags, valBytes, err := encodeLeafValue(src, value)
		if err != nil {
			return 0, err
		}
		nd := encodeNode(nflags, key, valBytes)
		if !leaf.addNodeSorted(0, nd, int(src.pageSize())) {
			return 0, invalidParam("key/value too large for an empty page")
		}
		return leaf.pageNo(), nil
	}

	newRoot, split, err := insertRecursive(src, root, key, value, flags)
	if err != nil {
		return 0, err
	}
	if split == nil {
		return newRoot, nil
	}
	top, err := src.allocPage(flagBranch)
	if err != nil {
		return 0, err
	}
	top.setLeftmostChild(newRoot)
	nd := encodeBranchNode(split.sepKey, split.rightChild)
	if !top.addNodeSorted(0, nd, int(src.pageSize())) {
		return 0, invalidParam("separator key too large for a fresh root")
	}
	return top.pageNo(), nil
}

func encodeLeafValue(src pageSource, value []byte) (nodeFlags, []byte, error) {
	if uint32(len(value)) <= src.inlineLimit() {
		return 0, value, nil
	}
	h, err := src.allocOverflow(value)
	if err != nil {
		return 0, nil, err
	}
	return nodeBig, encodeOverflowHeader(h), nil
}

func insertRecursive(src pageSource, id pgno, key, value []byte, flags PutFlags) (pgno, *splitResult, error) {
	p, err := src.cowPage(id)
	if err != nil {
		return 0, nil, err
	}

	if p.isLeaf() {
		idx, found := p.searchKey(key, src.cmp())
		if found {
			if flags&PutNoOverwrite != 0 {
				return 0, nil, newError(ErrKeyExists)
			}
			old := p.nodeAt(idx)
			if nodeGetFlags(old)&nodeBig != 0 {
				src.freeOverflow(decodeOverflowHeader(nodeValue(old)))
			}
			p.removeNode(idx)
		}
		nflags, valBytes, err := encodeLeafValue(src, value)
		if err != nil {
			return 0, nil, err
		}
		nd := encodeNode(nflags, key, valBytes)
		if p.addNodeSorted(idx, nd, int(src.pageSize())) {
			return p.pageNo(), nil, nil
		}
		return splitLeafAndInsert(src, p, idx, nd, flags&PutAppend != 0)
	}

	slot := descendSlot(p, key, src.cmp())
	childID := branchChildAt(p, slot)
	newChildID, childSplit, err := insertRecursive(src, childID, key, value, flags)
	if err != nil {
		return 0, nil, err
	}
	branchSetChildAt(p, slot, newChildID)
	if childSplit == nil {
		return p.pageNo(), nil, nil
	}
	nd := encodeBranchNode(childSplit.sepKey, childSplit.rightChild)
	if p.addNodeSorted(slot, nd, int(src.pageSize())) {
		return p.pageNo(), nil, nil
	}
	return splitBranchAndInsert(src, p, slot, nd, flags&PutAppend != 0)
}

// collectEntries returns a copy of every slot's node bytes in p, in order.
// Callers rebuild p itself (or another page sharing its backing array) from
// these entries, so they must not alias p.Data: rebuildLeaf/rebuildBranch
// zero the target page before replaying entries into it.
func collectEntries(p *page) [][]byte {
	n := p.numKeys()
	out := make([][]byte, n)
	for i := 0; i < n; i++ {
		raw := p.nodeAt(i)
		size := nodeSize(nodeKeySize(raw), nodeValSize(raw))
		out[i] = append([]byte(nil), raw[:size]...)
	}
	return out
}

// spliceEntry inserts raw at position idx among entries, without mutating entries.
func spliceEntry(entries [][]byte, idx int, raw []byte) [][]byte {
	out := make([][]byte, 0, len(entries)+1)
	out = append(out, entries[:idx]...)
	out = append(out, raw)
	out = append(out, entries[idx:]...)
	return out
}

// rebuildLeaf reinitializes p as a leaf containing entries, in order.
func rebuildLeaf(p *page, id pgno, entries [][]byte, pageSize uint32, nextLeaf pgno) {
	initPage(p.Data, id, flagLeaf)
	p.setNextLeaf(nextLeaf)
	for i, e := range entries {
		p.addNodeSorted(i, e, int(pageSize))
	}
}

// rebuildBranch reinitializes p as a branch with the given leftmost child
// and entries, in order.
func rebuildBranch(p *page, id pgno, leftmost pgno, entries [][]byte, pageSize uint32) {
	initPage(p.Data, id, flagBranch)
	p.setLeftmostChild(leftmost)
	for i, e := range entries {
		p.addNodeSorted(i, e, int(pageSize))
	}
}

// splitLeafAndInsert splits a full leaf page p after failing to fit raw at
// idx, writing the left half back into p and the right half into a new
// page, and returns the promoted separator (§4.1 split, §4.7 append bias).
func splitLeafAndInsert(src pageSource, p *page, idx int, raw []byte, isAppend bool) (pgno, *splitResult, error) {
	entries := spliceEntry(collectEntries(p), idx, raw)
	splitIdx := splitPointFor(len(entries), isAppend && idx == len(entries)-1)

	right, err := src.allocPage(flagLeaf)
	if err != nil {
		return 0, nil, err
	}

	oldID := p.pageNo()
	oldNext := p.nextLeaf()
	rebuildLeaf(right, right.pageNo(), entries[splitIdx:], src.pageSize(), oldNext)
	rebuildLeaf(p, oldID, entries[:splitIdx], src.pageSize(), right.pageNo())

	sep := append([]byte(nil), nodeKey(entries[splitIdx])...)
	return oldID, &splitResult{sepKey: sep, rightChild: right.pageNo()}, nil
}

// splitBranchAndInsert splits a full branch page p after failing to insert
// raw at array index idx; the entry at the split point is promoted (removed
// from both children, becomes the new separator) per classic B+tree branch
// splitting.
func splitBranchAndInsert(src pageSource, p *page, idx int, raw []byte, isAppend bool) (pgno, *splitResult, error) {
	entries := spliceEntry(collectEntries(p), idx, raw)
	splitIdx := splitPointFor(len(entries), isAppend && idx == len(entries)-1)

	right, err := src.allocPage(flagBranch)
	if err != nil {
		return 0, nil, err
	}

	oldID := p.pageNo()
	promoted := entries[splitIdx]
	rightLeftmost := childPgno(promoted)
	rebuildBranch(right, right.pageNo(), rightLeftmost, entries[splitIdx+1:], src.pageSize())

	leftmost := p.leftmostChild()
	rebuildBranch(p, oldID, leftmost, entries[:splitIdx], src.pageSize())

	sep := append([]byte(nil), nodeKey(promoted)...)
	return oldID, &splitResult{sepKey: sep, rightChild: right.pageNo()}, nil
}

// splitPointFor picks the index at which to split a logical entry list:
// entries [0,idx) go left, [idx,n) go right. Append workloads (the new
// entry landing at the end) use a 75/25 right-biased split to pack
// sequential inserts densely; otherwise a 50/50 split (§4.1 split, §4.7
// Append detection).
func splitPointFor(n int, isAppend bool) int {
	if isAppend {
		idx := n - n/4
		if idx < 1 {
			idx = 1
		}
		if idx > n-1 {
			idx = n - 1
		}
		return idx
	}
	return n / 2
}

// btreeDelete removes key from under root, returning the new root id (which
// may be invalidPgno if the tree becomes empty) and whether the key was found.
func btreeDelete(src pageSource, root pgno, key []byte) (pgno, bool, error) {
	if root == invalidPgno {
		return root, false, nil
	}
	newRoot, found, err := deleteRecursive(src, root, key)
	if err != nil {
		return 0, false, err
	}
	if !found {
		return root, false, nil
	}
	// Root demotion: if the root is a branch with no separators left, its
	// single remaining child becomes the new root (§4.7).
	p, err := src.getPage(newRoot)
	if err != nil {
		return 0, false, err
	}
	if p.isBranch() && p.numKeys() == 0 {
		child := p.leftmostChild()
		src.discardPage(newRoot)
		return child, true, nil
	}
	if p.isLeaf() && p.numKeys() == 0 {
		src.discardPage(newRoot)
		return invalidPgno, true, nil
	}
	return newRoot, true, nil
}

func deleteRecursive(src pageSource, id pgno, key []byte) (pgno, bool, error) {
	p, err := src.cowPage(id)
	if err != nil {
		return 0, false, err
	}

	if p.isLeaf() {
		idx, found := p.searchKey(key, src.cmp())
		if !found {
			return p.pageNo(), false, nil
		}
		old := p.nodeAt(idx)
		if nodeGetFlags(old)&nodeBig != 0 {
			src.freeOverflow(decodeOverflowHeader(nodeValue(old)))
		}
		p.removeNode(idx)
		return p.pageNo(), true, nil
	}

	slot := descendSlot(p, key, src.cmp())
	childID := branchChildAt(p, slot)
	newChildID, found, err := deleteRecursive(src, childID, key)
	if err != nil {
		return 0, false, err
	}
	if !found {
		return p.pageNo(), false, nil
	}
	branchSetChildAt(p, slot, newChildID)

	child, err := src.getPage(newChildID)
	if err != nil {
		return 0, false, err
	}
	if child.numKeys() == 0 && (child.isLeaf() || child.isBranch()) {
		if err := collapseEmptyChild(src, p, slot); err != nil {
			return 0, false, err
		}
	} else if underflowed(child, src.pageSize()) {
		if err := rebalance(src, p, slot); err != nil {
			return 0, false, err
		}
	}
	return p.pageNo(), true, nil
}

// underflowed reports whether a page's utilization fell low enough to
// attempt redistribution from a sibling (§4.7: "redistribute if spare
// capacity >= 40% utilized, else leave underflowed").
func underflowed(p *page, pageSize uint32) bool {
	if p.numKeys() == 0 {
		return false
	}
	return p.usedFraction(int(pageSize)) < underflowThreshold
}

// collapseEmptyChild removes a branch's reference to a now-empty child at
// slot. When the emptied child was itself a branch with exactly one
// surviving subtree (its leftmostChild), that subtree is grafted directly
// into the emptied child's old position instead, keeping the rest of the
// parent's key structure untouched; only a genuinely empty child (a leaf,
// or a branch with no subtree left at all) actually drops its separator
// (§4.7 branch collapse via leftmost_child).
func collapseEmptyChild(src pageSource, p *page, slot int) error {
	childID := branchChildAt(p, slot)
	child, err := src.getPage(childID)
	if err != nil {
		return err
	}
	survivor := pgno(invalidPgno)
	if child.isBranch() {
		survivor = child.leftmostChild()
	}
	src.discardPage(childID)

	if survivor != invalidPgno {
		branchSetChildAt(p, slot, survivor)
		return nil
	}

	if slot == 0 {
		newLeftmost := pgno(invalidPgno)
		if p.numKeys() > 0 {
			// The right neighbor (formerly at slot 1, addressed through
			// separator 0) becomes the new leftmost child; separator 0
			// no longer divides anything and is dropped with it.
			newLeftmost = branchChildAt(p, 1)
			p.removeNode(0)
		}
		p.setLeftmostChild(newLeftmost)
		return nil
	}

	// Removing separator (slot-1) also removes its embedded pointer to the
	// now-gone child at slot; every later child shifts down one position
	// automatically, with no other pointer rewrite needed.
	p.removeNode(slot - 1)
	return nil
}

// underflowThreshold is the utilization floor below which rebalance tries
// to pull an entry from a sibling (§4.7 delete step 2).
const underflowThreshold = 0.4

// canDonate reports whether sibling has enough spare capacity to give up
// one boundary entry without itself falling below underflowThreshold. This
// is a count-and-fraction proxy rather than an exact post-donation byte
// simulation, sufficient to avoid ping-ponging a sibling immediately back
// into underflow.
func canDonate(sibling *page, pageSize uint32) bool {
	return sibling.numKeys() > 1 && sibling.usedFraction(int(pageSize)) > 0.5
}

// replaceSeparatorKey rewrites the key of parent's separator at idx,
// keeping its child pointer unchanged. Node encoding is fixed-size per
// field but variable-length overall, so a changed key forces a full
// rebuild of the branch page rather than an in-place byte patch.
func replaceSeparatorKey(src pageSource, p *page, idx int, key []byte) {
	entries := collectEntries(p)
	entries[idx] = encodeBranchNode(key, childPgno(entries[idx]))
	rebuildBranch(p, p.pageNo(), p.leftmostChild(), entries, src.pageSize())
}

// rebalance attempts to redistribute one boundary entry from a sibling of
// the child at slot into that child, adjusting the parent separator, so
// the child stops being underflowed (§4.7 delete step 2). If neither
// neighbor has spare capacity, the child is left underflowed, per the
// spec's allowance to rely on future inserts/splits rather than forcing a
// merge.
func rebalance(src pageSource, parent *page, slot int) error {
	numChildren := parent.numKeys() + 1
	if slot > 0 {
		ok, err := redistribute(src, parent, slot-1, slot)
		if err != nil || ok {
			return err
		}
	}
	if slot < numChildren-1 {
		_, err := redistribute(src, parent, slot, slot+1)
		return err
	}
	return nil
}

// redistribute moves the boundary entry between the children at leftSlot
// and leftSlot+1==rightSlot — left's last entry if rightSlot is the
// underflowed child, right's first entry if leftSlot is — whichever of the
// two is not the donor's only occupant and has spare capacity to give.
func redistribute(src pageSource, parent *page, leftSlot, rightSlot int) (bool, error) {
	leftID := branchChildAt(parent, leftSlot)
	rightID := branchChildAt(parent, rightSlot)
	leftPeek, err := src.getPage(leftID)
	if err != nil {
		return false, err
	}
	rightPeek, err := src.getPage(rightID)
	if err != nil {
		return false, err
	}

	donateFromLeft := underflowed(rightPeek, src.pageSize()) && canDonate(leftPeek, src.pageSize())
	donateFromRight := !donateFromLeft && underflowed(leftPeek, src.pageSize()) && canDonate(rightPeek, src.pageSize())
	if !donateFromLeft && !donateFromRight {
		return false, nil
	}

	left, err := src.cowPage(leftID)
	if err != nil {
		return false, err
	}
	right, err := src.cowPage(rightID)
	if err != nil {
		return false, err
	}

	if left.isLeaf() {
		leftEntries := collectEntries(left)
		rightEntries := collectEntries(right)
		if donateFromLeft {
			moved := leftEntries[len(leftEntries)-1]
			leftEntries = leftEntries[:len(leftEntries)-1]
			rightEntries = spliceEntry(rightEntries, 0, moved)
		} else {
			moved := rightEntries[0]
			rightEntries = rightEntries[1:]
			leftEntries = spliceEntry(leftEntries, len(leftEntries), moved)
		}
		rebuildLeaf(left, left.pageNo(), leftEntries, src.pageSize(), right.pageNo())
		rebuildLeaf(right, right.pageNo(), rightEntries, src.pageSize(), right.nextLeaf())
		replaceSeparatorKey(src, parent, leftSlot, append([]byte(nil), nodeKey(rightEntries[0])...))
	} else {
		// Branch rotation: the parent separator comes down as the key
		// paired with the donor-side child pointer crossing the boundary,
		// and the entry that crossed has its own key promoted back up to
		// the parent (classic B+tree branch rotation).
		sepKey := append([]byte(nil), nodeKey(parent.nodeAt(leftSlot))...)
		if donateFromLeft {
			leftEntries := collectEntries(left)
			moved := leftEntries[len(leftEntries)-1]
			leftEntries = leftEntries[:len(leftEntries)-1]
			demoted := encodeBranchNode(sepKey, right.leftmostChild())
			rightEntries := spliceEntry(collectEntries(right), 0, demoted)
			rebuildBranch(left, left.pageNo(), left.leftmostChild(), leftEntries, src.pageSize())
			rebuildBranch(right, right.pageNo(), childPgno(moved), rightEntries, src.pageSize())
			replaceSeparatorKey(src, parent, leftSlot, append([]byte(nil), nodeKey(moved)...))
		} else {
			rightEntries := collectEntries(right)
			moved := rightEntries[0]
			rightOldLeftmost := right.leftmostChild()
			rightEntries = rightEntries[1:]
			demoted := encodeBranchNode(sepKey, rightOldLeftmost)
			leftEntries := spliceEntry(collectEntries(left), left.numKeys(), demoted)
			rebuildBranch(right, right.pageNo(), childPgno(moved), rightEntries, src.pageSize())
			rebuildBranch(left, left.pageNo(), left.leftmostChild(), leftEntries, src.pageSize())
			replaceSeparatorKey(src, parent, leftSlot, append([]byte(nil), nodeKey(moved)...))
		}
	}

	branchSetChildAt(parent, leftSlot, left.pageNo())
	branchSetChildAt(parent, rightSlot, right.pageNo())
	return true, nil
}
