package ebtree

import (
	"bytes"
	"encoding/binary"
)

// DUP_SORT databases allow multiple values per key. A key's first value is
// stored inline like any other leaf node. Once a second value arrives the
// key instead stores, in the same node slot, a pointer to a nested
// sub-tree whose keys are the sorted duplicate values (themselves stored
// with empty payloads) — the same page format and split/merge logic as the
// outer tree, just rooted one level down (§4.7 DUP_SORT). The key keeps its
// sub-tree even if deletes leave a single value; only removing the last
// value removes the key.

// dupPut adds value to the duplicate set for key under root, returning the
// (possibly unchanged) new root of the outer tree.
func dupPut(src pageSource, root pgno, key, value []byte) (pgno, error) {
	raw, err := btreeSearchRaw(src, root, key)
	if err != nil {
		if !IsNotFound(err) {
			return 0, err
		}
		return btreeInsert(src, root, key, value, 0)
	}

	if nodeGetFlags(raw)&nodeSubtree != 0 {
		sub := decodeSubtreePgno(nodeValue(raw))
		newSub, err := btreeInsert(src, sub, value, nil, PutNoOverwrite)
		if err != nil {
			if IsKeyExists(err) {
				return root, nil
			}
			return 0, err
		}
		return btreeInsertRaw(src, root, key, encodeSubtreePgno(newSub), nodeSubtree)
	}

	existingValue := nodeValue(raw)
	if bytes.Equal(existingValue, value) {
		return root, nil
	}

	sub, err := btreeInsert(src, invalidPgno, existingValue, nil, 0)
	if err != nil {
		return 0, err
	}
	sub, err = btreeInsert(src, sub, value, nil, 0)
	if err != nil {
		return 0, err
	}
	return btreeInsertRaw(src, root, key, encodeSubtreePgno(sub), nodeSubtree)
}

// dupDelete removes value from the duplicate set for key under root.
func dupDelete(src pageSource, root pgno, key, value []byte) (pgno, bool, error) {
	raw, err := btreeSearchRaw(src, root, key)
	if err != nil {
		if IsNotFound(err) {
			return root, false, nil
		}
		return 0, false, err
	}

	if nodeGetFlags(raw)&nodeSubtree != 0 {
		sub := decodeSubtreePgno(nodeValue(raw))
		newSub, found, err := btreeDelete(src, sub, value)
		if err != nil {
			return 0, false, err
		}
		if !found {
			return root, false, nil
		}
		if newSub == invalidPgno {
			newRoot, _, err := btreeDelete(src, root, key)
			return newRoot, true, err
		}
		newRoot, err := btreeInsertRaw(src, root, key, encodeSubtreePgno(newSub), nodeSubtree)
		return newRoot, true, err
	}

	if !bytes.Equal(nodeValue(raw), value) {
		return root, false, nil
	}
	newRoot, found, err := btreeDelete(src, root, key)
	return newRoot, found, err
}

// dupGetAll returns every duplicate value stored for key under root, in
// ascending order.
func dupGetAll(src pageSource, root pgno, key []byte) ([][]byte, error) {
	raw, err := btreeSearchRaw(src, root, key)
	if err != nil {
		return nil, err
	}
	if nodeGetFlags(raw)&nodeSubtree == 0 {
		return [][]byte{append([]byte(nil), nodeValue(raw)...)}, nil
	}
	return collectAllKeys(src, decodeSubtreePgno(nodeValue(raw)))
}

func encodeSubtreePgno(root pgno) []byte {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, uint64(root))
	return buf
}

func decodeSubtreePgno(b []byte) pgno {
	return pgno(binary.LittleEndian.Uint64(b))
}

// btreeInsertRaw is like btreeInsert but lets the caller choose the node
// flags directly (bypassing the inline/overflow size heuristic), used for
// DUP_SORT subtree pointers which are always a fixed 8 bytes.
func btreeInsertRaw(src pageSource, root pgno, key, value []byte, flags nodeFlags) (pgno, error) {
	if root == invalidPgno {
		leaf, err := src.allocPage(flagLeaf)
		if err != nil {
			return 0, err
		}
		nd := encodeNode(flags, key, value)
		leaf.addNodeSorted(0, nd, int(src.pageSize()))
		return leaf.pageNo(), nil
	}
	newRoot, split, err := insertRecursiveRaw(src, root, key, value, flags)
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
	top.addNodeSorted(0, nd, int(src.pageSize()))
	return top.pageNo(), nil
}

func insertRecursiveRaw(src pageSource, id pgno, key, value []byte, flags nodeFlags) (pgno, *splitResult, error) {
	p, err := src.cowPage(id)
	if err != nil {
		return 0, nil, err
	}
	if p.isLeaf() {
		idx, found := p.searchKey(key, src.cmp())
		nd := encodeNode(flags, key, value)
		if found {
			p.removeNode(idx)
		}
		if p.addNodeSorted(idx, nd, int(src.pageSize())) {
			return p.pageNo(), nil, nil
		}
		return splitLeafAndInsert(src, p, idx, nd, false)
	}
	slot := descendSlot(p, key, src.cmp())
	childID := branchChildAt(p, slot)
	newChildID, childSplit, err := insertRecursiveRaw(src, childID, key, value, flags)
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
	return splitBranchAndInsert(src, p, slot, nd, false)
}

// collectAllKeys walks a nested sub-tree leftmost-to-rightmost via the leaf
// chain (nextLeaf), collecting every key in ascending order.
func collectAllKeys(src pageSource, root pgno) ([][]byte, error) {
	if root == invalidPgno {
		return nil, nil
	}
	id, err := leftmostLeaf(src, root)
	if err != nil {
		return nil, err
	}
	var out [][]byte
	for id != invalidPgno {
		p, err := src.getPage(id)
		if err != nil {
			return nil, err
		}
		for i := 0; i < p.numKeys(); i++ {
			out = append(out, append([]byte(nil), nodeKey(p.nodeAt(i))...))
		}
		id = p.nextLeaf()
	}
	return out, nil
}

func leftmostLeaf(src pageSource, root pgno) (pgno, error) {
	id := root
	for {
		p, err := src.getPage(id)
		if err != nil {
			return 0, err
		}
		if p.isLeaf() {
			return id, nil
		}
		id = p.leftmostChild()
	}
}
