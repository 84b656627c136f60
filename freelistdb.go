package ebtree

import "encoding/binary"

// The freelist sub-database persists, across restarts, the batches of pages
// each write transaction freed: key = the freeing transaction's id (8 bytes
// big-endian, so entries sort oldest-first), value = the freed page ids
// (8 bytes each), per C3 "Persisted as entries in a reserved sub-database
// stored in the same file" and §4.6 commit step b.
//
// Run-length/size-class metadata is not part of the wire format: a reload
// always repopulates the plain available list, never availByClass, so a
// segregated freelist loses its size-class buckets across a restart but not
// the underlying pages themselves.

func encodeFreelistKey(id txnid) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(id))
	return buf
}

func decodeFreelistKey(b []byte) txnid {
	return txnid(binary.BigEndian.Uint64(b))
}

func encodeFreelistValue(ids []pgno) []byte {
	buf := make([]byte, len(ids)*8)
	for i, id := range ids {
		binary.LittleEndian.PutUint64(buf[i*8:], uint64(id))
	}
	return buf
}

func decodeFreelistValue(b []byte) []pgno {
	n := len(b) / 8
	ids := make([]pgno, n)
	for i := 0; i < n; i++ {
		ids[i] = pgno(binary.LittleEndian.Uint64(b[i*8:]))
	}
	return ids
}

// freelistDBPut installs or replaces the batch of pages freed by freedBy,
// returning the new freelist sub-tree root.
func freelistDBPut(src pageSource, root pgno, freedBy txnid, ids []pgno) (pgno, error) {
	return btreeInsert(src, root, encodeFreelistKey(freedBy), encodeFreelistValue(ids), 0)
}

// freelistDBDelete removes the batch freed by freedBy, if present.
func freelistDBDelete(src pageSource, root pgno, freedBy txnid) (pgno, error) {
	newRoot, _, err := btreeDelete(src, root, encodeFreelistKey(freedBy))
	if err != nil {
		return 0, err
	}
	return newRoot, nil
}

// freelistDBLoadAll walks every entry in the freelist sub-tree rooted at
// root, in freedBy order, via the leaf chain (§4.6). getPage/readOverflow
// need only support read access: this runs once at Open, before any write
// transaction exists, so a batch large enough to have spilled to overflow
// pages must still be resolved through readOverflow like any other value.
func freelistDBLoadAll(getPage func(pgno) (*page, error), readOverflow func(overflowHeader) ([]byte, error), root pgno) (map[txnid][]pgno, error) {
	if root == invalidPgno {
		return nil, nil
	}
	out := make(map[txnid][]pgno)
	id := root
	for {
		p, err := getPage(id)
		if err != nil {
			return nil, err
		}
		if p.isLeaf() {
			break
		}
		id = p.leftmostChild()
	}
	for id != invalidPgno {
		p, err := getPage(id)
		if err != nil {
			return nil, err
		}
		for i := 0; i < p.numKeys(); i++ {
			n := p.nodeAt(i)
			key := decodeFreelistKey(nodeKey(n))
			var value []byte
			if nodeGetFlags(n)&nodeBig != 0 {
				value, err = readOverflow(decodeOverflowHeader(nodeValue(n)))
				if err != nil {
					return nil, err
				}
			} else {
				value = nodeValue(n)
			}
			out[key] = decodeFreelistValue(value)
		}
		id = p.nextLeaf()
	}
	return out, nil
}
