package ebtree

import (
	"bytes"
	"encoding/binary"
)

// defaultCmp orders keys with bytes.Compare, the ordering used by every
// database unless a future custom comparator hook is wired in.
func defaultCmp(a, b []byte) int { return bytes.Compare(a, b) }

// CmpFunc orders two keys, returning <0, 0, >0 like bytes.Compare. Every
// database orders keys with defaultCmp; there is no way to supply a custom
// comparator (§4.7 B+Tree ordering).
type CmpFunc func(a, b []byte) int

// nodeFlags marks special encodings of a node's value area.
type nodeFlags uint8

const (
	// nodeBig means the value area holds an overflowHeader pointing at a
	// contiguous overflow-page run rather than inline bytes (§4.8).
	nodeBig nodeFlags = 0x01
	// nodeSubtree means the value area holds a child pgno for a DUP_SORT
	// nested sub-tree root rather than a single value (§4.7 DUP_SORT).
	nodeSubtree nodeFlags = 0x02
)

// Node header layout: flags(1) | keySize(2) | valueSize(4) | pad(1).
const (
	nodeOffFlags    = 0
	nodeOffKeySize  = 1
	nodeOffValSize  = 3
	nodeHeaderBytes = 8
)

func nodeGetFlags(n []byte) nodeFlags { return nodeFlags(n[nodeOffFlags]) }

func nodeKeySize(n []byte) int {
	return int(binary.LittleEndian.Uint16(n[nodeOffKeySize:]))
}

func nodeValSize(n []byte) int {
	return int(binary.LittleEndian.Uint32(n[nodeOffValSize:]))
}

// nodeKey returns the key bytes stored in node n.
func nodeKey(n []byte) []byte {
	ks := nodeKeySize(n)
	return n[nodeHeaderBytes : nodeHeaderBytes+ks]
}

// nodeValue returns the raw value-area bytes stored in node n (inline
// value, an overflowHeader, or a child pgno depending on nodeGetFlags).
func nodeValue(n []byte) []byte {
	ks := nodeKeySize(n)
	vs := nodeValSize(n)
	start := nodeHeaderBytes + ks
	return n[start : start+vs]
}

// childPgno reads a BRANCH node's child page pointer, stored as the
// 8-byte value area.
func childPgno(n []byte) pgno {
	v := nodeValue(n)
	return pgno(binary.LittleEndian.Uint64(v))
}

// setChildPgno overwrites a BRANCH node's child page pointer in place. The
// value area is always exactly 8 bytes for branch nodes, so this never
// changes the node's encoded size.
func setChildPgno(n []byte, id pgno) {
	v := nodeValue(n)
	binary.LittleEndian.PutUint64(v, uint64(id))
}

// encodeNode builds a node's on-page byte representation.
func encodeNode(flags nodeFlags, key, value []byte) []byte {
	buf := make([]byte, nodeHeaderBytes+len(key)+len(value))
	buf[nodeOffFlags] = byte(flags)
	binary.LittleEndian.PutUint16(buf[nodeOffKeySize:], uint16(len(key)))
	binary.LittleEndian.PutUint32(buf[nodeOffValSize:], uint32(len(value)))
	copy(buf[nodeHeaderBytes:], key)
	copy(buf[nodeHeaderBytes+len(key):], value)
	return buf
}

// encodeBranchNode builds a BRANCH node: key plus an 8-byte child pointer.
func encodeBranchNode(key []byte, child pgno) []byte {
	val := make([]byte, 8)
	binary.LittleEndian.PutUint64(val, uint64(child))
	return encodeNode(0, key, val)
}

// nodeSize returns the encoded size of a node with the given key/value
// lengths, without allocating.
func nodeSize(keyLen, valLen int) int {
	return nodeHeaderBytes + keyLen + valLen
}
