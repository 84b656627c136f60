package ebtree

import (
	"reflect"
	"sort"
	"testing"
)

func TestDupPutAddsAndSortsDuplicates(t *testing.T) {
	src := newFakeSource(DefaultPageSize)
	root := pgno(invalidPgno)

	var err error
	for _, v := range []string{"banana", "apple", "cherry"} {
		root, err = dupPut(src, root, []byte("fruit"), []byte(v))
		if err != nil {
			t.Fatalf("dupPut(%q): %v", v, err)
		}
	}

	got, err := dupGetAll(src, root, []byte("fruit"))
	if err != nil {
		t.Fatalf("dupGetAll: %v", err)
	}
	var strs []string
	for _, v := range got {
		strs = append(strs, string(v))
	}
	want := []string{"apple", "banana", "cherry"}
	sort.Strings(want)
	if !reflect.DeepEqual(strs, want) {
		t.Fatalf("dupGetAll = %v, want %v", strs, want)
	}
}

func TestDupPutIgnoresExactDuplicate(t *testing.T) {
	src := newFakeSource(DefaultPageSize)
	root, err := dupPut(src, pgno(invalidPgno), []byte("k"), []byte("v"))
	if err != nil {
		t.Fatalf("dupPut: %v", err)
	}
	root2, err := dupPut(src, root, []byte("k"), []byte("v"))
	if err != nil {
		t.Fatalf("dupPut again: %v", err)
	}
	got, err := dupGetAll(src, root2, []byte("k"))
	if err != nil {
		t.Fatalf("dupGetAll: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("dupGetAll returned %d values, want 1 (no duplicate of an identical value)", len(got))
	}
}

func TestDupDeleteRemovesValueAndKeyWhenEmpty(t *testing.T) {
	src := newFakeSource(DefaultPageSize)
	root, _ := dupPut(src, pgno(invalidPgno), []byte("k"), []byte("a"))
	root, _ = dupPut(src, root, []byte("k"), []byte("b"))

	root, found, err := dupDelete(src, root, []byte("k"), []byte("a"))
	if err != nil || !found {
		t.Fatalf("dupDelete a = (found=%v,err=%v), want (true,nil)", found, err)
	}
	got, err := dupGetAll(src, root, []byte("k"))
	if err != nil || len(got) != 1 || string(got[0]) != "b" {
		t.Fatalf("dupGetAll after first delete = %v, %v, want [b]", got, err)
	}

	root, found, err = dupDelete(src, root, []byte("k"), []byte("b"))
	if err != nil || !found {
		t.Fatalf("dupDelete b = (found=%v,err=%v), want (true,nil)", found, err)
	}
	if _, err := btreeSearch(src, root, []byte("k")); !IsNotFound(err) {
		t.Fatalf("key should be gone once its last duplicate is removed, err = %v", err)
	}
}

func TestDupGetAllOnNonDupSortSingleValue(t *testing.T) {
	src := newFakeSource(DefaultPageSize)
	root, err := btreeInsert(src, pgno(invalidPgno), []byte("k"), []byte("solo"), 0)
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	got, err := dupGetAll(src, root, []byte("k"))
	if err != nil {
		t.Fatalf("dupGetAll: %v", err)
	}
	if len(got) != 1 || string(got[0]) != "solo" {
		t.Fatalf("dupGetAll = %v, want [solo]", got)
	}
}
