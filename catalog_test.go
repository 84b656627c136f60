package ebtree

import "testing"

func TestCatalogCreateGetRoundTrip(t *testing.T) {
	src := newFakeSource(DefaultPageSize)
	root, desc, err := catalogCreate(src, pgno(invalidPgno), "widgets", DBDupSort)
	if err != nil {
		t.Fatalf("catalogCreate: %v", err)
	}
	if desc.Root != invalidPgno || desc.Flags != DBDupSort {
		t.Fatalf("catalogCreate() descriptor = %+v, want empty root with DBDupSort", desc)
	}

	got, err := catalogGet(src, root, "widgets")
	if err != nil {
		t.Fatalf("catalogGet: %v", err)
	}
	if got != desc {
		t.Fatalf("catalogGet() = %+v, want %+v", got, desc)
	}
}

func TestCatalogCreateRejectsDuplicateName(t *testing.T) {
	src := newFakeSource(DefaultPageSize)
	root, _, err := catalogCreate(src, pgno(invalidPgno), "widgets", 0)
	if err != nil {
		t.Fatalf("catalogCreate: %v", err)
	}
	if _, _, err := catalogCreate(src, root, "widgets", 0); !IsKeyExists(err) {
		t.Fatalf("second catalogCreate err = %v, want ErrKeyExists", err)
	}
}

func TestCatalogGetMissingNameIsNotFound(t *testing.T) {
	src := newFakeSource(DefaultPageSize)
	if _, err := catalogGet(src, pgno(invalidPgno), "ghost"); !IsNotFound(err) {
		t.Fatalf("catalogGet() err = %v, want ErrNotFound", err)
	}
}

func TestCatalogPutUpdatesExistingDescriptor(t *testing.T) {
	src := newFakeSource(DefaultPageSize)
	root, desc, err := catalogCreate(src, pgno(invalidPgno), "widgets", 0)
	if err != nil {
		t.Fatalf("catalogCreate: %v", err)
	}
	desc.Root = 77
	desc.Entries = 3
	root, err = catalogPut(src, root, "widgets", desc)
	if err != nil {
		t.Fatalf("catalogPut: %v", err)
	}
	got, err := catalogGet(src, root, "widgets")
	if err != nil {
		t.Fatalf("catalogGet: %v", err)
	}
	if got.Root != 77 || got.Entries != 3 {
		t.Fatalf("catalogGet() = %+v, want Root=77 Entries=3", got)
	}
}

func TestCatalogClearResetsDescriptorToEmpty(t *testing.T) {
	src := newFakeSource(DefaultPageSize)
	root, desc, err := catalogCreate(src, pgno(invalidPgno), "widgets", 0)
	if err != nil {
		t.Fatalf("catalogCreate: %v", err)
	}
	desc.Root = 42
	desc.Entries = 9
	root, err = catalogPut(src, root, "widgets", desc)
	if err != nil {
		t.Fatalf("catalogPut: %v", err)
	}

	root, err = catalogClear(src, root, "widgets")
	if err != nil {
		t.Fatalf("catalogClear: %v", err)
	}
	got, err := catalogGet(src, root, "widgets")
	if err != nil {
		t.Fatalf("catalogGet: %v", err)
	}
	if got.Root != invalidPgno || got.Entries != 0 {
		t.Fatalf("catalogGet() after clear = %+v, want Root=invalidPgno Entries=0", got)
	}
}
