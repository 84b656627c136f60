package ebtree

import "testing"

func TestEncodeDecodeMetaRoundTrip(t *testing.T) {
	m := metaData{
		Magic:        metaMagic,
		Version:      metaFormatVersion,
		PageSize:     DefaultPageSize,
		TxnID:        42,
		CatalogRoot:  7,
		FreelistRoot: invalidPgno,
		LastPgno:     100,
		NumDBs:       3,
	}
	p := encodeMeta(m, 0, DefaultPageSize, ChecksumFull)

	got, err := decodeMeta(p.Data)
	if err != nil {
		t.Fatalf("decodeMeta: %v", err)
	}
	if got != m {
		t.Fatalf("decodeMeta() = %+v, want %+v", got, m)
	}
}

func TestDecodeMetaRejectsBadMagic(t *testing.T) {
	m := metaData{Magic: 0xDEADBEEF, Version: metaFormatVersion, PageSize: DefaultPageSize}
	p := encodeMeta(m, 0, DefaultPageSize, ChecksumFull)
	if _, err := decodeMeta(p.Data); !IsCorruption(err) {
		t.Fatalf("decodeMeta err = %v, want ErrCorruption", err)
	}
}

func TestDecodeMetaRejectsBadChecksum(t *testing.T) {
	m := metaData{Magic: metaMagic, Version: metaFormatVersion, PageSize: DefaultPageSize}
	p := encodeMeta(m, 0, DefaultPageSize, ChecksumFull)
	p.Data[pageHeaderSize] ^= 0xFF
	if _, err := decodeMeta(p.Data); !IsCorruption(err) {
		t.Fatalf("decodeMeta err = %v, want ErrCorruption", err)
	}
}

func TestPickCurrentMetaPrefersHighestValidTxnID(t *testing.T) {
	metas := [numMetas]metaData{{TxnID: 5}, {TxnID: 9}}
	valid := [numMetas]bool{true, true}
	if got := pickCurrentMeta(metas, valid); got != 1 {
		t.Fatalf("pickCurrentMeta() = %d, want 1", got)
	}

	valid[1] = false
	if got := pickCurrentMeta(metas, valid); got != 0 {
		t.Fatalf("pickCurrentMeta() with slot 1 invalid = %d, want 0", got)
	}

	valid[0] = false
	if got := pickCurrentMeta(metas, valid); got != -1 {
		t.Fatalf("pickCurrentMeta() with nothing valid = %d, want -1", got)
	}
}
