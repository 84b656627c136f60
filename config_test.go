package ebtree

import "testing"

func TestConfigWithDefaultsFillsZeroFields(t *testing.T) {
	c := Config{}.withDefaults()
	if c.PageSize != DefaultPageSize {
		t.Errorf("PageSize = %d, want %d", c.PageSize, DefaultPageSize)
	}
	if c.MapSize != defaultMapSize {
		t.Errorf("MapSize = %d, want %d", c.MapSize, defaultMapSize)
	}
	if c.MaxDBs != DefaultMaxDBs {
		t.Errorf("MaxDBs = %d, want %d", c.MaxDBs, DefaultMaxDBs)
	}
	if c.MaxReaders != DefaultMaxReaders {
		t.Errorf("MaxReaders = %d, want %d", c.MaxReaders, DefaultMaxReaders)
	}
	if c.MaxTxnPages != DefaultMaxTxnPages {
		t.Errorf("MaxTxnPages = %d, want %d", c.MaxTxnPages, DefaultMaxTxnPages)
	}
	if c.MaxKeySize != DefaultMaxKeySize {
		t.Errorf("MaxKeySize = %d, want %d", c.MaxKeySize, DefaultMaxKeySize)
	}
	if c.MaxValueSize != DefaultMaxValue {
		t.Errorf("MaxValueSize = %d, want %d", c.MaxValueSize, DefaultMaxValue)
	}
}

func TestConfigWithDefaultsPreservesExplicitValues(t *testing.T) {
	c := Config{PageSize: 8192, MaxDBs: 5}.withDefaults()
	if c.PageSize != 8192 {
		t.Errorf("PageSize = %d, want 8192 (explicit value must not be overwritten)", c.PageSize)
	}
	if c.MaxDBs != 5 {
		t.Errorf("MaxDBs = %d, want 5", c.MaxDBs)
	}
	if c.MaxReaders != DefaultMaxReaders {
		t.Errorf("MaxReaders = %d, want default %d", c.MaxReaders, DefaultMaxReaders)
	}
}

func TestConfigValidateRejectsNonPowerOfTwoPageSize(t *testing.T) {
	c := Config{PageSize: 5000, MapSize: defaultMapSize}
	if err := c.validate(); err == nil {
		t.Fatal("validate() should reject a non-power-of-two page size")
	}
}

func TestConfigValidateRejectsPageSizeOutOfRange(t *testing.T) {
	tooSmall := Config{PageSize: MinPageSize / 2, MapSize: defaultMapSize}
	if err := tooSmall.validate(); err == nil {
		t.Fatal("validate() should reject a page size below MinPageSize")
	}
	tooBig := Config{PageSize: MaxPageSize * 2, MapSize: defaultMapSize}
	if err := tooBig.validate(); err == nil {
		t.Fatal("validate() should reject a page size above MaxPageSize")
	}
}

func TestConfigValidateRejectsUndersizedMap(t *testing.T) {
	c := Config{PageSize: DefaultPageSize, MapSize: int64(DefaultPageSize)}
	if err := c.validate(); err == nil {
		t.Fatal("validate() should reject a map too small to hold the meta and root pages")
	}
}

func TestConfigValidateRejectsNonPositiveLimits(t *testing.T) {
	base := Config{PageSize: DefaultPageSize, MapSize: defaultMapSize, MaxDBs: 1, MaxReaders: 1, MaxTxnPages: 1}

	c := base
	c.MaxDBs = 0
	if err := c.validate(); err == nil {
		t.Fatal("validate() should reject MaxDBs <= 0")
	}

	c = base
	c.MaxReaders = -1
	if err := c.validate(); err == nil {
		t.Fatal("validate() should reject MaxReaders <= 0")
	}

	c = base
	c.MaxTxnPages = 0
	if err := c.validate(); err == nil {
		t.Fatal("validate() should reject MaxTxnPages <= 0")
	}
}

func TestConfigValidateAcceptsWithDefaultsOutput(t *testing.T) {
	c := Config{}.withDefaults()
	if err := c.validate(); err != nil {
		t.Fatalf("validate() on withDefaults() output = %v, want nil", err)
	}
}
