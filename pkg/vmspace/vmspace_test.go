package vmspace

import "testing"

func TestMapRegionAndVaToPa(t *testing.T) {
	tbl := NewTable(42)
	tbl.MapRegion(0x1000, 0x40000000, 0x1000, Read|Write)

	pa, ok := tbl.VaToPa(0x40000100)
	if !ok {
		t.Fatal("VaToPa ok = false, want true")
	}
	if pa != 0x1100 {
		t.Errorf("VaToPa = %#x, want %#x", pa, 0x1100)
	}

	if _, ok := tbl.VaToPa(0x50000000); ok {
		t.Error("VaToPa of unmapped va ok = true, want false")
	}
}

func TestUnmapRegion(t *testing.T) {
	tbl := NewTable(1)
	tbl.MapRegion(0, 0x1000, 0x1000, Read)
	tbl.UnmapRegion(0x1000)
	if _, ok := tbl.VaToPa(0x1000); ok {
		t.Error("VaToPa after UnmapRegion ok = true, want false")
	}
}

func TestPermits(t *testing.T) {
	tbl := NewTable(1)
	tbl.MapRegion(0, 0x2000, 0x1000, Read)
	if tbl.Permits(0x2000, Write) {
		t.Error("Permits(Write) = true on read-only region")
	}
	if !tbl.Permits(0x2000, Read) {
		t.Error("Permits(Read) = false on readable region")
	}
}

func TestMarkRegion(t *testing.T) {
	tbl := NewTable(1)
	tbl.MapRegion(0, 0x3000, 0x1000, Read|Write)
	tbl.MarkRegion(0x3010, StateCOW)
	if tbl.regions[0].state != StateCOW {
		t.Errorf("region state = %v, want StateCOW", tbl.regions[0].state)
	}
}

func TestSetTableShortCircuitsOnSameTable(t *testing.T) {
	m := NewMMU()
	tbl := NewTable(7)
	m.SetTable(0, tbl)
	if got := m.Installed(0); got != tbl {
		t.Fatalf("Installed(0) = %v, want %v", got, tbl)
	}
	// Calling again with the identical table must not panic and must
	// leave the installed table unchanged (the trap-exit short-circuit).
	m.SetTable(0, tbl)
	if got := m.Installed(0); got != tbl {
		t.Errorf("Installed(0) after repeat SetTable = %v, want %v", got, tbl)
	}
}

func TestSetKernelTableRequiresInit(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("SetKernelTable before InitKernelTable did not panic")
		}
	}()
	m := NewMMU()
	m.SetKernelTable(0)
}

func TestEnableTranslation(t *testing.T) {
	m := NewMMU()
	if m.TranslationEnabled(0) {
		t.Fatal("TranslationEnabled(0) = true before EnableTranslation")
	}
	m.EnableTranslation(0)
	if !m.TranslationEnabled(0) {
		t.Error("TranslationEnabled(0) = false after EnableTranslation")
	}
}

func TestFlagsString(t *testing.T) {
	if got := (Read | Write).String(); got != "rw" {
		t.Errorf("String() = %q, want rw", got)
	}
	if got := Flags(0).String(); got != "-" {
		t.Errorf("String() = %q, want -", got)
	}
}
