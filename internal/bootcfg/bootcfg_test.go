package bootcfg

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load(\"\") failed: %v", err)
	}
	want := Default()
	if cfg != want {
		t.Fatalf("Load(\"\") = %+v, want %+v", cfg, want)
	}
}

func TestLoadOverlay(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "kernel.toml")
	content := "n_pes = 4\ndefault_irq_priority = 32\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.NPEs != 4 {
		t.Errorf("NPEs = %d, want 4", cfg.NPEs)
	}
	if cfg.DefaultIRQPriority != 32 {
		t.Errorf("DefaultIRQPriority = %d, want 32", cfg.DefaultIRQPriority)
	}
	// Unset fields keep their defaults.
	if cfg.BootStackBytes != Default().BootStackBytes {
		t.Errorf("BootStackBytes = %d, want default %d", cfg.BootStackBytes, Default().BootStackBytes)
	}
}
