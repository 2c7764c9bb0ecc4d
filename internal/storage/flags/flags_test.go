package flags

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/feedvault/feedvault/internal/storage/types"
)

func TestOpenMissingFile(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "flags.yaml"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	if got := s.Lookup("us_equities", "yahoo", types.Interval1d); got != KindFlat {
		t.Errorf("expected flat for empty store, got %s", got)
	}
}

func TestPrecedence(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "flags.yaml")

	content := `version: 1
default: flat
markets:
  us_equities:
    backend: partitioned
    sources:
      yahoo:
        backend: flat
        intervals:
          "1d": partitioned
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	tests := []struct {
		name     string
		market   string
		source   string
		interval types.Interval
		want     Kind
	}{
		{"interval override wins", "us_equities", "yahoo", types.Interval1d, KindPartitioned},
		{"source level under interval miss", "us_equities", "yahoo", types.Interval1h, KindFlat},
		{"market level for other source", "us_equities", "stooq", types.Interval1d, KindPartitioned},
		{"default for unknown market", "crypto", "yahoo", types.Interval1d, KindFlat},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := s.Lookup(tt.market, tt.source, tt.interval)
			if got != tt.want {
				t.Errorf("Lookup(%s, %s, %s) = %s, want %s",
					tt.market, tt.source, tt.interval, got, tt.want)
			}
		})
	}
}

func TestSetPersists(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "flags.yaml")

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	if err := s.Set("us_equities", "yahoo", "1d", KindPartitioned); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := s.Set("crypto", "", "", KindPartitioned); err != nil {
		t.Fatalf("Set market level: %v", err)
	}

	// Reload from disk
	s2, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}

	if got := s2.Lookup("us_equities", "yahoo", types.Interval1d); got != KindPartitioned {
		t.Errorf("interval flag not persisted: got %s", got)
	}
	if got := s2.Lookup("us_equities", "yahoo", types.Interval1h); got != KindFlat {
		t.Errorf("unset interval should stay flat: got %s", got)
	}
	if got := s2.Lookup("crypto", "binance", types.Interval1m); got != KindPartitioned {
		t.Errorf("market flag not persisted: got %s", got)
	}
}

func TestSetThenDisable(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "flags.yaml")

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	if err := s.Set("us_equities", "yahoo", "1d", KindPartitioned); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := s.Set("us_equities", "yahoo", "1d", KindFlat); err != nil {
		t.Fatalf("Set back: %v", err)
	}

	if got := s.Lookup("us_equities", "yahoo", types.Interval1d); got != KindFlat {
		t.Errorf("expected flat after disable, got %s", got)
	}
}

func TestSetValidation(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "flags.yaml"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	if err := s.Set("", "yahoo", "1d", KindPartitioned); err == nil {
		t.Error("expected error for empty market")
	}
	if err := s.Set("us_equities", "", "1d", KindPartitioned); err == nil {
		t.Error("expected error for interval flag without source")
	}
	if err := s.Set("us_equities", "yahoo", "7m", KindPartitioned); err == nil {
		t.Error("expected error for unknown interval")
	}
	if err := s.Set("us_equities", "yahoo", "1d", Kind("columnar")); err == nil {
		t.Error("expected error for unknown kind")
	}
}

func TestOpenRejectsBadKind(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "flags.yaml")

	content := `version: 1
markets:
  us_equities:
    backend: columnar
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	if _, err := Open(path); err == nil {
		t.Error("expected error for unknown backend kind")
	}
}

func TestSetDefault(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "flags.yaml")

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	if err := s.SetDefault(KindPartitioned); err != nil {
		t.Fatalf("SetDefault: %v", err)
	}

	s2, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if got := s2.Lookup("anything", "anywhere", types.Interval1m); got != KindPartitioned {
		t.Errorf("expected partitioned default, got %s", got)
	}
}

func TestParseKind(t *testing.T) {
	if _, err := ParseKind("flat"); err != nil {
		t.Errorf("flat should parse: %v", err)
	}
	if _, err := ParseKind("partitioned"); err != nil {
		t.Errorf("partitioned should parse: %v", err)
	}
	if _, err := ParseKind(""); err == nil {
		t.Error("empty kind should fail")
	}
	if _, err := ParseKind("hive"); err == nil {
		t.Error("unknown kind should fail")
	}
}
