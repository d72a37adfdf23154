package nrgconfig

import (
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("%+v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := writeFile(t, dir, "param", "[param]\nLambda = 2.5\nNmax = 40\nkeep = 200\n")

	p, err := Load(path)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	if p.Lambda != 2.5 || p.Nmax != 40 || p.Keep != 200 {
		t.Fatalf("%+v", p)
	}
	if p.Strategy != "kept" {
		t.Fatalf("strategy default = %q, want \"kept\"", p.Strategy)
	}
}

func TestLoadRejectsBadLambda(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := writeFile(t, dir, "param", "[param]\nLambda = 1.0\n")
	if _, err := Load(path); err == nil {
		t.Fatalf("expected validation error for Lambda <= 1")
	}
}

func TestLoadRejectsBadStrategy(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := writeFile(t, dir, "param", "[param]\nLambda = 2.0\nstrategy = bogus\n")
	if _, err := Load(path); err == nil {
		t.Fatalf("expected validation error for bad strategy")
	}
}

func TestReadDataFileParsesHeaderAndTable(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	content := "1 U1 2\n" +
		"table zeta\n" +
		"0.0,0.0\n" +
		"0.1,0.0\n"
	path := writeFile(t, dir, "data", content)

	df, err := ReadDataFile(path)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	if df.Channels != 1 || df.Symmetry != "U1" || df.Sites != 2 {
		t.Fatalf("%+v", df)
	}
	zeta, ok := df.Coefficients["zeta"]
	if !ok || len(zeta) != 2 {
		t.Fatalf("zeta table = %+v", zeta)
	}
	if zeta[1][0] != complex(0.1, 0) {
		t.Fatalf("zeta[1][0] = %v, want 0.1", zeta[1][0])
	}
}

func TestReadDataFileRejectsShortTable(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	content := "1 U1 3\ntable zeta\n0.0,0.0\n"
	path := writeFile(t, dir, "data", content)
	if _, err := ReadDataFile(path); err == nil {
		t.Fatalf("expected error: table shorter than declared site count")
	}
}
