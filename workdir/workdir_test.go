package workdir

import (
	"os"
	"testing"
)

func TestNewCreatesDirectoryUnderEnvRoot(t *testing.T) {
	root := t.TempDir()
	t.Setenv(EnvVar, root)

	d, err := New(true)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	if _, err := os.Stat(d.Path); err != nil {
		t.Fatalf("scratch dir missing: %v", err)
	}

	if err := d.Close(); err != nil {
		t.Fatalf("%+v", err)
	}
	if _, err := os.Stat(d.Path); !os.IsNotExist(err) {
		t.Fatalf("expected scratch dir removed, got err=%v", err)
	}
}

func TestCloseLeavesDirWhenRemoveFilesFalse(t *testing.T) {
	root := t.TempDir()
	t.Setenv(EnvVar, root)

	d, err := New(false)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	if err := d.Close(); err != nil {
		t.Fatalf("%+v", err)
	}
	if _, err := os.Stat(d.Path); err != nil {
		t.Fatalf("expected scratch dir preserved, got err=%v", err)
	}
}

func TestJoinPrefixesScratchPath(t *testing.T) {
	root := t.TempDir()
	t.Setenv(EnvVar, root)

	d, err := New(true)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	defer d.Close()
	if got := d.Join("rho3"); got == "rho3" {
		t.Fatalf("Join did not prefix the scratch path: %q", got)
	}
}
