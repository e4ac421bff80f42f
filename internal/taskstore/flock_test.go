package taskstore

import (
	"testing"

	"github.com/spf13/afero"

	herrors "github.com/Iron-Ham/hotlabel/internal/errors"
)

func TestAcquireDataDir_SingleOwner(t *testing.T) {
	tests := []struct {
		name string
		fs   func(t *testing.T) (afero.Fs, string)
	}{
		{
			name: "os filesystem",
			fs: func(t *testing.T) (afero.Fs, string) {
				return afero.NewOsFs(), t.TempDir()
			},
		},
		{
			name: "memory filesystem",
			fs: func(t *testing.T) (afero.Fs, string) {
				return afero.NewMemMapFs(), "/data"
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs, dir := tt.fs(t)

			first, err := AcquireDataDir(fs, dir)
			if err != nil {
				t.Fatalf("AcquireDataDir: %v", err)
			}
			if ok, _ := afero.Exists(fs, first.Path()); !ok {
				t.Errorf("lock file %s should exist", first.Path())
			}

			// flock is per open file description, so a second opener in
			// the same process is refused like another process would be.
			_, err = AcquireDataDir(fs, dir)
			if !herrors.Is(err, ErrDataDirLocked) {
				t.Fatalf("second AcquireDataDir error = %v, want ErrDataDirLocked", err)
			}
			if !herrors.IsFatal(err) {
				t.Errorf("IsFatal(%v) = false, want true", err)
			}

			if err := first.Release(); err != nil {
				t.Fatalf("Release: %v", err)
			}
			if err := first.Release(); err != nil {
				t.Errorf("second Release: %v", err)
			}

			again, err := AcquireDataDir(fs, dir)
			if err != nil {
				t.Fatalf("AcquireDataDir after Release: %v", err)
			}
			_ = again.Release()
		})
	}
}

func TestAcquireDataDir_CreatesDir(t *testing.T) {
	fs := afero.NewMemMapFs()
	l, err := AcquireDataDir(fs, "/nested/data")
	if err != nil {
		t.Fatalf("AcquireDataDir: %v", err)
	}
	defer func() { _ = l.Release() }()

	if ok, _ := afero.DirExists(fs, "/nested/data"); !ok {
		t.Error("data dir should have been created")
	}
}

func TestAcquireDataDir_Unwritable(t *testing.T) {
	ro := afero.NewReadOnlyFs(afero.NewMemMapFs())
	if _, err := AcquireDataDir(ro, "/data"); err == nil {
		t.Error("AcquireDataDir on a read-only fs should fail")
	}
}
