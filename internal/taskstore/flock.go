package taskstore

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"syscall"

	"github.com/spf13/afero"

	herrors "github.com/Iron-Ham/hotlabel/internal/errors"
)

// DataDirLockName is the ownership file kept inside a memory-backend data
// directory.
const DataDirLockName = "hotlabel.lock"

// ErrDataDirLocked reports that another engine already owns the data
// directory.
var ErrDataDirLocked = errors.New("data directory is owned by another engine")

// DataDirLock gives one engine exclusive ownership of a memory-backend data
// directory. The memory store loads the whole snapshot at open and writes
// it all back at save, so two owners would overwrite each other's tasks.
//
// On the OS filesystem ownership is a non-blocking flock(2), released by
// the kernel if the process dies. Other filesystems get an exclusively
// created marker file that Release removes.
type DataDirLock struct {
	fs   afero.Fs
	path string
	file *os.File
}

// AcquireDataDir takes ownership of dir, creating it if needed. It fails
// fast with an error matching ErrDataDirLocked and ErrStoreUnavailable
// when the directory is already owned.
func AcquireDataDir(fs afero.Fs, dir string) (*DataDirLock, error) {
	if err := fs.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	l := &DataDirLock{fs: fs, path: filepath.Join(dir, DataDirLockName)}

	if _, ok := fs.(*afero.OsFs); ok {
		if err := l.flock(); err != nil {
			return nil, err
		}
		return l, nil
	}

	f, err := fs.OpenFile(l.path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		if os.IsExist(err) || errors.Is(err, afero.ErrFileExists) {
			return nil, l.owned()
		}
		return nil, fmt.Errorf("create lock file: %w", err)
	}
	_ = f.Close()
	return l, nil
}

func (l *DataDirLock) flock() error {
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return fmt.Errorf("open lock file: %w", err)
	}
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		_ = f.Close()
		if errors.Is(err, syscall.EWOULDBLOCK) {
			return l.owned()
		}
		return fmt.Errorf("flock: %w", err)
	}
	l.file = f
	return nil
}

func (l *DataDirLock) owned() error {
	return herrors.NewStoreError("acquire "+filepath.Dir(l.path), ErrDataDirLocked)
}

// Path returns the lock file path.
func (l *DataDirLock) Path() string {
	return l.path
}

// Release gives up ownership. Releasing twice is a no-op.
func (l *DataDirLock) Release() error {
	if l.fs == nil {
		return nil
	}
	fs := l.fs
	l.fs = nil

	if l.file == nil {
		return fs.Remove(l.path)
	}
	f := l.file
	l.file = nil
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_UN); err != nil {
		_ = f.Close()
		return fmt.Errorf("funlock: %w", err)
	}
	return f.Close()
}
