package beacon

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/example/deskwatch/internal/remote"
)

// FS is the subset of a remote filesystem the store needs. ReadFile and
// Remove report a missing file with an error matching fs.ErrNotExist.
type FS interface {
	MkdirAll(dir string) error
	WriteFile(name string, data []byte) error
	ReadFile(name string) ([]byte, error)
	Remove(name string) error
	Rename(oldname, newname string) error
	Close() error
}

// Opener opens a filesystem handle for a single store operation.
type Opener func(ctx context.Context) (FS, error)

// SFTPOpener opens the remote filesystem of target over SFTP. The connection
// is torn down when ctx is done, which aborts any pending transfer.
func SFTPOpener(target remote.Target) Opener {
	return func(ctx context.Context) (FS, error) {
		sess, err := remote.OpenSFTP(ctx, target)
		if err != nil {
			return nil, err
		}
		stop := context.AfterFunc(ctx, func() { _ = sess.Close() })
		return &sftpFS{sess: sess, stop: stop}, nil
	}
}

type sftpFS struct {
	sess *remote.SFTPSession
	stop func() bool
}

func (f *sftpFS) MkdirAll(dir string) error {
	return f.sess.MkdirAll(dir)
}

func (f *sftpFS) WriteFile(name string, data []byte) error {
	file, err := f.sess.OpenFile(name, os.O_WRONLY|os.O_CREATE|os.O_TRUNC)
	if err != nil {
		return err
	}
	if _, err := file.Write(data); err != nil {
		file.Close()
		return fmt.Errorf("write %s: %w", name, err)
	}
	return file.Close()
}

func (f *sftpFS) ReadFile(name string) ([]byte, error) {
	file, err := f.sess.Open(name)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	return io.ReadAll(file)
}

func (f *sftpFS) Remove(name string) error {
	return f.sess.Remove(name)
}

func (f *sftpFS) Rename(oldname, newname string) error {
	return f.sess.Rename(oldname, newname)
}

func (f *sftpFS) Close() error {
	if !f.stop() {
		// ctx already closed the session
		return nil
	}
	return f.sess.Close()
}
