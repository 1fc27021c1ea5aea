package util

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"syscall"
)

const TmpSuffix = ".ebbsync.tmp"

func AtomicWrite(dst string, r io.Reader) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return fmt.Errorf("failed to create parent dir: %w", err)
	}

	tmp := dst + TmpSuffix
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}

	if _, err := io.Copy(f, r); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to write: %w", err)
	}

	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if err := os.Rename(tmp, dst); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to rename: %w", err)
	}

	return nil
}

func RemoveIfExists(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove %s: %w", path, err)
	}

	return nil
}

// MoveFile renames src to dst, falling back to copy+delete when the rename
// crosses devices.
func MoveFile(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return fmt.Errorf("failed to create parent dir: %w", err)
	}

	err := os.Rename(src, dst)
	if err == nil {
		return nil
	}

	if le, ok := asType[*os.LinkError](err); !ok || !errors.Is(le.Err, syscall.EXDEV) {
		return fmt.Errorf("failed to rename: %w", err)
	}

	f, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open src: %w", err)
	}

	defer func(f *os.File) {
		_ = f.Close()
	}(f)

	if err := AtomicWrite(dst, f); err != nil {
		return err
	}

	return os.Remove(src)
}

// FreeDiskSpace returns the number of bytes available to the current user on
// the filesystem holding path, or -1 when it cannot be determined.
func FreeDiskSpace(path string) int64 {
	var st syscall.Statfs_t
	if err := syscall.Statfs(path, &st); err != nil {
		return -1
	}

	return int64(st.Bavail) * int64(st.Bsize)
}

// MaxPathLen is the conservative absolute-path maximum enforced before
// renaming items aside.
const MaxPathLen = 4096

// MaxNameLen bounds a single path component.
const MaxNameLen = 255

// IsTmpFile reports whether path is one of our own in-flight temp files.
func IsTmpFile(path string) bool {
	return strings.HasSuffix(path, TmpSuffix)
}

// LocalNodeID derives the invariant local identity from device and inode
// numbers; it survives renames and moves within a filesystem.
func LocalNodeID(info os.FileInfo) string {
	if st, ok := info.Sys().(*syscall.Stat_t); ok {
		return fmt.Sprintf("%d:%d", st.Dev, st.Ino)
	}

	return ""
}

// FileHash is the sha256 content hash used as the edit indicator.
func FileHash(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}

	defer func(f *os.File) {
		_ = f.Close()
	}(f)

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}

// asType is a stand-in for errors.AsType (not yet available in this Go toolchain).
func asType[T error](err error) (T, bool) {
	var target T
	ok := errors.As(err, &target)
	return target, ok
}
