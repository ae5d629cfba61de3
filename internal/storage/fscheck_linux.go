//go:build linux

package storage

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// Magic numbers from statfs(2).
const (
	nfsMagic  = 0x6969
	cifsMagic = 0xFF534D42
	smbMagic  = 0x517B
	smb2Magic = 0xFE534D42
	v9fsMagic = 0x01021997
)

func detectFilesystemType(path string) (string, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return "", fmt.Errorf("statfs %q: %w", path, err)
	}

	switch uint64(st.Type) {
	case nfsMagic:
		return "nfs", nil
	case cifsMagic:
		return "cifs", nil
	case smbMagic:
		return "smbfs", nil
	case smb2Magic:
		return "smb2", nil
	case v9fsMagic:
		return "9p", nil
	default:
		return fmt.Sprintf("0x%x", uint64(st.Type)), nil
	}
}
