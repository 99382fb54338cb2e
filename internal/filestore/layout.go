package filestore

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/dvloznov/finsync/internal/domain"
)

const (
	fileExt      = ".json"
	backupSuffix = "_backup"
	genSuffix    = ".gen"

	// UsersDir holds the layouts of principals other than the default one.
	UsersDir = "users"
)

// Layout maps kinds onto the on-disk file layout:
//
//	{dir}/{kind}.json          primary collection
//	{dir}/{kind}_backup.json   previous generation
//	{dir}/.{kind}.json.gen     digests of the last write
//	{dir}/users/{principal}/   the same files for a non-default principal
type Layout struct {
	Dir string
}

// ForPrincipal returns the layout holding principal's files. The empty
// principal is the default scope and maps to l itself.
func (l Layout) ForPrincipal(principal string) Layout {
	if principal == "" {
		return l
	}
	return Layout{Dir: filepath.Join(l.Dir, UsersDir, EscapePrincipal(principal))}
}

// EscapePrincipal maps a principal id onto one safe path segment. Distinct
// ids never share a segment.
func EscapePrincipal(p string) string {
	var b strings.Builder
	for i := 0; i < len(p); i++ {
		c := p[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9',
			c == '-', c == '_', c == '@', c == '.' && i > 0:
			b.WriteByte(c)
		default:
			fmt.Fprintf(&b, "%%%02X", c)
		}
	}
	return b.String()
}

// PrimaryPath returns the primary file of kind.
func (l Layout) PrimaryPath(kind domain.Kind) string {
	return filepath.Join(l.Dir, string(kind)+fileExt)
}

// BackupPathFor returns the primary file's backup sibling.
func (l Layout) BackupPathFor(kind domain.Kind) string {
	return BackupPath(l.PrimaryPath(kind))
}

// BackupPath returns the `*_backup` sibling of path: a/b/debt.json -> a/b/debt_backup.json.
func BackupPath(path string) string {
	ext := filepath.Ext(path)
	return strings.TrimSuffix(path, ext) + backupSuffix + ext
}

// GenerationPath returns the hidden stamp file of path: a/debt.json -> a/.debt.json.gen.
func GenerationPath(path string) string {
	return filepath.Join(filepath.Dir(path), "."+filepath.Base(path)+genSuffix)
}

// IsBackupPath reports whether path names a backup sibling.
func IsBackupPath(path string) bool {
	base := filepath.Base(path)
	return strings.HasSuffix(strings.TrimSuffix(base, filepath.Ext(base)), backupSuffix)
}
