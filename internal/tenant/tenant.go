// Package tenant validates tenant identifiers and maps them onto the
// per-tenant credential directories owned by the driver layer.
//
// A tenant id is an opaque caller-supplied string, but because it names a
// directory on disk it must be a single safe path element.
package tenant

import (
	"fmt"
	"path/filepath"
	"strings"

	apperrors "github.com/pseudocoder/pairgate/internal/errors"
)

// MaxIDLength bounds tenant ids so they stay usable as file names on every
// platform the driver may persist credentials on.
const MaxIDLength = 64

// ValidateID returns a tenant.invalid_id error if id is not a safe token.
//
// Allowed characters are ASCII letters, digits, '-', '_' and '.', with the
// first character a letter or digit. Path separators, NUL bytes and any
// ".." sequence are rejected.
func ValidateID(id string) error {
	if id == "" {
		return apperrors.InvalidTenantID("must not be empty")
	}
	if len(id) > MaxIDLength {
		return apperrors.InvalidTenantID(fmt.Sprintf("longer than %d characters", MaxIDLength))
	}
	if strings.Contains(id, "..") {
		return apperrors.InvalidTenantID("contains '..'")
	}
	if !isAlnum(id[0]) {
		return apperrors.InvalidTenantID("must start with a letter or digit")
	}
	for i := 0; i < len(id); i++ {
		c := id[i]
		switch {
		case isAlnum(c), c == '-', c == '_', c == '.':
		case c == '/' || c == '\\':
			return apperrors.InvalidTenantID("contains a path separator")
		default:
			return apperrors.InvalidTenantID(fmt.Sprintf("contains invalid character %q", c))
		}
	}
	return nil
}

// CredentialDir returns the directory the driver uses to persist the
// tenant's login credentials: <root>/<id>.
//
// The id is validated again and the joined path is checked to stay inside
// root, so a caller that skipped validation still cannot escape it.
func CredentialDir(root, id string) (string, error) {
	if err := ValidateID(id); err != nil {
		return "", err
	}
	if root == "" {
		return "", fmt.Errorf("credential root required")
	}

	absRoot, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("resolve credential root: %w", err)
	}
	dir := filepath.Join(absRoot, id)

	rel, err := filepath.Rel(absRoot, dir)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") || strings.ContainsRune(rel, filepath.Separator) {
		return "", apperrors.InvalidTenantID("escapes credential root")
	}
	return dir, nil
}

func isAlnum(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}
