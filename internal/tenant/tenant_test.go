package tenant

import (
	"path/filepath"
	"strings"
	"testing"

	apperrors "github.com/pseudocoder/pairgate/internal/errors"
)

func TestValidateID(t *testing.T) {
	tests := []struct {
		name    string
		id      string
		wantErr bool
	}{
		{"simple", "abc", false},
		{"digits", "5511999990000", false},
		{"mixed", "store-01_main.v2", false},
		{"empty", "", true},
		{"traversal", "../etc", true},
		{"embedded traversal", "a..b", true},
		{"slash", "a/b", true},
		{"backslash", `a\b`, true},
		{"leading dot", ".hidden", true},
		{"leading dash", "-rf", true},
		{"space", "a b", true},
		{"nul", "a\x00b", true},
		{"unicode", "tenanté", true},
		{"too long", strings.Repeat("a", MaxIDLength+1), true},
		{"max length", strings.Repeat("a", MaxIDLength), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateID(tt.id)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ValidateID(%q) error = %v, wantErr %v", tt.id, err, tt.wantErr)
			}
			if err != nil && !apperrors.IsCode(err, apperrors.CodeTenantInvalidID) {
				t.Errorf("expected code %s, got %s", apperrors.CodeTenantInvalidID, apperrors.GetCode(err))
			}
		})
	}
}

func TestCredentialDir(t *testing.T) {
	root := t.TempDir()

	dir, err := CredentialDir(root, "abc")
	if err != nil {
		t.Fatalf("CredentialDir failed: %v", err)
	}
	if filepath.Dir(dir) != root {
		t.Errorf("expected %s to be a direct child of %s", dir, root)
	}
	if filepath.Base(dir) != "abc" {
		t.Errorf("expected base abc, got %s", filepath.Base(dir))
	}
}

func TestCredentialDir_Rejects(t *testing.T) {
	root := t.TempDir()

	for _, id := range []string{"..", "../x", "a/b", ""} {
		if _, err := CredentialDir(root, id); err == nil {
			t.Errorf("CredentialDir(%q) should fail", id)
		}
	}

	if _, err := CredentialDir("", "abc"); err == nil {
		t.Error("CredentialDir with empty root should fail")
	}
}
