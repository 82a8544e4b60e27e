package security

import (
	"os"
	"path/filepath"
	"testing"
)

func TestValidatePathWithinDirectory(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name    string
		path    string
		wantErr bool
	}{
		{"directory itself", dir, false},
		{"new file", filepath.Join(dir, "frame.png"), false},
		{"nested new file", filepath.Join(dir, "a", "b", "frame.png"), false},
		{"parent", filepath.Join(dir, ".."), true},
		{"traversal", filepath.Join(dir, "..", "escape.png"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePathWithinDirectory(tt.path, dir)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidatePathWithinDirectory(%q) error = %v, wantErr %v", tt.path, err, tt.wantErr)
			}
		})
	}
}

func TestValidatePathWithinDirectory_Symlink(t *testing.T) {
	dir := t.TempDir()
	outside := t.TempDir()
	link := filepath.Join(dir, "link")
	if err := os.Symlink(outside, link); err != nil {
		t.Skipf("symlinks unsupported: %v", err)
	}
	if err := ValidatePathWithinDirectory(filepath.Join(link, "x.png"), dir); err == nil {
		t.Error("expected symlink escape to be rejected")
	}
}

func TestValidateOutputPath(t *testing.T) {
	if err := ValidateOutputPath(filepath.Join(os.TempDir(), "latest.png")); err != nil {
		t.Errorf("temp path rejected: %v", err)
	}
	if err := ValidateOutputPath("latest.png"); err != nil {
		t.Errorf("relative path rejected: %v", err)
	}
}
