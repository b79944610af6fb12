package types

import "testing"

func TestResourceURI_Parts(t *testing.T) {
	tests := []struct {
		name   string
		uri    ResourceURI
		scheme string
		path   string
	}{
		{
			name:   "workspace file",
			uri:    "fs://workspace/src/main.go",
			scheme: "fs",
			path:   "src/main.go",
		},
		{
			name:   "other scheme",
			uri:    "gmail://inbox/message/42",
			scheme: "gmail",
			path:   "message/42",
		},
		{
			name:   "malformed",
			uri:    "no-scheme-here",
			scheme: "",
			path:   "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.uri.Scheme(); got != tt.scheme {
				t.Errorf("Scheme() = %q, want %q", got, tt.scheme)
			}
			if got := tt.uri.Path(); got != tt.path {
				t.Errorf("Path() = %q, want %q", got, tt.path)
			}
		})
	}
}

func TestResourceURI_Validate(t *testing.T) {
	if err := ResourceURI("fs://workspace/a.txt").Validate(); err != nil {
		t.Errorf("valid URI rejected: %v", err)
	}
	for _, bad := range []ResourceURI{"", "plainpath", "://workspace/a", "fs://"} {
		if err := bad.Validate(); err == nil {
			t.Errorf("expected error for %q", bad)
		}
	}
}

func TestFileURI(t *testing.T) {
	if got := FileURI("src/a.go"); got != "fs://workspace/src/a.go" {
		t.Errorf("FileURI = %q", got)
	}
	if got := FileURI("/src/a.go"); got != "fs://workspace/src/a.go" {
		t.Errorf("FileURI with leading slash = %q", got)
	}
}
