package validation

import "testing"

func TestValidateFilename(t *testing.T) {
	tests := []struct {
		name     string
		filename string
		valid    bool
	}{
		{"simple", "file.txt", true},
		{"spaces", "my file.txt", true},
		{"hidden", ".hidden", true},
		{"double dot inside", "data..v2.csv", true},
		{"unicode", "résumé.pdf", true},
		{"empty", "", false},
		{"blank", "   ", false},
		{"dot", ".", false},
		{"dotdot", "..", false},
		{"unix separator", "../etc/passwd", false},
		{"windows separator", `..\windows\system32`, false},
		{"nested", "dir/file.txt", false},
		{"null byte", "file\x00.txt", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateFilename(tt.filename)
			if tt.valid && err != nil {
				t.Errorf("ValidateFilename(%q) = %v, want nil", tt.filename, err)
			}
			if !tt.valid && err == nil {
				t.Errorf("ValidateFilename(%q) = nil, want error", tt.filename)
			}
		})
	}
}
