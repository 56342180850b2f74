package slashcmd

import "testing"

func TestParse(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		wantOK   bool
		wantName string
		wantArgs string
	}{
		{"empty", "", false, "", ""},
		{"plain text", "hello world", false, "", ""},
		{"bare command", "/help", true, "help", ""},
		{"command with args", "/model openrouter:foo", true, "model", "openrouter:foo"},
		{"mixed case folds", "/HELP", true, "help", ""},
		{"slash alone is not a command", "/", false, "", ""},
		{"slash digit is not a command", "/123", false, "", ""},
		{"leading whitespace tolerated", "   /exit  ", true, "exit", ""},
		{"trailing arg whitespace trimmed", "/session   foo  ", true, "session", "foo"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			name, args, ok := Parse(tt.input)
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if name != tt.wantName || args != tt.wantArgs {
				t.Fatalf("got (%q, %q), want (%q, %q)", name, args, tt.wantName, tt.wantArgs)
			}
		})
	}
}
