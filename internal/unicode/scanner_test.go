package unicode

import (
	"testing"
)

func TestScan_CleanASCII(t *testing.T) {
	result := Scan("ls -la /tmp")
	if len(result.Findings) != 0 {
		t.Errorf("expected no findings for ASCII command, got %v", result.Findings)
	}
	if _, blocked := result.First(); blocked {
		t.Error("ASCII command should not be blocked")
	}
}

func TestScan_Blocking(t *testing.T) {
	tests := []struct {
		name  string
		input string
		class string
	}{
		{"zero-width space", "ls\u200B -la", "zero-width"},
		{"zero-width joiner", "rm\u200D -rf /", "zero-width"},
		{"bom", "\uFEFFecho hello", "zero-width"},
		{"bidi override", "echo \u202Eabc", "bidi-override"},
		{"bidi isolate", "echo \u2066abc", "bidi-override"},
		{"tag character", "echo \U000E0041", "tag-char"},
		{"escape control", "echo \x1b[31m", "control-char"},
		{"invalid utf8", "echo \xff", "invalid-utf8"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := Scan(tt.input)
			f, ok := result.First()
			if !ok {
				t.Fatalf("expected a blocking finding for %q", tt.input)
			}
			if f.Class != tt.class {
				t.Errorf("class = %q, want %q", f.Class, tt.class)
			}
		})
	}
}

func TestScan_AllowsTabAndNewline(t *testing.T) {
	result := Scan("echo a\tb\nls\r\n")
	if _, blocked := result.First(); blocked {
		t.Errorf("tab and newline should not block, got %v", result.Findings)
	}
}

func TestScan_HomoglyphIsNotBlocking(t *testing.T) {
	// Cyrillic 'с' in "сurl"
	result := Scan("сurl http://example.com")
	if _, blocked := result.First(); blocked {
		t.Error("homoglyph should be reported without blocking")
	}
	if len(result.Findings) != 1 || result.Findings[0].Class != "homoglyph" {
		t.Fatalf("expected one homoglyph finding, got %v", result.Findings)
	}
	if result.Findings[0].Offset != 0 {
		t.Errorf("offset = %d, want 0", result.Findings[0].Offset)
	}
}

func TestScan_Offsets(t *testing.T) {
	result := Scan("ab\u200Bc\u200Bd")
	if len(result.Findings) != 2 {
		t.Fatalf("expected 2 findings, got %d", len(result.Findings))
	}
	if result.Findings[0].Offset != 2 || result.Findings[1].Offset != 6 {
		t.Errorf("unexpected offsets: %v", result.Findings)
	}
}

func TestConfusable(t *testing.T) {
	if !Confusable("сurl") {
		t.Error("Cyrillic es should be confusable")
	}
	if !Confusable("Οpen") {
		t.Error("Greek omicron should be confusable")
	}
	if Confusable("curl") {
		t.Error("plain ASCII should not be confusable")
	}
	if Confusable("ж") {
		t.Error("Cyrillic zhe has no Latin look-alike")
	}
}
