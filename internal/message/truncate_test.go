package message

import (
	"errors"
	"strings"
	"testing"
	"unicode/utf8"
)

const commentTemplate = "[C]{comment} ({pos})[{when}] | {title} {url}"

func commentFields(comment, title, url string) map[string]string {
	return map[string]string{
		"comment": comment,
		"pos":     "01:23",
		"when":    "24/06/01 12:30",
		"title":   title,
		"url":     url,
	}
}

func TestFormat_UnderBudgetUnchanged(t *testing.T) {
	tr := NewTruncator()
	fields := commentFields("0123456789", "abcdefghij", "http://x/1")

	got, err := tr.Format(commentTemplate, nil, fields)
	if err != nil {
		t.Fatalf("Format() error = %v", err)
	}
	want := "[C]0123456789 (01:23)[24/06/01 12:30] | abcdefghij http://x/1"
	if got != want {
		t.Errorf("Format() = %q, want %q", got, want)
	}
	if n := utf8.RuneCountInString(got); n >= 140 {
		t.Errorf("length = %d, want < 140", n)
	}
}

func TestFormat_LongTitleTrimmedToExactBudget(t *testing.T) {
	tr := NewTruncator()
	fields := commentFields("0123456789", strings.Repeat("t", 110), "http://x/1")

	got, err := tr.Format(commentTemplate, nil, fields)
	if err != nil {
		t.Fatalf("Format() error = %v", err)
	}
	if n := utf8.RuneCountInString(got); n != 140 {
		t.Errorf("length = %d, want exactly 140", n)
	}
	// Only the title may shrink; the other fields survive intact.
	if !strings.Contains(got, "0123456789") || !strings.Contains(got, "http://x/1") {
		t.Errorf("non-title fields were trimmed: %q", got)
	}
}

func TestFormat_MultiByteTitleTrimmedByRunes(t *testing.T) {
	tr := NewTruncator()
	fields := commentFields("0123456789", strings.Repeat("あ", 110), "http://x/1")

	got, err := tr.Format(commentTemplate, nil, fields)
	if err != nil {
		t.Fatalf("Format() error = %v", err)
	}
	if n := utf8.RuneCountInString(got); n != 140 {
		t.Errorf("rune length = %d, want exactly 140", n)
	}
}

func TestFormat_URLCountedAtDisplayWidth(t *testing.T) {
	tr := NewTruncator()
	longURL := "https://example.com/" + strings.Repeat("v", 40) // 60 runes, counted as 22
	fields := commentFields("0123456789", strings.Repeat("t", 110), longURL)

	got, err := tr.Format(commentTemplate, nil, fields)
	if err != nil {
		t.Fatalf("Format() error = %v", err)
	}
	raw := utf8.RuneCountInString(got)
	effective := raw - (utf8.RuneCountInString(longURL) - DefaultURLWidth)
	if effective != 140 {
		t.Errorf("effective length = %d (raw %d), want 140", effective, raw)
	}
	if !strings.Contains(got, longURL) {
		t.Error("URL itself must never be trimmed")
	}
}

func TestFormat_Idempotent(t *testing.T) {
	tr := NewTruncator()
	fields := commentFields("0123456789", strings.Repeat("t", 110), "http://x/1")

	first, err := tr.Format(commentTemplate, nil, fields)
	if err != nil {
		t.Fatal(err)
	}
	second, err := tr.Format(commentTemplate, nil, fields)
	if err != nil {
		t.Fatal(err)
	}
	if first != second {
		t.Errorf("repeated Format() differs:\n%q\n%q", first, second)
	}
}

func TestFormat_PositionalValues(t *testing.T) {
	tr := NewTruncator()
	got, err := tr.Format("{} - {title} | {}", []string{"YouTube", "tail"},
		map[string]string{"title": "a video"})
	if err != nil {
		t.Fatalf("Format() error = %v", err)
	}
	if got != "YouTube - a video | tail" {
		t.Errorf("Format() = %q", got)
	}
}

func TestTrim_TieBreaks(t *testing.T) {
	tests := []struct {
		name    string
		max     int
		tmpl    string
		fields  map[string]string
		wantLen int
	}{
		{
			name: "two equal fields small delta trims both by one",
			max:  10, tmpl: "{a}{b}",
			fields:  map[string]string{"a": "abcdef", "b": "abcdef"},
			wantLen: 10,
		},
		{
			name: "two equal fields split delta evenly",
			max:  10, tmpl: "{a}{b}",
			fields:  map[string]string{"a": "abcdefgh", "b": "abcdefgh"},
			wantLen: 10,
		},
		{
			name: "three equal fields split delta three ways",
			max:  12, tmpl: "{a}{b}{c}",
			fields:  map[string]string{"a": "abcdef", "b": "abcdef", "c": "abcdef"},
			wantLen: 12,
		},
		{
			name: "third field caps per-round delta",
			max:  22, tmpl: "{a}{b}{c}",
			fields: map[string]string{
				"a": strings.Repeat("a", 10),
				"b": strings.Repeat("b", 9),
				"c": strings.Repeat("c", 8),
			},
			wantLen: 22,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := Truncator{MaxLength: tt.max, URLField: DefaultURLField, URLWidth: DefaultURLWidth}
			got, err := tr.Format(tt.tmpl, nil, tt.fields)
			if err != nil {
				t.Fatalf("Format() error = %v", err)
			}
			if n := utf8.RuneCountInString(got); n != tt.wantLen {
				t.Errorf("length = %d, want %d (%q)", n, tt.wantLen, got)
			}
		})
	}
}

func TestFormat_Errors(t *testing.T) {
	tr := Truncator{MaxLength: 5, URLField: DefaultURLField, URLWidth: DefaultURLWidth}

	t.Run("no trimmable fields", func(t *testing.T) {
		_, err := tr.Format("a very long literal template", nil, nil)
		if !errors.Is(err, ErrNoTrimmableFields) {
			t.Errorf("err = %v, want ErrNoTrimmableFields", err)
		}
	})

	t.Run("empty field cannot converge", func(t *testing.T) {
		_, err := tr.Format("a very long literal template {a}", nil, map[string]string{"a": ""})
		if !errors.Is(err, ErrNoConvergence) {
			t.Errorf("err = %v, want ErrNoConvergence", err)
		}
	})

	t.Run("unknown field", func(t *testing.T) {
		if _, err := tr.Format("{nope}", nil, nil); err == nil {
			t.Error("expected error for unknown field")
		}
	})

	t.Run("unclosed placeholder", func(t *testing.T) {
		if _, err := tr.Format("{title", nil, map[string]string{"title": "x"}); err == nil {
			t.Error("expected error for unclosed placeholder")
		}
	})

	t.Run("missing positional", func(t *testing.T) {
		if _, err := tr.Format("{} {}", []string{"one"}, nil); err == nil {
			t.Error("expected error for missing positional value")
		}
	})
}
