package classify

import (
	"encoding/json"
	"testing"
)

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		want   string
		wantOK bool
	}{
		{
			name:   "Clean JSON",
			input:  `{"priority_level": "high"}`,
			want:   `{"priority_level": "high"}`,
			wantOK: true,
		},
		{
			name:   "Clean Array",
			input:  `[{"a":1},{"a":2}]`,
			want:   `[{"a":1},{"a":2}]`,
			wantOK: true,
		},
		{
			name:   "Markdown Wrapped",
			input:  "Here is the analysis:\n```json\n{\"priority_level\": \"high\"}\n```",
			want:   `{"priority_level": "high"}`,
			wantOK: true,
		},
		{
			name:   "Bare Fence",
			input:  "```\n{\"a\": 1}\n```",
			want:   `{"a": 1}`,
			wantOK: true,
		},
		{
			name:   "Prefix Text",
			input:  `The result is {"a": 1}`,
			want:   `{"a": 1}`,
			wantOK: true,
		},
		{
			name:   "Suffix Text",
			input:  `{"a": 1} as requested.`,
			want:   `{"a": 1}`,
			wantOK: true,
		},
		{
			name:   "Surrounded",
			input:  `Sure! {"a": 1} Hope this helps.`,
			want:   `{"a": 1}`,
			wantOK: true,
		},
		{
			name:   "Nested Braces",
			input:  `Result: {"outer": {"inner": {"deep": 1}}} done`,
			want:   `{"outer": {"inner": {"deep": 1}}}`,
			wantOK: true,
		},
		{
			name:   "Braces In Strings",
			input:  `{"note": "has } and { inside"}`,
			want:   `{"note": "has } and { inside"}`,
			wantOK: true,
		},
		{
			name:   "Invalid JSON",
			input:  `{"a": unquoted}`,
			wantOK: false,
		},
		{
			name:   "No JSON",
			input:  "I could not analyze these breaks.",
			wantOK: false,
		},
		{
			name:   "Empty",
			input:  "",
			wantOK: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ExtractJSON(tt.input)
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v (got %q)", ok, tt.wantOK, got)
			}
			if !tt.wantOK {
				return
			}
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
			if !json.Valid([]byte(got)) {
				t.Errorf("extracted text is not valid JSON: %q", got)
			}
		})
	}
}
