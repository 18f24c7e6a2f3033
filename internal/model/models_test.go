package model

import "testing"

func TestTask_Snippet(t *testing.T) {
	cases := []struct {
		name        string
		description string
		want        string
	}{
		{"long description", "buy milk tomorrow", "buy m"},
		{"shorter than limit", "hey", "hey"},
		{"empty", "", ""},
		{"exact length", "abcde", "abcde"},
		{"multibyte runes", "日本語のメモです", "日本語のメ"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			task := Task{Description: tc.description}
			if got := task.Snippet(); got != tc.want {
				t.Fatalf("Snippet() = %q, want %q", got, tc.want)
			}
		})
	}
}
