package pipeline

import (
	"strings"
	"testing"
)

func TestChunk(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		size    int
		overlap int
		want    []string
	}{
		{
			name: "empty input yields no chunks",
			text: "", size: 5, overlap: 2,
			want: nil,
		},
		{
			name: "whitespace only yields no chunks",
			text: "   \n\t ", size: 5, overlap: 2,
			want: nil,
		},
		{
			name: "short input is a single chunk",
			text: "abc", size: 5, overlap: 2,
			want: []string{"abc"},
		},
		{
			name: "exact fit emits the overlap tail",
			text: "abcde", size: 5, overlap: 2,
			want: []string{"abcde", "de"},
		},
		{
			name: "overlapping windows end on a pure-overlap tail",
			text: "abcdefghij", size: 4, overlap: 2,
			want: []string{"abcd", "cdef", "efgh", "ghij", "ij"},
		},
		{
			name: "trailing partial window",
			text: "abcdefg", size: 4, overlap: 2,
			want: []string{"abcd", "cdef", "efg", "g"},
		},
		{
			name: "zero overlap",
			text: "abcdefgh", size: 3, overlap: 0,
			want: []string{"abc", "def", "gh"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Chunk(tt.text, tt.size, tt.overlap)
			if len(got) != len(tt.want) {
				t.Fatalf("got %d chunks %q, want %d %q", len(got), got, len(tt.want), tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("chunk %d = %q, want %q", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestChunkRuneSafety(t *testing.T) {
	// Multibyte runes must never be split mid-encoding.
	text := strings.Repeat("héllo wörld ", 10)
	for _, chunk := range Chunk(text, 7, 3) {
		if !strings.ContainsAny(chunk, "hélowrd ") {
			t.Fatalf("unexpected chunk content %q", chunk)
		}
		for _, r := range chunk {
			if r == '�' {
				t.Fatalf("chunk %q contains a replacement rune, window split a multibyte character", chunk)
			}
		}
	}
}

func TestChunkDeterministic(t *testing.T) {
	text := strings.Repeat("the quick brown fox ", 50)
	a := Chunk(text, 40, 10)
	b := Chunk(text, 40, 10)
	if len(a) != len(b) {
		t.Fatalf("chunk counts differ: %d vs %d", len(a), len(b))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("chunk %d differs between runs", i)
		}
	}
}
