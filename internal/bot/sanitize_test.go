package bot

import (
	"errors"
	"strings"
	"testing"
)

func TestSanitize(t *testing.T) {
	s := Sanitizer{}
	tests := []struct {
		name  string
		query string
		want  string
		err   error
	}{
		{"plain search", "  daft punk around the world ", "daft punk around the world", nil},
		{"youtube video", "https://www.youtube.com/watch?v=dQw4w9WgXcQ", "https://www.youtube.com/watch?v=dQw4w9WgXcQ", nil},
		{"short link", "https://youtu.be/dQw4w9WgXcQ", "https://youtu.be/dQw4w9WgXcQ", nil},
		{"playlist", "https://www.youtube.com/playlist?list=PLabc-123", "https://www.youtube.com/playlist?list=PLabc-123", nil},
		{"other host", "https://soundcloud.com/artist/track", "https://soundcloud.com/artist/track", nil},
		{"search index", "3", "3", nil},
		{"empty", "   ", "", ErrEmptyQuery},
		{"too long", strings.Repeat("a", 201), "", ErrQueryTooLong},
		{"script tag", "<script>alert(1)</script>", "", ErrSuspiciousQuery},
		{"sql", "song; DROP TABLE users", "", ErrSuspiciousQuery},
		{"traversal", "../../etc/passwd", "", ErrSuspiciousQuery},
		{"javascript", "javascript:alert(1)", "", ErrSuspiciousQuery},
		{"trailing comment", "song --", "", ErrSuspiciousQuery},
		{"ftp scheme", "ftp://http:example.com/song", "", ErrURLScheme},
		{"bad youtube", "https://www.youtube.com/channel/abc", "", ErrYouTubeURL},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.Sanitize(tt.query)
			if tt.err != nil {
				if !errors.Is(err, tt.err) {
					t.Fatalf("Sanitize(%q) err = %v, want %v", tt.query, err, tt.err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Sanitize(%q): %v", tt.query, err)
			}
			if got != tt.want {
				t.Fatalf("Sanitize(%q) = %q, want %q", tt.query, got, tt.want)
			}
		})
	}
}

func TestSanitizeCustomLimit(t *testing.T) {
	s := Sanitizer{MaxLength: 5}
	if _, err := s.Sanitize("abcdef"); !errors.Is(err, ErrQueryTooLong) {
		t.Fatalf("err = %v", err)
	}
	if _, err := s.Sanitize("abcde"); err != nil {
		t.Fatal(err)
	}
}
