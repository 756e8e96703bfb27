package bot

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// DefaultMaxQueryLength bounds user supplied queries.
const DefaultMaxQueryLength = 200

var (
	ErrEmptyQuery      = errors.New("query cannot be empty")
	ErrQueryTooLong    = errors.New("query too long")
	ErrSuspiciousQuery = errors.New("potentially malicious pattern detected")
	ErrURLScheme       = errors.New("URL scheme not allowed")
	ErrYouTubeURL      = errors.New("invalid YouTube URL format")
)

var suspiciousPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i);.*?(?:DROP|DELETE|UPDATE|INSERT|SELECT)\s+.*`),
	regexp.MustCompile(`(?i)<script[\s\S]*?>[\s\S]*?</script>`),
	regexp.MustCompile(`(?i)javascript:`),
	regexp.MustCompile(`(?i)\b(select|insert|update|delete|drop|truncate|alter|exec)\b.*?(?:from|into|table)`),
	regexp.MustCompile(`(?i)system\([^)]*\)`),
	regexp.MustCompile(`(?i)(?:/\.\./|\.\./|\.\.%2f|\.\.%5c)`),
	regexp.MustCompile(`(?i)(<|>|&lt;|&gt;|&#x3C;|&#x3E;)`),
	regexp.MustCompile(`(?i)\b(union\s+select|union\s+all\s+select)\b`),
	regexp.MustCompile(`(?i)\b(and|or)\b.+?\b(true|false)\b`),
	regexp.MustCompile(`(%27|'|--|#|%23)\s*$`),
}

var youtubeURL = []*regexp.Regexp{
	regexp.MustCompile(`^(https?://)?(www\.|m\.|music\.)?youtube\.com/watch\?v=[\w-]+`),
	regexp.MustCompile(`^(https?://)?(www\.)?youtu\.be/[\w-]+`),
	regexp.MustCompile(`^(https?://)?(www\.|m\.|music\.)?youtube\.com/playlist\?list=[\w-]+`),
}

// Sanitizer validates queries before they reach the media backend.
type Sanitizer struct {
	MaxLength int
}

// Sanitize trims query and rejects empty, oversized or suspicious input.
// URLs must use http or https; YouTube URLs must be a video, short link or
// playlist.
func (s Sanitizer) Sanitize(query string) (string, error) {
	max := s.MaxLength
	if max <= 0 {
		max = DefaultMaxQueryLength
	}
	q := strings.TrimSpace(query)
	if q == "" {
		return "", ErrEmptyQuery
	}
	if len(query) > max {
		return "", fmt.Errorf("%w (max %d characters)", ErrQueryTooLong, max)
	}
	for _, re := range suspiciousPatterns {
		if re.MatchString(q) {
			return "", ErrSuspiciousQuery
		}
	}

	lower := strings.ToLower(q)
	if strings.Contains(lower, "http:") || strings.Contains(lower, "https:") || strings.HasPrefix(lower, "www.") {
		u, err := url.Parse(q)
		if err != nil {
			return "", fmt.Errorf("invalid URL format: %w", err)
		}
		if scheme := strings.ToLower(u.Scheme); scheme != "" && scheme != "http" && scheme != "https" {
			return "", fmt.Errorf("%w: %s", ErrURLScheme, u.Scheme)
		}
	}

	if strings.Contains(lower, "youtube.com") || strings.Contains(lower, "youtu.be") {
		valid := false
		for _, re := range youtubeURL {
			if re.MatchString(q) {
				valid = true
				break
			}
		}
		if !valid {
			return "", ErrYouTubeURL
		}
	}
	return q, nil
}
