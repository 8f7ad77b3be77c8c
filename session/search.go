package session

import (
	"strings"
	"time"
)

// SearchResult is one transcript hit.
type SearchResult struct {
	SessionID string    `json:"sessionId"`
	MessageID string    `json:"messageId"`
	Role      string    `json:"role"`
	Snippet   string    `json:"snippet"`
	Timestamp time.Time `json:"timestamp"`
}

const snippetRadius = 80

// SearchMessages scans transcripts for a case-insensitive substring.
// sessionID narrows the scan to one session when non-empty. At most
// limit results are returned (limit <= 0 means 50).
func (s *Store) SearchMessages(sessionID, query string, limit int) []SearchResult {
	if limit <= 0 {
		limit = 50
	}
	needle := strings.ToLower(query)
	if needle == "" {
		return nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var targets []*Session
	if sessionID != "" {
		if sess, ok := s.sessions[sessionID]; ok {
			targets = []*Session{sess}
		}
	} else {
		for _, sess := range s.sessions {
			targets = append(targets, sess)
		}
	}

	results := make([]SearchResult, 0, limit)
	for _, sess := range targets {
		for _, m := range sess.Messages {
			idx := strings.Index(strings.ToLower(m.Content), needle)
			if idx < 0 {
				continue
			}
			results = append(results, SearchResult{
				SessionID: sess.ID,
				MessageID: m.ID,
				Role:      m.Role,
				Snippet:   snippet(m.Content, idx, len(query)),
				Timestamp: m.Timestamp,
			})
			if len(results) >= limit {
				return results
			}
		}
	}
	return results
}

// snippet extracts the match with some surrounding context.
func snippet(content string, idx, matchLen int) string {
	start := idx - snippetRadius
	if start < 0 {
		start = 0
	}
	end := idx + matchLen + snippetRadius
	if end > len(content) {
		end = len(content)
	}
	out := content[start:end]
	if start > 0 {
		out = "..." + out
	}
	if end < len(content) {
		out = out + "..."
	}
	return out
}
