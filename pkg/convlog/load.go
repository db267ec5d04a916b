package convlog

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/aixgo-dev/recall/pkg/conversation"
)

// LoadResult is the outcome of reading a log.
type LoadResult struct {
	Messages []conversation.Message
	// Skipped counts chunks that could not be parsed or had an unknown role.
	Skipped int
	// Unbalanced is set when a JSONL file ends inside an object.
	Unbalanced bool
}

// timestamp layouts accepted on load, most specific first. Logs written by
// other tools often omit the zone.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05",
}

type rawRecord struct {
	Role      string `json:"role"`
	Content   string `json:"content"`
	Timestamp string `json:"timestamp"`
}

// Load reads a conversation log. Files ending in .jsonl are scanned
// tolerantly; anything else must be a JSON array of records.
func Load(path string) (*LoadResult, error) {
	data, err := os.ReadFile(path) // #nosec G304 - user-supplied log path is the point of this function
	if err != nil {
		return nil, fmt.Errorf("read conversation log: %w", err)
	}
	if strings.HasSuffix(strings.ToLower(path), ".jsonl") {
		return ParseJSONL(data, time.Now()), nil
	}
	return ParseArray(data, time.Now())
}

// ParseArray decodes a JSON array of records.
func ParseArray(data []byte, now time.Time) (*LoadResult, error) {
	var raws []rawRecord
	if err := json.Unmarshal(data, &raws); err != nil {
		return nil, fmt.Errorf("parse conversation log: %w", err)
	}

	res := &LoadResult{Messages: make([]conversation.Message, 0, len(raws))}
	var prev *time.Time
	for _, raw := range raws {
		msg, ok := raw.message(prev, now)
		if !ok {
			res.Skipped++
			continue
		}
		res.Messages = append(res.Messages, msg)
		prev = &res.Messages[len(res.Messages)-1].Timestamp
	}
	return res, nil
}

// ParseJSONL extracts top-level JSON objects from data by brace depth, so
// records may span lines and contain raw newlines inside strings. Control
// characters are replaced by spaces before decoding; chunks that still do
// not decode are skipped.
func ParseJSONL(data []byte, now time.Time) *LoadResult {
	chunks, balanced := splitObjects(data)
	res := &LoadResult{
		Messages:   make([]conversation.Message, 0, len(chunks)),
		Unbalanced: !balanced,
	}

	var prev *time.Time
	for _, chunk := range chunks {
		var raw rawRecord
		if err := json.Unmarshal(sanitize(chunk), &raw); err != nil {
			res.Skipped++
			continue
		}
		msg, ok := raw.message(prev, now)
		if !ok {
			res.Skipped++
			continue
		}
		res.Messages = append(res.Messages, msg)
		prev = &res.Messages[len(res.Messages)-1].Timestamp
	}
	return res
}

func splitObjects(data []byte) ([][]byte, bool) {
	var chunks [][]byte
	depth := 0
	inString := false
	escape := false
	start := -1

	for i, c := range data {
		if escape {
			escape = false
			continue
		}
		switch {
		case c == '\\':
			escape = true
		case c == '"':
			inString = !inString
		case inString:
		case c == '{':
			if depth == 0 {
				start = i
			}
			depth++
		case c == '}':
			if depth == 0 {
				continue
			}
			depth--
			if depth == 0 && start >= 0 {
				chunks = append(chunks, data[start:i+1])
				start = -1
			}
		}
	}
	return chunks, depth == 0
}

func sanitize(chunk []byte) []byte {
	return bytes.Map(func(r rune) rune {
		if r < 32 && r != '\t' {
			return ' '
		}
		return r
	}, chunk)
}

// message converts a raw record. A missing role means user; a missing or
// unparseable timestamp is placed just after the previous message, or at
// now for the first one.
func (r rawRecord) message(prev *time.Time, now time.Time) (conversation.Message, bool) {
	role := conversation.Role(strings.ToLower(strings.TrimSpace(r.Role)))
	if role == "" {
		role = conversation.RoleUser
	}
	if !role.Valid() {
		return conversation.Message{}, false
	}

	ts, ok := parseTimestamp(r.Timestamp)
	if !ok {
		ts = now
		if prev != nil {
			ts = prev.Add(time.Millisecond)
		}
	}
	return conversation.NewMessage(role, r.Content, ts), true
}

func parseTimestamp(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts, true
		}
	}
	return time.Time{}, false
}
