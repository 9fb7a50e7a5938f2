// Package persistence contains helpers shared by repository implementations.
package persistence

import (
	"encoding/base64"
	"fmt"
	"strings"
	"time"
)

// Cursor is the client-held delivery checkpoint: the newest accepted
// suggestion the client has seen, by timestamp and head hash. The id rides
// along inside the opaque token so pagination stays stable when several
// suggestions share a timestamp.
type Cursor struct {
	LastSeen time.Time
	Hash     string
	LastID   string
}

// EncodeCursor serialises the cursor to an opaque token.
func EncodeCursor(c *Cursor) string {
	if c == nil {
		return ""
	}
	raw := fmt.Sprintf("%s|%s|%s", c.LastSeen.UTC().Format(time.RFC3339Nano), c.Hash, c.LastID)
	return base64.StdEncoding.EncodeToString([]byte(raw))
}

// DecodeCursor parses the encoded cursor token. An empty token decodes to a
// nil cursor, meaning "from the beginning".
func DecodeCursor(token string) (*Cursor, error) {
	if strings.TrimSpace(token) == "" {
		return nil, nil
	}
	decoded, err := base64.StdEncoding.DecodeString(token)
	if err != nil {
		return nil, err
	}
	parts := strings.SplitN(string(decoded), "|", 3)
	if len(parts) != 3 {
		return nil, fmt.Errorf("invalid cursor format")
	}
	ts, err := time.Parse(time.RFC3339Nano, parts[0])
	if err != nil {
		return nil, err
	}
	return &Cursor{LastSeen: ts, Hash: parts[1], LastID: parts[2]}, nil
}
