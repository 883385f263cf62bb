// Package feed implements the read-side feed machinery: opaque pagination
// cursors and the k-way merge that combines precomputed feed rows with
// cached celebrity events into one deterministic total order.
package feed

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrBadCursor indicates a cursor token that this server did not issue or
// that has been corrupted in transit.
var ErrBadCursor = errors.New("malformed cursor")

// cursorVersion prefixes every token so the encoding can evolve without
// breaking clients holding old cursors.
const cursorVersion = "v1"

// Cursor is a decoded pagination position: the (created_at, event_id) of the
// last item returned. A page resumes strictly after this position in feed
// order, so items already delivered are never re-returned and items that
// existed at issue time are never skipped, regardless of concurrent writes.
type Cursor struct {
	CreatedAt time.Time
	EventID   string
}

// Encode renders the cursor as an opaque URL-safe token.
func (c Cursor) Encode() string {
	raw := fmt.Sprintf("%s|%d|%s", cursorVersion, c.CreatedAt.UTC().UnixNano(), c.EventID)
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

// DecodeCursor parses a token produced by Encode. The empty string decodes
// to a zero cursor with ok=false, meaning "start from the top".
func DecodeCursor(token string) (Cursor, bool, error) {
	if token == "" {
		return Cursor{}, false, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return Cursor{}, false, ErrBadCursor
	}
	parts := strings.SplitN(string(raw), "|", 3)
	if len(parts) != 3 || parts[0] != cursorVersion || parts[2] == "" {
		return Cursor{}, false, ErrBadCursor
	}
	nanos, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return Cursor{}, false, ErrBadCursor
	}
	return Cursor{
		CreatedAt: time.Unix(0, nanos).UTC(),
		EventID:   parts[2],
	}, true, nil
}
