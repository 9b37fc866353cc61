package pagination

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Cursor is a keyset position for lists ordered by creation time then id, newest first.
type Cursor struct {
	CreatedAt time.Time `json:"c"`
	ID        string    `json:"i"`
}

// After reports whether (createdAt, id) sorts after the cursor in newest-first order.
func (c Cursor) After(createdAt time.Time, id string) bool {
	if !createdAt.Equal(c.CreatedAt) {
		return createdAt.Before(c.CreatedAt)
	}
	return id < c.ID
}

// EncodeToken serialises the cursor into a URL-safe page token.
func EncodeToken(cursor Cursor) (string, error) {
	if cursor.ID == "" {
		return "", nil
	}
	data, err := json.Marshal(cursor)
	if err != nil {
		return "", fmt.Errorf("pagination: encode token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(data), nil
}

// DecodeToken parses a token produced by EncodeToken. An empty token yields a zero cursor.
func DecodeToken(token string) (Cursor, bool, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Cursor{}, false, nil
	}
	decoded, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return Cursor{}, false, fmt.Errorf("%w: %v", ErrInvalidPageToken, err)
	}
	var cursor Cursor
	if err := json.Unmarshal(decoded, &cursor); err != nil {
		return Cursor{}, false, fmt.Errorf("%w: %v", ErrInvalidPageToken, err)
	}
	if cursor.ID == "" {
		return Cursor{}, false, fmt.Errorf("%w: missing id", ErrInvalidPageToken)
	}
	return cursor, true, nil
}
