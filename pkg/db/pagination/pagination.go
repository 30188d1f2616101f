// Package pagination implements keyset paging over (created_at, id) ordered
// tables. Tokens are opaque to clients.
package pagination

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
	"time"
)

var ErrMalformedToken = errors.New("malformed_page_token")

// Pagination is the query binding shared by list endpoints.
type Pagination struct {
	PageToken string `form:"page_token"`
	PageSize  int    `form:"page_size" validate:"omitempty,gte=1,lte=250"`
}

// Size clamps the requested page size into [1, max], using def when unset.
func (p Pagination) Size(def, max int) int {
	switch {
	case p.PageSize <= 0:
		return def
	case p.PageSize > max:
		return max
	}
	return p.PageSize
}

// Cursor points at the last row a client has seen.
type Cursor struct {
	ID string    `json:"i"`
	At time.Time `json:"t"`
}

type PageInfo struct {
	NextPageToken string `json:"next_page_token"`
	HasMore       bool   `json:"has_more"`
}

func (c Cursor) Encode() string {
	b, _ := json.Marshal(struct {
		ID string `json:"i"`
		At string `json:"t"`
	}{ID: c.ID, At: c.At.UTC().Format(time.RFC3339Nano)})
	return base64.RawURLEncoding.EncodeToString(b)
}

// ParseToken decodes a token produced by Cursor.Encode. An empty token
// yields a nil cursor.
func ParseToken(token string) (*Cursor, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, nil
	}
	b, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return nil, ErrMalformedToken
	}
	var raw struct {
		ID string `json:"i"`
		At string `json:"t"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return nil, ErrMalformedToken
	}
	at, err := time.Parse(time.RFC3339Nano, raw.At)
	if err != nil || strings.TrimSpace(raw.ID) == "" {
		return nil, ErrMalformedToken
	}
	return &Cursor{ID: strings.TrimSpace(raw.ID), At: at}, nil
}

// Trim cuts a result fetched with limit+1 rows down to limit and reports
// the page info. cursorOf is called on the last kept row only.
func Trim[T any](rows []T, limit int, cursorOf func(T) Cursor) ([]T, PageInfo) {
	if limit <= 0 || len(rows) <= limit {
		return rows, PageInfo{}
	}
	rows = rows[:limit]
	return rows, PageInfo{
		HasMore:       true,
		NextPageToken: cursorOf(rows[len(rows)-1]).Encode(),
	}
}
