package pagination

import (
	"encoding/base64"
	"encoding/json"
	"time"
)

type Pagination struct {
	PageToken string `form:"cursor"`
	PageSize  int    `form:"limit,default=100"`
}

// Cursor marks the last row a page emitted. Ordering is
// (created_at DESC, id DESC), so the pair is a total order even when
// many rows share a timestamp.
type Cursor struct {
	LastID        int64     `json:"last_id"`
	LastCreatedAt time.Time `json:"last_created_at"`
}

type PageInfo struct {
	NextCursor string `json:"next_cursor"`
	HasMore    bool   `json:"has_more"`
}

func EncodeCursor(data Cursor) string {
	b, err := json.Marshal(data)
	if err != nil {
		return ""
	}
	return base64.StdEncoding.EncodeToString(b)
}

// DecodeCursor parses an opaque token. Malformed tokens decode to nil
// with no error: callers restart from the beginning rather than failing
// the request.
func DecodeCursor(data string) *Cursor {
	if data == "" {
		return nil
	}

	b, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return nil
	}

	var cursor Cursor
	if err := json.Unmarshal(b, &cursor); err != nil {
		return nil
	}
	if cursor.LastID == 0 && cursor.LastCreatedAt.IsZero() {
		return nil
	}
	return &cursor
}

// BuildCursorPageInfo trims an over-fetched page (limit+1 rows) and
// derives the next token from the last emitted row.
func BuildCursorPageInfo[T any](data []T, limit int, extractCursor func(T) Cursor) ([]T, *PageInfo) {
	if len(data) == 0 {
		return data, &PageInfo{}
	}

	hasMore := false
	if len(data) > limit {
		hasMore = true
		data = data[:limit]
	}

	info := &PageInfo{HasMore: hasMore}
	if hasMore {
		info.NextCursor = EncodeCursor(extractCursor(data[len(data)-1]))
	}
	return data, info
}
