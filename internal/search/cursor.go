package search

import (
	"encoding/base64"
	"strconv"
	"strings"
	"time"
)

// EncodeCursor packs the keyset position of the last row on a page into an
// opaque token: base64 of "<timestamp>|<id>".
func EncodeCursor(updatedAt time.Time, id int64) string {
	raw := updatedAt.Format(time.RFC3339Nano) + "|" + strconv.FormatInt(id, 10)
	return base64.StdEncoding.EncodeToString([]byte(raw))
}

// DecodeCursor unpacks an opaque cursor into its timestamp and id parts.
// Anything malformed is treated as no cursor at all, never as an error.
func DecodeCursor(cursor string) (string, int64, bool) {
	if cursor == "" {
		return "", 0, false
	}

	raw, err := base64.StdEncoding.DecodeString(cursor)
	if err != nil {
		return "", 0, false
	}

	ts, idPart, found := strings.Cut(string(raw), "|")
	if !found || ts == "" || idPart == "" {
		return "", 0, false
	}

	id, err := strconv.ParseInt(idPart, 10, 64)
	if err != nil {
		return "", 0, false
	}

	return ts, id, true
}
