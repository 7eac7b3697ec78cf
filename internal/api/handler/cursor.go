package handler

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
)

const cursorPrefix = "id"

// DecodeJobCursor returns the id after which the next page starts. An empty
// cursor means the first page.
func DecodeJobCursor(cursorStr string) (int64, error) {
	if cursorStr == "" {
		return 0, nil
	}

	decoded, err := base64.URLEncoding.DecodeString(cursorStr)
	if err != nil {
		return 0, err
	}

	prefix, rawID, ok := strings.Cut(string(decoded), "|")
	if !ok || prefix != cursorPrefix {
		return 0, fmt.Errorf("invalid cursor format")
	}

	id, err := strconv.ParseInt(rawID, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id in cursor: %q", rawID)
	}
	return id, nil
}

func EncodeJobCursor(lastID int64) string {
	return base64.URLEncoding.EncodeToString([]byte(cursorPrefix + "|" + strconv.FormatInt(lastID, 10)))
}
