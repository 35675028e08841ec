package storage

import (
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
	"time"
)

const objectPrefix = "journals"

// ObjectPath derives the storage path for an uploaded image from the owner
// and the original filename's extension.
func ObjectPath(userID int64, filename string) string {
	ext := strings.ToLower(filepath.Ext(filename))
	return fmt.Sprintf("%s/%d-%d%s", objectPrefix, userID, time.Now().UnixMilli(), ext)
}

// PathFromURL recovers the storage path from a stored public URL: the final
// two path segments, e.g. "journals/42-1700000000000.png". Returns "" when
// the URL does not look like one of ours.
func PathFromURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(parts) < 2 {
		return ""
	}
	if parts[len(parts)-2] != objectPrefix {
		return ""
	}
	return strings.Join(parts[len(parts)-2:], "/")
}
