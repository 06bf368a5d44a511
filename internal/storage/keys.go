package storage

import (
	"fmt"
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

const ImagePrefix = "images"

var unsafeFilenameChars = regexp.MustCompile(`[^a-zA-Z0-9.-]`)

// SanitizeFilename replaces every character outside [a-zA-Z0-9.-] with '_'.
func SanitizeFilename(name string) string {
	return unsafeFilenameChars.ReplaceAllString(path.Base(strings.ReplaceAll(name, "\\", "/")), "_")
}

// UserPrefix is the key prefix under which all of a user's objects live.
func UserPrefix(userID string) string {
	return fmt.Sprintf("%s/%s/", ImagePrefix, userID)
}

// GenerateImageKey builds images/{userID}/{unixMillis}-{random}-{sanitized}.
func GenerateImageKey(userID, filename string, now time.Time) string {
	random := strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	return fmt.Sprintf("%s%d-%s-%s", UserPrefix(userID), now.UnixMilli(), random, SanitizeFilename(filename))
}

// OwnedBy reports whether key sits under the user's prefix.
func OwnedBy(key, userID string) bool {
	return strings.HasPrefix(key, UserPrefix(userID)) && !strings.Contains(key, "..")
}

// CDNURL fronts key with the CloudFront domain, or returns nil when no
// domain is configured.
func CDNURL(domain, key string) *string {
	if domain == "" {
		return nil
	}
	domain = strings.TrimSuffix(strings.TrimPrefix(strings.TrimPrefix(domain, "https://"), "http://"), "/")
	u := fmt.Sprintf("https://%s/%s", domain, key)
	return &u
}
