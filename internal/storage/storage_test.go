package storage

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitizeFilename(t *testing.T) {
	assert.Equal(t, "my_holiday_photo__1_.jpg", SanitizeFilename("my holiday photo (1).jpg"))
	assert.Equal(t, "passwd", SanitizeFilename("../../etc/passwd"))
	assert.Equal(t, "evil.png", SanitizeFilename(`C:\Users\me\evil.png`))
	assert.Equal(t, "caf_.tiff", SanitizeFilename("café.tiff"))
}

func TestGenerateImageKey(t *testing.T) {
	now := time.UnixMilli(1735689600123)

	key := GenerateImageKey("user-1", "sunset beach.JPG", now)
	assert.Regexp(t, regexp.MustCompile(`^images/user-1/1735689600123-[0-9a-f]{12}-sunset_beach\.JPG$`), key)
	assert.True(t, OwnedBy(key, "user-1"))
	assert.False(t, OwnedBy(key, "user-2"))

	other := GenerateImageKey("user-1", "sunset beach.JPG", now)
	assert.NotEqual(t, key, other, "same user, file and millisecond still yield distinct keys")
}

func TestOwnedByRejectsTraversal(t *testing.T) {
	assert.False(t, OwnedBy("images/user-1/../user-2/x.jpg", "user-1"))
	assert.False(t, OwnedBy("images/user-10/x.jpg", "user-1"))
}

func TestCDNURL(t *testing.T) {
	assert.Nil(t, CDNURL("", "images/u/k.jpg"))

	got := CDNURL("d111111abcdef8.cloudfront.net", "images/u/k.jpg")
	require.NotNil(t, got)
	assert.Equal(t, "https://d111111abcdef8.cloudfront.net/images/u/k.jpg", *got)

	got = CDNURL("https://cdn.example.com/", "images/u/k.jpg")
	require.NotNil(t, got)
	assert.Equal(t, "https://cdn.example.com/images/u/k.jpg", *got)
}

func TestPresignIsOffline(t *testing.T) {
	client, err := NewS3Client(context.Background(), S3Config{
		Endpoint:     "http://localhost:9000",
		Region:       "us-east-1",
		AccessKey:    "test",
		SecretKey:    "test",
		UsePathStyle: true,
	})
	require.NoError(t, err)
	store := NewS3Store(client, "morphflux-test", zerolog.Nop())

	raw, err := store.PresignPut(context.Background(), "images/u/k.jpg", "image/jpeg", 5*time.Minute)
	require.NoError(t, err)
	u, err := url.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "/morphflux-test/images/u/k.jpg", u.Path)
	assert.Equal(t, "300", u.Query().Get("X-Amz-Expires"))

	raw, err = store.PresignGet(context.Background(), "images/u/k.jpg", 15*time.Minute)
	require.NoError(t, err)
	u, err = url.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "900", u.Query().Get("X-Amz-Expires"))
}

func TestIsNotFound(t *testing.T) {
	assert.True(t, isNotFound(fmt.Errorf("wrapped: %w", &types.NotFound{})))
	assert.True(t, isNotFound(&types.NoSuchKey{}))
	assert.True(t, isNotFound(&smithy.GenericAPIError{Code: "NotFound"}))
	assert.False(t, isNotFound(&smithy.GenericAPIError{Code: "AccessDenied"}))
}
