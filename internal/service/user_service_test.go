package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"morphflux/internal/model"
	"morphflux/internal/repository"
	"morphflux/internal/repository/repotest"
	"morphflux/internal/storage/storagetest"
)

type userFixture struct {
	svc   *userService
	store *repotest.Store
	objs  *storagetest.Memory
	clock *fixedClock
	user  *model.User
}

func newUserFixture(t *testing.T, hardDelete bool) *userFixture {
	t.Helper()
	clock := newClock()
	store := repotest.New()
	objs := storagetest.New("morphflux-test")
	svc := NewUserService(store.Users(), store.Images(), store.Transformations(), store.Usage(), objs, UserServiceConfig{
		BcryptCost: bcrypt.MinCost,
		HardDelete: hardDelete,
	}, nopLogger).(*userService)
	svc.now = clock.Now
	return &userFixture{
		svc:   svc,
		store: store,
		objs:  objs,
		clock: clock,
		user:  seedUser(t, store, "ada@example.com", "Sup3r$ecret", model.TierFree),
	}
}

func (f *userFixture) seedImage(t *testing.T, key string) *model.Image {
	t.Helper()
	img := &model.Image{UserID: f.user.ID, OriginalFilename: "a.jpg", S3Key: key, S3Bucket: "morphflux-test", MimeType: "image/jpeg", FileSize: 3}
	require.NoError(t, f.store.Images().CreateImage(context.Background(), img))
	f.objs.Seed(key, "image/jpeg", []byte("abc"))
	return img
}

func TestUpdateProfile(t *testing.T) {
	f := newUserFixture(t, false)
	first, avatar := "Grace", "https://cdn.example.com/a.png"

	u, err := f.svc.UpdateProfile(context.Background(), f.user.ID, repository.ProfileUpdate{FirstName: &first, AvatarURL: &avatar})
	require.NoError(t, err)
	assert.Equal(t, "Grace", u.FirstName)
	assert.Equal(t, "User", u.LastName, "unset fields are kept")
	require.NotNil(t, u.AvatarURL)
	assert.Equal(t, avatar, *u.AvatarURL)

	_, err = f.svc.UpdateProfile(context.Background(), "00000000-0000-0000-0000-000000000000", repository.ProfileUpdate{FirstName: &first})
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestChangePassword(t *testing.T) {
	f := newUserFixture(t, false)
	ctx := context.Background()

	assert.ErrorIs(t, f.svc.ChangePassword(ctx, f.user, "wrong", "N3w$ecret!"), ErrIncorrectPassword)
	require.NoError(t, f.svc.ChangePassword(ctx, f.user, "Sup3r$ecret", "N3w$ecret!"))

	stored := reloadUser(t, f.store, f.user.ID)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(stored.PasswordHash), []byte("N3w$ecret!")))
}

func TestUsageSummary(t *testing.T) {
	f := newUserFixture(t, false)
	ctx := context.Background()
	resourceType := "image"
	for i := 0; i < 3; i++ {
		_, err := f.store.Users().IncrementUsage(ctx, f.user.ID)
		require.NoError(t, err)
		require.NoError(t, f.store.Usage().RecordUsage(ctx, &model.UsageLog{UserID: f.user.ID, Action: model.UsageActionUpload, ResourceType: &resourceType}))
	}

	sum, err := f.svc.Usage(ctx, reloadUser(t, f.store, f.user.ID))
	require.NoError(t, err)
	assert.Equal(t, 3, sum.MonthlyUsage)
	assert.Equal(t, 10, sum.MonthlyLimit)
	assert.Equal(t, 30, sum.UsagePercentage)
	assert.Equal(t, 7, sum.RemainingUsage)
	assert.Equal(t, model.TierFree, sum.SubscriptionTier)
	assert.Equal(t, time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC), sum.ResetDate)
	require.NotNil(t, sum.Transformations)
	assert.Equal(t, 0, sum.Transformations.Total)
}

func TestUsageResetDateFollowsSubscription(t *testing.T) {
	f := newUserFixture(t, false)
	expires := f.clock.Now().Add(10 * 24 * time.Hour)
	f.user.SubscriptionExpiresAt = &expires

	sum, err := f.svc.Usage(context.Background(), f.user)
	require.NoError(t, err)
	assert.Equal(t, expires, sum.ResetDate)
}

func TestSubscriptionStatus(t *testing.T) {
	f := newUserFixture(t, false)
	assert.Equal(t, "inactive", f.svc.Subscription(f.user).Status)

	expires := f.clock.Now().Add(time.Hour)
	f.user.SubscriptionExpiresAt = &expires
	sub := f.svc.Subscription(f.user)
	assert.Equal(t, "active", sub.Status)
	assert.Equal(t, 10, sub.MonthlyLimit)

	f.clock.Advance(2 * time.Hour)
	assert.Equal(t, "inactive", f.svc.Subscription(f.user).Status)
}

func TestSoftDeleteAccount(t *testing.T) {
	f := newUserFixture(t, false)
	ctx := context.Background()
	img := f.seedImage(t, "images/"+f.user.ID+"/1-a-a.jpg")

	assert.ErrorIs(t, f.svc.DeleteAccount(ctx, f.user, "wrong"), ErrIncorrectPassword)
	require.NoError(t, f.svc.DeleteAccount(ctx, f.user, "Sup3r$ecret"))

	stored := reloadUser(t, f.store, f.user.ID)
	assert.False(t, stored.IsActive)
	assert.True(t, strings.HasPrefix(stored.Email, "deleted_"))
	assert.True(t, strings.HasSuffix(stored.Email, "_ada@example.com"))

	got, err := f.store.Images().GetImageByID(ctx, img.ID)
	require.NoError(t, err)
	assert.NotNil(t, got, "soft delete keeps images")
	assert.Equal(t, 1, f.objs.Len())

	again, err := f.store.Users().GetUserByEmail(ctx, "ada@example.com")
	require.NoError(t, err)
	assert.Nil(t, again, "the address is free for a new account")
}

func TestHardDeleteAccount(t *testing.T) {
	f := newUserFixture(t, true)
	ctx := context.Background()
	f.seedImage(t, "images/"+f.user.ID+"/1-a-a.jpg")
	f.seedImage(t, "images/"+f.user.ID+"/2-b-b.jpg")

	require.NoError(t, f.svc.DeleteAccount(ctx, f.user, "Sup3r$ecret"))

	u, err := f.store.Users().GetUserByID(ctx, f.user.ID)
	require.NoError(t, err)
	assert.Nil(t, u)
	assert.Equal(t, 0, f.objs.Len())
}

func TestHardDeleteSurvivesStorageFailure(t *testing.T) {
	f := newUserFixture(t, true)
	f.seedImage(t, "images/"+f.user.ID+"/1-a-a.jpg")
	f.objs.DeleteErr = errors.New("storage flaked")

	require.NoError(t, f.svc.DeleteAccount(context.Background(), f.user, "Sup3r$ecret"))
	u, err := f.store.Users().GetUserByID(context.Background(), f.user.ID)
	require.NoError(t, err)
	assert.Nil(t, u)
}

func TestExportData(t *testing.T) {
	f := newUserFixture(t, false)
	ctx := context.Background()
	img := f.seedImage(t, "images/"+f.user.ID+"/1-a-a.jpg")
	require.NoError(t, f.store.Transformations().CreateTransformation(ctx, &model.Transformation{
		UserID:       f.user.ID,
		InputImageID: img.ID,
		Type:         model.TransformationAgeProgression,
		Status:       model.StatusPending,
	}))

	export, err := f.svc.ExportData(ctx, f.user)
	require.NoError(t, err)
	assert.Equal(t, f.clock.Now(), export.ExportDate)
	assert.Equal(t, f.user.ID, export.Profile.ID)
	assert.Len(t, export.Images, 1)
	assert.Len(t, export.Transformations, 1)
}

func TestActivity(t *testing.T) {
	f := newUserFixture(t, false)
	ctx := context.Background()
	img := f.seedImage(t, "images/"+f.user.ID+"/1-a-a.jpg")
	for i := 0; i < 3; i++ {
		require.NoError(t, f.store.Transformations().CreateTransformation(ctx, &model.Transformation{
			UserID: f.user.ID, InputImageID: img.ID, Type: model.TransformationStyleTransfer, Status: model.StatusPending,
		}))
	}

	items, total, err := f.svc.Activity(ctx, f.user.ID, 2, 2)
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	assert.Len(t, items, 1)
}
