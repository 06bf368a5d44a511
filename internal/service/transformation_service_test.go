package service

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"morphflux/internal/api/v1/dto"
	"morphflux/internal/model"
	"morphflux/internal/repository/repotest"
)

type transformationFixture struct {
	svc   *transformationService
	store *repotest.Store
	pub   *fakePublisher
	clock *fixedClock
	user  *model.User
	input *model.Image
}

func newTransformationFixture(t *testing.T) *transformationFixture {
	t.Helper()
	clock := newClock()
	store := repotest.New()
	pub := &fakePublisher{}
	svc := NewTransformationService(store.Transformations(), store.Images(), store.Users(), store.Usage(), pub, "transformation-jobs", nopLogger).(*transformationService)
	svc.now = clock.Now

	user := seedUser(t, store, "ada@example.com", "Sup3r$ecret", model.TierCreator)
	input := &model.Image{UserID: user.ID, OriginalFilename: "in.jpg", S3Key: "images/" + user.ID + "/1-a-in.jpg", S3Bucket: "b", MimeType: "image/jpeg", FileSize: 10}
	require.NoError(t, store.Images().CreateImage(context.Background(), input))

	return &transformationFixture{svc: svc, store: store, pub: pub, clock: clock, user: user, input: input}
}

func (f *transformationFixture) create(t *testing.T) *model.Transformation {
	t.Helper()
	tr, err := f.svc.Create(context.Background(), f.user, CreateTransformationInput{
		InputImageID: f.input.ID,
		Type:         model.TransformationStyleTransfer,
		Parameters:   map[string]any{"style": "van_gogh"},
	})
	require.NoError(t, err)
	return tr
}

func TestCreateTransformation(t *testing.T) {
	f := newTransformationFixture(t)

	tr := f.create(t)
	assert.Equal(t, model.StatusPending, tr.Status)
	assert.Equal(t, f.input.ID, tr.InputImageID)
	assert.Equal(t, 1, reloadUser(t, f.store, f.user.ID).MonthlyUsage)

	logs := f.store.UsageLogs()
	require.Len(t, logs, 1)
	assert.Equal(t, model.UsageActionTransformation, logs[0].Action)
	require.NotNil(t, logs[0].TransformationID)
	assert.Equal(t, tr.ID, *logs[0].TransformationID)

	require.Len(t, f.pub.msgs, 1)
	msg := f.pub.msgs[0]
	assert.Equal(t, "transformation-jobs", msg.Topic)
	assert.Equal(t, "style_transfer", msg.Attributes["transformation_type"])
	var job dto.TransformationJob
	require.NoError(t, json.Unmarshal(msg.Payload, &job))
	assert.Equal(t, tr.ID, job.TransformationID)
	assert.Equal(t, f.input.S3Key, job.InputKey)
	assert.Equal(t, "van_gogh", job.Parameters["style"])
}

func TestCreateTransformationKeepsRecordWhenPublishFails(t *testing.T) {
	f := newTransformationFixture(t)
	f.pub.err = errors.New("pubsub unavailable")

	tr := f.create(t)
	got, err := f.svc.Get(context.Background(), f.user.ID, tr.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, got.Status)
}

func TestCreateTransformationValidation(t *testing.T) {
	f := newTransformationFixture(t)
	ctx := context.Background()
	other := seedUser(t, f.store, "eve@example.com", "Sup3r$ecret", model.TierFree)

	_, err := f.svc.Create(ctx, f.user, CreateTransformationInput{InputImageID: f.input.ID, Type: "deep_fry"})
	assert.ErrorIs(t, err, ErrInvalidTransformationType)

	_, err = f.svc.Create(ctx, f.user, CreateTransformationInput{InputImageID: "00000000-0000-0000-0000-000000000000", Type: model.TransformationAgeProgression})
	assert.ErrorIs(t, err, ErrImageNotFound)

	_, err = f.svc.Create(ctx, other, CreateTransformationInput{InputImageID: f.input.ID, Type: model.TransformationAgeProgression})
	assert.ErrorIs(t, err, ErrForbidden)

	assert.Empty(t, f.pub.msgs)
	assert.Equal(t, 0, reloadUser(t, f.store, f.user.ID).MonthlyUsage)
}

func TestTransformationLifecycle(t *testing.T) {
	f := newTransformationFixture(t)
	ctx := context.Background()
	tr := f.create(t)

	got, err := f.svc.ApplyStatusUpdate(ctx, StatusUpdate{TransformationID: tr.ID, Status: model.StatusProcessing})
	require.NoError(t, err)
	require.NotNil(t, got.StartedAt)
	assert.Nil(t, got.CompletedAt)

	f.clock.Advance(1500 * time.Millisecond)
	got, err = f.svc.ApplyStatusUpdate(ctx, StatusUpdate{
		TransformationID: tr.ID,
		Status:           model.StatusCompleted,
		ResultMetadata:   map[string]any{"model": "v2"},
	})
	require.NoError(t, err)
	require.NotNil(t, got.CompletedAt)
	require.NotNil(t, got.ProcessingTimeMS)
	assert.Equal(t, 1500, *got.ProcessingTimeMS)
	assert.Equal(t, "v2", got.ResultMetadata["model"])

	input, err := f.store.Images().GetImageByID(ctx, f.input.ID)
	require.NoError(t, err)
	assert.True(t, input.IsProcessed)

	stats, err := f.svc.Stats(ctx, f.user.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Completed)
	assert.InDelta(t, 1500, stats.AvgProcessingTimeMS, 0.001)
}

func TestTerminalStatusesAreImmutable(t *testing.T) {
	f := newTransformationFixture(t)
	ctx := context.Background()

	for _, terminal := range []model.TransformationStatus{model.StatusCancelled, model.StatusFailed} {
		tr := f.create(t)
		_, err := f.svc.ApplyStatusUpdate(ctx, StatusUpdate{TransformationID: tr.ID, Status: terminal})
		require.NoError(t, err)

		for _, next := range []model.TransformationStatus{model.StatusProcessing, model.StatusCompleted, model.StatusFailed, model.StatusCancelled} {
			_, err := f.svc.ApplyStatusUpdate(ctx, StatusUpdate{TransformationID: tr.ID, Status: next})
			assert.ErrorIs(t, err, ErrInvalidTransition, "%s -> %s", terminal, next)
		}
	}

	tr := f.create(t)
	_, err := f.svc.ApplyStatusUpdate(ctx, StatusUpdate{TransformationID: tr.ID, Status: model.StatusCompleted})
	assert.ErrorIs(t, err, ErrInvalidTransition, "pending cannot jump to completed")

	_, err = f.svc.ApplyStatusUpdate(ctx, StatusUpdate{TransformationID: tr.ID, Status: "exploded"})
	assert.ErrorIs(t, err, ErrInvalidTransition)

	_, err = f.svc.ApplyStatusUpdate(ctx, StatusUpdate{TransformationID: "00000000-0000-0000-0000-000000000000", Status: model.StatusProcessing})
	assert.ErrorIs(t, err, ErrTransformationNotFound)
}

func TestCancelTransformation(t *testing.T) {
	f := newTransformationFixture(t)
	ctx := context.Background()
	other := seedUser(t, f.store, "eve@example.com", "Sup3r$ecret", model.TierFree)
	tr := f.create(t)

	_, err := f.svc.Cancel(ctx, other.ID, tr.ID)
	assert.ErrorIs(t, err, ErrTransformationNotFound)

	got, err := f.svc.Cancel(ctx, f.user.ID, tr.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCancelled, got.Status)
	assert.NotNil(t, got.CompletedAt)

	_, err = f.svc.Cancel(ctx, f.user.ID, tr.ID)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestOutputImageMustBelongToOwner(t *testing.T) {
	f := newTransformationFixture(t)
	ctx := context.Background()
	tr := f.create(t)
	other := seedUser(t, f.store, "eve@example.com", "Sup3r$ecret", model.TierFree)
	foreign := &model.Image{UserID: other.ID, S3Key: "images/" + other.ID + "/x.jpg"}
	require.NoError(t, f.store.Images().CreateImage(ctx, foreign))

	_, err := f.svc.ApplyStatusUpdate(ctx, StatusUpdate{TransformationID: tr.ID, Status: model.StatusProcessing, OutputImageID: &foreign.ID})
	assert.ErrorIs(t, err, ErrImageNotFound)
}

func TestProcessStatusMessage(t *testing.T) {
	f := newTransformationFixture(t)
	tr := f.create(t)

	payload, err := json.Marshal(dto.TransformationStatusMessage{TransformationID: tr.ID, Status: "processing"})
	require.NoError(t, err)
	got, err := f.svc.ProcessStatusMessage(context.Background(), &dto.PubSubPushRequest{
		Message: dto.PubSubMessage{Data: base64.StdEncoding.EncodeToString(payload), MessageID: "m-1"},
	})
	require.NoError(t, err)
	assert.Equal(t, model.StatusProcessing, got.Status)

	_, err = f.svc.ProcessStatusMessage(context.Background(), &dto.PubSubPushRequest{
		Message: dto.PubSubMessage{Data: base64.StdEncoding.EncodeToString([]byte(`{"status":"failed"}`)), MessageID: "m-2"},
	})
	assert.ErrorIs(t, err, ErrMalformedMessage)
}

func TestListTransformations(t *testing.T) {
	f := newTransformationFixture(t)
	for i := 0; i < 3; i++ {
		f.create(t)
	}
	items, total, err := f.svc.List(context.Background(), f.user.ID, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	assert.Len(t, items, 2)
}

func TestRetryTransformation(t *testing.T) {
	f := newTransformationFixture(t)
	ctx := context.Background()
	tr := f.create(t)

	_, err := f.svc.Retry(ctx, f.user, tr.ID, ClientInfo{})
	assert.ErrorIs(t, err, ErrNotRetryable, "pending jobs are still in flight")

	_, err = f.svc.ApplyStatusUpdate(ctx, StatusUpdate{TransformationID: tr.ID, Status: model.StatusFailed})
	require.NoError(t, err)

	other := seedUser(t, f.store, "eve@example.com", "Sup3r$ecret", model.TierStudio)
	_, err = f.svc.Retry(ctx, other, tr.ID, ClientInfo{})
	assert.ErrorIs(t, err, ErrTransformationNotFound)

	again, err := f.svc.Retry(ctx, f.user, tr.ID, ClientInfo{})
	require.NoError(t, err)
	assert.NotEqual(t, tr.ID, again.ID)
	assert.Equal(t, model.StatusPending, again.Status)
	assert.Equal(t, tr.InputImageID, again.InputImageID)
	assert.Equal(t, tr.Type, again.Type)
	assert.Equal(t, "van_gogh", again.Parameters["style"])
	assert.Equal(t, 2, reloadUser(t, f.store, f.user.ID).MonthlyUsage)
	require.Len(t, f.pub.msgs, 2)

	prev, err := f.svc.Get(ctx, f.user.ID, tr.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusFailed, prev.Status)
}
