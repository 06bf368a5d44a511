package router

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"morphflux/internal/mailer/mailertest"
	"morphflux/internal/middleware"
	"morphflux/internal/model"
	"morphflux/internal/ratelimit"
	"morphflux/internal/repository/repotest"
	"morphflux/internal/service"
	"morphflux/internal/storage/storagetest"
	"morphflux/internal/token"
)

type recordingPublisher struct {
	mu       sync.Mutex
	payloads [][]byte
}

func (p *recordingPublisher) Publish(_ context.Context, _ string, payload []byte, _ map[string]string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.payloads = append(p.payloads, payload)
	return "msg-1", nil
}

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.payloads)
}

type testServer struct {
	handler http.Handler
	store   *repotest.Store
	mail    *mailertest.Recorder
	objects *storagetest.Memory
	pub     *recordingPublisher
}

func newTestServer(t *testing.T, opts ...func(*Options)) *testServer {
	t.Helper()
	logger := zerolog.Nop()
	store := repotest.New()
	mail := &mailertest.Recorder{}
	objects := storagetest.New("morphflux-test")
	pub := &recordingPublisher{}

	tokens := token.NewService("router-test-secret", time.Hour, 24*time.Hour)
	transformations := service.NewTransformationService(
		store.Transformations(), store.Images(), store.Users(), store.Usage(), pub, "transformation-jobs", logger)
	svc := Services{
		Auth: service.NewAuthService(store.Users(), tokens, mail,
			ratelimit.NewMemoryLimiter(100, time.Minute), bcrypt.MinCost, logger),
		Users: service.NewUserService(store.Users(), store.Images(), store.Transformations(), store.Usage(), objects,
			service.UserServiceConfig{BcryptCost: bcrypt.MinCost}, logger),
		Images: service.NewImageService(store.Images(), store.Users(), store.Usage(), objects, service.ImageServiceConfig{
			MaxFileSize:    10 << 20,
			AllowedTypes:   []string{"image/jpeg", "image/png", "image/webp"},
			UploadURLTTL:   5 * time.Minute,
			DownloadURLTTL: 15 * time.Minute,
		}, logger),
		Transformations: transformations,
		DLQ:             service.NewDLQService(store.DeadLetters(), transformations, logger),
	}
	o := Options{
		Tokens:         tokens,
		UserLookup:     store.Users(),
		PubSubAuth:     middleware.PubSubAuthConfig{SkipAuth: true},
		AllowedOrigins: []string{"*"},
	}
	for _, opt := range opts {
		opt(&o)
	}
	return &testServer{
		handler: New(svc, o, logger),
		store:   store,
		mail:    mail,
		objects: objects,
		pub:     pub,
	}
}

type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
	Code    string          `json:"code"`
}

func (s *testServer) do(t *testing.T, req *http.Request, accessToken string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	if accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+accessToken)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	var env envelope
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	}
	return rec, env
}

func (s *testServer) doJSON(t *testing.T, method, path, accessToken string, body any) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, APIPrefix+path, &buf)
	req.Header.Set("Content-Type", "application/json")
	return s.do(t, req, accessToken)
}

func decodeData(t *testing.T, env envelope, dst any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(env.Data, dst))
}

// paddedJPEG returns a valid JPEG grown to roughly size bytes with trailing zeros.
func paddedJPEG(t *testing.T, size int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 64, 48))
	for x := 0; x < 64; x++ {
		img.Set(x, x%48, color.RGBA{R: 200, G: 80, B: 20, A: 255})
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, nil))
	if pad := size - buf.Len(); pad > 0 {
		buf.Write(make([]byte, pad))
	}
	return buf.Bytes()
}

func uploadRequest(t *testing.T, filename string, data []byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	req := httptest.NewRequest(http.MethodPost, APIPrefix+"/upload/image", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

type authData struct {
	User struct {
		ID            string `json:"id"`
		EmailVerified bool   `json:"email_verified"`
	} `json:"user"`
	Tokens struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
	} `json:"tokens"`
}

// signUp registers, verifies and logs in a user, returning the login payload.
func (s *testServer) signUp(t *testing.T, email string) authData {
	t.Helper()
	rec, env := s.doJSON(t, http.MethodPost, "/auth/register", "", map[string]string{
		"email":      email,
		"password":   "Sup3r$ecret",
		"first_name": "Ada",
		"last_name":  "Lovelace",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.True(t, env.Success)

	sent, ok := s.mail.Last("verification", email)
	require.True(t, ok)
	rec, _ = s.doJSON(t, http.MethodPost, "/auth/verify-email", "", map[string]string{"token": sent.Token})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec, env = s.doJSON(t, http.MethodPost, "/auth/login", "", map[string]string{
		"email":    email,
		"password": "Sup3r$ecret",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var out authData
	decodeData(t, env, &out)
	require.True(t, out.User.EmailVerified)
	require.NotEmpty(t, out.Tokens.AccessToken)
	return out
}

type imageList struct {
	Images []struct {
		ID          string `json:"id"`
		IsProcessed bool   `json:"is_processed"`
		URL         string `json:"url"`
	} `json:"images"`
	Pagination struct {
		Total int `json:"total"`
	} `json:"pagination"`
}

func TestUploadListDeleteFlow(t *testing.T) {
	s := newTestServer(t)
	auth := s.signUp(t, "ada@example.com")
	access := auth.Tokens.AccessToken

	data := paddedJPEG(t, 2<<20)
	rec, env := s.do(t, uploadRequest(t, "holiday photo.jpg", data), access)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "Image uploaded successfully", env.Message)

	var uploaded struct {
		Image struct {
			ID       string `json:"id"`
			MimeType string `json:"mime_type"`
			FileSize int64  `json:"file_size"`
		} `json:"image"`
		UploadInfo struct {
			Dimensions string `json:"dimensions"`
			Format     string `json:"format"`
		} `json:"upload_info"`
	}
	decodeData(t, env, &uploaded)
	assert.Equal(t, "image/jpeg", uploaded.Image.MimeType)
	assert.Equal(t, int64(len(data)), uploaded.Image.FileSize)
	assert.Equal(t, "64x48", uploaded.UploadInfo.Dimensions)
	assert.Equal(t, "jpeg", uploaded.UploadInfo.Format)

	rec, env = s.doJSON(t, http.MethodGet, "/upload/images", access, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list imageList
	decodeData(t, env, &list)
	require.Len(t, list.Images, 1)
	assert.False(t, list.Images[0].IsProcessed)
	assert.NotEmpty(t, list.Images[0].URL)
	assert.Equal(t, 1, list.Pagination.Total)

	rec, env = s.doJSON(t, http.MethodGet, "/users/usage", access, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var usage struct {
		Usage struct {
			MonthlyUsage int `json:"monthly_usage"`
		} `json:"usage"`
	}
	decodeData(t, env, &usage)
	assert.Equal(t, 1, usage.Usage.MonthlyUsage)

	rec, _ = s.doJSON(t, http.MethodDelete, "/upload/images/"+uploaded.Image.ID, access, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec, env = s.doJSON(t, http.MethodGet, "/upload/images", access, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list = imageList{}
	decodeData(t, env, &list)
	assert.Empty(t, list.Images)
	assert.Equal(t, 0, list.Pagination.Total)
}

func TestUploadRejections(t *testing.T) {
	s := newTestServer(t)
	access := s.signUp(t, "grace@example.com").Tokens.AccessToken

	rec, env := s.do(t, uploadRequest(t, "notes.txt", []byte("plain text is not an image")), access)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Invalid file type", env.Error)

	rec, env = s.do(t, uploadRequest(t, "huge.jpg", paddedJPEG(t, 10<<20+100<<10)), access)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Equal(t, "File too large", env.Error)

	req := httptest.NewRequest(http.MethodPost, APIPrefix+"/upload/image", nil)
	rec, env = s.do(t, req, access)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "No file uploaded", env.Error)

	rec, _ = s.doJSON(t, http.MethodGet, "/upload/images/not-a-uuid", access, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	s := newTestServer(t)
	for _, path := range []string{"/auth/me", "/users/profile", "/upload/images", "/transformations"} {
		rec, env := s.doJSON(t, http.MethodGet, path, "", nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, path)
		assert.Equal(t, "Access token required", env.Error, path)
	}

	rec, env := s.doJSON(t, http.MethodGet, "/auth/me", "garbage", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "TOKEN_INVALID", env.Code)
}

func TestRegisterValidationAndConflict(t *testing.T) {
	s := newTestServer(t)
	rec, env := s.doJSON(t, http.MethodPost, "/auth/register", "", map[string]string{
		"email":      "bad",
		"password":   "short",
		"first_name": "A",
		"last_name":  "Lovelace",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Validation failed", env.Error)

	s.signUp(t, "dup@example.com")
	rec, _ = s.doJSON(t, http.MethodPost, "/auth/register", "", map[string]string{
		"email":      "DUP@example.com",
		"password":   "Sup3r$ecret",
		"first_name": "Ada",
		"last_name":  "Lovelace",
	})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestRefreshRotatesTokens(t *testing.T) {
	s := newTestServer(t)
	auth := s.signUp(t, "rot@example.com")

	rec, env := s.doJSON(t, http.MethodPost, "/auth/refresh", "", map[string]string{"refresh_token": auth.Tokens.RefreshToken})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var out struct {
		Tokens struct {
			RefreshToken string `json:"refresh_token"`
		} `json:"tokens"`
	}
	decodeData(t, env, &out)
	require.NotEmpty(t, out.Tokens.RefreshToken)

	// The old refresh token was replaced.
	rec, _ = s.doJSON(t, http.MethodPost, "/auth/refresh", "", map[string]string{"refresh_token": auth.Tokens.RefreshToken})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, env = s.doJSON(t, http.MethodPost, "/auth/refresh", "", map[string]string{})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Refresh token required", env.Error)
}

func TestTransformationNeedsVerifiedEmail(t *testing.T) {
	s := newTestServer(t)
	rec, env := s.doJSON(t, http.MethodPost, "/auth/register", "", map[string]string{
		"email":      "new@example.com",
		"password":   "Sup3r$ecret",
		"first_name": "New",
		"last_name":  "User",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	var reg authData
	decodeData(t, env, &reg)

	rec, env = s.doJSON(t, http.MethodPost, "/transformations", reg.Tokens.AccessToken, map[string]any{
		"input_image_id":      "7f1c1f6e-9f5b-4c8e-9d1a-3f1e2b6c4d5a",
		"transformation_type": "style_transfer",
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "EMAIL_NOT_VERIFIED", env.Code)
}

func TestTransformationWorkerRoundTrip(t *testing.T) {
	s := newTestServer(t)
	access := s.signUp(t, "worker@example.com").Tokens.AccessToken

	rec, env := s.do(t, uploadRequest(t, "input.jpg", paddedJPEG(t, 4096)), access)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var uploaded struct {
		Image struct {
			ID string `json:"id"`
		} `json:"image"`
	}
	decodeData(t, env, &uploaded)

	rec, env = s.doJSON(t, http.MethodPost, "/transformations", access, map[string]any{
		"input_image_id":      uploaded.Image.ID,
		"transformation_type": "style_transfer",
		"parameters":          map[string]any{"style": "ukiyo-e"},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created struct {
		Transformation struct {
			ID     string `json:"id"`
			Status string `json:"status"`
		} `json:"transformation"`
	}
	decodeData(t, env, &created)
	assert.Equal(t, "pending", created.Transformation.Status)
	assert.Equal(t, 1, s.pub.count())

	push := func(messageID string, status any) int {
		raw, err := json.Marshal(status)
		require.NoError(t, err)
		body := map[string]any{
			"message": map[string]any{
				"messageId": messageID,
				"data":      base64.StdEncoding.EncodeToString(raw),
			},
			"subscription": "projects/p/subscriptions/transformation-status",
		}
		rec, _ := s.doJSON(t, http.MethodPost, "/internal/transformations/status", "", body)
		return rec.Code
	}
	id := created.Transformation.ID
	assert.Equal(t, http.StatusNoContent, push("m1", map[string]any{"transformation_id": id, "status": "processing"}))
	assert.Equal(t, http.StatusNoContent, push("m2", map[string]any{"transformation_id": id, "status": "completed", "processing_time_ms": 900}))
	// A late update for a finished job is acknowledged and dropped.
	assert.Equal(t, http.StatusNoContent, push("m3", map[string]any{"transformation_id": id, "status": "processing"}))

	rec, env = s.doJSON(t, http.MethodGet, "/transformations/"+id, access, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var got struct {
		Transformation struct {
			Status string `json:"status"`
		} `json:"transformation"`
	}
	decodeData(t, env, &got)
	assert.Equal(t, "completed", got.Transformation.Status)

	rec, env = s.doJSON(t, http.MethodPost, "/transformations/"+id+"/cancel", access, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "INVALID_STATUS_TRANSITION", env.Code)
}

func TestDeadLetterIsAlwaysAcknowledged(t *testing.T) {
	s := newTestServer(t)
	body := map[string]any{
		"message": map[string]any{
			"messageId": "dead-1",
			"data":      base64.StdEncoding.EncodeToString([]byte("not json")),
		},
		"subscription": "projects/p/subscriptions/transformation-jobs-dlq",
	}
	rec, _ := s.doJSON(t, http.MethodPost, "/internal/transformations/dead-letter", "", body)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Len(t, s.store.DeadLetterMessages(), 1)

	rec, env := s.doJSON(t, http.MethodPost, "/internal/transformations/dead-letter", "", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Invalid Pub/Sub message format", env.Error)
}

func TestHealth(t *testing.T) {
	healthy := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec, env := healthy.do(t, req, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, env.Success)

	down := newTestServer(t, func(o *Options) {
		o.Health = func(context.Context) error { return errors.New("connection refused") }
	})
	rec, env = down.do(t, httptest.NewRequest(http.MethodGet, "/health", nil), "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.False(t, env.Success)
}

func TestUnknownRoute(t *testing.T) {
	s := newTestServer(t)
	rec, env := s.doJSON(t, http.MethodGet, "/nope", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Route not found", env.Error)
}

func TestRateLimitAppliesToAPI(t *testing.T) {
	s := newTestServer(t, func(o *Options) {
		o.IPLimiter = ratelimit.NewIPLimiter(0.001, 1)
	})
	rec, _ := s.doJSON(t, http.MethodGet, "/auth/me", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	rec, env := s.doJSON(t, http.MethodGet, "/auth/me", "", nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "RATE_LIMITED", env.Code)

	// Health checks are outside the API prefix and never throttled.
	rec, _ = s.do(t, httptest.NewRequest(http.MethodGet, "/health", nil), "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRetryIsStudioOnly(t *testing.T) {
	s := newTestServer(t)
	user := s.signUp(t, "retry@example.com")
	access := user.Tokens.AccessToken

	rec, env := s.do(t, uploadRequest(t, "input.jpg", paddedJPEG(t, 4096)), access)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var uploaded struct {
		Image struct {
			ID string `json:"id"`
		} `json:"image"`
	}
	decodeData(t, env, &uploaded)

	rec, env = s.doJSON(t, http.MethodPost, "/transformations", access, map[string]any{
		"input_image_id":      uploaded.Image.ID,
		"transformation_type": "face_enhancement",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created struct {
		Transformation struct {
			ID string `json:"id"`
		} `json:"transformation"`
	}
	decodeData(t, env, &created)
	id := created.Transformation.ID

	rec, _ = s.doJSON(t, http.MethodPost, "/transformations/"+id+"/cancel", access, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec, env = s.doJSON(t, http.MethodPost, "/transformations/"+id+"/retry", access, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "INSUFFICIENT_SUBSCRIPTION", env.Code)
	assert.Equal(t, 1, s.pub.count())

	// The tier is read from the account on every request, not from the token.
	s.store.SetSubscriptionTier(user.User.ID, model.TierStudio)

	rec, env = s.doJSON(t, http.MethodPost, "/transformations/"+id+"/retry", access, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var retried struct {
		Transformation struct {
			ID     string `json:"id"`
			Status string `json:"status"`
		} `json:"transformation"`
	}
	decodeData(t, env, &retried)
	assert.NotEqual(t, id, retried.Transformation.ID)
	assert.Equal(t, "pending", retried.Transformation.Status)
	assert.Equal(t, 2, s.pub.count())

	rec, env = s.doJSON(t, http.MethodPost, "/transformations/"+retried.Transformation.ID+"/retry", access, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "NOT_RETRYABLE", env.Code)
}
