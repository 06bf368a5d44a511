// Package repotest provides in-memory implementations of the repository
// interfaces that honour the schema's unique and foreign-key rules.
package repotest

import (
	"context"
	"sort"
	"sync"
	"time"

	"morphflux/internal/model"
	"morphflux/internal/repository"

	"github.com/google/uuid"
)

type Store struct {
	mu              sync.Mutex
	users           map[string]*model.User
	images          map[string]*model.Image
	transformations map[string]*model.Transformation
	usage           []model.UsageLog
	deadLetters     []model.DeadLetterMessage
	seq             int

	Now func() time.Time
}

func New() *Store {
	return &Store{
		users:           map[string]*model.User{},
		images:          map[string]*model.Image{},
		transformations: map[string]*model.Transformation{},
		Now:             time.Now,
	}
}

func (s *Store) Users() repository.UserRepository                     { return userRepo{s} }
func (s *Store) Images() repository.ImageRepository                   { return imageRepo{s} }
func (s *Store) Transformations() repository.TransformationRepository { return transformationRepo{s} }
func (s *Store) Usage() repository.UsageRepository                    { return usageRepo{s} }
func (s *Store) DeadLetters() repository.DLQRepository                { return dlqRepo{s} }

// UsageLogs returns a copy of every recorded usage row.
func (s *Store) UsageLogs() []model.UsageLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.UsageLog(nil), s.usage...)
}

func (s *Store) DeadLetterMessages() []model.DeadLetterMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.DeadLetterMessage(nil), s.deadLetters...)
}

// SetSubscriptionTier moves a user onto tier, as billing would.
func (s *Store) SetSubscriptionTier(userID string, tier model.Tier) {
	userRepo{s}.update(userID, func(u *model.User) {
		u.SubscriptionTier = tier
		u.MonthlyLimit = tier.MonthlyLimit()
	})
}

// stamp returns strictly increasing timestamps so newest-first ordering is
// deterministic.
func (s *Store) stamp() time.Time {
	s.seq++
	return s.Now().Add(time.Duration(s.seq) * time.Microsecond)
}

func copyUser(u *model.User) *model.User {
	c := *u
	return &c
}

func copyImage(img *model.Image) *model.Image {
	c := *img
	return &c
}

func copyTransformation(t *model.Transformation) *model.Transformation {
	c := *t
	return &c
}

type userRepo struct{ s *Store }

func (r userRepo) CreateUser(_ context.Context, u *model.User) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, existing := range r.s.users {
		if existing.Email == u.Email {
			return repository.ErrDuplicate
		}
	}
	now := r.s.stamp()
	u.ID = uuid.NewString()
	u.CreatedAt, u.UpdatedAt = now, now
	r.s.users[u.ID] = copyUser(u)
	return nil
}

func (r userRepo) find(match func(*model.User) bool) *model.User {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, u := range r.s.users {
		if match(u) {
			return copyUser(u)
		}
	}
	return nil
}

func (r userRepo) GetUserByID(_ context.Context, id string) (*model.User, error) {
	return r.find(func(u *model.User) bool { return u.ID == id }), nil
}

func (r userRepo) GetUserByEmail(_ context.Context, email string) (*model.User, error) {
	return r.find(func(u *model.User) bool { return u.Email == email }), nil
}

func (r userRepo) GetUserByVerificationToken(_ context.Context, token string, now time.Time) (*model.User, error) {
	return r.find(func(u *model.User) bool {
		return u.EmailVerificationToken != nil && *u.EmailVerificationToken == token &&
			u.EmailVerificationExpires != nil && u.EmailVerificationExpires.After(now)
	}), nil
}

func (r userRepo) GetUserByResetToken(_ context.Context, token string, now time.Time) (*model.User, error) {
	return r.find(func(u *model.User) bool {
		return u.PasswordResetToken != nil && *u.PasswordResetToken == token &&
			u.PasswordResetExpires != nil && u.PasswordResetExpires.After(now)
	}), nil
}

func (r userRepo) update(id string, fn func(u *model.User)) *model.User {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	u, ok := r.s.users[id]
	if !ok {
		return nil
	}
	fn(u)
	u.UpdatedAt = r.s.stamp()
	return copyUser(u)
}

func (r userRepo) UpdateProfile(_ context.Context, id string, p repository.ProfileUpdate) (*model.User, error) {
	return r.update(id, func(u *model.User) {
		if p.FirstName != nil {
			u.FirstName = *p.FirstName
		}
		if p.LastName != nil {
			u.LastName = *p.LastName
		}
		if p.AvatarURL != nil {
			avatar := *p.AvatarURL
			u.AvatarURL = &avatar
		}
	}), nil
}

func (r userRepo) SetEmailVerificationToken(_ context.Context, id, token string, expires time.Time) error {
	r.update(id, func(u *model.User) {
		u.EmailVerificationToken, u.EmailVerificationExpires = &token, &expires
	})
	return nil
}

func (r userRepo) MarkEmailVerified(_ context.Context, id string) error {
	r.update(id, func(u *model.User) {
		u.EmailVerified = true
		u.EmailVerificationToken, u.EmailVerificationExpires = nil, nil
	})
	return nil
}

func (r userRepo) SetPasswordResetToken(_ context.Context, id, token string, expires time.Time) error {
	r.update(id, func(u *model.User) {
		u.PasswordResetToken, u.PasswordResetExpires = &token, &expires
	})
	return nil
}

func (r userRepo) UpdatePassword(_ context.Context, id, passwordHash string) error {
	r.update(id, func(u *model.User) {
		u.PasswordHash = passwordHash
		u.PasswordResetToken, u.PasswordResetExpires = nil, nil
	})
	return nil
}

func (r userRepo) SetRefreshToken(_ context.Context, id string, token *string, expires *time.Time) error {
	r.update(id, func(u *model.User) {
		u.RefreshToken, u.RefreshTokenExpires = token, expires
	})
	return nil
}

func (r userRepo) UpdateLastLogin(_ context.Context, id string, at time.Time) error {
	r.update(id, func(u *model.User) { u.LastLoginAt = &at })
	return nil
}

func (r userRepo) IncrementUsage(_ context.Context, id string) (int, error) {
	u := r.update(id, func(u *model.User) { u.MonthlyUsage++ })
	if u == nil {
		return 0, nil
	}
	return u.MonthlyUsage, nil
}

func (r userRepo) ResetMonthlyUsage(_ context.Context) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var n int64
	for _, u := range r.s.users {
		if u.MonthlyUsage != 0 {
			u.MonthlyUsage = 0
			n++
		}
	}
	return n, nil
}

func (r userRepo) Deactivate(_ context.Context, id, anonymizedEmail string) error {
	r.update(id, func(u *model.User) {
		u.IsActive = false
		u.Email = anonymizedEmail
		u.RefreshToken, u.RefreshTokenExpires = nil, nil
	})
	return nil
}

func (r userRepo) DeleteUser(_ context.Context, id string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	delete(r.s.users, id)
	for imgID, img := range r.s.images {
		if img.UserID == id {
			r.s.deleteImageLocked(imgID)
		}
	}
	for tID, t := range r.s.transformations {
		if t.UserID == id {
			delete(r.s.transformations, tID)
		}
	}
	kept := r.s.usage[:0]
	for _, l := range r.s.usage {
		if l.UserID != id {
			kept = append(kept, l)
		}
	}
	r.s.usage = kept
	return nil
}

// deleteImageLocked applies the images foreign-key actions: transformations
// using the image as input are removed, those using it as output lose the
// reference.
func (s *Store) deleteImageLocked(id string) {
	delete(s.images, id)
	for tID, t := range s.transformations {
		if t.InputImageID == id {
			delete(s.transformations, tID)
			continue
		}
		if t.OutputImageID != nil && *t.OutputImageID == id {
			t.OutputImageID = nil
		}
	}
}

type imageRepo struct{ s *Store }

func (r imageRepo) CreateImage(_ context.Context, img *model.Image) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	now := r.s.stamp()
	img.ID = uuid.NewString()
	img.CreatedAt, img.UpdatedAt = now, now
	r.s.images[img.ID] = copyImage(img)
	return nil
}

func (r imageRepo) GetImageByID(_ context.Context, id string) (*model.Image, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if img, ok := r.s.images[id]; ok {
		return copyImage(img), nil
	}
	return nil, nil
}

func (r imageRepo) byUser(userID string) []model.Image {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []model.Image
	for _, img := range r.s.images {
		if img.UserID == userID {
			out = append(out, *img)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

func (r imageRepo) ListImagesByUserID(_ context.Context, userID string, limit, offset int) ([]model.Image, error) {
	return page(r.byUser(userID), limit, offset), nil
}

func (r imageRepo) CountImagesByUserID(_ context.Context, userID string) (int, error) {
	return len(r.byUser(userID)), nil
}

func (r imageRepo) ListStorageKeysByUserID(_ context.Context, userID string) ([]string, error) {
	var keys []string
	for _, img := range r.byUser(userID) {
		if img.S3Key != "" {
			keys = append(keys, img.S3Key)
		}
	}
	return keys, nil
}

func (r imageRepo) MarkImageProcessed(_ context.Context, id string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if img, ok := r.s.images[id]; ok {
		img.IsProcessed = true
		img.UpdatedAt = r.s.stamp()
	}
	return nil
}

func (r imageRepo) DeleteImage(_ context.Context, id string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.deleteImageLocked(id)
	return nil
}

type transformationRepo struct{ s *Store }

func (r transformationRepo) CreateTransformation(_ context.Context, t *model.Transformation) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	now := r.s.stamp()
	t.ID = uuid.NewString()
	t.CreatedAt, t.UpdatedAt = now, now
	r.s.transformations[t.ID] = copyTransformation(t)
	return nil
}

func (r transformationRepo) GetTransformationByID(_ context.Context, id string) (*model.Transformation, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if t, ok := r.s.transformations[id]; ok {
		return copyTransformation(t), nil
	}
	return nil, nil
}

func (r transformationRepo) byUser(userID string) []model.Transformation {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []model.Transformation
	for _, t := range r.s.transformations {
		if t.UserID == userID {
			out = append(out, *t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

func (r transformationRepo) ListTransformationsByUserID(_ context.Context, userID string, limit, offset int) ([]model.Transformation, error) {
	return page(r.byUser(userID), limit, offset), nil
}

func (r transformationRepo) CountTransformationsByUserID(_ context.Context, userID string) (int, error) {
	return len(r.byUser(userID)), nil
}

func (r transformationRepo) UpdateTransformationStatus(_ context.Context, t *model.Transformation, from model.TransformationStatus) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	stored, ok := r.s.transformations[t.ID]
	if !ok || stored.Status != from {
		return repository.ErrStaleStatus
	}
	t.UpdatedAt = r.s.stamp()
	r.s.transformations[t.ID] = copyTransformation(t)
	return nil
}

func (r transformationRepo) GetTransformationStats(_ context.Context, userID string) (*model.TransformationStats, error) {
	var (
		stats     model.TransformationStats
		timed     int
		totalTime int
	)
	for _, t := range r.byUser(userID) {
		stats.Total++
		switch t.Status {
		case model.StatusPending:
			stats.Pending++
		case model.StatusProcessing:
			stats.Processing++
		case model.StatusCompleted:
			stats.Completed++
		case model.StatusFailed:
			stats.Failed++
		case model.StatusCancelled:
			stats.Cancelled++
		}
		if t.ProcessingTimeMS != nil {
			timed++
			totalTime += *t.ProcessingTimeMS
		}
	}
	if timed > 0 {
		stats.AvgProcessingTimeMS = float64(totalTime) / float64(timed)
	}
	return &stats, nil
}

type usageRepo struct{ s *Store }

func (r usageRepo) RecordUsage(_ context.Context, l *model.UsageLog) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	l.ID = uuid.NewString()
	l.CreatedAt = r.s.stamp()
	r.s.usage = append(r.s.usage, *l)
	return nil
}

func (r usageRepo) CountUsageSince(_ context.Context, userID string, action model.UsageAction, since time.Time) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var n int
	for _, l := range r.s.usage {
		if l.UserID == userID && l.Action == action && !l.CreatedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

type dlqRepo struct{ s *Store }

func (r dlqRepo) Create(_ context.Context, message *model.DeadLetterMessage) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, m := range r.s.deadLetters {
		if m.SubscriptionName == message.SubscriptionName && m.MessageID == message.MessageID {
			return nil
		}
	}
	now := r.s.stamp()
	message.ID = uuid.NewString()
	message.CreatedAt, message.UpdatedAt = now, now
	r.s.deadLetters = append(r.s.deadLetters, *message)
	return nil
}

func page[T any](items []T, limit, offset int) []T {
	out := []T{}
	if offset >= len(items) {
		return out
	}
	end := offset + limit
	if end > len(items) {
		end = len(items)
	}
	return append(out, items[offset:end]...)
}
