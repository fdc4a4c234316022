package account

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-auth-api/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

// --- mocks ---

type mockUserStore struct{ mock.Mock }

func (m *mockUserStore) Put(ctx context.Context, u *domain.User) error {
	return m.Called(ctx, u).Error(0)
}
func (m *mockUserStore) Get(ctx context.Context, userID string) (*domain.User, error) {
	args := m.Called(ctx, userID)
	if u, _ := args.Get(0).(*domain.User); u != nil {
		return u, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *mockUserStore) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	args := m.Called(ctx, email)
	if u, _ := args.Get(0).(*domain.User); u != nil {
		return u, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *mockUserStore) GetByOTP(ctx context.Context, code string) (*domain.User, error) {
	args := m.Called(ctx, code)
	if u, _ := args.Get(0).(*domain.User); u != nil {
		return u, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *mockUserStore) Update(ctx context.Context, userID string, updates map[string]interface{}) error {
	return m.Called(ctx, userID, updates).Error(0)
}
func (m *mockUserStore) ConsumeOTP(ctx context.Context, userID, code string, updates map[string]interface{}) error {
	return m.Called(ctx, userID, code, updates).Error(0)
}

type mockMailer struct{ mock.Mock }

func (m *mockMailer) SendEmail(ctx context.Context, to, subject, body string) error {
	return m.Called(ctx, to, subject, body).Error(0)
}

// nilObjects is a no-op object store for tests that never touch images.
type nilObjects struct{}

func (nilObjects) PresignedURL(_ context.Context, key string, _ time.Duration) (string, error) {
	return "https://cdn.test/" + key, nil
}
func (nilObjects) Delete(context.Context, string) error { return nil }

type mockObjects struct{ mock.Mock }

func (m *mockObjects) PresignedURL(ctx context.Context, key string, ttl time.Duration) (string, error) {
	args := m.Called(ctx, key, ttl)
	return args.String(0), args.Error(1)
}
func (m *mockObjects) Delete(ctx context.Context, key string) error {
	return m.Called(ctx, key).Error(0)
}

type stubSigner struct{}

func (stubSigner) Sign(userID, _ string) (string, error) { return "token-" + userID, nil }

// --- helpers ---

func newTestService(us userStore, objects objectStore, mailer mailSender) Service {
	return NewService(ServiceDeps{
		UserRepo:    us,
		ObjectStore: objects,
		Mailer:      mailer,
		Signer:      stubSigner{},
		OTPTTL:      10 * time.Minute,
		MailTimeout: time.Second,
	})
}

func hashOf(t *testing.T, password string) string {
	t.Helper()
	h, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)
	return string(h)
}

func ptr[T any](v T) *T { return &v }

// --- Signup ---

func TestSignup_HappyPath(t *testing.T) {
	us := &mockUserStore{}
	ml := &mockMailer{}
	us.On("GetByEmail", mock.Anything, "ann@x.com").Return(nil, domain.ErrNotFound)
	us.On("GetByOTP", mock.Anything, mock.Anything).Return(nil, domain.ErrNotFound)

	var created *domain.User
	us.On("Put", mock.Anything, mock.AnythingOfType("*domain.User")).Run(func(args mock.Arguments) {
		created = args.Get(1).(*domain.User)
	}).Return(nil)
	ml.On("SendEmail", mock.Anything, "ann@x.com", "Your Email Verification OTP", mock.Anything).Return(nil)

	svc := newTestService(us, nilObjects{}, ml)
	user, token, err := svc.Signup(context.Background(), domain.SignupRequest{
		Name: "Ann", Email: "ann@x.com", Password: "secret1", RepeatPassword: "secret1",
	}, nil)

	require.NoError(t, err)
	assert.Equal(t, "token-"+user.UserID, token)
	assert.False(t, user.Verified)

	require.NotNil(t, created)
	require.NotNil(t, created.OTPCode)
	assert.Len(t, *created.OTPCode, 6)
	assert.InDelta(t, time.Now().Add(10*time.Minute).Unix(), created.OTPExpiresAt, 5)
	assert.NotEqual(t, "secret1", created.PasswordHash)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(created.PasswordHash), []byte("secret1")))
	us.AssertExpectations(t)
	ml.AssertExpectations(t)
}

func TestSignup_DuplicateEmail(t *testing.T) {
	us := &mockUserStore{}
	us.On("GetByEmail", mock.Anything, "ann@x.com").Return(&domain.User{UserID: "u1"}, nil)

	svc := newTestService(us, nilObjects{}, &mockMailer{})
	_, _, err := svc.Signup(context.Background(), domain.SignupRequest{
		Name: "Ann", Email: "ann@x.com", Password: "secret1", RepeatPassword: "secret1",
	}, nil)

	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrConflict))
	us.AssertNotCalled(t, "Put", mock.Anything, mock.Anything)
	us.AssertNotCalled(t, "Update", mock.Anything, mock.Anything, mock.Anything)
}

func TestSignup_MailFailureDoesNotFailSignup(t *testing.T) {
	us := &mockUserStore{}
	ml := &mockMailer{}
	us.On("GetByEmail", mock.Anything, "ann@x.com").Return(nil, domain.ErrNotFound)
	us.On("GetByOTP", mock.Anything, mock.Anything).Return(nil, domain.ErrNotFound)
	us.On("Put", mock.Anything, mock.Anything).Return(nil)
	ml.On("SendEmail", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(errors.New("smtp down"))

	svc := newTestService(us, nilObjects{}, ml)
	user, token, err := svc.Signup(context.Background(), domain.SignupRequest{
		Name: "Ann", Email: "ann@x.com", Password: "secret1", RepeatPassword: "secret1",
	}, nil)

	require.NoError(t, err)
	assert.NotNil(t, user)
	assert.NotEmpty(t, token)
}

// --- VerifyOTP ---

func TestVerifyOTP_HappyPath(t *testing.T) {
	us := &mockUserStore{}
	code := "123456"
	us.On("GetByOTP", mock.Anything, code).Return(&domain.User{
		UserID: "u1", Email: "ann@x.com", OTPCode: &code,
		OTPExpiresAt: time.Now().Add(5 * time.Minute).Unix(),
	}, nil)
	us.On("ConsumeOTP", mock.Anything, "u1", code, mock.MatchedBy(func(m map[string]interface{}) bool {
		return m[fieldVerified] == true
	})).Return(nil)

	svc := newTestService(us, nilObjects{}, &mockMailer{})
	user, err := svc.VerifyOTP(context.Background(), code)

	require.NoError(t, err)
	assert.True(t, user.Verified)
	us.AssertExpectations(t)
}

func TestVerifyOTP_UnknownCode(t *testing.T) {
	us := &mockUserStore{}
	us.On("GetByOTP", mock.Anything, "999999").Return(nil, domain.ErrNotFound)

	svc := newTestService(us, nilObjects{}, &mockMailer{})
	_, err := svc.VerifyOTP(context.Background(), "999999")

	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestVerifyOTP_ExpiredBeatsMatch(t *testing.T) {
	us := &mockUserStore{}
	code := "123456"
	us.On("GetByOTP", mock.Anything, code).Return(&domain.User{
		UserID: "u1", OTPCode: &code,
		OTPExpiresAt: time.Now().Add(-time.Minute).Unix(),
	}, nil)

	svc := newTestService(us, nilObjects{}, &mockMailer{})
	_, err := svc.VerifyOTP(context.Background(), code)

	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrExpired))
	assert.False(t, errors.Is(err, domain.ErrNotFound))
	us.AssertNotCalled(t, "ConsumeOTP", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestVerifyOTP_RacedConsume(t *testing.T) {
	us := &mockUserStore{}
	code := "123456"
	us.On("GetByOTP", mock.Anything, code).Return(&domain.User{
		UserID: "u1", OTPCode: &code,
		OTPExpiresAt: time.Now().Add(5 * time.Minute).Unix(),
	}, nil)
	us.On("ConsumeOTP", mock.Anything, "u1", code, mock.Anything).
		Return(domain.ErrNotFound)

	svc := newTestService(us, nilObjects{}, &mockMailer{})
	_, err := svc.VerifyOTP(context.Background(), code)

	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

// --- Login ---

func TestLogin_UnknownEmail(t *testing.T) {
	us := &mockUserStore{}
	us.On("GetByEmail", mock.Anything, "nobody@x.com").Return(nil, domain.ErrNotFound)

	svc := newTestService(us, nilObjects{}, &mockMailer{})
	_, _, err := svc.Login(context.Background(), domain.LoginRequest{Email: "nobody@x.com", Password: "x"})

	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestLogin_UnverifiedRejectedEvenWithCorrectPassword(t *testing.T) {
	us := &mockUserStore{}
	us.On("GetByEmail", mock.Anything, "ann@x.com").Return(&domain.User{
		UserID: "u1", Email: "ann@x.com", Verified: false,
		PasswordHash: hashOf(t, "secret1"),
	}, nil)

	svc := newTestService(us, nilObjects{}, &mockMailer{})
	_, _, err := svc.Login(context.Background(), domain.LoginRequest{Email: "ann@x.com", Password: "secret1"})

	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrForbidden))
}

func TestLogin_WrongPassword(t *testing.T) {
	us := &mockUserStore{}
	us.On("GetByEmail", mock.Anything, "ann@x.com").Return(&domain.User{
		UserID: "u1", Email: "ann@x.com", Verified: true,
		PasswordHash: hashOf(t, "secret1"),
	}, nil)

	svc := newTestService(us, nilObjects{}, &mockMailer{})
	_, _, err := svc.Login(context.Background(), domain.LoginRequest{Email: "ann@x.com", Password: "wrong"})

	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrUnauthorized))
}

func TestLogin_HappyPath(t *testing.T) {
	us := &mockUserStore{}
	us.On("GetByEmail", mock.Anything, "ann@x.com").Return(&domain.User{
		UserID: "u1", Email: "ann@x.com", Verified: true,
		PasswordHash: hashOf(t, "secret1"),
	}, nil)

	svc := newTestService(us, nilObjects{}, &mockMailer{})
	user, token, err := svc.Login(context.Background(), domain.LoginRequest{Email: "ann@x.com", Password: "secret1"})

	require.NoError(t, err)
	assert.Equal(t, "token-u1", token)
	assert.Equal(t, "u1", user.UserID)
}

// --- RequestOTP ---

func TestRequestOTP_ResendOnVerifiedAccount(t *testing.T) {
	us := &mockUserStore{}
	us.On("GetByEmail", mock.Anything, "ann@x.com").Return(&domain.User{
		UserID: "u1", Email: "ann@x.com", Verified: true,
	}, nil)

	svc := newTestService(us, nilObjects{}, &mockMailer{})
	err := svc.RequestOTP(context.Background(), "ann@x.com", domain.PurposeResendOTP)

	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrBadRequest))
	us.AssertNotCalled(t, "Update", mock.Anything, mock.Anything, mock.Anything)
}

func TestRequestOTP_InvalidFlag(t *testing.T) {
	us := &mockUserStore{}
	us.On("GetByEmail", mock.Anything, "ann@x.com").Return(&domain.User{UserID: "u1"}, nil)

	svc := newTestService(us, nilObjects{}, &mockMailer{})
	err := svc.RequestOTP(context.Background(), "ann@x.com", "bogus")

	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrBadRequest))
}

func TestRequestOTP_ForgotPasswordOnVerifiedAccount(t *testing.T) {
	us := &mockUserStore{}
	ml := &mockMailer{}
	us.On("GetByEmail", mock.Anything, "ann@x.com").Return(&domain.User{
		UserID: "u1", Email: "ann@x.com", Name: "Ann", Verified: true,
	}, nil)
	us.On("GetByOTP", mock.Anything, mock.Anything).Return(nil, domain.ErrNotFound)
	us.On("Update", mock.Anything, "u1", mock.MatchedBy(func(m map[string]interface{}) bool {
		code, ok := m[fieldOTPCode].(string)
		return ok && len(code) == 6 && m[fieldOTPExpiresAt] != nil
	})).Return(nil)
	ml.On("SendEmail", mock.Anything, "ann@x.com", "Reset Your Password", mock.Anything).Return(nil)

	svc := newTestService(us, nilObjects{}, ml)
	err := svc.RequestOTP(context.Background(), "ann@x.com", domain.PurposeForgotPassword)

	require.NoError(t, err)
	us.AssertExpectations(t)
	ml.AssertExpectations(t)
}

func TestRequestOTP_CollisionRetry(t *testing.T) {
	us := &mockUserStore{}
	ml := &mockMailer{}
	us.On("GetByEmail", mock.Anything, "ann@x.com").Return(&domain.User{
		UserID: "u1", Email: "ann@x.com", Verified: false,
	}, nil)
	// First draw collides with another open challenge, second is free.
	us.On("GetByOTP", mock.Anything, mock.Anything).Return(&domain.User{UserID: "u2"}, nil).Once()
	us.On("GetByOTP", mock.Anything, mock.Anything).Return(nil, domain.ErrNotFound)
	us.On("Update", mock.Anything, "u1", mock.Anything).Return(nil)
	ml.On("SendEmail", mock.Anything, "ann@x.com", "Resend OTP for Verification", mock.Anything).Return(nil)

	svc := newTestService(us, nilObjects{}, ml)
	err := svc.RequestOTP(context.Background(), "ann@x.com", domain.PurposeResendOTP)

	require.NoError(t, err)
	us.AssertNumberOfCalls(t, "GetByOTP", 2)
}

// --- ResetPassword ---

func TestResetPassword_ReplacesHashAndClearsChallenge(t *testing.T) {
	us := &mockUserStore{}
	code := "654321"
	us.On("GetByOTP", mock.Anything, code).Return(&domain.User{
		UserID: "u1", Email: "ann@x.com", Verified: true, OTPCode: &code,
		OTPExpiresAt: time.Now().Add(5 * time.Minute).Unix(),
		PasswordHash: hashOf(t, "secret1"),
	}, nil)
	us.On("ConsumeOTP", mock.Anything, "u1", code, mock.MatchedBy(func(m map[string]interface{}) bool {
		h, ok := m[fieldPasswordHash].(string)
		return ok && bcrypt.CompareHashAndPassword([]byte(h), []byte("newpass1")) == nil
	})).Return(nil)

	svc := newTestService(us, nilObjects{}, &mockMailer{})
	user, token, err := svc.ResetPassword(context.Background(), code, "newpass1")

	require.NoError(t, err)
	assert.Equal(t, "token-u1", token)
	assert.True(t, user.Verified)
	us.AssertExpectations(t)
}

func TestResetPassword_AllowedForUnverifiedAccount(t *testing.T) {
	us := &mockUserStore{}
	code := "654321"
	us.On("GetByOTP", mock.Anything, code).Return(&domain.User{
		UserID: "u1", Email: "ann@x.com", Verified: false, OTPCode: &code,
		OTPExpiresAt: time.Now().Add(5 * time.Minute).Unix(),
	}, nil)
	us.On("ConsumeOTP", mock.Anything, "u1", code, mock.Anything).Return(nil)

	svc := newTestService(us, nilObjects{}, &mockMailer{})
	user, _, err := svc.ResetPassword(context.Background(), code, "newpass1")

	require.NoError(t, err)
	assert.False(t, user.Verified, "verification state must be preserved")
}

func TestResetPassword_Expired(t *testing.T) {
	us := &mockUserStore{}
	code := "654321"
	us.On("GetByOTP", mock.Anything, code).Return(&domain.User{
		UserID: "u1", OTPCode: &code,
		OTPExpiresAt: time.Now().Add(-time.Second).Unix(),
	}, nil)

	svc := newTestService(us, nilObjects{}, &mockMailer{})
	_, _, err := svc.ResetPassword(context.Background(), code, "newpass1")

	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrExpired))
	us.AssertNotCalled(t, "ConsumeOTP", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

// --- Update ---

func TestUpdate_UnverifiedAccount(t *testing.T) {
	us := &mockUserStore{}
	us.On("Get", mock.Anything, "u1").Return(&domain.User{UserID: "u1", Verified: false}, nil)

	svc := newTestService(us, nilObjects{}, &mockMailer{})
	_, err := svc.Update(context.Background(), "u1", domain.UpdateUserRequest{Name: ptr("Bob")}, nil)

	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrUnprocessable))
}

func TestUpdate_PasswordChangeWithoutOTP(t *testing.T) {
	us := &mockUserStore{}
	us.On("Get", mock.Anything, "u1").Return(&domain.User{UserID: "u1", Verified: true}, nil)

	svc := newTestService(us, nilObjects{}, &mockMailer{})
	_, err := svc.Update(context.Background(), "u1", domain.UpdateUserRequest{Password: ptr("newpass1")}, nil)

	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrUnprocessable))
	us.AssertNotCalled(t, "Update", mock.Anything, mock.Anything, mock.Anything)
}

func TestUpdate_PasswordChangeWithWrongOTP(t *testing.T) {
	us := &mockUserStore{}
	code := "111111"
	us.On("Get", mock.Anything, "u1").Return(&domain.User{
		UserID: "u1", Verified: true, OTPCode: &code,
		OTPExpiresAt: time.Now().Add(5 * time.Minute).Unix(),
	}, nil)

	svc := newTestService(us, nilObjects{}, &mockMailer{})
	_, err := svc.Update(context.Background(), "u1", domain.UpdateUserRequest{
		Password: ptr("newpass1"), OTP: ptr("222222"),
	}, nil)

	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrUnprocessable))
}

func TestUpdate_PasswordChangeConsumesOTP(t *testing.T) {
	us := &mockUserStore{}
	code := "111111"
	us.On("Get", mock.Anything, "u1").Return(&domain.User{
		UserID: "u1", Verified: true, OTPCode: &code,
		OTPExpiresAt: time.Now().Add(5 * time.Minute).Unix(),
	}, nil)
	us.On("ConsumeOTP", mock.Anything, "u1", code, mock.MatchedBy(func(m map[string]interface{}) bool {
		_, ok := m[fieldPasswordHash].(string)
		return ok
	})).Return(nil)

	svc := newTestService(us, nilObjects{}, &mockMailer{})
	_, err := svc.Update(context.Background(), "u1", domain.UpdateUserRequest{
		Password: ptr("newpass1"), OTP: ptr(code),
	}, nil)

	require.NoError(t, err)
	us.AssertExpectations(t)
}

func TestUpdate_NameOnly(t *testing.T) {
	us := &mockUserStore{}
	us.On("Get", mock.Anything, "u1").Return(&domain.User{UserID: "u1", Verified: true}, nil)
	us.On("Update", mock.Anything, "u1", mock.MatchedBy(func(m map[string]interface{}) bool {
		return m[fieldName] == "Bob" && len(m) == 1
	})).Return(nil)

	svc := newTestService(us, nilObjects{}, &mockMailer{})
	user, err := svc.Update(context.Background(), "u1", domain.UpdateUserRequest{Name: ptr("Bob")}, nil)

	require.NoError(t, err)
	assert.NotNil(t, user)
	us.AssertExpectations(t)
}

func TestUpdate_EmailTakenByAnotherAccount(t *testing.T) {
	us := &mockUserStore{}
	us.On("Get", mock.Anything, "u1").Return(&domain.User{
		UserID: "u1", Email: "ann@x.com", Verified: true,
	}, nil)
	us.On("GetByEmail", mock.Anything, "bob@x.com").Return(&domain.User{UserID: "u2"}, nil)

	svc := newTestService(us, nilObjects{}, &mockMailer{})
	_, err := svc.Update(context.Background(), "u1", domain.UpdateUserRequest{Email: ptr("bob@x.com")}, nil)

	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrConflict))
}

func TestUpdate_ImageReplacementDeletesOldAsset(t *testing.T) {
	us := &mockUserStore{}
	obj := &mockObjects{}
	old := "uploads/old.png"
	us.On("Get", mock.Anything, "u1").Return(&domain.User{
		UserID: "u1", Verified: true, ProfileImage: &old,
	}, nil).Once()
	us.On("Update", mock.Anything, "u1", mock.MatchedBy(func(m map[string]interface{}) bool {
		return m[fieldProfileImage] == "uploads/new.png"
	})).Return(nil)
	obj.On("Delete", mock.Anything, old).Return(nil)

	updated := &domain.User{UserID: "u1", Verified: true, ProfileImage: ptr("uploads/new.png")}
	us.On("Get", mock.Anything, "u1").Return(updated, nil)
	obj.On("PresignedURL", mock.Anything, "uploads/new.png", mock.Anything).
		Return("https://cdn.test/uploads/new.png", nil)

	svc := newTestService(us, obj, &mockMailer{})
	user, err := svc.Update(context.Background(), "u1", domain.UpdateUserRequest{}, ptr("uploads/new.png"))

	require.NoError(t, err)
	assert.Equal(t, "https://cdn.test/uploads/new.png", user.ProfileImage)
	obj.AssertExpectations(t)
}
