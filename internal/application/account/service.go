package account

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-auth-api/internal/domain"
	"github.com/go-auth-api/internal/pkg/id"
	"github.com/go-auth-api/internal/pkg/otp"
	"golang.org/x/crypto/bcrypt"
)

const (
	otpLength      = 6
	maxOTPAttempts = 5
	imageURLTTL    = 15 * time.Minute
)

// DynamoDB attribute names used in partial update maps.
const (
	fieldName         = "name"
	fieldEmail        = "email"
	fieldVerified     = "verified"
	fieldOTPCode      = "otp_code"
	fieldOTPExpiresAt = "otp_expires_at"
	fieldPasswordHash = "password_hash"
	fieldProfileImage = "profile_image"
)

// Service is the account lifecycle engine: signup, OTP verification, login,
// OTP-gated password reset and profile updates.
type Service interface {
	Signup(ctx context.Context, req domain.SignupRequest, imageKey *string) (*domain.SafeUser, string, error)
	VerifyOTP(ctx context.Context, code string) (*domain.SafeUser, error)
	Login(ctx context.Context, req domain.LoginRequest) (*domain.SafeUser, string, error)
	RequestOTP(ctx context.Context, email string, purpose domain.OTPPurpose) error
	ResetPassword(ctx context.Context, code, newPassword string) (*domain.SafeUser, string, error)
	Get(ctx context.Context, userID string) (*domain.SafeUser, error)
	Update(ctx context.Context, userID string, req domain.UpdateUserRequest, imageKey *string) (*domain.SafeUser, error)
}

type userStore interface {
	Put(ctx context.Context, u *domain.User) error
	Get(ctx context.Context, userID string) (*domain.User, error)
	GetByEmail(ctx context.Context, email string) (*domain.User, error)
	GetByOTP(ctx context.Context, code string) (*domain.User, error)
	Update(ctx context.Context, userID string, updates map[string]interface{}) error
	ConsumeOTP(ctx context.Context, userID, code string, updates map[string]interface{}) error
}

type objectStore interface {
	PresignedURL(ctx context.Context, key string, ttl time.Duration) (string, error)
	Delete(ctx context.Context, key string) error
}

type mailSender interface {
	SendEmail(ctx context.Context, to, subject, body string) error
}

type tokenSigner interface {
	Sign(userID, email string) (string, error)
}

// PasswordHasher derives and checks password hashes. Pluggable so the
// algorithm can be swapped without touching the lifecycle engine.
type PasswordHasher interface {
	Hash(password string) (string, error)
	Compare(hash, password string) error
}

type bcryptHasher struct{}

func (bcryptHasher) Hash(password string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	return string(b), err
}

func (bcryptHasher) Compare(hash, password string) error {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
}

type service struct {
	repo        userStore
	objects     objectStore
	mailer      mailSender
	signer      tokenSigner
	hasher      PasswordHasher
	otpTTL      time.Duration
	mailTimeout time.Duration
}

type ServiceDeps struct {
	UserRepo    userStore
	ObjectStore objectStore
	Mailer      mailSender
	Signer      tokenSigner
	Hasher      PasswordHasher // defaults to bcrypt
	OTPTTL      time.Duration
	MailTimeout time.Duration
}

func NewService(deps ServiceDeps) Service {
	h := deps.Hasher
	if h == nil {
		h = bcryptHasher{}
	}
	return &service{
		repo:        deps.UserRepo,
		objects:     deps.ObjectStore,
		mailer:      deps.Mailer,
		signer:      deps.Signer,
		hasher:      h,
		otpTTL:      deps.OTPTTL,
		mailTimeout: deps.MailTimeout,
	}
}

// Signup creates an unverified account with a fresh OTP challenge and issues a
// session token. The OTP mail goes out after the record is committed; a
// delivery failure never rolls back the signup.
func (s *service) Signup(ctx context.Context, req domain.SignupRequest, imageKey *string) (*domain.SafeUser, string, error) {
	if _, err := s.repo.GetByEmail(ctx, req.Email); err == nil {
		return nil, "", fmt.Errorf("email already registered: %w", domain.ErrConflict)
	} else if !errors.Is(err, domain.ErrNotFound) {
		return nil, "", err
	}
	hash, err := s.hasher.Hash(req.Password)
	if err != nil {
		return nil, "", err
	}
	code, err := s.newOTP(ctx)
	if err != nil {
		return nil, "", err
	}
	now := time.Now().UTC()
	u := &domain.User{
		UserID:       id.New(),
		Name:         req.Name,
		Email:        req.Email,
		PasswordHash: hash,
		Verified:     false,
		OTPCode:      &code,
		OTPExpiresAt: now.Add(s.otpTTL).Unix(),
		ProfileImage: imageKey,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.repo.Put(ctx, u); err != nil {
		return nil, "", err
	}

	s.sendOTPMail(ctx, u.Email, u.Name, code, "verify")

	token, err := s.signer.Sign(u.UserID, u.Email)
	if err != nil {
		return nil, "", err
	}
	return s.sanitize(ctx, u), token, nil
}

// VerifyOTP consumes a pending verification code and flips the account to
// verified. The conditional consume guarantees a code transitions an account
// at most once; an expired code is rejected even when the value matches.
func (s *service) VerifyOTP(ctx context.Context, code string) (*domain.SafeUser, error) {
	u, err := s.repo.GetByOTP(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("invalid otp: %w", err)
	}
	if u.OTPExpiresAt < time.Now().Unix() {
		return nil, fmt.Errorf("otp has expired: %w", domain.ErrExpired)
	}
	if err := s.repo.ConsumeOTP(ctx, u.UserID, code, map[string]interface{}{
		fieldVerified: true,
	}); err != nil {
		return nil, err
	}
	u.Verified = true
	u.OTPCode = nil
	u.OTPExpiresAt = 0
	return s.sanitize(ctx, u), nil
}

func (s *service) Login(ctx context.Context, req domain.LoginRequest) (*domain.SafeUser, string, error) {
	u, err := s.repo.GetByEmail(ctx, req.Email)
	if err != nil {
		return nil, "", fmt.Errorf("user not found: %w", err)
	}
	if !u.Verified {
		return nil, "", fmt.Errorf("user is not verified: %w", domain.ErrForbidden)
	}
	if err := s.hasher.Compare(u.PasswordHash, req.Password); err != nil {
		return nil, "", fmt.Errorf("invalid email or password: %w", domain.ErrUnauthorized)
	}
	token, err := s.signer.Sign(u.UserID, u.Email)
	if err != nil {
		return nil, "", err
	}
	return s.sanitize(ctx, u), token, nil
}

// RequestOTP opens a fresh challenge for the account, replacing any code
// issued earlier. resend_otp is only meaningful before verification;
// forgot_password works in either state.
func (s *service) RequestOTP(ctx context.Context, email string, purpose domain.OTPPurpose) error {
	u, err := s.repo.GetByEmail(ctx, email)
	if err != nil {
		return fmt.Errorf("user not found: %w", err)
	}
	switch purpose {
	case domain.PurposeResendOTP:
		if u.Verified {
			return fmt.Errorf("user is already verified: %w", domain.ErrBadRequest)
		}
	case domain.PurposeForgotPassword:
	default:
		return fmt.Errorf("invalid flag %q: %w", purpose, domain.ErrBadRequest)
	}
	code, err := s.newOTP(ctx)
	if err != nil {
		return err
	}
	if err := s.repo.Update(ctx, u.UserID, map[string]interface{}{
		fieldOTPCode:      code,
		fieldOTPExpiresAt: time.Now().Add(s.otpTTL).Unix(),
	}); err != nil {
		return err
	}
	s.sendOTPMail(ctx, u.Email, u.Name, code, purpose)
	return nil
}

// ResetPassword replaces the credential of the account holding the code and
// clears the challenge. Deliberately allowed for unverified accounts so a
// user who lost their password mid-verification can still recover; the
// verification state is preserved.
func (s *service) ResetPassword(ctx context.Context, code, newPassword string) (*domain.SafeUser, string, error) {
	u, err := s.repo.GetByOTP(ctx, code)
	if err != nil {
		return nil, "", fmt.Errorf("invalid otp: %w", err)
	}
	if u.OTPExpiresAt < time.Now().Unix() {
		return nil, "", fmt.Errorf("otp has expired: %w", domain.ErrExpired)
	}
	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return nil, "", err
	}
	if err := s.repo.ConsumeOTP(ctx, u.UserID, code, map[string]interface{}{
		fieldPasswordHash: hash,
	}); err != nil {
		return nil, "", err
	}
	u.PasswordHash = hash
	u.OTPCode = nil
	u.OTPExpiresAt = 0
	token, err := s.signer.Sign(u.UserID, u.Email)
	if err != nil {
		return nil, "", err
	}
	return s.sanitize(ctx, u), token, nil
}

func (s *service) Get(ctx context.Context, userID string) (*domain.SafeUser, error) {
	u, err := s.repo.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.sanitize(ctx, u), nil
}

// Update applies a profile patch. Password changes require a valid pending
// OTP and are committed through the same conditional consume as verification,
// so a raced code cannot authorize two changes. A replacing image only
// commits with the rest of the patch; the previous asset is deleted after.
func (s *service) Update(ctx context.Context, userID string, req domain.UpdateUserRequest, imageKey *string) (*domain.SafeUser, error) {
	u, err := s.repo.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !u.Verified {
		return nil, fmt.Errorf("verify your account before updating profile: %w", domain.ErrUnprocessable)
	}

	updates := map[string]interface{}{}
	if req.Name != nil {
		updates[fieldName] = *req.Name
	}
	if req.Email != nil && *req.Email != u.Email {
		if other, err := s.repo.GetByEmail(ctx, *req.Email); err == nil && other.UserID != userID {
			return nil, fmt.Errorf("email already registered: %w", domain.ErrConflict)
		} else if err != nil && !errors.Is(err, domain.ErrNotFound) {
			return nil, err
		}
		updates[fieldEmail] = *req.Email
	}

	var oldImage *string
	if imageKey != nil {
		updates[fieldProfileImage] = *imageKey
		oldImage = u.ProfileImage
	}

	passwordChange := req.Password != nil
	if passwordChange {
		if req.OTP == nil {
			return nil, fmt.Errorf("otp is required to update password: %w", domain.ErrUnprocessable)
		}
		if u.OTPCode == nil || *u.OTPCode != *req.OTP || u.OTPExpiresAt < time.Now().Unix() {
			return nil, fmt.Errorf("invalid or expired otp: %w", domain.ErrUnprocessable)
		}
		hash, err := s.hasher.Hash(*req.Password)
		if err != nil {
			return nil, err
		}
		updates[fieldPasswordHash] = hash
	}

	if len(updates) > 0 {
		if passwordChange {
			err = s.repo.ConsumeOTP(ctx, userID, *req.OTP, updates)
		} else {
			err = s.repo.Update(ctx, userID, updates)
		}
		if err != nil {
			return nil, err
		}
	}

	// The patch is committed; removing the superseded asset is best-effort.
	if oldImage != nil && (imageKey == nil || *oldImage != *imageKey) {
		if err := s.objects.Delete(ctx, *oldImage); err != nil {
			slog.Warn("failed to delete replaced profile image", "user_id", userID, "key", *oldImage, "err", err)
		}
	}

	updated, err := s.repo.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.sanitize(ctx, updated), nil
}

// newOTP generates a code that no other open challenge currently holds.
// Lookup is by value alone, so uniqueness is enforced here with a bounded
// collision retry against the otp index.
func (s *service) newOTP(ctx context.Context) (string, error) {
	for attempt := 0; attempt < maxOTPAttempts; attempt++ {
		code, err := otp.Generate(otpLength)
		if err != nil {
			return "", err
		}
		_, err = s.repo.GetByOTP(ctx, code)
		if errors.Is(err, domain.ErrNotFound) {
			return code, nil
		}
		if err != nil {
			return "", err
		}
		// Another account holds this code, draw again.
	}
	return "", errors.New("could not allocate a unique otp")
}

// sendOTPMail delivers the code after the state change has committed. The
// attempt is bounded by its own timeout and a failure is only logged — the
// user can always request a resend.
func (s *service) sendOTPMail(ctx context.Context, email, name, code string, purpose domain.OTPPurpose) {
	subject := "Your Email Verification OTP"
	switch purpose {
	case domain.PurposeForgotPassword:
		subject = "Reset Your Password"
	case domain.PurposeResendOTP:
		subject = "Resend OTP for Verification"
	}
	body := fmt.Sprintf("Hi %s,\r\n\r\nYour OTP is %s. It will expire in %d minutes.\r\n",
		name, code, int(s.otpTTL.Minutes()))

	mailCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.mailTimeout)
	defer cancel()
	if err := s.mailer.SendEmail(mailCtx, email, subject, body); err != nil {
		slog.Warn("failed to send otp email", "email", email, "purpose", purpose, "err", err)
	}
}

func (s *service) sanitize(ctx context.Context, u *domain.User) *domain.SafeUser {
	imageURL := ""
	if u.ProfileImage != nil && *u.ProfileImage != "" {
		url, err := s.objects.PresignedURL(ctx, *u.ProfileImage, imageURLTTL)
		if err != nil {
			slog.Warn("failed to presign profile image", "user_id", u.UserID, "err", err)
		} else {
			imageURL = url
		}
	}
	return u.Sanitize(imageURL)
}
