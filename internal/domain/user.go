package domain

import "time"

// User is an account record in the users table.
// OTPCode and OTPExpiresAt are set together while a verification or
// password-reset challenge is open and cleared together when it is consumed.
type User struct {
	UserID       string    `json:"id" dynamodbav:"user_id"`
	Name         string    `json:"name" dynamodbav:"name"`
	Email        string    `json:"email" dynamodbav:"email"`
	PasswordHash string    `json:"-" dynamodbav:"password_hash"`
	Verified     bool      `json:"is_verified" dynamodbav:"verified"`
	OTPCode      *string   `json:"-" dynamodbav:"otp_code,omitempty"` // omitted when nil so the sparse otp-index skips the item
	OTPExpiresAt int64     `json:"-" dynamodbav:"otp_expires_at"`     // Unix seconds, 0 when no challenge open
	ProfileImage *string   `json:"-" dynamodbav:"profile_image,omitempty"` // S3 object key
	CreatedAt    time.Time `json:"created" dynamodbav:"created_at"`
	UpdatedAt    time.Time `json:"updated" dynamodbav:"updated_at"`
}

// SafeUser is the sanitized account view returned to clients:
// no password hash, no pending OTP, image key resolved to a URL.
type SafeUser struct {
	UserID       string    `json:"id"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	Verified     bool      `json:"is_verified"`
	ProfileImage string    `json:"profile_image,omitempty"`
	CreatedAt    time.Time `json:"created"`
	UpdatedAt    time.Time `json:"updated"`
}

// Sanitize strips credential fields. imageURL is the resolved URL for the
// stored profile image key, empty when the account has none.
func (u *User) Sanitize(imageURL string) *SafeUser {
	return &SafeUser{
		UserID:       u.UserID,
		Name:         u.Name,
		Email:        u.Email,
		Verified:     u.Verified,
		ProfileImage: imageURL,
		CreatedAt:    u.CreatedAt,
		UpdatedAt:    u.UpdatedAt,
	}
}

type SignupRequest struct {
	Name           string `json:"name" validate:"required,min=3,max=50"`
	Email          string `json:"email" validate:"required,email"`
	Password       string `json:"password" validate:"required,min=6,max=72"`
	RepeatPassword string `json:"repeat_password" validate:"required,eqfield=Password"`
}

type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type VerifyOTPRequest struct {
	OTP string `json:"verification_otp" validate:"required,len=6,numeric"`
}

// OTPPurpose selects the mail template and the lifecycle rules for RequestOTP.
type OTPPurpose string

const (
	PurposeForgotPassword OTPPurpose = "forgot_password"
	PurposeResendOTP      OTPPurpose = "resend_otp"
)

type RequestOTPRequest struct {
	Email string     `json:"email" validate:"required,email"`
	Flag  OTPPurpose `json:"flag" validate:"required"`
}

type ResetPasswordRequest struct {
	OTP         string `json:"verification_otp" validate:"required,len=6,numeric"`
	NewPassword string `json:"new_password" validate:"required,min=6,max=72"`
}

// UpdateUserRequest is the profile patch. A non-nil Password requires a valid
// OTP; the other fields apply independently of the password change.
type UpdateUserRequest struct {
	Name     *string `json:"name" validate:"omitempty,min=3,max=50"`
	Email    *string `json:"email" validate:"omitempty,email"`
	Password *string `json:"password" validate:"omitempty,min=6,max=72"`
	OTP      *string `json:"otp" validate:"omitempty,len=6,numeric"`
}
