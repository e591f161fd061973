package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"github.com/vidfriends/toptop/internal/models"
)

// MinPasswordLength is the shortest password the reset form accepts.
const MinPasswordLength = 6

var otpPattern = regexp.MustCompile(`^[0-9]{6}$`)

// OAuth providers the backend can redirect to.
const (
	ProviderGoogle = "google"
	ProviderGitHub = "github"
)

// AuthService handles login, signup, logout and password recovery.
type AuthService struct {
	client *Client
}

// LoginResult is the body of a successful login.
type LoginResult struct {
	AccessToken  string       `json:"accessToken"`
	RefreshToken string       `json:"refreshToken"`
	User         *models.User `json:"user"`
}

// Login authenticates with email and password and starts the session.
func (s *AuthService) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return nil, validationError("email and password are required")
	}

	var result LoginResult
	if err := s.client.call(ctx, http.MethodPost, "/auth/login", map[string]string{
		"email":    email,
		"password": password,
	}, &result); err != nil {
		return nil, err
	}
	if result.AccessToken == "" {
		return nil, errors.New("login response carried no access token")
	}

	tokens := models.Tokens{AccessToken: result.AccessToken, RefreshToken: result.RefreshToken}
	if err := s.client.session.Begin(ctx, tokens, result.User); err != nil {
		return &result, err
	}
	return &result, nil
}

// SignUpRequest is the signup form.
type SignUpRequest struct {
	Email           string
	Username        string
	Password        string
	ConfirmPassword string
}

// SignUpResult is the body of a successful signup.
type SignUpResult struct {
	Message string       `json:"message"`
	User    *models.User `json:"user,omitempty"`
}

// SignUp registers a new account. It does not start a session.
func (s *AuthService) SignUp(ctx context.Context, req SignUpRequest) (*SignUpResult, error) {
	req.Email = strings.TrimSpace(req.Email)
	req.Username = strings.TrimSpace(req.Username)
	if req.Email == "" || req.Username == "" || req.Password == "" {
		return nil, validationError("email, username and password are required")
	}
	if req.Password != req.ConfirmPassword {
		return nil, ErrPasswordMismatch
	}

	var result SignUpResult
	if err := s.client.call(ctx, http.MethodPost, "/auth/signup", map[string]string{
		"email":    req.Email,
		"username": req.Username,
		"password": req.Password,
	}, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Logout ends the session on the server and clears it locally on success.
func (s *AuthService) Logout(ctx context.Context) error {
	if err := s.client.call(ctx, http.MethodPost, "/auth/logout", nil, nil); err != nil {
		return err
	}
	return s.client.session.Clear(ctx)
}

// ForgotPassword asks the server to email a reset code. A 409 means a code was
// already sent and is reported as ErrOTPAlreadySent.
func (s *AuthService) ForgotPassword(ctx context.Context, email string) error {
	email = strings.TrimSpace(email)
	if email == "" {
		return validationError("email is required")
	}

	err := s.client.call(ctx, http.MethodPost, "/auth/forgot-password", map[string]string{"email": email}, nil)
	if apiErr, ok := AsError(err); ok && apiErr.IsConflict() {
		return fmt.Errorf("%w: %w", ErrOTPAlreadySent, apiErr)
	}
	return err
}

// ResetPasswordRequest is the reset form.
type ResetPasswordRequest struct {
	Email           string
	OTP             string
	NewPassword     string
	ConfirmPassword string
}

// ResetPassword sets a new password using the emailed code.
func (s *AuthService) ResetPassword(ctx context.Context, req ResetPasswordRequest) error {
	req.Email = strings.TrimSpace(req.Email)
	req.OTP = strings.TrimSpace(req.OTP)
	if req.Email == "" {
		return validationError("email is required")
	}
	if !otpPattern.MatchString(req.OTP) {
		return validationError("reset code must be 6 digits")
	}
	if len(req.NewPassword) < MinPasswordLength {
		return validationError("password must be at least %d characters", MinPasswordLength)
	}
	if req.NewPassword != req.ConfirmPassword {
		return ErrPasswordMismatch
	}

	return s.client.call(ctx, http.MethodPost, "/auth/reset-password/"+url.PathEscape(req.OTP), map[string]string{
		"email":       req.Email,
		"newPassword": req.NewPassword,
	}, nil)
}

// OAuthURL returns the backend URL that starts the provider's login flow.
func (s *AuthService) OAuthURL(provider string) (string, error) {
	switch provider {
	case ProviderGoogle, ProviderGitHub:
		return s.client.baseURL + "/auth/" + provider, nil
	default:
		return "", validationError("unknown oauth provider %q", provider)
	}
}

// OAuthCallback is the query the backend redirects to after provider login.
type OAuthCallback struct {
	Token  string
	Email  string
	Avatar string
}

// ErrInvalidCallback is returned when the callback lacks token, email or avatar.
var ErrInvalidCallback = errors.New("oauth callback is missing token, email or avatar")

// ParseOAuthCallback extracts the callback parameters from a query string.
func ParseOAuthCallback(q url.Values) (OAuthCallback, error) {
	cb := OAuthCallback{
		Token:  strings.TrimSpace(q.Get("token")),
		Email:  strings.TrimSpace(q.Get("email")),
		Avatar: strings.TrimSpace(q.Get("avatar")),
	}
	if cb.Token == "" || cb.Email == "" || cb.Avatar == "" {
		return OAuthCallback{}, ErrInvalidCallback
	}
	return cb, nil
}

// CompleteOAuth starts a session from the callback. The backend issues no
// refresh token on this path, so an expired token ends the session.
func (s *AuthService) CompleteOAuth(ctx context.Context, cb OAuthCallback) (models.User, error) {
	if cb.Token == "" || cb.Email == "" || cb.Avatar == "" {
		return models.User{}, ErrInvalidCallback
	}
	user := models.User{Email: cb.Email, Avatar: cb.Avatar}
	if err := s.client.session.Begin(ctx, models.Tokens{AccessToken: cb.Token}, &user); err != nil {
		return user, err
	}
	return user, nil
}
