package api

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/jwtauth/v5"
	"github.com/go-chi/render"
	"github.com/google/uuid"
	"github.com/jinzhu/copier"

	"github.com/authlink/authlink/pkg/authflow"
	"github.com/authlink/authlink/pkg/googleverify"
	"github.com/authlink/authlink/pkg/identity"
	"github.com/authlink/authlink/pkg/provider"
	"github.com/authlink/authlink/pkg/tokenservice"
)

const (
	AccessTokenName  = "accessToken"
	RefreshTokenName = "refreshToken"
)

type RegisterRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type VerifyEmailRequest struct {
	Email string `json:"email"`
	Code  string `json:"code"`
}

type ResendOTPRequest struct {
	Email string `json:"email"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Remember bool   `json:"remember"`
}

type RefreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type ForgotPasswordRequest struct {
	Email string `json:"email"`
}

type ResetPasswordRequest struct {
	Token       string `json:"token"`
	NewPassword string `json:"new_password"`
}

type ChangePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

type GoogleSignInRequest struct {
	IDToken  string `json:"id_token"`
	Remember bool   `json:"remember"`
}

type LinkGoogleRequest struct {
	IDToken string `json:"id_token"`
}

type TokenResponse struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
	ExpiresIn    int64     `json:"expires_in"`
}

type ProviderResponse struct {
	Type     string    `json:"type"`
	Email    string    `json:"email,omitempty"`
	LinkedAt time.Time `json:"linked_at"`
}

type IdentityResponse struct {
	ID            string             `json:"id"`
	Name          string             `json:"name"`
	Email         string             `json:"email"`
	EmailVerified bool               `json:"email_verified"`
	AvatarURL     string             `json:"avatar_url,omitempty"`
	Providers     []ProviderResponse `json:"providers"`
}

type AuthResponse struct {
	Identity IdentityResponse `json:"identity"`
	Tokens   TokenResponse    `json:"tokens"`
}

type MessageResponse struct {
	Message string `json:"message"`
}

// Handle exposes the auth flows over HTTP.
type Handle struct {
	flow           *authflow.AuthFlowService
	cookieHttpOnly bool
	cookieSecure   bool
}

// HandleOption configures a Handle
type HandleOption func(*Handle)

// WithCookieHttpOnly sets the HttpOnly flag on token cookies
func WithCookieHttpOnly(httpOnly bool) HandleOption {
	return func(h *Handle) {
		h.cookieHttpOnly = httpOnly
	}
}

// WithCookieSecure sets the Secure flag on token cookies
func WithCookieSecure(secure bool) HandleOption {
	return func(h *Handle) {
		h.cookieSecure = secure
	}
}

// NewHandle creates a new HTTP handle over the auth flow service
func NewHandle(flow *authflow.AuthFlowService, opts ...HandleOption) Handle {
	h := Handle{
		flow:           flow,
		cookieHttpOnly: true,
	}
	for _, opt := range opts {
		opt(&h)
	}
	return h
}

// Handler builds the public and protected routes. The tokenAuth verifier
// guards the protected group.
func Handler(h Handle, tokenAuth *jwtauth.JWTAuth) http.Handler {
	r := chi.NewRouter()

	r.Post("/register", h.PostRegister)
	r.Post("/verify-email", h.PostVerifyEmail)
	r.Post("/resend-otp", h.PostResendOTP)
	r.Post("/login", h.PostLogin)
	r.Post("/token/refresh", h.PostRefresh)
	r.Post("/logout", h.PostLogout)
	r.Post("/password/forgot", h.PostForgotPassword)
	r.Post("/password/reset", h.PostResetPassword)
	r.Post("/google", h.PostGoogleSignIn)

	r.Group(func(r chi.Router) {
		r.Use(jwtauth.Verifier(tokenAuth))
		r.Use(jwtauth.Authenticator(tokenAuth))
		r.Get("/me", h.GetMe)
		r.Post("/logout-all", h.PostLogoutAll)
		r.Put("/password/change", h.PutChangePassword)
		r.Post("/google/link", h.PostLinkGoogle)
		r.Delete("/providers/{type}", h.DeleteProvider)
		r.Delete("/account", h.DeleteAccount)
	})

	return r
}

func (h Handle) setTokenCookie(w http.ResponseWriter, tokenName, tokenValue string, expire time.Time) {
	tokenCookie := &http.Cookie{
		Name:     tokenName,
		Path:     "/",
		Value:    tokenValue,
		Expires:  expire,
		HttpOnly: h.cookieHttpOnly,
		Secure:   h.cookieSecure,
		SameSite: http.SameSiteLaxMode,
	}
	http.SetCookie(w, tokenCookie)
}

func (h Handle) clearTokenCookies(w http.ResponseWriter) {
	h.setTokenCookie(w, AccessTokenName, "", time.Unix(0, 0))
	h.setTokenCookie(w, RefreshTokenName, "", time.Unix(0, 0))
}

func (h Handle) writeAuthResult(w http.ResponseWriter, r *http.Request, result authflow.AuthResult) {
	h.setTokenCookie(w, AccessTokenName, result.Tokens.AccessToken, result.Tokens.ExpiresAt)
	h.setTokenCookie(w, RefreshTokenName, result.Tokens.RefreshToken, result.Tokens.ExpiresAt)

	resp := AuthResponse{
		Identity: toIdentityResponse(result.Identity),
	}
	copier.Copy(&resp.Tokens, &result.Tokens)
	render.JSON(w, r, resp)
}

func toIdentityResponse(ident identity.Identity) IdentityResponse {
	resp := IdentityResponse{
		ID:            ident.ID.String(),
		Name:          ident.Name,
		Email:         ident.PrimaryEmail,
		EmailVerified: ident.PrimaryEmailVerified(),
		AvatarURL:     ident.AvatarURL,
	}
	for _, p := range ident.Providers {
		resp.Providers = append(resp.Providers, ProviderResponse{
			Type:     string(p.Type),
			Email:    p.Email,
			LinkedAt: p.LinkedAt,
		})
	}
	return resp
}

// renderError maps service errors onto HTTP status codes. Messages name the
// cause but never the other account involved in a collision.
func renderError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	message := "Internal error"

	switch {
	case errors.Is(err, authflow.ErrEmailAlreadyRegistered),
		errors.Is(err, provider.ErrProviderAlreadyLinked),
		errors.Is(err, provider.ErrSubLinkedElsewhere),
		errors.Is(err, provider.ErrEmailVerifiedElsewhere),
		errors.Is(err, provider.ErrLastFactor):
		status = http.StatusConflict
		message = err.Error()
	case errors.Is(err, authflow.ErrInvalidCredentials),
		errors.Is(err, authflow.ErrInvalidOTP),
		errors.Is(err, authflow.ErrInvalidResetToken):
		status = http.StatusBadRequest
		message = err.Error()
	case errors.Is(err, authflow.ErrEmailNotVerified):
		status = http.StatusForbidden
		message = err.Error()
	case errors.Is(err, googleverify.ErrInvalidToken),
		errors.Is(err, tokenservice.ErrInvalidToken),
		errors.Is(err, tokenservice.ErrTokenNotFound),
		errors.Is(err, tokenservice.ErrReuseDetected):
		status = http.StatusUnauthorized
		message = err.Error()
	case errors.Is(err, provider.ErrProviderNotFound),
		errors.Is(err, identity.ErrIdentityNotFound):
		status = http.StatusNotFound
		message = err.Error()
	case errors.Is(err, authflow.ErrGoogleNotConfigured):
		status = http.StatusServiceUnavailable
		message = err.Error()
	default:
		slog.Error("Unhandled service error", "err", err)
	}

	render.Status(r, status)
	render.JSON(w, r, MessageResponse{Message: message})
}

// identityIDFromToken extracts the authenticated identity id from the
// verified JWT claims.
func identityIDFromToken(r *http.Request) (uuid.UUID, error) {
	_, claims, err := jwtauth.FromContext(r.Context())
	if err != nil {
		return uuid.Nil, err
	}
	sub, _ := claims["sub"].(string)
	return uuid.Parse(sub)
}

// refreshTokenFromRequest reads the refresh token from the request body,
// falling back to the cookie.
func refreshTokenFromRequest(r *http.Request) string {
	var data RefreshRequest
	if err := render.DecodeJSON(r.Body, &data); err == nil && data.RefreshToken != "" {
		return data.RefreshToken
	}
	if cookie, err := r.Cookie(RefreshTokenName); err == nil {
		return cookie.Value
	}
	return ""
}

// Register a new password identity
// (POST /register)
func (h Handle) PostRegister(w http.ResponseWriter, r *http.Request) {
	data := RegisterRequest{}
	if err := render.DecodeJSON(r.Body, &data); err != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, MessageResponse{Message: "Unable to parse request body"})
		return
	}
	if data.Email == "" || data.Password == "" {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, MessageResponse{Message: "Email and password are required"})
		return
	}

	ident, err := h.flow.Register(r.Context(), data.Name, data.Email, data.Password)
	if err != nil {
		renderError(w, r, err)
		return
	}

	render.Status(r, http.StatusCreated)
	render.JSON(w, r, toIdentityResponse(ident))
}

// Verify an email address with a one-time code
// (POST /verify-email)
func (h Handle) PostVerifyEmail(w http.ResponseWriter, r *http.Request) {
	data := VerifyEmailRequest{}
	if err := render.DecodeJSON(r.Body, &data); err != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, MessageResponse{Message: "Unable to parse request body"})
		return
	}

	result, err := h.flow.VerifyEmailOTP(r.Context(), data.Email, data.Code)
	if err != nil {
		renderError(w, r, err)
		return
	}
	h.writeAuthResult(w, r, result)
}

// Resend the email verification code
// (POST /resend-otp)
func (h Handle) PostResendOTP(w http.ResponseWriter, r *http.Request) {
	data := ResendOTPRequest{}
	if err := render.DecodeJSON(r.Body, &data); err != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, MessageResponse{Message: "Unable to parse request body"})
		return
	}

	if err := h.flow.ResendOTP(r.Context(), data.Email); err != nil {
		renderError(w, r, err)
		return
	}
	render.JSON(w, r, MessageResponse{Message: "Verification code sent"})
}

// Login with email and password
// (POST /login)
func (h Handle) PostLogin(w http.ResponseWriter, r *http.Request) {
	data := LoginRequest{}
	if err := render.DecodeJSON(r.Body, &data); err != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, MessageResponse{Message: "Unable to parse request body"})
		return
	}

	result, err := h.flow.Login(r.Context(), data.Email, data.Password, data.Remember)
	if err != nil {
		renderError(w, r, err)
		return
	}
	h.writeAuthResult(w, r, result)
}

// Rotate a refresh token
// (POST /token/refresh)
func (h Handle) PostRefresh(w http.ResponseWriter, r *http.Request) {
	refreshToken := refreshTokenFromRequest(r)
	if refreshToken == "" {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, MessageResponse{Message: "Refresh token is required"})
		return
	}

	pair, err := h.flow.Refresh(r.Context(), refreshToken)
	if err != nil {
		if errors.Is(err, tokenservice.ErrReuseDetected) {
			h.clearTokenCookies(w)
		}
		renderError(w, r, err)
		return
	}

	h.setTokenCookie(w, AccessTokenName, pair.AccessToken, pair.ExpiresAt)
	h.setTokenCookie(w, RefreshTokenName, pair.RefreshToken, pair.ExpiresAt)
	resp := TokenResponse{}
	copier.Copy(&resp, &pair)
	render.JSON(w, r, resp)
}

// Revoke the presented refresh token
// (POST /logout)
func (h Handle) PostLogout(w http.ResponseWriter, r *http.Request) {
	refreshToken := refreshTokenFromRequest(r)
	if refreshToken != "" {
		if err := h.flow.Logout(r.Context(), refreshToken); err != nil {
			renderError(w, r, err)
			return
		}
	}
	h.clearTokenCookies(w)
	render.JSON(w, r, MessageResponse{Message: "Logged out"})
}

// Initiate a password reset
// (POST /password/forgot)
func (h Handle) PostForgotPassword(w http.ResponseWriter, r *http.Request) {
	data := ForgotPasswordRequest{}
	if err := render.DecodeJSON(r.Body, &data); err != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, MessageResponse{Message: "Unable to parse request body"})
		return
	}

	if err := h.flow.ForgotPassword(r.Context(), data.Email); err != nil {
		renderError(w, r, err)
		return
	}
	render.JSON(w, r, MessageResponse{Message: "If the email exists, a reset link has been sent"})
}

// Complete a password reset
// (POST /password/reset)
func (h Handle) PostResetPassword(w http.ResponseWriter, r *http.Request) {
	data := ResetPasswordRequest{}
	if err := render.DecodeJSON(r.Body, &data); err != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, MessageResponse{Message: "Unable to parse request body"})
		return
	}

	if err := h.flow.ResetPassword(r.Context(), data.Token, data.NewPassword); err != nil {
		renderError(w, r, err)
		return
	}
	render.JSON(w, r, MessageResponse{Message: "Password has been reset"})
}

// Sign in with a google id token
// (POST /google)
func (h Handle) PostGoogleSignIn(w http.ResponseWriter, r *http.Request) {
	data := GoogleSignInRequest{}
	if err := render.DecodeJSON(r.Body, &data); err != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, MessageResponse{Message: "Unable to parse request body"})
		return
	}

	result, err := h.flow.GoogleSignIn(r.Context(), data.IDToken, data.Remember)
	if err != nil {
		renderError(w, r, err)
		return
	}
	h.writeAuthResult(w, r, result)
}

// Return the authenticated identity
// (GET /me)
func (h Handle) GetMe(w http.ResponseWriter, r *http.Request) {
	identityID, err := identityIDFromToken(r)
	if err != nil {
		render.Status(r, http.StatusUnauthorized)
		render.JSON(w, r, MessageResponse{Message: "Unauthorized"})
		return
	}

	ident, err := h.flow.Me(r.Context(), identityID)
	if err != nil {
		renderError(w, r, err)
		return
	}
	render.JSON(w, r, toIdentityResponse(ident))
}

// Revoke every session of the authenticated identity
// (POST /logout-all)
func (h Handle) PostLogoutAll(w http.ResponseWriter, r *http.Request) {
	identityID, err := identityIDFromToken(r)
	if err != nil {
		render.Status(r, http.StatusUnauthorized)
		render.JSON(w, r, MessageResponse{Message: "Unauthorized"})
		return
	}

	if err := h.flow.LogoutAll(r.Context(), identityID); err != nil {
		renderError(w, r, err)
		return
	}
	h.clearTokenCookies(w)
	render.JSON(w, r, MessageResponse{Message: "All sessions revoked"})
}

// Change the password, or set a first password on a google-only identity
// (PUT /password/change)
func (h Handle) PutChangePassword(w http.ResponseWriter, r *http.Request) {
	identityID, err := identityIDFromToken(r)
	if err != nil {
		render.Status(r, http.StatusUnauthorized)
		render.JSON(w, r, MessageResponse{Message: "Unauthorized"})
		return
	}

	data := ChangePasswordRequest{}
	if err := render.DecodeJSON(r.Body, &data); err != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, MessageResponse{Message: "Unable to parse request body"})
		return
	}

	if err := h.flow.ChangePassword(r.Context(), identityID, data.CurrentPassword, data.NewPassword); err != nil {
		renderError(w, r, err)
		return
	}
	render.JSON(w, r, MessageResponse{Message: "Password changed"})
}

// Link a google account to the authenticated identity
// (POST /google/link)
func (h Handle) PostLinkGoogle(w http.ResponseWriter, r *http.Request) {
	identityID, err := identityIDFromToken(r)
	if err != nil {
		render.Status(r, http.StatusUnauthorized)
		render.JSON(w, r, MessageResponse{Message: "Unauthorized"})
		return
	}

	data := LinkGoogleRequest{}
	if err := render.DecodeJSON(r.Body, &data); err != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, MessageResponse{Message: "Unable to parse request body"})
		return
	}

	result, err := h.flow.LinkGoogle(r.Context(), identityID, data.IDToken)
	if err != nil {
		renderError(w, r, err)
		return
	}
	h.writeAuthResult(w, r, result)
}

// Unlink a sign-in method from the authenticated identity
// (DELETE /providers/{type})
func (h Handle) DeleteProvider(w http.ResponseWriter, r *http.Request) {
	identityID, err := identityIDFromToken(r)
	if err != nil {
		render.Status(r, http.StatusUnauthorized)
		render.JSON(w, r, MessageResponse{Message: "Unauthorized"})
		return
	}

	providerType := identity.ProviderType(chi.URLParam(r, "type"))
	sub := r.URL.Query().Get("sub")

	ident, err := h.flow.UnlinkProvider(r.Context(), identityID, providerType, sub)
	if err != nil {
		renderError(w, r, err)
		return
	}
	render.JSON(w, r, toIdentityResponse(ident))
}

// Soft-delete the authenticated identity
// (DELETE /account)
func (h Handle) DeleteAccount(w http.ResponseWriter, r *http.Request) {
	identityID, err := identityIDFromToken(r)
	if err != nil {
		render.Status(r, http.StatusUnauthorized)
		render.JSON(w, r, MessageResponse{Message: "Unauthorized"})
		return
	}

	if err := h.flow.DeleteAccount(r.Context(), identityID); err != nil {
		renderError(w, r, err)
		return
	}
	h.clearTokenCookies(w)
	render.JSON(w, r, MessageResponse{Message: "Account deleted"})
}
