package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	domain "github.com/fitmart/api/internal/domain"
	"github.com/fitmart/api/internal/services"
)

type stubUserService struct {
	registerFn func(ctx context.Context, cmd services.RegisterCommand) (domain.User, error)
	verifyFn   func(ctx context.Context, cmd services.VerifyOTPCommand) (services.AuthSession, error)
	requestFn  func(ctx context.Context, email string) error
	loginFn    func(ctx context.Context, cmd services.LoginCommand) (services.AuthSession, error)
	getFn      func(ctx context.Context, userID string) (domain.User, error)
	listFn     func(ctx context.Context, filter services.UserListFilter) (domain.CursorPage[domain.User], error)
}

func (s *stubUserService) Register(ctx context.Context, cmd services.RegisterCommand) (domain.User, error) {
	if s.registerFn != nil {
		return s.registerFn(ctx, cmd)
	}
	return domain.User{}, nil
}

func (s *stubUserService) VerifyOTP(ctx context.Context, cmd services.VerifyOTPCommand) (services.AuthSession, error) {
	if s.verifyFn != nil {
		return s.verifyFn(ctx, cmd)
	}
	return services.AuthSession{}, nil
}

func (s *stubUserService) RequestOTP(ctx context.Context, email string) error {
	if s.requestFn != nil {
		return s.requestFn(ctx, email)
	}
	return nil
}

func (s *stubUserService) Login(ctx context.Context, cmd services.LoginCommand) (services.AuthSession, error) {
	if s.loginFn != nil {
		return s.loginFn(ctx, cmd)
	}
	return services.AuthSession{}, nil
}

func (s *stubUserService) GetUser(ctx context.Context, userID string) (domain.User, error) {
	if s.getFn != nil {
		return s.getFn(ctx, userID)
	}
	return domain.User{}, nil
}

func (s *stubUserService) ListUsers(ctx context.Context, filter services.UserListFilter) (domain.CursorPage[domain.User], error) {
	if s.listFn != nil {
		return s.listFn(ctx, filter)
	}
	return domain.CursorPage[domain.User]{}, nil
}

var _ services.UserService = (*stubUserService)(nil)

func TestAuthRegister(t *testing.T) {
	var gotCmd services.RegisterCommand
	users := &stubUserService{
		registerFn: func(_ context.Context, cmd services.RegisterCommand) (domain.User, error) {
			gotCmd = cmd
			return domain.User{
				ID:       "usr_01TEST",
				UserName: cmd.UserName,
				Email:    "shopper@example.com",
				Role:     domain.RoleUser,
			}, nil
		},
	}

	r := mountRoutes(NewAuthHandlers(users).Routes)
	req := authedRequest(http.MethodPost, "/register", `{"user_name":"Shopper","email":"Shopper@Example.com","password":"secret1"}`, nil)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	if gotCmd.Email != "Shopper@Example.com" || gotCmd.UserName != "Shopper" {
		t.Fatalf("unexpected register command %+v", gotCmd)
	}

	body := decodeBody(t, rr)
	user, ok := body["user"].(map[string]any)
	if !ok {
		t.Fatalf("expected user payload, got %v", body)
	}
	if user["id"] != "usr_01TEST" {
		t.Fatalf("unexpected user id %v", user["id"])
	}
	if user["email"] != "shopper@example.com" {
		t.Fatalf("unexpected email %v", user["email"])
	}
}

func TestAuthRegisterEmailTaken(t *testing.T) {
	users := &stubUserService{
		registerFn: func(context.Context, services.RegisterCommand) (domain.User, error) {
			return domain.User{}, services.ErrUserEmailTaken
		},
	}

	r := mountRoutes(NewAuthHandlers(users).Routes)
	req := authedRequest(http.MethodPost, "/register", `{"user_name":"x","email":"dup@example.com","password":"secret1"}`, nil)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rr.Code)
	}
	body := decodeBody(t, rr)
	if body["error"] != "email_taken" {
		t.Fatalf("expected email_taken error, got %v", body["error"])
	}
}

func TestAuthVerifyOTP(t *testing.T) {
	expiry := time.Date(2025, 5, 2, 9, 30, 0, 0, time.UTC)
	users := &stubUserService{
		verifyFn: func(_ context.Context, cmd services.VerifyOTPCommand) (services.AuthSession, error) {
			if cmd.Code != "123456" {
				return services.AuthSession{}, services.ErrUserOTPInvalid
			}
			return services.AuthSession{
				User:      domain.User{ID: "usr_01TEST", Email: cmd.Email, Verified: true, Role: domain.RoleUser},
				Token:     "session-token",
				ExpiresAt: expiry,
			}, nil
		},
	}

	r := mountRoutes(NewAuthHandlers(users).Routes)

	req := authedRequest(http.MethodPost, "/verify-otp", `{"email":"shopper@example.com","code":"123456"}`, nil)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	body := decodeBody(t, rr)
	if body["token"] != "session-token" {
		t.Fatalf("expected session token, got %v", body["token"])
	}
	if body["expires_at"] != "2025-05-02T09:30:00Z" {
		t.Fatalf("unexpected expiry %v", body["expires_at"])
	}

	req = authedRequest(http.MethodPost, "/verify-otp", `{"email":"shopper@example.com","code":"000000"}`, nil)
	rr = httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for wrong code, got %d", rr.Code)
	}
	body = decodeBody(t, rr)
	if body["error"] != "otp_invalid" {
		t.Fatalf("expected otp_invalid error, got %v", body["error"])
	}
}

func TestAuthLoginGuards(t *testing.T) {
	users := &stubUserService{
		loginFn: func(_ context.Context, cmd services.LoginCommand) (services.AuthSession, error) {
			switch cmd.Email {
			case "unverified@example.com":
				return services.AuthSession{}, services.ErrUserNotVerified
			case "shopper@example.com":
				return services.AuthSession{Token: "tok", User: domain.User{ID: "usr_1"}}, nil
			default:
				return services.AuthSession{}, services.ErrUserInvalidCredentials
			}
		},
	}

	r := mountRoutes(NewAuthHandlers(users).Routes)

	req := authedRequest(http.MethodPost, "/login", `{"email":"shopper@example.com","password":"secret1"}`, nil)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}

	req = authedRequest(http.MethodPost, "/login", `{"email":"unverified@example.com","password":"secret1"}`, nil)
	rr = httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for unverified account, got %d", rr.Code)
	}

	req = authedRequest(http.MethodPost, "/login", `{"email":"ghost@example.com","password":"nope"}`, nil)
	rr = httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bad credentials, got %d", rr.Code)
	}
}

func TestAuthResendOTP(t *testing.T) {
	var gotEmail string
	users := &stubUserService{
		requestFn: func(_ context.Context, email string) error {
			gotEmail = email
			return nil
		},
	}

	r := mountRoutes(NewAuthHandlers(users).Routes)
	req := authedRequest(http.MethodPost, "/resend-otp", `{"email":"shopper@example.com"}`, nil)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if gotEmail != "shopper@example.com" {
		t.Fatalf("expected resend for shopper@example.com, got %q", gotEmail)
	}
}

func TestAuthRegisterRejectsEmptyBody(t *testing.T) {
	r := mountRoutes(NewAuthHandlers(&stubUserService{}).Routes)
	req := authedRequest(http.MethodPost, "/register", "", nil)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty body, got %d", rr.Code)
	}
}
