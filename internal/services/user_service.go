package services

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"golang.org/x/crypto/bcrypt"

	domain "github.com/fitmart/api/internal/domain"
	"github.com/fitmart/api/internal/repositories"
)

const (
	userIDPrefix      = "usr_"
	otpValidity       = 5 * time.Minute
	otpDigits         = 6
	minPasswordLength = 6
)

var (
	// ErrUserInvalidInput signals the caller provided invalid data.
	ErrUserInvalidInput = errors.New("user: invalid input")
	// ErrUserNotFound indicates the account could not be located.
	ErrUserNotFound = errors.New("user: not found")
	// ErrUserEmailTaken indicates the email already has an account.
	ErrUserEmailTaken = errors.New("user: email already registered")
	// ErrUserInvalidCredentials covers wrong email or password without
	// distinguishing which.
	ErrUserInvalidCredentials = errors.New("user: invalid credentials")
	// ErrUserNotVerified indicates the account has not confirmed its OTP yet.
	ErrUserNotVerified = errors.New("user: email not verified")
	// ErrUserOTPInvalid covers a wrong, expired, or missing verification code.
	ErrUserOTPInvalid = errors.New("user: invalid or expired code")
)

// UserServiceDeps bundles collaborators required to construct the user service.
type UserServiceDeps struct {
	Users    repositories.UserRepository
	Tokens   TokenIssuer
	Notifier OTPNotifier
	Clock    func() time.Time
	// IDGenerator mints account ids; OTPGenerator mints verification codes.
	// Both default to secure generators and exist for deterministic tests.
	IDGenerator  func() string
	OTPGenerator func() string
	BcryptCost   int
	Logger       func(ctx context.Context, event string, fields map[string]any)
}

type userService struct {
	users      repositories.UserRepository
	tokens     TokenIssuer
	notifier   OTPNotifier
	clock      func() time.Time
	newID      func() string
	newOTP     func() string
	bcryptCost int
	logger     func(context.Context, string, map[string]any)
}

// NewUserService wires dependencies into a concrete UserService implementation.
func NewUserService(deps UserServiceDeps) (UserService, error) {
	if deps.Users == nil {
		return nil, errors.New("user service: user repository is required")
	}
	if deps.Tokens == nil {
		return nil, errors.New("user service: token issuer is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return ulid.Make().String()
		}
	}

	otpGen := deps.OTPGenerator
	if otpGen == nil {
		otpGen = randomOTP
	}

	cost := deps.BcryptCost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &userService{
		users:    deps.Users,
		tokens:   deps.Tokens,
		notifier: deps.Notifier,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:      idGen,
		newOTP:     otpGen,
		bcryptCost: cost,
		logger:     logger,
	}, nil
}

func (s *userService) Register(ctx context.Context, cmd RegisterCommand) (User, error) {
	name := strings.TrimSpace(cmd.UserName)
	if name == "" {
		return User{}, fmt.Errorf("%w: user name is required", ErrUserInvalidInput)
	}
	email := normalizeEmail(cmd.Email)
	if email == "" || !strings.Contains(email, "@") {
		return User{}, fmt.Errorf("%w: a valid email is required", ErrUserInvalidInput)
	}
	if len(cmd.Password) < minPasswordLength {
		return User{}, fmt.Errorf("%w: password must be at least %d characters", ErrUserInvalidInput, minPasswordLength)
	}

	if _, err := s.users.FindByEmail(ctx, email); err == nil {
		return User{}, fmt.Errorf("%w: %s", ErrUserEmailTaken, email)
	} else if !isNotFound(err) {
		return User{}, err
	}

	passwordHash, err := bcrypt.GenerateFromPassword([]byte(cmd.Password), s.bcryptCost)
	if err != nil {
		return User{}, fmt.Errorf("user: hash password: %w", err)
	}

	now := s.now()
	code := s.newOTP()
	otpHash, err := bcrypt.GenerateFromPassword([]byte(code), s.bcryptCost)
	if err != nil {
		return User{}, fmt.Errorf("user: hash otp: %w", err)
	}
	expires := now.Add(otpValidity)

	user := domain.User{
		ID:           userIDPrefix + s.newID(),
		UserName:     name,
		Email:        email,
		PasswordHash: string(passwordHash),
		Role:         domain.RoleUser,
		Verified:     false,
		OTPHash:      string(otpHash),
		OTPExpiresAt: &expires,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.users.Insert(ctx, user); err != nil {
		var repoErr repositories.RepositoryError
		if errors.As(err, &repoErr) && repoErr.IsConflict() {
			return User{}, fmt.Errorf("%w: %s", ErrUserEmailTaken, email)
		}
		return User{}, err
	}

	s.sendOTP(ctx, user, code)
	return scrubUser(user), nil
}

func (s *userService) VerifyOTP(ctx context.Context, cmd VerifyOTPCommand) (AuthSession, error) {
	email := normalizeEmail(cmd.Email)
	code := strings.TrimSpace(cmd.Code)
	if email == "" || code == "" {
		return AuthSession{}, fmt.Errorf("%w: email and code are required", ErrUserInvalidInput)
	}

	user, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		if isNotFound(err) {
			return AuthSession{}, fmt.Errorf("%w: %s", ErrUserNotFound, email)
		}
		return AuthSession{}, err
	}

	now := s.now()
	if user.OTPHash == "" || user.OTPExpiresAt == nil || now.After(*user.OTPExpiresAt) {
		return AuthSession{}, ErrUserOTPInvalid
	}
	if bcrypt.CompareHashAndPassword([]byte(user.OTPHash), []byte(code)) != nil {
		return AuthSession{}, ErrUserOTPInvalid
	}

	user.Verified = true
	user.OTPHash = ""
	user.OTPExpiresAt = nil
	user.UpdatedAt = now
	if err := s.users.Update(ctx, user); err != nil {
		return AuthSession{}, err
	}

	return s.issueSession(user)
}

func (s *userService) RequestOTP(ctx context.Context, email string) error {
	email = normalizeEmail(email)
	if email == "" {
		return fmt.Errorf("%w: email is required", ErrUserInvalidInput)
	}

	user, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		if isNotFound(err) {
			return fmt.Errorf("%w: %s", ErrUserNotFound, email)
		}
		return err
	}
	if user.Verified {
		return fmt.Errorf("%w: account already verified", ErrUserInvalidInput)
	}

	now := s.now()
	code := s.newOTP()
	otpHash, err := bcrypt.GenerateFromPassword([]byte(code), s.bcryptCost)
	if err != nil {
		return fmt.Errorf("user: hash otp: %w", err)
	}
	expires := now.Add(otpValidity)

	user.OTPHash = string(otpHash)
	user.OTPExpiresAt = &expires
	user.UpdatedAt = now
	if err := s.users.Update(ctx, user); err != nil {
		return err
	}

	s.sendOTP(ctx, user, code)
	return nil
}

func (s *userService) Login(ctx context.Context, cmd LoginCommand) (AuthSession, error) {
	email := normalizeEmail(cmd.Email)
	if email == "" || cmd.Password == "" {
		return AuthSession{}, fmt.Errorf("%w: email and password are required", ErrUserInvalidInput)
	}

	user, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		if isNotFound(err) {
			return AuthSession{}, ErrUserInvalidCredentials
		}
		return AuthSession{}, err
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(cmd.Password)) != nil {
		return AuthSession{}, ErrUserInvalidCredentials
	}
	if !user.Verified {
		return AuthSession{}, ErrUserNotVerified
	}

	return s.issueSession(user)
}

func (s *userService) GetUser(ctx context.Context, userID string) (User, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return User{}, fmt.Errorf("%w: user id is required", ErrUserInvalidInput)
	}

	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		if isNotFound(err) {
			return User{}, fmt.Errorf("%w: %s", ErrUserNotFound, userID)
		}
		return User{}, err
	}
	return scrubUser(user), nil
}

func (s *userService) ListUsers(ctx context.Context, filter UserListFilter) (domain.CursorPage[User], error) {
	page, err := s.users.List(ctx, filter)
	if err != nil {
		return domain.CursorPage[User]{}, err
	}
	for i := range page.Items {
		page.Items[i] = scrubUser(page.Items[i])
	}
	return page, nil
}

func (s *userService) issueSession(user domain.User) (AuthSession, error) {
	token, expiresAt, err := s.tokens.Issue(user.ID, user.Role)
	if err != nil {
		return AuthSession{}, fmt.Errorf("user: issue token: %w", err)
	}
	return AuthSession{
		User:      scrubUser(user),
		Token:     token,
		ExpiresAt: expiresAt,
	}, nil
}

func (s *userService) sendOTP(ctx context.Context, user domain.User, code string) {
	if s.notifier == nil {
		return
	}
	if !s.notifier.NotifyOTP(ctx, user.Email, user.UserName, code, otpValidity) {
		s.logger(ctx, "user.otp.send.failed", map[string]any{
			"user": user.ID,
		})
	}
}

func (s *userService) now() time.Time {
	return s.clock()
}

// scrubUser strips credential material before the account leaves the service.
func scrubUser(user domain.User) domain.User {
	user.PasswordHash = ""
	user.OTPHash = ""
	user.OTPExpiresAt = nil
	return user
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// randomOTP returns a zero-padded numeric code from crypto/rand.
func randomOTP() string {
	max := big.NewInt(1)
	for i := 0; i < otpDigits; i++ {
		max.Mul(max, big.NewInt(10))
	}
	n, err := rand.Int(rand.Reader, max)
	if err != nil {
		// crypto/rand failing means the process has bigger problems.
		panic(fmt.Sprintf("user: otp generation: %v", err))
	}
	return fmt.Sprintf("%0*d", otpDigits, n)
}
