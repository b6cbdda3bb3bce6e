package di

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	domain "github.com/fitmart/api/internal/domain"
	"github.com/fitmart/api/internal/notifications"
	"github.com/fitmart/api/internal/platform/auth"
	"github.com/fitmart/api/internal/platform/config"
	"github.com/fitmart/api/internal/repositories"
	"github.com/fitmart/api/internal/services"
)

// Services bundles the service-layer contracts that handlers rely upon. Concrete implementations
// are assembled via dependency injection in NewContainer.
type Services struct {
	Users     services.UserService
	Carts     services.CartService
	Checkout  services.CheckoutService
	Orders    services.OrderService
	Discounts services.DiscountService
}

// Deps carries the infrastructure collaborators the container does not own:
// transports, the payment gateway, and the session token issuer. The registry
// is the only hard requirement; everything else degrades to a narrower
// feature set when absent.
type Deps struct {
	Registry repositories.Registry
	Gateway  services.PaymentGateway
	Events   services.OrderEventPublisher
	Mail     *notifications.Dispatcher
	Tokens   *auth.TokenIssuer
	Logger   *zap.Logger
}

// Container wires repositories, services, and background infrastructure for runtime use.
type Container struct {
	Config       config.Config
	Repositories repositories.Registry
	Services     Services
}

// NewContainer constructs the runtime dependencies. Production wiring provides Firestore-backed
// repositories, while tests can supply in-memory registries.
func NewContainer(ctx context.Context, cfg config.Config, deps Deps) (*Container, error) {
	if deps.Registry == nil {
		return nil, errors.New("repositories registry is required")
	}

	svc, err := buildServices(ctx, cfg, deps)
	if err != nil {
		return nil, err
	}

	return &Container{
		Config:       cfg,
		Repositories: deps.Registry,
		Services:     svc,
	}, nil
}

// Close releases resources such as repository clients, background workers, or caches.
func (c *Container) Close(ctx context.Context) error {
	if c == nil || c.Repositories == nil {
		return nil
	}
	return c.Repositories.Close(ctx)
}

func buildServices(_ context.Context, cfg config.Config, deps Deps) (Services, error) {
	var svc Services
	reg := deps.Registry

	var orderNotifier services.OrderNotifier
	var otpNotifier services.OTPNotifier
	if deps.Mail != nil {
		orderNotifier = deps.Mail
		otpNotifier = deps.Mail
	}

	if discountRepo := reg.Discounts(); discountRepo != nil {
		discountSvc, err := services.NewDiscountService(services.DiscountServiceDeps{
			Discounts: discountRepo,
			Clock:     time.Now,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build discount service: %w", err)
		}
		svc.Discounts = discountSvc
	}

	if usersRepo := reg.Users(); usersRepo != nil {
		if deps.Tokens == nil {
			return Services{}, errors.New("build user service: token issuer is required")
		}
		userSvc, err := services.NewUserService(services.UserServiceDeps{
			Users:    usersRepo,
			Tokens:   tokenIssuerAdapter{issuer: deps.Tokens},
			Notifier: otpNotifier,
			Clock:    time.Now,
			Logger:   eventLogger(deps.Logger, "users"),
		})
		if err != nil {
			return Services{}, fmt.Errorf("build user service: %w", err)
		}
		svc.Users = userSvc
	}

	if cartsRepo := reg.Carts(); cartsRepo != nil {
		cartSvc, err := services.NewCartService(services.CartServiceDeps{
			Carts:     cartsRepo,
			Products:  reg.Products(),
			Discounts: reg.Discounts(),
			Clock:     time.Now,
			Logger:    eventLogger(deps.Logger, "cart"),
		})
		if err != nil {
			return Services{}, fmt.Errorf("build cart service: %w", err)
		}
		svc.Carts = cartSvc
	}

	if ordersRepo := reg.Orders(); ordersRepo != nil {
		orderSvc, err := services.NewOrderService(services.OrderServiceDeps{
			Orders:   ordersRepo,
			Carts:    reg.Carts(),
			Users:    reg.Users(),
			Gateway:  deps.Gateway,
			Events:   deps.Events,
			Notifier: orderNotifier,
			Clock:    time.Now,
			Logger:   eventLogger(deps.Logger, "orders"),
		})
		if err != nil {
			return Services{}, fmt.Errorf("build order service: %w", err)
		}
		svc.Orders = orderSvc

		checkoutSvc, err := services.NewCheckoutService(services.CheckoutServiceDeps{
			Orders:    ordersRepo,
			Carts:     reg.Carts(),
			Products:  reg.Products(),
			Discounts: reg.Discounts(),
			Users:     reg.Users(),
			Gateway:   deps.Gateway,
			Events:    deps.Events,
			Notifier:  orderNotifier,
			Clock:     time.Now,
			Logger:    eventLogger(deps.Logger, "checkout"),
		})
		if err != nil {
			return Services{}, fmt.Errorf("build checkout service: %w", err)
		}
		svc.Checkout = checkoutSvc
	}

	return svc, nil
}

// tokenIssuerAdapter narrows the auth issuer to the role-typed contract the
// user service expects.
type tokenIssuerAdapter struct {
	issuer *auth.TokenIssuer
}

func (a tokenIssuerAdapter) Issue(userID string, role domain.UserRole) (string, time.Time, error) {
	return a.issuer.Issue(userID, string(role))
}

func eventLogger(logger *zap.Logger, name string) func(ctx context.Context, event string, fields map[string]any) {
	if logger == nil {
		return nil
	}
	named := logger.Named(name)
	return func(_ context.Context, event string, fields map[string]any) {
		zFields := make([]zap.Field, 0, len(fields)+1)
		zFields = append(zFields, zap.String("event", event))
		for k, v := range fields {
			zFields = append(zFields, zap.Any(k, v))
		}
		named.Debug("service log", zFields...)
	}
}
