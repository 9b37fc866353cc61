package di

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/hanko-field/orderdesk/internal/platform/config"
	"github.com/hanko-field/orderdesk/internal/platform/observability"
	"github.com/hanko-field/orderdesk/internal/repositories"
	"github.com/hanko-field/orderdesk/internal/services"
)

// Services bundles the service-layer contracts that handlers rely upon. Concrete implementations
// are assembled via dependency injection in NewContainer.
type Services struct {
	Pricing    services.PricingEngine
	Promotions services.PromotionService
	Inventory  services.InventoryService
	Orders     services.OrderService
	System     services.SystemService
}

// Dependencies are the collaborators built outside the repository registry. Every field is
// optional: without Events order events are dropped, without Health there is no readiness
// service.
type Dependencies struct {
	Events services.OrderEventPublisher
	Health repositories.HealthRepository
	Build  services.BuildInfo
	Logger *zap.Logger
	Meter  metric.Meter
	Clock  func() time.Time
}

// Container wires repositories and services for runtime use.
type Container struct {
	Config       config.Config
	Repositories repositories.Registry
	Services     Services
}

// NewContainer constructs the runtime dependencies. Production wiring passes the Firestore
// registry, while tests and local runs can supply the in-memory store.
func NewContainer(cfg config.Config, reg repositories.Registry, deps Dependencies) (*Container, error) {
	if reg == nil {
		return nil, errors.New("repositories registry is required")
	}

	svc, err := buildServices(reg, cfg, deps)
	if err != nil {
		return nil, err
	}

	return &Container{
		Config:       cfg,
		Repositories: reg,
		Services:     svc,
	}, nil
}

// Close releases repository clients.
func (c *Container) Close(ctx context.Context) error {
	if c == nil || c.Repositories == nil {
		return nil
	}
	return c.Repositories.Close(ctx)
}

func buildServices(reg repositories.Registry, cfg config.Config, deps Dependencies) (Services, error) {
	var svc Services

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	pricing, err := services.NewPricingEngine(services.PricingEngineDeps{
		TaxRatePercent: cfg.Orders.TaxRatePercent,
		Logger:         observability.EventLogger(logger.Named("pricing")),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build pricing engine: %w", err)
	}
	svc.Pricing = pricing

	promotionSvc, err := services.NewPromotionService(services.PromotionServiceDeps{
		Promotions: reg.Promotions(),
		Clock:      clock,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build promotion service: %w", err)
	}
	svc.Promotions = promotionSvc

	inventorySvc, err := services.NewInventoryService(services.InventoryServiceDeps{
		Inventory: reg.Inventory(),
		Clock:     clock,
		Logger:    observability.EventLogger(logger.Named("inventory")),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build inventory service: %w", err)
	}
	svc.Inventory = inventorySvc

	orderSvc, err := services.NewOrderService(services.OrderServiceDeps{
		Orders:     reg.Orders(),
		Catalog:    reg.Catalog(),
		Clients:    reg.Clients(),
		Promotions: svc.Promotions,
		Inventory:  svc.Inventory,
		Pricing:    svc.Pricing,
		Events:     deps.Events,
		Clock:      clock,
		Logger:     observability.EventLogger(logger.Named("orders")),
		Meter:      deps.Meter,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build order service: %w", err)
	}
	svc.Orders = orderSvc

	if deps.Health != nil {
		build := deps.Build
		if build.Environment == "" {
			build.Environment = cfg.Telemetry.Environment
		}
		systemSvc, err := services.NewSystemService(services.SystemServiceDeps{
			HealthRepository: deps.Health,
			Clock:            clock,
			Build:            build,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build system service: %w", err)
		}
		svc.System = systemSvc
	}

	return svc, nil
}
