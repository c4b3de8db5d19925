package services

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/aescanero/reactor/internal/application/orchestrator"
	"github.com/aescanero/reactor/pkg/events"
	"github.com/aescanero/reactor/pkg/ports"
	"github.com/aescanero/reactor/pkg/registry"
)

// Deps are the collaborators services are built from.
type Deps struct {
	Bus          *events.Bus
	Orchestrator *orchestrator.Manager
	Auth         ports.AuthProvider
	Persistence  ports.PersistenceProvider
	Storage      ports.StorageProvider
	LLM          ports.LlmProvider
	Logger       *zap.Logger
}

func (d Deps) validate() error {
	switch {
	case d.Bus == nil:
		return errors.New("bus is required")
	case d.Orchestrator == nil:
		return errors.New("orchestrator is required")
	case d.Auth == nil:
		return errors.New("auth provider is required")
	case d.Persistence == nil:
		return errors.New("persistence provider is required")
	case d.Storage == nil:
		return errors.New("storage provider is required")
	case d.LLM == nil:
		return errors.New("llm provider is required")
	}
	return nil
}

// Catalog resolves services through a registry. Each service is
// constructed once per registry and initialized on first access.
type Catalog struct {
	registry *registry.Registry

	auth    *registry.Constructor[*AuthService]
	profile *registry.Constructor[*ProfileService]
	summary *registry.Constructor[*SummaryService]
}

// NewCatalog creates a catalog building services from d into r
func NewCatalog(r *registry.Registry, d Deps) (*Catalog, error) {
	if err := d.validate(); err != nil {
		return nil, err
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}

	c := &Catalog{registry: r}
	c.auth = registry.NewConstructor("auth_service", func(...any) (*AuthService, error) {
		return NewAuthService(d.Auth, d.Storage, d.Bus, d.Orchestrator, d.Logger.Named("auth")), nil
	})
	c.profile = registry.NewConstructor("profile_service", func(...any) (*ProfileService, error) {
		auth, err := registry.Resolve(r, c.auth)
		if err != nil {
			return nil, err
		}
		return NewProfileService(auth, d.Persistence, d.Bus, d.Orchestrator, d.Logger.Named("profile")), nil
	})
	c.summary = registry.NewConstructor("summary_service", func(...any) (*SummaryService, error) {
		profiles, err := registry.Resolve(r, c.profile)
		if err != nil {
			return nil, err
		}
		return NewSummaryService(profiles, d.Persistence, d.LLM, d.Orchestrator, d.Logger.Named("summary")), nil
	})
	return c, nil
}

// Auth returns the initialized auth service.
func (c *Catalog) Auth(ctx context.Context) (*AuthService, error) {
	return registry.WithLifecycle(ctx, c.registry, c.auth)
}

// Profile returns the initialized profile service.
func (c *Catalog) Profile(ctx context.Context) (*ProfileService, error) {
	return registry.WithLifecycle(ctx, c.registry, c.profile)
}

// Summary returns the initialized summary service.
func (c *Catalog) Summary(ctx context.Context) (*SummaryService, error) {
	return registry.WithLifecycle(ctx, c.registry, c.summary)
}

// Start initializes every service.
func (c *Catalog) Start(ctx context.Context) error {
	// Summary depends on profile, which depends on auth.
	_, err := c.Summary(ctx)
	return err
}
