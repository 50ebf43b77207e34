// Package billing exposes the billing HTTP surface: the provider webhook
// endpoint, checkout initiation, administrative overrides, and the
// reconciliation job trigger.
package billing

import (
	"context"
	"log/slog"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	billingsvc "github.com/promptdir/entitlement/pkg/billing"
	"github.com/promptdir/entitlement/pkg/entitlement"
	"github.com/promptdir/entitlement/pkg/plan"
)

// Config holds the module's HTTP-facing settings.
type Config struct {
	// ReconcileSecret authenticates calls to the reconcile job trigger.
	ReconcileSecret string `env:"RECONCILE_SECRET,required"`
	// AdminActors lists actor IDs trusted with administrative capabilities
	// when the static authorizer is in use.
	AdminActors []uuid.UUID `env:"ADMIN_ACTORS"`
}

// WebhookProcessor consumes a raw provider webhook delivery.
type WebhookProcessor interface {
	Handle(ctx context.Context, payload []byte, signature string) error
}

// CheckoutStarter creates hosted checkout sessions.
type CheckoutStarter interface {
	Start(ctx context.Context, req billingsvc.StartCheckoutRequest) (*billingsvc.CheckoutSession, error)
}

// AdminService covers the administrative override operations.
type AdminService interface {
	GrantEntitlement(ctx context.Context, actorID, accountID uuid.UUID, tier plan.Tier, months int) (*entitlement.Entitlement, error)
	MarkPaid(ctx context.Context, actorID, accountID uuid.UUID) (*entitlement.Entitlement, error)
}

// Reconciler runs a single reconciliation pass on demand.
type Reconciler interface {
	Run(ctx context.Context) error
}

// Authorizer decides whether an actor holds a named capability. Actor
// identity is established by the surrounding auth layer; this module only
// checks capabilities.
type Authorizer interface {
	Allow(ctx context.Context, actorID uuid.UUID, capability string) bool
}

// Capabilities checked by the administrative endpoints.
const (
	CapabilityGrantEntitlement = "billing:grant_entitlement"
	CapabilityMarkPaid         = "billing:mark_paid"
)

// Module wires the billing services into a chi router.
type Module struct {
	cfg       Config
	processor WebhookProcessor
	checkout  CheckoutStarter
	admin     AdminService
	reconcile Reconciler
	authz     Authorizer
	log       *slog.Logger
}

// New assembles the billing HTTP module. All dependencies are required;
// nil values panic to fail fast at startup.
func New(
	cfg Config,
	processor WebhookProcessor,
	checkout CheckoutStarter,
	admin AdminService,
	reconcile Reconciler,
	authz Authorizer,
	log *slog.Logger,
) *Module {
	if processor == nil {
		panic("billing module: processor is required")
	}
	if checkout == nil {
		panic("billing module: checkout is required")
	}
	if admin == nil {
		panic("billing module: admin service is required")
	}
	if reconcile == nil {
		panic("billing module: reconciler is required")
	}
	if authz == nil {
		panic("billing module: authorizer is required")
	}
	if cfg.ReconcileSecret == "" {
		panic("billing module: reconcile secret is required")
	}
	if log == nil {
		log = slog.Default()
	}
	return &Module{
		cfg:       cfg,
		processor: processor,
		checkout:  checkout,
		admin:     admin,
		reconcile: reconcile,
		authz:     authz,
		log:       log,
	}
}

// Router returns the module's HTTP routes.
//
//	r := chi.NewRouter()
//	r.Mount("/", billingmod.Router())
func (m *Module) Router() chi.Router {
	r := chi.NewRouter()

	r.Post("/webhooks/billing", m.handleWebhook)
	r.Post("/checkout", m.handleCheckout)

	r.Route("/admin", func(admin chi.Router) {
		admin.Post("/grant-entitlement", m.handleGrant)
		admin.Post("/mark-paid", m.handleMarkPaid)
	})

	r.Get("/jobs/reconcile", m.handleReconcile)

	return r
}
