package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/digkill/genledger/internal/auth"
	"github.com/digkill/genledger/internal/models"
	"github.com/digkill/genledger/internal/provider"
	"github.com/digkill/genledger/internal/service"
)

// Service surfaces used by the handlers. The *service types satisfy them.

type Generations interface {
	Submit(ctx context.Context, accountID int64, req service.SubmitRequest) (*service.BatchResult, error)
	History(ctx context.Context, accountID int64, limit, offset int) ([]models.Generation, error)
	Batch(ctx context.Context, accountID int64, batchID string) ([]models.Generation, error)
	Delete(ctx context.Context, accountID int64, ids []int64) (int64, error)
	Providers() []provider.Capability
}

type Reconciler interface {
	OnCallback(ctx context.Context, unitID int64, raw []byte) (*service.CallbackResult, error)
	PollStuck(ctx context.Context, accountID int64) (*service.PollReport, error)
}

type Ledger interface {
	Balance(ctx context.Context, accountID int64) (int64, error)
	History(ctx context.Context, accountID int64, limit, offset int) ([]models.LedgerEntry, error)
}

type Promos interface {
	Redeem(ctx context.Context, accountID int64, code string) (*service.RedeemResult, error)
	List(ctx context.Context) ([]models.PromoCode, error)
	Create(ctx context.Context, in service.PromoInput) (*models.PromoCode, error)
	Update(ctx context.Context, id int64, in service.PromoInput) (*models.PromoCode, error)
	Delete(ctx context.Context, id int64) error
}

type Plans interface {
	List(ctx context.Context, activeOnly bool) ([]models.Plan, error)
	Create(ctx context.Context, input service.CreatePlanInput) (*models.Plan, error)
	Update(ctx context.Context, id int64, input service.UpdatePlanInput) (*models.Plan, error)
	Delete(ctx context.Context, id int64) (bool, error)
}

type Payments interface {
	CreateCheckout(ctx context.Context, accountID, planID int64) (*service.Checkout, error)
	HandleYooKassaWebhook(ctx context.Context, payload []byte) (bool, error)
	History(ctx context.Context, accountID int64, limit int) ([]models.Payment, error)
}

type Workflows interface {
	ListWorkflows(ctx context.Context) ([]models.Workflow, error)
	Submit(ctx context.Context, accountID int64, req service.RunRequest) (*service.RunResult, error)
	ListRuns(ctx context.Context, accountID int64, limit int) ([]models.WorkflowRun, error)
	SubmitCustomRequest(ctx context.Context, accountID int64, in service.CustomRequest) (*models.CustomWorkflowRequest, error)
	OnExternalCallback(ctx context.Context, cb service.Callback) (bool, error)
	UpsertWorkflow(ctx context.Context, w models.Workflow) (*models.Workflow, error)
}

type Accounts interface {
	Create(ctx context.Context, in service.CreateAccountInput) (*models.Account, error)
	IssueToken(ctx context.Context, id int64) (*service.IssuedToken, error)
	Grant(ctx context.Context, id, amount int64, reason string) (*models.LedgerEntry, error)
}

type CreditMonitor interface {
	Check(ctx context.Context) (*service.CreditStatus, error)
}

type TokenValidator interface {
	Validate(token string) (int64, error)
}

type CallbackVerifier interface {
	Verify(unitID int64, token string) bool
}

var (
	_ Generations      = (*service.GenerationService)(nil)
	_ Reconciler       = (*service.ReconcileService)(nil)
	_ Ledger           = (*service.LedgerService)(nil)
	_ Promos           = (*service.PromoService)(nil)
	_ Plans            = (*service.PlanService)(nil)
	_ Payments         = (*service.PaymentService)(nil)
	_ Workflows        = (*service.WorkflowService)(nil)
	_ Accounts         = (*service.AccountService)(nil)
	_ CreditMonitor    = (*service.AlertService)(nil)
	_ TokenValidator   = (*auth.Tokens)(nil)
	_ CallbackVerifier = (*auth.CallbackSigner)(nil)
)

type Services struct {
	Generations Generations
	Reconciler  Reconciler
	Ledger      Ledger
	Promos      Promos
	Plans       Plans
	Payments    Payments
	Workflows   Workflows
	Accounts    Accounts
	Credits     CreditMonitor
	Tokens      TokenValidator
	Callbacks   CallbackVerifier
}

type Options struct {
	Addr          string
	AdminUsername string
	AdminPassword string
	N8NSecret     string
	CORSOrigins   []string
}

type Server struct {
	opts   Options
	log    *slog.Logger
	svc    Services
	router *chi.Mux
}

func NewServer(opts Options, log *slog.Logger, svc Services) *Server {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   opts.CORSOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	s := &Server{opts: opts, log: log, svc: svc, router: r}

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Post("/webhook/yookassa", s.handleYooKassaWebhook)

	r.Route("/api", func(api chi.Router) {
		// Public: these carry their own proof (a signed token or a shared secret).
		api.Post("/n8n/callback", s.handleN8NCallback)
		api.Post("/generate/callback/{unitID}", s.handleGenerationCallback)
		api.Get("/generate/callback/{unitID}", s.handleGenerationCallback)
		api.Get("/providers", s.handleProviders)

		api.Group(func(authed chi.Router) {
			authed.Use(s.bearerAuth)
			authed.Post("/generate", s.handleGenerate)
			authed.Get("/generate/history", s.handleGenerationHistory)
			authed.Get("/generate/batches/{batchID}", s.handleBatch)
			authed.Post("/generate/delete", s.handleDeleteGenerations)
			authed.Post("/generate/poll", s.handlePoll)

			authed.Get("/credits/balance", s.handleBalance)
			authed.Post("/promo", s.handleRedeemPromo)
			authed.Get("/plans", s.handleListActivePlans)
			authed.Post("/payments/checkout", s.handleCheckout)
			authed.Get("/payments", s.handlePaymentHistory)

			authed.Get("/workflows", s.handleListWorkflows)
			authed.Post("/workflows/run", s.handleRunWorkflow)
			authed.Get("/workflows/runs", s.handleListRuns)
			authed.Post("/workflows/custom-request", s.handleCustomRequest)
		})
	})

	r.Route("/admin", func(admin chi.Router) {
		admin.Use(s.basicAuth)
		admin.Route("/plans", func(r chi.Router) {
			r.Get("/", s.handleListPlans)
			r.Post("/", s.handleCreatePlan)
			r.Put("/{id}", s.handleUpdatePlan)
			r.Delete("/{id}", s.handleDeletePlan)
		})
		admin.Route("/promo-codes", func(r chi.Router) {
			r.Get("/", s.handleListPromos)
			r.Post("/", s.handleCreatePromo)
			r.Put("/{id}", s.handleUpdatePromo)
			r.Delete("/{id}", s.handleDeletePromo)
		})
		admin.Post("/accounts", s.handleCreateAccount)
		admin.Post("/accounts/{id}/token", s.handleIssueToken)
		admin.Post("/accounts/{id}/grant", s.handleGrant)
		admin.Post("/workflows", s.handleUpsertWorkflow)
		admin.Get("/provider-credits", s.handleProviderCredits)
	})
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.opts.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		// Submit waits for every unit of the batch to be dispatched.
		WriteTimeout: 2 * time.Minute,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.log.Error("http shutdown error", "err", err)
		}
	}()

	s.log.Info("http server listening", "addr", s.opts.Addr)
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http listen: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
