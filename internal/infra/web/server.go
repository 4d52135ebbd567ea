package web

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"subscription-billing/internal/usecase"
)

// Server is the thin JSON adapter over the engine's use cases. It does
// serialization and auth only; every rule lives below it.
type Server struct {
	accountUC usecase.AccountUseCase
	planUC    usecase.PlanUseCase
	subUC     usecase.SubscriptionUseCase
	usageUC   usecase.UsageUseCase
	creditUC  usecase.CreditUseCase
	invoiceUC usecase.InvoiceUseCase
	paymentUC usecase.PaymentUseCase
	webhookUC usecase.WebhookUseCase
	statsUC   usecase.StatsUseCase
	apiKey    string
	log       *zerolog.Logger
}

func NewServer(
	accountUC usecase.AccountUseCase,
	planUC usecase.PlanUseCase,
	subUC usecase.SubscriptionUseCase,
	usageUC usecase.UsageUseCase,
	creditUC usecase.CreditUseCase,
	invoiceUC usecase.InvoiceUseCase,
	paymentUC usecase.PaymentUseCase,
	webhookUC usecase.WebhookUseCase,
	statsUC usecase.StatsUseCase,
	apiKey string,
	logger *zerolog.Logger,
) *Server {
	l := logger.With().Str("component", "WebServer").Logger()
	return &Server{
		accountUC: accountUC,
		planUC:    planUC,
		subUC:     subUC,
		usageUC:   usageUC,
		creditUC:  creditUC,
		invoiceUC: invoiceUC,
		paymentUC: paymentUC,
		webhookUC: webhookUC,
		statsUC:   statsUC,
		apiKey:    apiKey,
		log:       &l,
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)

	r.Handle("/metrics", promhttp.Handler())
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(s.authMiddleware)

		r.Post("/accounts", s.createAccount)
		r.Get("/accounts/{id}", s.getAccount)

		r.Post("/plans", s.createPlan)
		r.Get("/plans", s.listPlans)
		r.Get("/plans/{id}", s.getPlan)
		r.Post("/plans/{id}/revise", s.revisePlan)
		r.Delete("/plans/{id}", s.deactivatePlan)

		r.Post("/subscriptions", s.createSubscription)
		r.Get("/subscriptions/{id}", s.getSubscription)
		r.Post("/subscriptions/{id}/cancel", s.cancelSubscription)
		r.Post("/subscriptions/{id}/pause", s.pauseSubscription)
		r.Post("/subscriptions/{id}/resume", s.resumeSubscription)
		r.Post("/subscriptions/{id}/change-plan", s.changePlan)

		r.Post("/usage", s.recordUsage)

		r.Post("/credits", s.createCredit)

		r.Post("/invoices/generate", s.generateInvoice)
		r.Get("/invoices/{id}", s.getInvoice)
		r.Post("/invoices/{id}/void", s.voidInvoice)
		r.Post("/invoices/{id}/pay", s.attemptPayment)

		r.Post("/webhooks", s.enqueueWebhook)
		r.Get("/webhooks/failed", s.listFailedWebhooks)

		r.Get("/stats", s.stats)
	})
	return r
}

// authMiddleware guards the engine API with a single bearer token.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.apiKey == "" {
			s.log.Error().Msg("api key is not configured")
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}
		hdr := r.Header.Get("Authorization")
		if hdr == "" {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		parts := strings.Split(hdr, " ")
		if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
			http.Error(w, "Unauthorized: Malformed token", http.StatusUnauthorized)
			return
		}
		if parts[1] != s.apiKey {
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}
