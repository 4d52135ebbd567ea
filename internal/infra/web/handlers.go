package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"subscription-billing/internal/domain"
	"subscription-billing/internal/domain/model"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeErr maps domain sentinels to HTTP statuses.
func writeErr(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, domain.ErrInvalidArgument), errors.Is(err, domain.ErrInvalidTierConfig):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, domain.ErrAlreadyExists),
		errors.Is(err, domain.ErrIllegalTransition),
		errors.Is(err, domain.ErrInvoiceFinalized),
		errors.Is(err, domain.ErrPaymentInFlight):
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return false
	}
	return true
}

// ----- accounts -----

type accountCreateRequest struct {
	Name     string `json:"name"`
	Currency string `json:"currency"`
}

func (s *Server) createAccount(w http.ResponseWriter, r *http.Request) {
	var req accountCreateRequest
	if !decode(w, r, &req) {
		return
	}
	a, err := s.accountUC.Create(r.Context(), req.Name, req.Currency)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, a)
}

func (s *Server) getAccount(w http.ResponseWriter, r *http.Request) {
	a, err := s.accountUC.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// ----- plans -----

type planCreateRequest struct {
	ID         string        `json:"id"`
	Name       string        `json:"name"`
	Interval   string        `json:"interval"`
	BaseAmount int64         `json:"base_amount"`
	Currency   string        `json:"currency"`
	TrialDays  int           `json:"trial_days"`
	Meters     []model.Meter `json:"meters"`
}

func (s *Server) createPlan(w http.ResponseWriter, r *http.Request) {
	var req planCreateRequest
	if !decode(w, r, &req) {
		return
	}
	p, err := model.NewPlan(req.ID, req.Name, model.BillingInterval(req.Interval), req.BaseAmount, req.Currency, req.TrialDays, req.Meters)
	if err != nil {
		writeErr(w, err)
		return
	}
	if err := s.planUC.Create(r.Context(), p); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (s *Server) listPlans(w http.ResponseWriter, r *http.Request) {
	plans, err := s.planUC.ListActive(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, plans)
}

func (s *Server) getPlan(w http.ResponseWriter, r *http.Request) {
	p, err := s.planUC.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) revisePlan(w http.ResponseWriter, r *http.Request) {
	var req planCreateRequest
	if !decode(w, r, &req) {
		return
	}
	p, err := model.NewPlan(chi.URLParam(r, "id"), req.Name, model.BillingInterval(req.Interval), req.BaseAmount, req.Currency, req.TrialDays, req.Meters)
	if err != nil {
		writeErr(w, err)
		return
	}
	revised, err := s.planUC.Revise(r.Context(), p)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, revised)
}

func (s *Server) deactivatePlan(w http.ResponseWriter, r *http.Request) {
	p, err := s.planUC.Deactivate(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// ----- subscriptions -----

type subscriptionCreateRequest struct {
	AccountID string `json:"account_id"`
	PlanID    string `json:"plan_id"`
	Quantity  int64  `json:"quantity"`
}

func (s *Server) createSubscription(w http.ResponseWriter, r *http.Request) {
	var req subscriptionCreateRequest
	if !decode(w, r, &req) {
		return
	}
	sub, err := s.subUC.Create(r.Context(), req.AccountID, req.PlanID, req.Quantity)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sub)
}

func (s *Server) getSubscription(w http.ResponseWriter, r *http.Request) {
	sub, err := s.subUC.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sub)
}

func (s *Server) cancelSubscription(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AtPeriodEnd bool `json:"at_period_end"`
	}
	if !decode(w, r, &req) {
		return
	}
	sub, err := s.subUC.Cancel(r.Context(), chi.URLParam(r, "id"), req.AtPeriodEnd)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sub)
}

func (s *Server) pauseSubscription(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ResumeAt *time.Time `json:"resume_at"`
	}
	if !decode(w, r, &req) {
		return
	}
	sub, err := s.subUC.Pause(r.Context(), chi.URLParam(r, "id"), req.ResumeAt)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sub)
}

func (s *Server) resumeSubscription(w http.ResponseWriter, r *http.Request) {
	sub, err := s.subUC.Resume(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sub)
}

func (s *Server) changePlan(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PlanID    string `json:"plan_id"`
		Immediate bool   `json:"immediate"`
	}
	if !decode(w, r, &req) {
		return
	}
	sub, err := s.subUC.ChangePlan(r.Context(), chi.URLParam(r, "id"), req.PlanID, req.Immediate)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sub)
}

// ----- usage -----

type usageRecordRequest struct {
	SubscriptionID string    `json:"subscription_id"`
	Metric         string    `json:"metric"`
	Quantity       int64     `json:"quantity"`
	OccurredAt     time.Time `json:"occurred_at"`
	IdempotencyKey string    `json:"idempotency_key"`
}

func (s *Server) recordUsage(w http.ResponseWriter, r *http.Request) {
	var req usageRecordRequest
	if !decode(w, r, &req) {
		return
	}
	rec, err := s.usageUC.Record(r.Context(), req.SubscriptionID, req.Metric, req.Quantity, req.OccurredAt, req.IdempotencyKey)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

// ----- credits -----

type creditCreateRequest struct {
	AccountID string     `json:"account_id"`
	Amount    int64      `json:"amount"`
	Currency  string     `json:"currency"`
	Reason    string     `json:"reason"`
	ExpiresAt *time.Time `json:"expires_at"`
}

func (s *Server) createCredit(w http.ResponseWriter, r *http.Request) {
	var req creditCreateRequest
	if !decode(w, r, &req) {
		return
	}
	c, err := s.creditUC.Create(r.Context(), req.AccountID, req.Amount, req.Currency, req.Reason, req.ExpiresAt)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

// ----- invoices and payments -----

type invoiceGenerateRequest struct {
	SubscriptionID string    `json:"subscription_id"`
	PeriodStart    time.Time `json:"period_start"`
	PeriodEnd      time.Time `json:"period_end"`
}

func (s *Server) generateInvoice(w http.ResponseWriter, r *http.Request) {
	var req invoiceGenerateRequest
	if !decode(w, r, &req) {
		return
	}
	inv, err := s.invoiceUC.Generate(r.Context(), req.SubscriptionID, req.PeriodStart, req.PeriodEnd)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, inv)
}

func (s *Server) getInvoice(w http.ResponseWriter, r *http.Request) {
	inv, err := s.invoiceUC.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, inv)
}

func (s *Server) voidInvoice(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Reason string `json:"reason"`
	}
	if !decode(w, r, &req) {
		return
	}
	inv, err := s.invoiceUC.Void(r.Context(), chi.URLParam(r, "id"), req.Reason)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, inv)
}

func (s *Server) attemptPayment(w http.ResponseWriter, r *http.Request) {
	var req struct {
		IdempotencyKey string `json:"idempotency_key"`
	}
	if !decode(w, r, &req) {
		return
	}
	p, err := s.paymentUC.Attempt(r.Context(), chi.URLParam(r, "id"), req.IdempotencyKey)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// ----- webhooks -----

type webhookEnqueueRequest struct {
	Type     string          `json:"type"`
	Payload  json.RawMessage `json:"payload"`
	Endpoint string          `json:"endpoint"`
}

func (s *Server) enqueueWebhook(w http.ResponseWriter, r *http.Request) {
	var req webhookEnqueueRequest
	if !decode(w, r, &req) {
		return
	}
	e, err := s.webhookUC.Enqueue(r.Context(), req.Type, req.Payload, req.Endpoint)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, e)
}

func (s *Server) listFailedWebhooks(w http.ResponseWriter, r *http.Request) {
	events, err := s.webhookUC.ListFailed(r.Context(), 100)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, events)
}

// ----- stats -----

func (s *Server) stats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	mrr, err := s.statsUC.MRR(ctx)
	if err != nil {
		writeErr(w, err)
		return
	}
	outstanding, err := s.statsUC.Outstanding(ctx)
	if err != nil {
		writeErr(w, err)
		return
	}
	month, err := s.statsUC.Revenue(ctx, "month")
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		MRR          map[string]int64 `json:"mrr"`
		Outstanding  map[string]int64 `json:"outstanding"`
		RevenueMonth map[string]int64 `json:"revenue_month"`
	}{mrr, outstanding, month})
}
