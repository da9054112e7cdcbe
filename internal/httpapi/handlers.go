package httpapi

import (
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"washpoint/backend/internal/domain"
	"washpoint/backend/internal/logging"
	"washpoint/backend/internal/service"
)

func (a *API) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ok": true,
		"at": time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if !a.loginLimiter.Allow(clientKey(r)) {
		writeError(w, http.StatusTooManyRequests, errors.New("too many login attempts"))
		return
	}

	var req domain.LoginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	resp, err := a.auth.Login(r.Context(), req)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleCSRFToken returns a stateless token for the X-CSRF-Token header.
func (a *API) handleCSRFToken(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"csrf_token": a.generateCSRFToken(),
	})
}

func (a *API) handleServices(w http.ResponseWriter, r *http.Request) {
	services, err := a.service.ListServices(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"services": services,
		"flags":    a.service.Flags(),
	})
}

func (a *API) handleProducts(w http.ResponseWriter, r *http.Request) {
	products, err := a.service.ListProducts(r.Context(), chi.URLParam(r, "branchID"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"products": products})
}

func (a *API) handleMachines(w http.ResponseWriter, r *http.Request) {
	branchID := chi.URLParam(r, "branchID")
	machines, err := a.service.ListMachines(r.Context(), branchID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	availability, err := a.service.MachineAvailability(r.Context(), branchID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"machines":     machines,
		"availability": availability,
	})
}

func (a *API) handleLoyalty(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	resp, err := a.service.Loyalty(r.Context(), domain.LoyaltyQuery{
		CustomerID: strings.TrimSpace(q.Get("customer_id")),
		Phone:      strings.TrimSpace(q.Get("phone")),
		BranchID:   strings.TrimSpace(q.Get("id_cabang")),
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handlePublicLoyalty lets customers check their balance by phone. Only the
// balance and the first name are returned.
func (a *API) handlePublicLoyalty(w http.ResponseWriter, r *http.Request) {
	phone := strings.TrimSpace(r.URL.Query().Get("phone"))
	if phone == "" {
		writeError(w, http.StatusBadRequest, errors.New("phone is required"))
		return
	}
	resp, err := a.service.Loyalty(r.Context(), domain.LoyaltyQuery{Phone: phone})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	name, _, _ := strings.Cut(resp.Customer.Name, " ")
	writeJSON(w, http.StatusOK, map[string]any{
		"nama":    name,
		"phone":   logging.MaskPhone(resp.Customer.Phone),
		"loyalty": resp.Loyalty,
	})
}

func (a *API) handleLoyaltyClaim(w http.ResponseWriter, r *http.Request) {
	var req domain.LoyaltyClaimRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	resp, err := a.service.ClaimLoyalty(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleCustomerLookup(w http.ResponseWriter, r *http.Request) {
	phone := strings.TrimSpace(r.URL.Query().Get("phone"))
	if phone == "" {
		writeError(w, http.StatusBadRequest, errors.New("phone is required"))
		return
	}
	customer, err := a.service.FindCustomerByPhone(r.Context(), phone)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"customer": customer})
}

func (a *API) handleCreateCustomer(w http.ResponseWriter, r *http.Request) {
	var req domain.CustomerCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	customer, err := a.service.CreateCustomer(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"customer": customer})
}

func (a *API) handleGetCustomer(w http.ResponseWriter, r *http.Request) {
	customer, err := a.service.GetCustomer(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"customer": customer})
}

func (a *API) handleCreateTransaction(w http.ResponseWriter, r *http.Request) {
	var req domain.TransactionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	result, err := a.service.CreateTransaction(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

func (a *API) handleGetTransaction(w http.ResponseWriter, r *http.Request) {
	tx, err := a.service.GetTransaction(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"transaction": tx})
}

func (a *API) handleUpdateTransaction(w http.ResponseWriter, r *http.Request) {
	var req domain.TransactionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	result, err := a.service.UpdateTransaction(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleReceipt returns the receipt as JSON, or the raw ESC/POS bytes with
// ?format=escpos.
func (a *API) handleReceipt(w http.ResponseWriter, r *http.Request) {
	receipt, err := a.service.BuildReceipt(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if r.URL.Query().Get("format") != "escpos" {
		writeJSON(w, http.StatusOK, receipt)
		return
	}
	raw, err := base64.StdEncoding.DecodeString(receipt.EscposBase64)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", receipt.FileName))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(raw)
}

func (a *API) handleOpenForm(w http.ResponseWriter, r *http.Request) {
	var req domain.FormOpenRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if strings.TrimSpace(req.BranchID) == "" {
		req.BranchID = a.service.DefaultBranchID()
	}

	controller, err := a.forms.Open(r.Context(), formOwner(r), req)
	if controller == nil {
		writeServiceError(w, err)
		return
	}
	payload := map[string]any{"form": controller.View()}
	if err != nil {
		payload["warning"] = err.Error()
	}
	writeJSON(w, http.StatusCreated, payload)
}

func (a *API) handleGetForm(w http.ResponseWriter, r *http.Request) {
	controller, err := a.forms.Get(chi.URLParam(r, "id"), formOwner(r))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"form": controller.View()})
}

func (a *API) handleCloseForm(w http.ResponseWriter, r *http.Request) {
	if err := a.forms.Close(chi.URLParam(r, "id"), formOwner(r)); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleFormAction(w http.ResponseWriter, r *http.Request) {
	controller, err := a.forms.Get(chi.URLParam(r, "id"), formOwner(r))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	var req domain.FormActionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := controller.Apply(r.Context(), req); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"form": controller.View()})
}

func (a *API) handleFormSubmit(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	controller, err := a.forms.Get(id, formOwner(r))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	var req domain.FormSubmitRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	result, err := controller.Submit(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	_ = a.forms.Close(id, formOwner(r))
	writeJSON(w, http.StatusOK, result)
}

// formOwner is the signed-in username that forms are registered under.
func formOwner(r *http.Request) string {
	actor, _ := service.ActorFromContext(r.Context())
	return actor.Username
}

func (a *API) handleListCashiers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"cashiers": a.auth.ListCashiers(r.Context())})
}

func (a *API) handleCreateCashier(w http.ResponseWriter, r *http.Request) {
	var req domain.CashierCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	cashier, err := a.auth.CreateCashier(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"cashier": cashier})
}
