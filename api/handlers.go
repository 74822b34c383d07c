package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/jeffsasaki/pledge-storefront/model"
	"github.com/jeffsasaki/pledge-storefront/pledge"
	"github.com/jeffsasaki/pledge-storefront/stats"
	"github.com/jeffsasaki/pledge-storefront/store"
)

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"store":  s.Orders.Mode().String(),
	})
}

type campaignResponse struct {
	Campaign *model.Campaign `json:"campaign"`
	Stats    stats.Stats     `json:"stats"`
	Progress stats.Progress  `json:"progress"`
}

func (s *Server) getCampaign(w http.ResponseWriter, r *http.Request) {
	st := s.Stats.Load(r.Context())
	writeJSON(w, http.StatusOK, campaignResponse{
		Campaign: s.Campaign,
		Stats:    st,
		Progress: stats.ComputeProgress(s.Campaign, st, s.Now()),
	})
}

func (s *Server) getStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Stats.Load(r.Context()))
}

type loginResponse struct {
	Token   string             `json:"token"`
	User    *model.UserProfile `json:"user"`
	IsAdmin bool               `json:"is_admin"`
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	user, err := s.Provider.Login(r.Context())
	if err != nil {
		s.Logger.Warn("Login failed", slog.String("error", err.Error()))
		writeError(w, http.StatusBadGateway, "identity provider unavailable")
		return
	}
	if user == nil {
		writeError(w, http.StatusUnauthorized, "login cancelled")
		return
	}

	token, err := s.Sessions.Issue(*user)
	if err != nil {
		s.Logger.Error("Failed to issue session", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "could not start session")
		return
	}
	writeJSON(w, http.StatusOK, loginResponse{Token: token, User: user, IsAdmin: s.Admins.IsAdmin(user)})
}

func (s *Server) logout(w http.ResponseWriter, r *http.Request) {
	if err := s.Sessions.Revoke(tokenFrom(r)); err != nil {
		writeError(w, http.StatusUnauthorized, "invalid session")
		return
	}
	if err := s.Provider.Logout(r.Context()); err != nil {
		s.Logger.Warn("Identity provider logout failed", slog.String("error", err.Error()))
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) me(w http.ResponseWriter, r *http.Request) {
	user := userFrom(r)
	writeJSON(w, http.StatusOK, map[string]any{
		"user":     user,
		"is_admin": s.Admins.IsAdmin(user),
	})
}

type pledgeRequest struct {
	RewardID string            `json:"reward_id"`
	Contact  model.ContactInfo `json:"contact"`
	Consent  model.Consent     `json:"consent"`
}

type pledgeResponse struct {
	Order       orderJSON         `json:"order"`
	BankAccount model.BankAccount `json:"bank_account"`
}

func (s *Server) submitPledge(w http.ResponseWriter, r *http.Request) {
	var req pledgeRequest
	if !decodeBody(w, r, &req) {
		return
	}

	// An unknown id reaches the engine as-is and is rejected there.
	reward, ok := s.Campaign.FindReward(req.RewardID)
	if !ok {
		reward = model.Reward{ID: req.RewardID}
	}

	order, err := s.Pledges.SubmitPledge(r.Context(), userFrom(r), s.Campaign, reward, req.Contact, req.Consent)
	var verr *pledge.ValidationError
	switch {
	case errors.As(err, &verr):
		writeFieldError(w, http.StatusUnprocessableEntity, verr.Field, verr.Error())
		return
	case err != nil:
		writeError(w, http.StatusBadGateway, "could not record the pledge, please try again")
		return
	}

	writeJSON(w, http.StatusCreated, pledgeResponse{
		Order:       present([]model.Order{order})[0],
		BankAccount: s.Campaign.BankAccount,
	})
}

// visibleTo is every order for an administrator and the caller's own orders
// otherwise. A caller without an email sees nothing.
func (s *Server) visibleTo(user *model.UserProfile) (store.Filter, bool) {
	if s.Admins.IsAdmin(user) {
		return store.AllOrders(), true
	}
	if user == nil || user.Email == "" {
		return store.Filter{}, false
	}
	return store.ByEmail(user.Email), true
}

func (s *Server) listOrders(w http.ResponseWriter, r *http.Request) {
	filter, ok := s.visibleTo(userFrom(r))
	if !ok {
		writeJSON(w, http.StatusOK, []orderJSON{})
		return
	}

	// A failed read shows an empty list rather than an error.
	orders, err := s.Orders.QueryOnce(r.Context(), filter)
	if err != nil {
		s.Logger.Warn("Failed to load orders", slog.String("error", err.Error()))
		writeJSON(w, http.StatusOK, []orderJSON{})
		return
	}
	writeJSON(w, http.StatusOK, present(orders))
}

func (s *Server) adminBoard(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, present(s.Console.View().Orders()))
}

type statusRequest struct {
	Status string `json:"status"`
}

type statusResponse struct {
	OrderID     string            `json:"order_id"`
	Status      model.OrderStatus `json:"status"`
	StatusLabel string            `json:"status_label"`
}

func (s *Server) changeStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req statusRequest
	if !decodeBody(w, r, &req) {
		return
	}
	status, err := model.ParseOrderStatus(req.Status)
	if err != nil {
		writeFieldError(w, http.StatusBadRequest, "status", err.Error())
		return
	}

	if _, err := s.Console.ChangeStatus(r.Context(), id, status); err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			writeError(w, http.StatusNotFound, "order not found")
		case errors.Is(err, store.ErrUnknownStatus):
			writeFieldError(w, http.StatusBadRequest, "status", err.Error())
		default:
			writeError(w, http.StatusBadGateway, "status change failed, please try again")
		}
		return
	}

	writeJSON(w, http.StatusOK, statusResponse{OrderID: id, Status: status, StatusLabel: status.Label()})
}
