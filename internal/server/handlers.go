package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/nhle/mailsetup/internal/setup"
	"github.com/nhle/mailsetup/internal/store"
)

// --- Setup ---

func (s *Server) handleStartSetup(w http.ResponseWriter, r *http.Request) {
	wf := s.sessions.get(userID(r), true)
	if err := wf.Dispatch(setup.InitializeSetup{}); err != nil {
		s.writeDispatchError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, wf.View())
}

func (s *Server) handleGetSetup(w http.ResponseWriter, r *http.Request) {
	wf := s.sessions.get(userID(r), false)
	if wf == nil {
		writeJSON(w, http.StatusOK, setup.NewView(setup.DefaultState()))
		return
	}
	writeJSON(w, http.StatusOK, wf.View())
}

func (s *Server) handleClearSetup(w http.ResponseWriter, r *http.Request) {
	id := userID(r)
	if wf := s.sessions.get(id, false); wf != nil {
		_ = wf.Dispatch(setup.ClearSetup{})
		s.sessions.drop(id)
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSetupEvent(w http.ResponseWriter, r *http.Request) {
	id := userID(r)
	if !s.limiter.allow(id) {
		writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "reading request body")
		return
	}
	ev, err := setup.DecodeEvent(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	wf := s.sessions.get(id, true)
	if err := wf.Dispatch(ev); err != nil {
		s.writeDispatchError(w, err)
		return
	}

	view := wf.View()
	status := http.StatusOK
	if view.State.IsLoading {
		status = http.StatusAccepted
	}
	writeJSON(w, status, view)
}

func (s *Server) writeDispatchError(w http.ResponseWriter, err error) {
	var vErr *setup.ValidationError
	switch {
	case errors.As(err, &vErr):
		writeJSON(w, http.StatusUnprocessableEntity, errorBody{Error: vErr.Message, Field: vErr.Field})
	case errors.Is(err, setup.ErrBusy), errors.Is(err, setup.ErrNotApplicable):
		writeError(w, http.StatusConflict, err.Error())
	default:
		s.logger.Error("dispatching setup event", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// --- Accounts ---

func (s *Server) handleListAccounts(w http.ResponseWriter, r *http.Request) {
	filter := store.AccountFilter{UserID: userID(r)}
	q := r.URL.Query()
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		filter.Limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid offset")
			return
		}
		filter.Offset = n
	}

	accounts, err := s.cfg.Accounts.GetAccounts(r.Context(), filter)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, accounts)
}

func (s *Server) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	acc, err := s.cfg.Accounts.GetAccountByID(r.Context(), userID(r), r.PathValue("id"))
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, acc)
}

// accountPatch lists the fields a user may change after setup. Server
// settings and credentials go through a new setup instead.
type accountPatch struct {
	Name        *string `json:"name"`
	DisplayName *string `json:"display_name"`
}

func (s *Server) handleUpdateAccount(w http.ResponseWriter, r *http.Request) {
	var patch accountPatch
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&patch); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body: "+err.Error())
		return
	}

	acc, err := s.cfg.Accounts.GetAccountByID(r.Context(), userID(r), r.PathValue("id"))
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	if patch.Name != nil {
		name := strings.TrimSpace(*patch.Name)
		if name == "" {
			writeJSON(w, http.StatusUnprocessableEntity, errorBody{Error: "name cannot be empty", Field: "name"})
			return
		}
		acc.Name = name
	}
	if patch.DisplayName != nil {
		acc.DisplayName = strings.TrimSpace(*patch.DisplayName)
	}

	if err := s.cfg.Accounts.UpdateAccount(r.Context(), acc); err != nil {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, acc)
}

func (s *Server) handleDeleteAccount(w http.ResponseWriter, r *http.Request) {
	if err := s.cfg.Remover.Delete(r.Context(), userID(r), r.PathValue("id")); err != nil {
		s.writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "account not found")
	case errors.Is(err, store.ErrDuplicate):
		writeError(w, http.StatusConflict, err.Error())
	default:
		s.logger.Error("account store", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// --- Push ---

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	s.hub.ServeWS(w, r, userID(r))
}
