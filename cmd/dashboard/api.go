package main

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"chainwatch/internal/chain"
	apperrors "chainwatch/pkg/errors"
	"chainwatch/pkg/liveserver"
)

// Largest snapshot accepted by the ingest endpoint.
const maxIngestBytes = 8 << 20

// API serves the REST endpoints of the dashboard
type API struct {
	poller *Poller
}

func NewAPI(p *Poller) *API {
	return &API{poller: p}
}

// Register mounts the endpoints under the server's API prefix
func (a *API) Register(s *liveserver.Server) {
	s.HandleAPI("/snapshot", a.handleSnapshot, http.MethodGet)
	s.HandleAPI("/targets", a.handleTargets, http.MethodGet)
	s.HandleAPI("/ingest", a.handleIngest, http.MethodPost)
}

// handleSnapshot returns the current view of one target. A lookback other
// than the configured default re-evaluates hot strikes over the stored
// snapshot without touching the history.
func (a *API) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	symbol := strings.TrimSpace(q.Get("symbol"))
	horizon := q.Get("horizon")
	if symbol == "" {
		symbol = a.poller.cfg.Dashboard.Watch[0].Symbol
	}
	if horizon == "" {
		horizon = chain.HorizonDTE0
	}

	st, err := a.poller.Target(symbol, horizon)
	if err != nil {
		liveserver.WriteError(w, http.StatusNotFound, err)
		return
	}

	snap, view := st.current()
	if view == nil {
		liveserver.WriteError(w, http.StatusServiceUnavailable, fmt.Errorf("no snapshot yet for %s", st.key()))
		return
	}

	lookback, ok, err := lookbackParam(r)
	if err != nil {
		liveserver.WriteError(w, http.StatusBadRequest, err)
		return
	}
	if ok && lookback != view.Options.LookbackMinutes {
		opts := view.Options
		opts.LookbackMinutes = lookback
		view, err = chain.Aggregate(snap, st.tracker, view.GeneratedAt, opts)
		if err != nil {
			liveserver.WriteError(w, statusFor(err), err)
			return
		}
	}

	liveserver.WriteJSON(w, http.StatusOK, struct {
		*chain.ViewModel
		Status Status `json:"status"`
	}{view, a.poller.status(st)})
}

func (a *API) handleTargets(w http.ResponseWriter, r *http.Request) {
	liveserver.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"targets":   a.poller.Statuses(),
		"lookbacks": a.poller.cfg.Dashboard.Lookbacks,
		"horizons":  chain.Horizons,
	})
}

// handleIngest aggregates a snapshot pushed by an external collector. When
// horizon names a watch target of the snapshot's symbol, the snapshot becomes
// that target's current view and feeds its history. Otherwise the view is
// computed without hot strikes and nothing is kept.
func (a *API) handleIngest(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxIngestBytes+1))
	if err != nil {
		liveserver.WriteError(w, http.StatusBadRequest, err)
		return
	}
	if len(body) > maxIngestBytes {
		liveserver.WriteError(w, http.StatusRequestEntityTooLarge, fmt.Errorf("snapshot exceeds %d bytes", maxIngestBytes))
		return
	}

	snap, err := chain.NormalizeJSON(body)
	if err != nil {
		liveserver.WriteError(w, http.StatusBadRequest, err)
		return
	}

	opts := a.poller.cfg.Dashboard.AggregateOptions()
	lookback, ok, err := lookbackParam(r)
	if err != nil {
		liveserver.WriteError(w, http.StatusBadRequest, err)
		return
	}
	if ok {
		opts.LookbackMinutes = lookback
	}

	now := a.poller.now()
	if horizon := r.URL.Query().Get("horizon"); horizon != "" {
		st, err := a.poller.Target(snap.Symbol, horizon)
		if err != nil {
			liveserver.WriteError(w, http.StatusNotFound, err)
			return
		}
		if !st.tracker.ValidLookback(opts.LookbackMinutes) {
			liveserver.WriteError(w, http.StatusBadRequest, fmt.Errorf("%w: %d minutes", apperrors.ErrInvalidLookback, opts.LookbackMinutes))
			return
		}
		view, err := a.poller.accept(r.Context(), st, snap, now, opts)
		if err != nil {
			liveserver.WriteError(w, statusFor(err), err)
			return
		}
		liveserver.WriteJSON(w, http.StatusOK, view)
		return
	}

	view, err := chain.Aggregate(snap, nil, now, opts)
	if err != nil {
		liveserver.WriteError(w, statusFor(err), err)
		return
	}
	liveserver.WriteJSON(w, http.StatusOK, view)
}

// lookbackParam parses the optional lookback query parameter in minutes.
func lookbackParam(r *http.Request) (int, bool, error) {
	v := r.URL.Query().Get("lookback")
	if v == "" {
		return 0, false, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false, fmt.Errorf("%w: %q is not a number of minutes", apperrors.ErrInvalidLookback, v)
	}
	return n, true, nil
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, apperrors.ErrInvalidLookback), errors.Is(err, apperrors.ErrMalformedSnapshot):
		return http.StatusBadRequest
	case errors.Is(err, apperrors.ErrUnknownTarget):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
