package httpapi

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"medgate.org/internal/auth"
	"medgate.org/internal/guard"
	"medgate.org/internal/obs"
)

type accessResponse struct {
	Tier      string          `json:"tier"`
	State     string          `json:"state"`
	Reason    string          `json:"reason,omitempty"`
	Redirect  string          `json:"redirect,omitempty"`
	Principal *auth.Principal `json:"principal,omitempty"`
	Profile   *auth.Profile   `json:"profile,omitempty"`
}

func (a *API) handleAccess(w http.ResponseWriter, r *http.Request) {
	tier, err := guard.ParseTier(chi.URLParam(r, "tier"))
	if err != nil {
		writeError(w, http.StatusNotFound, "Unknown tier")
		return
	}

	ctx, err := a.sessionContext(r)
	if err != nil && !errors.Is(err, auth.ErrInvalidToken) {
		// The session itself could not be checked: fail closed.
		obs.Logger().Error().Err(err).Msg("session lookup failed")
		writeAccess(w, guard.Outcome{Tier: tier, State: guard.StateDenied, Reason: guard.ReasonAccessCheckFailed})
		return
	}

	gate := a.guard.NewGate(tier)
	stop := context.AfterFunc(r.Context(), gate.Dispose)
	defer stop()

	writeAccess(w, gate.Evaluate(ctx))
}

func writeAccess(w http.ResponseWriter, out guard.Outcome) {
	resp := accessResponse{
		Tier:     string(out.Tier),
		State:    out.State.String(),
		Reason:   string(out.Reason),
		Redirect: out.Redirect(),
	}
	if out.Allowed() {
		p := out.Principal
		resp.Principal = &p
		resp.Profile = out.Profile
	}
	writeJSON(w, accessStatus(out), resp)
}

func accessStatus(out guard.Outcome) int {
	if out.State == guard.StateAllowed {
		return http.StatusOK
	}
	if out.State == guard.StatePending {
		// The caller went away before the check finished.
		return http.StatusServiceUnavailable
	}
	switch out.Reason {
	case guard.ReasonUnauthenticated:
		return http.StatusUnauthorized
	case guard.ReasonAccessCheckFailed:
		return http.StatusServiceUnavailable
	default:
		return http.StatusForbidden
	}
}
