package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"medgate.org/internal/auth"
	"medgate.org/internal/globalid"
	"medgate.org/internal/obs"
)

type globalIDSignInRequest struct {
	GlobalID string `json:"global_id"`
	Password string `json:"password"`
}

func (a *API) handleGlobalIDSignIn(w http.ResponseWriter, r *http.Request) {
	var req globalIDSignInRequest
	if err := decodeJSON(r, &req); err != nil {
		if errors.Is(err, errBodyTooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, msgBodyTooLarge)
			return
		}
		writeError(w, http.StatusBadRequest, msgInvalidBody)
		return
	}
	if strings.TrimSpace(req.GlobalID) == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, msgFieldsRequired)
		return
	}

	res, err := a.resolver.ResolveAndSignIn(r.Context(), req.GlobalID, req.Password)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, res)
	case errors.Is(err, globalid.ErrInvalidRequest):
		writeError(w, http.StatusBadRequest, msgInvalidGlobalID)
	case errors.Is(err, globalid.ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, msgInvalidCredentials)
	default:
		// Unknown failures look exactly like bad credentials.
		obs.Logger().Error().Err(err).Msg("global id sign-in failed")
		writeError(w, http.StatusUnauthorized, msgInvalidCredentials)
	}
}

func (a *API) handleSignOut(w http.ResponseWriter, r *http.Request) {
	ctx, err := a.sessionContext(r)
	if err != nil {
		if !errors.Is(err, auth.ErrInvalidToken) {
			obs.Logger().Error().Err(err).Msg("sign-out authentication failed")
		}
		writeError(w, http.StatusUnauthorized, msgSessionExpired)
		return
	}
	if err := a.sessions.SignOut(ctx); err != nil {
		obs.Logger().Error().Err(err).Msg("sign-out failed")
		writeError(w, http.StatusInternalServerError, msgSignOutFailed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}
