package httpapi

import (
	"errors"
	"net/http"

	"medgate.org/internal/account"
	"medgate.org/internal/obs"
)

func (a *API) handleDeleteAccount(w http.ResponseWriter, r *http.Request) {
	token, err := extractBearerToken(r.Header.Get(authHeader))
	if err != nil {
		writeError(w, http.StatusUnauthorized, msgSessionExpired)
		return
	}

	_, err = a.accounts.DeleteOwnAccount(r.Context(), token)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]bool{"success": true})
	case errors.Is(err, account.ErrSessionExpired):
		writeError(w, http.StatusUnauthorized, msgSessionExpired)
	case errors.Is(err, account.ErrSelfDeleteForbidden):
		writeError(w, http.StatusForbidden, msgSelfDeleteDenied)
	case errors.Is(err, account.ErrDeletionFailed):
		writeError(w, http.StatusInternalServerError, msgDeletionFailed)
	default:
		obs.Logger().Error().Err(err).Msg("account deletion failed")
		writeError(w, http.StatusInternalServerError, msgDeletionFailed)
	}
}
