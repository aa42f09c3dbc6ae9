package httpserver

import (
	"errors"
	"net/http"
	"strings"

	"arcadeops/admin-console/internal/audit"
	"arcadeops/admin-console/internal/resource"
	"arcadeops/admin-console/internal/session"
)

const maxAvatarUpload = 8 << 20

type profileResponse struct {
	session.Profile
	IsAdmin bool `json:"is_admin"`
}

func registerAuthHandlers(mux *http.ServeMux, deps Deps) {
	mux.HandleFunc("/v1/auth/login", func(w http.ResponseWriter, r *http.Request) {
		if !methodAllowed(w, r, http.MethodPost) {
			return
		}
		if deps.Auth == nil {
			writeError(w, http.StatusServiceUnavailable, "auth service unavailable")
			return
		}
		var creds resource.Credentials
		if err := decodeJSON(r, &creds); err != nil {
			writeError(w, http.StatusBadRequest, "invalid json body")
			return
		}
		creds.Username = strings.TrimSpace(creds.Username)
		if creds.Username == "" || creds.Password == "" {
			writeError(w, http.StatusBadRequest, "username and password are required")
			return
		}
		res, err := deps.Auth.Login(r.Context(), creds)
		if err != nil {
			auditReq(deps, r, creds.Username, "auth.login", "", audit.Failed, err.Error())
			writeAPIError(w, err)
			return
		}
		auditReq(deps, r, creds.Username, "auth.login", "", audit.Success, "")
		writeJSON(w, http.StatusOK, map[string]any{
			"authenticated": true,
			"user":          toProfileResponse(deps, res.Profile),
		})
	})

	mux.HandleFunc("/v1/auth/register", func(w http.ResponseWriter, r *http.Request) {
		if !methodAllowed(w, r, http.MethodPost) {
			return
		}
		if deps.Auth == nil {
			writeError(w, http.StatusServiceUnavailable, "auth service unavailable")
			return
		}
		var reg resource.Registration
		if err := decodeJSON(r, &reg); err != nil {
			writeError(w, http.StatusBadRequest, "invalid json body")
			return
		}
		reg.Username = strings.TrimSpace(reg.Username)
		reg.Email = strings.TrimSpace(reg.Email)
		if reg.Username == "" || reg.Email == "" || reg.Password == "" {
			writeError(w, http.StatusBadRequest, "username, email and password are required")
			return
		}
		p, err := deps.Auth.Register(r.Context(), reg)
		if err != nil {
			auditReq(deps, r, reg.Username, "auth.register", "", audit.Failed, err.Error())
			writeAPIError(w, err, "username", "email")
			return
		}
		auditReq(deps, r, reg.Username, "auth.register", p.ID, audit.Success, "")
		writeJSON(w, http.StatusCreated, map[string]any{"user": p})
	})

	mux.HandleFunc("/v1/auth/logout", func(w http.ResponseWriter, r *http.Request) {
		if !methodAllowed(w, r, http.MethodPost) {
			return
		}
		if deps.Auth == nil {
			writeError(w, http.StatusServiceUnavailable, "auth service unavailable")
			return
		}
		actor := actorName(deps)
		if err := deps.Auth.Logout(r.Context()); err != nil {
			writeError(w, http.StatusInternalServerError, "failed to clear session")
			return
		}
		auditReq(deps, r, actor, "auth.logout", "", audit.Success, "")
		w.WriteHeader(http.StatusNoContent)
	})

	mux.Handle("/v1/auth/me", protect(deps, false, func(w http.ResponseWriter, r *http.Request) {
		if !methodAllowed(w, r, http.MethodGet) {
			return
		}
		if deps.Auth == nil {
			writeError(w, http.StatusServiceUnavailable, "auth service unavailable")
			return
		}
		if r.URL.Query().Get("refresh") != "true" && deps.Session != nil {
			if p, ok := deps.Session.Profile(); ok {
				writeJSON(w, http.StatusOK, toProfileResponse(deps, p))
				return
			}
		}
		p, err := deps.Auth.Me(r.Context())
		if err != nil {
			writeAPIError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toProfileResponse(deps, p))
	}))

	mux.Handle("/v1/auth/password", protect(deps, false, func(w http.ResponseWriter, r *http.Request) {
		if !methodAllowed(w, r, http.MethodPost, http.MethodPut) {
			return
		}
		if deps.Auth == nil {
			writeError(w, http.StatusServiceUnavailable, "auth service unavailable")
			return
		}
		var req struct {
			CurrentPassword string `json:"current_password"`
			NewPassword     string `json:"new_password"`
		}
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid json body")
			return
		}
		if req.CurrentPassword == "" || req.NewPassword == "" {
			writeError(w, http.StatusBadRequest, "current_password and new_password are required")
			return
		}
		actor := actorName(deps)
		if err := deps.Auth.ChangePassword(r.Context(), req.CurrentPassword, req.NewPassword); err != nil {
			auditReq(deps, r, actor, "auth.password", "", audit.Failed, err.Error())
			writeAPIError(w, err, "current_password", "new_password")
			return
		}
		auditReq(deps, r, actor, "auth.password", "", audit.Success, "")
		w.WriteHeader(http.StatusNoContent)
	}))

	mux.Handle("/v1/auth/profile", protect(deps, false, func(w http.ResponseWriter, r *http.Request) {
		if !methodAllowed(w, r, http.MethodPut, http.MethodPost) {
			return
		}
		if deps.Auth == nil {
			writeError(w, http.StatusServiceUnavailable, "auth service unavailable")
			return
		}
		u, cleanup, err := profileUpdateFromRequest(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		defer cleanup()
		actor := actorName(deps)
		p, err := deps.Auth.UpdateProfile(r.Context(), u)
		if err != nil {
			auditReq(deps, r, actor, "auth.profile", "", audit.Failed, err.Error())
			writeAPIError(w, err, "display_name", "bio", "avatar")
			return
		}
		auditReq(deps, r, actor, "auth.profile", p.ID, audit.Success, "")
		writeJSON(w, http.StatusOK, toProfileResponse(deps, p))
	}))

	mux.Handle("/v1/auth/account", protect(deps, false, func(w http.ResponseWriter, r *http.Request) {
		if !methodAllowed(w, r, http.MethodDelete) {
			return
		}
		if deps.Auth == nil {
			writeError(w, http.StatusServiceUnavailable, "auth service unavailable")
			return
		}
		var req struct {
			Confirm  bool   `json:"confirm"`
			Password string `json:"password"`
		}
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid json body")
			return
		}
		if !req.Confirm && r.URL.Query().Get("confirm") != "true" {
			writeError(w, http.StatusBadRequest, "confirmation required")
			return
		}
		actor := actorName(deps)
		if err := deps.Auth.DeleteAccount(r.Context(), req.Password); err != nil {
			auditReq(deps, r, actor, "auth.account.delete", "", audit.Failed, err.Error())
			writeAPIError(w, err, "password")
			return
		}
		auditReq(deps, r, actor, "auth.account.delete", "", audit.Success, "")
		w.WriteHeader(http.StatusNoContent)
	}))
}

// profileUpdateFromRequest keeps absent form fields nil so only the parts the
// operator touched reach the backend.
func profileUpdateFromRequest(r *http.Request) (resource.ProfileUpdate, func(), error) {
	noop := func() {}
	if !strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		var body struct {
			DisplayName *string `json:"display_name"`
			Bio         *string `json:"bio"`
		}
		if err := decodeJSON(r, &body); err != nil {
			return resource.ProfileUpdate{}, noop, errors.New("invalid json body")
		}
		return resource.ProfileUpdate{DisplayName: body.DisplayName, Bio: body.Bio}, noop, nil
	}

	if err := r.ParseMultipartForm(maxAvatarUpload); err != nil {
		return resource.ProfileUpdate{}, noop, errors.New("invalid multipart body")
	}
	cleanup := func() { _ = r.MultipartForm.RemoveAll() }

	var u resource.ProfileUpdate
	if vals, ok := r.MultipartForm.Value["display_name"]; ok && len(vals) > 0 {
		v := vals[0]
		u.DisplayName = &v
	}
	if vals, ok := r.MultipartForm.Value["bio"]; ok && len(vals) > 0 {
		v := vals[0]
		u.Bio = &v
	}
	f, hdr, err := r.FormFile("avatar")
	switch {
	case err == nil:
		u.Avatar = &resource.File{Name: hdr.Filename, Content: f}
		prev := cleanup
		cleanup = func() {
			_ = f.Close()
			prev()
		}
	case errors.Is(err, http.ErrMissingFile):
	default:
		cleanup()
		return resource.ProfileUpdate{}, noop, errors.New("invalid avatar upload")
	}
	return u, cleanup, nil
}

func toProfileResponse(deps Deps, p session.Profile) profileResponse {
	admin := false
	if deps.Guard != nil {
		admin = deps.Guard.IsAdmin(p.Roles)
	}
	return profileResponse{Profile: p, IsAdmin: admin}
}
