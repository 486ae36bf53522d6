package admin

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/lnhostd/lnhost/internal/auth"
	"github.com/lnhostd/lnhost/internal/lnerrors"
)

// HTTPHandler exposes AdminService over plain JSON, since full proto
// service generation is out of scope: lnhostctl and any other operator
// tooling drive the registry through this surface rather than through
// generated gRPC stubs. The gRPC server built in cmd/lnhostd still runs
// AuthInterceptor/LoggingInterceptor so the interceptor chain itself
// stays exercised, but no RPC method is registered on it.
func (r *Registry) HTTPHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/status", r.handleStatus)
	mux.HandleFunc("/v1/admin", r.authed(rootScope, r.handleCreateAdmin))
	mux.HandleFunc("/v1/nodes", r.authed(rootScope, r.handleNodes))
	mux.HandleFunc("/v1/nodes/start", r.authed(rootScope, r.handleStartNode))
	mux.HandleFunc("/v1/nodes/stop", r.authed(rootScope, r.handleStopNode))
	mux.HandleFunc("/v1/nodes/delete", r.authed(rootScope, r.handleDeleteNode))
	mux.HandleFunc("/v1/tokens", r.authed(rootScope, r.handleTokens))
	return mux
}

// authed wraps a handler with the same header/cookie credential
// extraction AuthInterceptor applies to gRPC calls, gated on the access
// token scope the endpoint requires.
func (r *Registry) authed(scope string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		header := req.Header.Get("X-Macaroon")
		if header == "" {
			header = req.Header.Get("X-Token")
		}
		var cookie string
		if c, err := req.Cookie("lnhost_token"); err == nil {
			cookie = c.Value
		}
		raw, err := auth.ExtractCredential(header, cookie)
		if err != nil {
			writeError(w, err)
			return
		}
		if _, err := auth.AuthenticateToken(req.Context(), r.db, auth.EncodeCredential(raw), scope, time.Now().Unix()); err != nil {
			writeError(w, err)
			return
		}
		next(w, req)
	}
}

func (r *Registry) handleStatus(w http.ResponseWriter, req *http.Request) {
	pubkey := req.URL.Query().Get("pubkey")
	status, err := r.GetStatus(req.Context(), pubkey)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, status)
}

func (r *Registry) handleCreateAdmin(w http.ResponseWriter, req *http.Request) {
	var body struct {
		Passphrase string `json:"passphrase"`
		Start      bool   `json:"start"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		writeError(w, lnerrors.New(lnerrors.KindConfiguration, "decode request: %v", err))
		return
	}
	result, err := r.CreateAdmin(req.Context(), body.Passphrase, body.Start)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, result)
}

func (r *Registry) handleNodes(w http.ResponseWriter, req *http.Request) {
	var body CreateNodeRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		writeError(w, lnerrors.New(lnerrors.KindConfiguration, "decode request: %v", err))
		return
	}
	result, err := r.CreateNode(req.Context(), body)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, result)
}

func (r *Registry) handleStartNode(w http.ResponseWriter, req *http.Request) {
	var body struct {
		Pubkey     string `json:"pubkey"`
		Passphrase string `json:"passphrase"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		writeError(w, lnerrors.New(lnerrors.KindConfiguration, "decode request: %v", err))
		return
	}
	if err := r.StartNode(req.Context(), body.Pubkey, body.Passphrase); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (r *Registry) handleStopNode(w http.ResponseWriter, req *http.Request) {
	var body struct {
		Pubkey string `json:"pubkey"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		writeError(w, lnerrors.New(lnerrors.KindConfiguration, "decode request: %v", err))
		return
	}
	if err := r.StopNode(req.Context(), body.Pubkey); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (r *Registry) handleDeleteNode(w http.ResponseWriter, req *http.Request) {
	var body struct {
		Pubkey string `json:"pubkey"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		writeError(w, lnerrors.New(lnerrors.KindConfiguration, "decode request: %v", err))
		return
	}
	if err := r.DeleteNode(req.Context(), body.Pubkey); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (r *Registry) handleTokens(w http.ResponseWriter, req *http.Request) {
	switch req.Method {
	case http.MethodGet:
		tokens, err := r.ListTokens(req.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, tokens)
	case http.MethodPost:
		var body struct {
			Name      string `json:"name"`
			Scope     string `json:"scope"`
			Expiry    int64  `json:"expiry"`
			SingleUse bool   `json:"single_use"`
		}
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			writeError(w, lnerrors.New(lnerrors.KindConfiguration, "decode request: %v", err))
			return
		}
		tok, err := r.CreateToken(req.Context(), body.Name, body.Scope, body.Expiry, body.SingleUse)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, tok)
	case http.MethodDelete:
		id := req.URL.Query().Get("id")
		if err := r.DeleteToken(req.Context(), id); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusOK)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	if lerr, ok := err.(*lnerrors.Error); ok {
		switch lerr.Kind {
		case lnerrors.KindAuthentication:
			status = http.StatusUnauthorized
		case lnerrors.KindNotFound:
			status = http.StatusNotFound
		case lnerrors.KindPrecondition:
			status = http.StatusConflict
		case lnerrors.KindConfiguration:
			status = http.StatusBadRequest
		}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
