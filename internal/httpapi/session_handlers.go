package httpapi

import "net/http"

// appMetadata describes the app for the demo UI. Served statically.
var appMetadata = map[string]string{
	"name":      "livegate",
	"feature":   "live-transcription",
	"language":  "Go",
	"framework": "net/http",
	"version":   "1.0.0",
}

// handleSession issues a short-lived session token. Unauthenticated by
// design: the token proves only that the holder reached this endpoint
// recently, gating websocket upgrades without a user account system.
func (r *Router) handleSession(w http.ResponseWriter, req *http.Request) {
	token, _, err := r.issuer.Issue()
	if err != nil {
		r.logger.Printf("session: failed to issue token: %v", err)
		captureError(req, err, "session: token issue failed")
		http.Error(w, `{"error": "failed to issue session token"}`, http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

func (r *Router) handleMetadata(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, appMetadata)
}
