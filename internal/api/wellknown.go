package api

import "net/http"

// wellKnownManifest is the static JSON manifest for /.well-known/sparkgate.json.
const wellKnownManifest = `{
  "name": "Sparkgate",
  "description": "Budget-constrained query orchestration over upstream language models",
  "version": "0.1.0",
  "api_base": "/api/v1",
  "auth": {
    "type": "bearer",
    "header": "Authorization"
  },
  "endpoints": {
    "models": "/api/v1/models",
    "query": "/api/v1/query",
    "chat": "/api/v1/chat",
    "balance": "/api/v1/balance",
    "usage": "/api/v1/usage"
  },
  "health": "/health"
}`

// WellKnownHandler returns the static Sparkgate well-known manifest.
func WellKnownHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(wellKnownManifest))
}
