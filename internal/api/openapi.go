package api

import "net/http"

// handleOpenAPI handles GET /openapi.json.
func (s *Server) handleOpenAPI(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, buildOpenAPIDoc())
}

// buildOpenAPIDoc returns an OpenAPI 3.1 document for the server's routes.
func buildOpenAPIDoc() map[string]any {
	get := func(id, summary string) map[string]any {
		return map[string]any{"get": map[string]any{
			"operationId": id,
			"summary":     summary,
			"responses":   map[string]any{"200": map[string]any{"description": "OK"}},
		}}
	}

	return map[string]any{
		"openapi": "3.1.0",
		"info": map[string]any{
			"title":   "spork",
			"version": "1.0",
		},
		"paths": map[string]any{
			"/healthz":    get("healthz", "Liveness and uptime"),
			"/stats":      get("stats", "Live and ledger dispatch totals"),
			"/dispatches": get("dispatches", "Most recent ledger entries"),
			"/events":     get("events", "Server-sent dispatch events"),
			"/dispatch": map[string]any{"post": map[string]any{
				"operationId": "dispatch",
				"summary":     "Start a program with optional pre-exec state changes",
				"requestBody": map[string]any{
					"required": true,
					"content":  map[string]any{"application/json": map[string]any{}},
				},
				"responses": map[string]any{
					"202": map[string]any{"description": "Child started"},
					"400": map[string]any{"description": "Invalid request or context"},
					"401": map[string]any{"description": "Missing or invalid token"},
					"403": map[string]any{"description": "Remote dispatch disabled"},
					"502": map[string]any{"description": "Spawn failed"},
				},
				"security": []any{map[string]any{"BearerAuth": []string{}}},
			}},
		},
		"components": map[string]any{
			"securitySchemes": map[string]any{
				"BearerAuth": map[string]any{
					"type":   "http",
					"scheme": "bearer",
				},
			},
		},
	}
}
