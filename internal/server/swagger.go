package server

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"
	"gopkg.in/yaml.v2"

	"github.com/tributary-ai/request-router/api"
)

// setupSwaggerRoutes serves the embedded OpenAPI document and a Swagger UI page
func (s *Server) setupSwaggerRoutes(r *mux.Router) {
	r.HandleFunc("/docs/openapi.yaml", s.handleOpenAPIYAML).Methods(http.MethodGet)
	r.HandleFunc("/docs/openapi.json", s.handleOpenAPIJSON).Methods(http.MethodGet)

	r.HandleFunc("/docs", s.serveSwaggerIndex).Methods(http.MethodGet)
	r.HandleFunc("/docs/", s.serveSwaggerIndex).Methods(http.MethodGet)
}

func (s *Server) handleOpenAPIYAML(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/yaml")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(api.OpenAPISpec)
}

func (s *Server) handleOpenAPIJSON(w http.ResponseWriter, r *http.Request) {
	jsonData, err := openAPIJSON()
	if err != nil {
		s.logger.WithError(err).Error("Failed to convert OpenAPI document")
		s.writeErrorResponse(w, http.StatusInternalServerError, "internal_error", "error converting OpenAPI document")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(jsonData)
}

// openAPIJSON converts the embedded YAML document to indented JSON
func openAPIJSON() ([]byte, error) {
	var doc interface{}
	if err := yaml.Unmarshal(api.OpenAPISpec, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse OpenAPI document: %w", err)
	}
	return json.MarshalIndent(jsonCompatible(doc), "", "  ")
}

// jsonCompatible rewrites the map[interface{}]interface{} values yaml.v2
// produces into string-keyed maps encoding/json accepts
func jsonCompatible(v interface{}) interface{} {
	switch value := v.(type) {
	case map[interface{}]interface{}:
		out := make(map[string]interface{}, len(value))
		for k, item := range value {
			out[fmt.Sprint(k)] = jsonCompatible(item)
		}
		return out
	case []interface{}:
		for i, item := range value {
			value[i] = jsonCompatible(item)
		}
		return value
	default:
		return v
	}
}

// serveSwaggerIndex serves the main Swagger UI HTML page
func (s *Server) serveSwaggerIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html")
	// The UI bundle comes from a CDN
	w.Header().Set("Content-Security-Policy", "default-src 'self' https://unpkg.com 'unsafe-inline'")

	specURL := fmt.Sprintf("%s/docs/openapi.yaml", getBaseURL(r))

	html := fmt.Sprintf(`<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>Request Router - API Documentation</title>
    <link rel="stylesheet" type="text/css" href="https://unpkg.com/swagger-ui-dist@5.9.0/swagger-ui.css" />
    <style>
        body { margin: 0; background: #fafafa; }
        .swagger-ui .topbar { display: none; }
        .custom-header {
            background: #1f2937;
            color: white;
            padding: 1rem 2rem;
            margin-bottom: 2rem;
        }
        .custom-header h1 { margin: 0; font-size: 1.5rem; }
        .custom-header p { margin: 0.5rem 0 0 0; opacity: 0.8; }
    </style>
</head>
<body>
    <div class="custom-header">
        <h1>Request Router API Documentation</h1>
        <p>Scores registered backends and dispatches each request to the best one</p>
    </div>
    <div id="swagger-ui"></div>

    <script src="https://unpkg.com/swagger-ui-dist@5.9.0/swagger-ui-bundle.js"></script>
    <script src="https://unpkg.com/swagger-ui-dist@5.9.0/swagger-ui-standalone-preset.js"></script>
    <script>
        window.onload = function() {
            SwaggerUIBundle({
                url: '%s',
                dom_id: '#swagger-ui',
                deepLinking: true,
                presets: [SwaggerUIBundle.presets.apis, SwaggerUIStandalonePreset],
                layout: "StandaloneLayout",
                defaultModelsExpandDepth: 0,
                docExpansion: "list",
                supportedSubmitMethods: ['get', 'post'],
                validatorUrl: null,
                requestInterceptor: function(request) {
                    if (!request.headers['X-Caller-ID']) {
                        request.headers['X-Caller-ID'] = 'swagger-ui';
                    }
                    return request;
                }
            });
        };
    </script>
</body>
</html>`, specURL)

	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(html))
}

// getBaseURL extracts the base URL from the request
func getBaseURL(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}

	// Reverse proxies report the original scheme and host
	if forwardedProto := r.Header.Get("X-Forwarded-Proto"); forwardedProto != "" {
		scheme = forwardedProto
	}

	host := r.Host
	if forwardedHost := r.Header.Get("X-Forwarded-Host"); forwardedHost != "" {
		host = forwardedHost
	}

	return fmt.Sprintf("%s://%s", scheme, host)
}
