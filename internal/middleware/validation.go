package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/getkin/kin-openapi/openapi3filter"
	"github.com/getkin/kin-openapi/routers"
	"github.com/getkin/kin-openapi/routers/gorillamux"
	"github.com/sirupsen/logrus"

	"github.com/tributary-ai/request-router/api"
	"github.com/tributary-ai/request-router/internal/types"
)

// ValidationMiddleware checks requests against the OpenAPI document
type ValidationMiddleware struct {
	router  routers.Router
	logger  *logrus.Logger
	enabled bool
}

// ValidationConfig configures the validation middleware
type ValidationConfig struct {
	Enabled bool `yaml:"enabled"`
	// DocumentPath overrides the embedded document
	DocumentPath string `yaml:"document_path"`
}

// NewValidationMiddleware creates a new validation middleware
func NewValidationMiddleware(config *ValidationConfig, logger *logrus.Logger) (*ValidationMiddleware, error) {
	if config == nil {
		config = &ValidationConfig{}
	}

	vm := &ValidationMiddleware{
		logger:  logger,
		enabled: config.Enabled,
	}

	if !config.Enabled {
		logger.Debug("API validation middleware disabled")
		return vm, nil
	}

	doc, err := loadDocument(config.DocumentPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load OpenAPI document: %w", err)
	}

	// match on path only, whatever host the router is served on
	doc.Servers = nil

	router, err := gorillamux.NewRouter(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to create OpenAPI router: %w", err)
	}
	vm.router = router

	source := config.DocumentPath
	if source == "" {
		source = "embedded"
	}
	logger.WithField("document", source).Info("API validation middleware enabled")
	return vm, nil
}

func loadDocument(documentPath string) (*openapi3.T, error) {
	loader := openapi3.NewLoader()

	var (
		doc *openapi3.T
		err error
	)
	if documentPath != "" {
		doc, err = loader.LoadFromFile(documentPath)
	} else {
		doc, err = loader.LoadFromData(api.OpenAPISpec)
	}
	if err != nil {
		return nil, err
	}

	if err := doc.Validate(context.Background()); err != nil {
		return nil, fmt.Errorf("invalid OpenAPI document: %w", err)
	}
	return doc, nil
}

// Middleware returns the HTTP middleware function
func (vm *ValidationMiddleware) Middleware(next http.Handler) http.Handler {
	if !vm.enabled {
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := vm.validateRequest(r); err != nil {
			vm.logger.WithError(err).WithFields(logrus.Fields{
				"method": r.Method,
				"path":   r.URL.Path,
			}).Warn("Request validation failed")

			writeValidationError(w, err)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (vm *ValidationMiddleware) validateRequest(r *http.Request) error {
	route, pathParams, err := vm.router.FindRoute(r)
	if err != nil {
		// undocumented routes such as /health and /metrics pass through
		if errors.Is(err, routers.ErrPathNotFound) || errors.Is(err, routers.ErrMethodNotAllowed) {
			return nil
		}
		return fmt.Errorf("route lookup failed: %w", err)
	}

	var body []byte
	if r.Body != nil {
		body, err = io.ReadAll(r.Body)
		if err != nil {
			return fmt.Errorf("failed to read request body: %w", err)
		}
		r.Body = io.NopCloser(bytes.NewReader(body))
	}

	// validate a shallow copy so the handler receives an unread body
	check := r.Clone(r.Context())
	check.Body = io.NopCloser(bytes.NewReader(body))

	input := &openapi3filter.RequestValidationInput{
		Request:    check,
		PathParams: pathParams,
		Route:      route,
		Options:    &openapi3filter.Options{MultiError: true},
	}
	return openapi3filter.ValidateRequest(r.Context(), input)
}

func writeValidationError(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadRequest)

	_ = json.NewEncoder(w).Encode(types.ErrorResponse{Error: types.ErrorDetail{
		Message: "Request does not match the API schema",
		Type:    "validation_error",
		Code:    "400",
		Details: validationDetails(err),
	}})
}

// validationDetails flattens kin-openapi's multi-errors into one line each
func validationDetails(err error) []string {
	var multi openapi3.MultiError
	if errors.As(err, &multi) {
		details := make([]string, 0, len(multi))
		for _, e := range multi {
			details = append(details, validationDetails(e)...)
		}
		return details
	}

	var reqErr *openapi3filter.RequestError
	if errors.As(err, &reqErr) {
		if reqErr.Err != nil {
			if nested := validationDetails(reqErr.Err); len(nested) > 0 {
				return nested
			}
		}
		return []string{reqErr.Error()}
	}

	var schemaErr *openapi3.SchemaError
	if errors.As(err, &schemaErr) {
		field := strings.Join(schemaErr.JSONPointer(), ".")
		if field == "" {
			return []string{schemaErr.Reason}
		}
		return []string{fmt.Sprintf("%s: %s", field, schemaErr.Reason)}
	}

	return []string{err.Error()}
}
