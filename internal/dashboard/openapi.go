package dashboard

import (
	"context"
	"net/http"
	"strings"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/getkin/kin-openapi/openapi3filter"
	"github.com/getkin/kin-openapi/routers"
	legacyrouter "github.com/getkin/kin-openapi/routers/legacy"
	"github.com/gin-gonic/gin"

	apidocs "hostweave/docs/api"
)

// openAPIValidator validates incoming API requests against the embedded OpenAPI document.
type openAPIValidator struct {
	router routers.Router
}

func newOpenAPIValidator(spec []byte) (*openAPIValidator, error) {
	if spec == nil {
		spec = apidocs.Spec
	}
	loader := openapi3.NewLoader()
	doc, err := loader.LoadFromData(spec)
	if err != nil {
		return nil, err
	}
	if err := doc.Validate(loader.Context); err != nil {
		return nil, err
	}
	// servers are relative; match on path only
	doc.Servers = nil
	r, err := legacyrouter.NewRouter(doc)
	if err != nil {
		return nil, err
	}
	return &openAPIValidator{router: r}, nil
}

// Middleware validates requests under /api/ and rejects the ones the document does not describe.
func (v *openAPIValidator) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !strings.HasPrefix(c.Request.URL.Path, "/api/") {
			c.Next()
			return
		}
		route, pathParams, err := v.router.FindRoute(c.Request)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "Request not in API spec", "detail": err.Error()})
			return
		}
		input := &openapi3filter.RequestValidationInput{
			Request:    c.Request,
			PathParams: pathParams,
			Route:      route,
			Options: &openapi3filter.Options{
				AuthenticationFunc: func(context.Context, *openapi3filter.AuthenticationInput) error { return nil },
			},
		}
		if err := openapi3filter.ValidateRequest(c.Request.Context(), input); err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "Request failed validation", "detail": err.Error()})
			return
		}
		c.Next()
	}
}
