package api

import (
	"fmt"
	"net/http"

	echojwt "github.com/labstack/echo-jwt/v4"
	"github.com/labstack/echo/v4"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"github.com/sirupsen/logrus"

	"mnemo.evalgo.org/apperr"
	"mnemo.evalgo.org/common"
	"mnemo.evalgo.org/security"
)

// contextTenant and contextAgent are the echo context keys the JWT
// middleware fills for every authenticated request.
const (
	contextTenant = "tenant_id"
	contextAgent  = "agent_id"
)

// JWTMiddleware validates bearer tokens through the jwx service and puts
// the tenant and agent claims on the request context. Handlers trust
// these values; nothing downstream reads tenant from the body.
func JWTMiddleware(jwtService *security.JWTService) echo.MiddlewareFunc {
	return echojwt.WithConfig(echojwt.Config{
		TokenLookup: "header:Authorization:Bearer ",
		ParseTokenFunc: func(c echo.Context, auth string) (interface{}, error) {
			token, err := jwtService.ValidateToken(auth)
			if err != nil {
				return nil, err
			}
			tenant, err := security.TenantOf(token)
			if err != nil {
				return nil, err
			}
			c.Set(contextTenant, tenant)
			c.Set(contextAgent, security.AgentOf(token))
			return token, nil
		},
	})
}

// tenantID returns the authenticated tenant of the request.
func tenantID(c echo.Context) string {
	tenant, _ := c.Get(contextTenant).(string)
	return tenant
}

// agentID returns the authenticated agent of the request, falling back to
// the token subject when no agent claim was issued.
func agentID(c echo.Context) string {
	agent, _ := c.Get(contextAgent).(string)
	if agent != "" {
		return agent
	}
	if token, ok := c.Get("user").(jwt.Token); ok {
		return token.Subject()
	}
	return ""
}

// errorBody is the JSON error envelope.
type errorBody struct {
	Error   string                 `json:"error"`
	Message string                 `json:"message"`
	Fields  []apperr.FieldError    `json:"fields,omitempty"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// writeError maps domain errors onto HTTP statuses:
//
//	validation → 400, authorization → 403, not-found → 404,
//	conflict → 409, rate limit → 429 (+Retry-After), storage → 500.
func writeError(c echo.Context, err error) error {
	switch e := err.(type) {
	case *apperr.ValidationError:
		return c.JSON(http.StatusBadRequest, errorBody{
			Error:   "validation_error",
			Message: e.Error(),
			Fields:  e.Fields,
		})
	case *apperr.AuthorizationError:
		return c.JSON(http.StatusForbidden, errorBody{
			Error:   "authorization_error",
			Message: e.Error(),
		})
	case *apperr.NotFoundError:
		return c.JSON(http.StatusNotFound, errorBody{
			Error:   "not_found",
			Message: e.Error(),
		})
	case *apperr.ConflictError:
		return c.JSON(http.StatusConflict, errorBody{
			Error:   "conflict",
			Message: e.Error(),
		})
	case *apperr.RateLimitError:
		c.Response().Header().Set("Retry-After", fmt.Sprintf("%d", e.RetryAfterSeconds))
		return c.JSON(http.StatusTooManyRequests, errorBody{
			Error:   "rate_limited",
			Message: e.Error(),
		})
	default:
		common.Logger.WithFields(logrus.Fields{
			"path":  c.Path(),
			"error": err,
		}).Error("request failed")
		return c.JSON(http.StatusInternalServerError, errorBody{
			Error:   "internal_error",
			Message: "storage operation failed, retry with backoff",
		})
	}
}
