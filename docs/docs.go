// Package docs holds the OpenAPI document for the agencylink HTTP API.
// Regenerate with: swag init -g cmd/agencylink/main.go -o docs
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "contact": {
            "name": "AgencyLink maintainers",
            "url": "https://github.com/custodia-labs/agencylink/issues"
        },
        "license": {
            "name": "Apache 2.0",
            "url": "http://www.apache.org/licenses/LICENSE-2.0.html"
        },
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/health": {
            "get": {
                "produces": ["application/json"],
                "tags": ["Health"],
                "summary": "Health check",
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/http.StatusResponse"}}}
            }
        },
        "/ready": {
            "get": {
                "produces": ["application/json"],
                "tags": ["Health"],
                "summary": "Readiness check",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/http.ReadyResponse"}},
                    "503": {"description": "Service Unavailable", "schema": {"$ref": "#/definitions/http.ReadyResponse"}}
                }
            }
        },
        "/oauth/authorize": {
            "get": {
                "produces": ["application/json"],
                "tags": ["Install"],
                "summary": "Start an install",
                "parameters": [
                    {"type": "string", "description": "Install target hint (Company or Location)", "name": "user_type", "in": "query"},
                    {"type": "string", "description": "Where to send the browser after the callback", "name": "returnTo", "in": "query"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/driving.AuthorizeResponse"}},
                    "302": {"description": "Found"}
                }
            }
        },
        "/oauth/callback": {
            "get": {
                "produces": ["application/json"],
                "tags": ["Install"],
                "summary": "Install callback",
                "parameters": [
                    {"type": "string", "description": "Authorization code", "name": "code", "in": "query"},
                    {"type": "string", "description": "State parameter", "name": "state", "in": "query", "required": true},
                    {"type": "string", "description": "Install target hint", "name": "user_type", "in": "query"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/driving.CallbackResponse"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/http.OAuthErrorResponse"}},
                    "422": {"description": "Unprocessable Entity", "schema": {"$ref": "#/definitions/http.OAuthErrorResponse"}},
                    "502": {"description": "Bad Gateway", "schema": {"$ref": "#/definitions/http.OAuthErrorResponse"}}
                }
            }
        },
        "/api/v1/sso/context": {
            "post": {
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["Install"],
                "summary": "Resolve SSO context",
                "parameters": [
                    {"description": "Encrypted payload", "name": "request", "in": "body", "required": true, "schema": {"$ref": "#/definitions/http.UserContextRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/driving.UserContextResponse"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/http.ErrorResponse"}}
                }
            }
        },
        "/api/v1/agencies/discover": {
            "post": {
                "security": [{"BearerAuth": []}],
                "produces": ["application/json"],
                "tags": ["Admin"],
                "summary": "Discover sub-accounts",
                "parameters": [{"type": "string", "description": "Agency id", "name": "companyId", "in": "query"}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/domain.DiscoveryResult"}},
                    "409": {"description": "Discovery already running", "schema": {"$ref": "#/definitions/http.ErrorResponse"}}
                }
            }
        },
        "/api/v1/agency": {
            "get": {
                "security": [{"BearerAuth": []}],
                "produces": ["application/json"],
                "tags": ["Admin"],
                "summary": "Get agency install",
                "parameters": [{"type": "string", "description": "Agency id", "name": "companyId", "in": "query"}],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/domain.InstallSummary"}}}
            }
        },
        "/api/v1/installs/{tenantKey}": {
            "get": {
                "security": [{"BearerAuth": []}],
                "produces": ["application/json"],
                "tags": ["Admin"],
                "summary": "Get install",
                "parameters": [{"type": "string", "description": "Tenant key", "name": "tenantKey", "in": "path", "required": true}],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/domain.InstallSummary"}}}
            }
        },
        "/api/v1/installs/{tenantKey}/refresh": {
            "post": {
                "security": [{"BearerAuth": []}],
                "produces": ["application/json"],
                "tags": ["Admin"],
                "summary": "Refresh install tokens",
                "parameters": [{"type": "string", "description": "Tenant key", "name": "tenantKey", "in": "path", "required": true}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/domain.InstallSummary"}},
                    "502": {"description": "Bad Gateway", "schema": {"$ref": "#/definitions/http.OAuthErrorResponse"}}
                }
            }
        },
        "/api/v1/installed": {
            "get": {
                "produces": ["application/json"],
                "tags": ["Install"],
                "summary": "Install status",
                "parameters": [
                    {"type": "string", "description": "Sub-account id (aliases: location_id, location, subAccountId, accountId)", "name": "locationId", "in": "query"},
                    {"type": "string", "description": "Agency id (aliases: agency_id, agencyId)", "name": "companyId", "in": "query"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/domain.InstallStatus"}},
                    "503": {"description": "Service Unavailable", "schema": {"$ref": "#/definitions/http.ErrorResponse"}}
                }
            }
        },
        "/api/v1/tokens/location": {
            "get": {
                "security": [{"BearerAuth": []}],
                "produces": ["application/json"],
                "tags": ["Admin"],
                "summary": "Sub-account access token",
                "parameters": [{"type": "string", "description": "Sub-account id", "name": "locationId", "in": "query", "required": true}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/driving.AccessTokenResponse"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/http.ErrorResponse"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/http.ErrorResponse"}},
                    "409": {"description": "Conflict", "schema": {"$ref": "#/definitions/http.ErrorResponse"}},
                    "502": {"description": "Bad Gateway", "schema": {"$ref": "#/definitions/http.OAuthErrorResponse"}}
                }
            }
        }
    },
    "definitions": {
        "domain.DiscoveryResult": {
            "type": "object",
            "properties": {
                "agency_id": {"type": "string"},
                "source": {"type": "string"},
                "found": {"type": "integer"},
                "minted": {"type": "integer"},
                "minted_ids": {"type": "array", "items": {"type": "string"}},
                "failed": {"type": "array", "items": {"type": "object", "properties": {"sub_account_id": {"type": "string"}, "reason": {"type": "string"}}}}
            }
        },
        "domain.InstallSummary": {
            "type": "object",
            "properties": {
                "tenant_key": {"type": "string"},
                "scope_kind": {"type": "string", "enum": ["agency", "sub_account"]},
                "agency_id": {"type": "string"},
                "sub_account_id": {"type": "string"},
                "sub_account_name": {"type": "string"},
                "scopes": {"type": "array", "items": {"type": "string"}},
                "token_type": {"type": "string"},
                "expires_at": {"type": "string"},
                "has_refresh_token": {"type": "boolean"},
                "needs_refresh": {"type": "boolean"},
                "created_at": {"type": "string"},
                "updated_at": {"type": "string"}
            }
        },
        "domain.InstallStatus": {
            "type": "object",
            "properties": {
                "installed": {"type": "boolean"},
                "agency_id": {"type": "string"},
                "sub_account_id": {"type": "string"}
            }
        },
        "driving.AccessTokenResponse": {
            "type": "object",
            "properties": {
                "access_token": {"type": "string"},
                "scope": {"type": "string"},
                "expires_in": {"type": "integer"},
                "expires_at": {"type": "string"}
            }
        },
        "driving.AuthorizeResponse": {
            "type": "object",
            "properties": {
                "authorization_url": {"type": "string"},
                "state": {"type": "string"},
                "expires_at": {"type": "string"}
            }
        },
        "driving.CallbackResponse": {
            "type": "object",
            "properties": {
                "install": {"$ref": "#/definitions/domain.InstallSummary"},
                "discovery": {"$ref": "#/definitions/domain.DiscoveryResult"},
                "discovery_error": {"type": "string"},
                "return_to": {"type": "string"},
                "message": {"type": "string"}
            }
        },
        "driving.UserContextResponse": {
            "type": "object",
            "properties": {
                "context": {"type": "object"},
                "install": {"$ref": "#/definitions/domain.InstallSummary"}
            }
        },
        "http.ErrorResponse": {
            "type": "object",
            "properties": {"error": {"type": "string"}}
        },
        "http.OAuthErrorResponse": {
            "type": "object",
            "properties": {
                "error": {"type": "string"},
                "error_description": {"type": "string"},
                "upstream_status": {"type": "integer"}
            }
        },
        "http.ReadyResponse": {
            "type": "object",
            "properties": {
                "status": {"type": "string"},
                "checks": {"type": "object", "additionalProperties": {"type": "string"}}
            }
        },
        "http.StatusResponse": {
            "type": "object",
            "properties": {"status": {"type": "string"}}
        },
        "http.UserContextRequest": {
            "type": "object",
            "properties": {"encrypted": {"type": "string"}}
        }
    },
    "securityDefinitions": {
        "BearerAuth": {
            "description": "Admin JWT. Format: \"Bearer {token}\"",
            "type": "apiKey",
            "name": "Authorization",
            "in": "header"
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "localhost:8080",
	BasePath:         "/",
	Schemes:          []string{"http", "https"},
	Title:            "AgencyLink API",
	Description:      "Installs a marketplace app on agencies and sub-accounts, stores their tokens and keeps them fresh.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
