// Package docs registers the launchpad OpenAPI document with swag so the
// API server can serve it at /swagger/doc.json. Keep it in step with the
// handler annotations in internal/apiserver.
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/hooks/push": {
            "post": {
                "description": "Accepts generic {repository, revision} payloads and GitHub push events",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["hooks"],
                "summary": "Push webhook",
                "responses": {
                    "200": {"description": "Queued request id, or pong for pings", "schema": {"type": "object", "additionalProperties": {"type": "string"}}},
                    "400": {"description": "Malformed payload", "schema": {"$ref": "#/definitions/ErrorResponse"}},
                    "401": {"description": "Bad signature", "schema": {"$ref": "#/definitions/ErrorResponse"}},
                    "404": {"description": "No application for the repository", "schema": {"$ref": "#/definitions/ErrorResponse"}},
                    "503": {"description": "Queue unavailable", "schema": {"$ref": "#/definitions/ErrorResponse"}}
                }
            }
        },
        "/runs": {
            "get": {
                "produces": ["application/json"],
                "tags": ["runs"],
                "summary": "List runs",
                "parameters": [
                    {"type": "string", "description": "Comma-separated statuses", "name": "status", "in": "query"},
                    {"type": "string", "description": "Only runs including this target", "name": "target", "in": "query"},
                    {"type": "string", "description": "RFC3339 lower bound", "name": "created_after", "in": "query"},
                    {"type": "integer", "description": "Maximum number of runs", "name": "limit", "in": "query"}
                ],
                "responses": {
                    "200": {"description": "Runs", "schema": {"type": "object"}},
                    "400": {"description": "Bad filter", "schema": {"$ref": "#/definitions/ErrorResponse"}}
                }
            },
            "post": {
                "description": "Stage a server-side source tree and deploy it to the selected targets",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["runs"],
                "summary": "Create run",
                "parameters": [
                    {"description": "Source path, application, and target selector", "name": "run", "in": "body", "required": true, "schema": {"$ref": "#/definitions/DeployRequest"}}
                ],
                "responses": {
                    "202": {"description": "Run started", "schema": {"$ref": "#/definitions/DeploymentRun"}},
                    "400": {"description": "Bad request", "schema": {"$ref": "#/definitions/ErrorResponse"}},
                    "404": {"description": "Unknown application or target", "schema": {"$ref": "#/definitions/ErrorResponse"}},
                    "409": {"description": "A target is busy", "schema": {"$ref": "#/definitions/ErrorResponse"}}
                }
            }
        },
        "/runs/{id}": {
            "get": {
                "produces": ["application/json"],
                "tags": ["runs"],
                "summary": "Get run",
                "parameters": [{"type": "string", "description": "Run ID", "name": "id", "in": "path", "required": true}],
                "responses": {
                    "200": {"description": "Run", "schema": {"$ref": "#/definitions/DeploymentRun"}},
                    "404": {"description": "Unknown run", "schema": {"$ref": "#/definitions/ErrorResponse"}}
                }
            }
        },
        "/runs/{id}/cancel": {
            "post": {
                "description": "Targets that have not started their next stage stop; the others finish",
                "produces": ["application/json"],
                "tags": ["runs"],
                "summary": "Cancel run",
                "parameters": [{"type": "string", "description": "Run ID", "name": "id", "in": "path", "required": true}],
                "responses": {
                    "200": {"description": "Cancellation requested", "schema": {"type": "object", "additionalProperties": {"type": "string"}}},
                    "400": {"description": "Run already finished", "schema": {"$ref": "#/definitions/ErrorResponse"}},
                    "404": {"description": "Unknown run", "schema": {"$ref": "#/definitions/ErrorResponse"}}
                }
            }
        },
        "/runs/{id}/rollback": {
            "post": {
                "produces": ["application/json"],
                "tags": ["runs"],
                "summary": "Roll back run",
                "parameters": [{"type": "string", "description": "Run ID", "name": "id", "in": "path", "required": true}],
                "responses": {
                    "202": {"description": "Rollback run started", "schema": {"$ref": "#/definitions/DeploymentRun"}},
                    "400": {"description": "Nothing to roll back", "schema": {"$ref": "#/definitions/ErrorResponse"}},
                    "404": {"description": "Unknown run", "schema": {"$ref": "#/definitions/ErrorResponse"}},
                    "409": {"description": "A target is busy", "schema": {"$ref": "#/definitions/ErrorResponse"}}
                }
            }
        },
        "/targets": {
            "get": {
                "produces": ["application/json"],
                "tags": ["targets"],
                "summary": "List targets",
                "parameters": [{"type": "string", "description": "Target selector", "name": "selector", "in": "query"}],
                "responses": {"200": {"description": "Targets", "schema": {"type": "object"}}}
            }
        },
        "/targets/reload": {
            "post": {
                "produces": ["application/json"],
                "tags": ["targets"],
                "summary": "Reload inventory",
                "responses": {"200": {"description": "Sync result", "schema": {"type": "object"}}}
            }
        },
        "/queue/metrics": {
            "get": {"produces": ["application/json"], "tags": ["system"], "summary": "Get queue metrics", "responses": {"200": {"description": "Queue metrics", "schema": {"type": "object"}}}}
        },
        "/system/health": {
            "get": {"produces": ["application/json"], "tags": ["system"], "summary": "Health check", "responses": {"200": {"description": "Healthy", "schema": {"type": "object"}}, "503": {"description": "Unhealthy", "schema": {"type": "object"}}}}
        },
        "/system/config": {
            "get": {"produces": ["application/json"], "tags": ["system"], "summary": "Get server configuration", "responses": {"200": {"description": "Sanitized configuration", "schema": {"type": "object"}}}}
        },
        "/system/runtime": {
            "get": {"produces": ["application/json"], "tags": ["system"], "summary": "Get runtime information", "responses": {"200": {"description": "Runtime information", "schema": {"type": "object"}}}}
        },
        "/system/disk-usage": {
            "get": {"produces": ["application/json"], "tags": ["system"], "summary": "Get disk usage", "responses": {"200": {"description": "Disk usage per directory", "schema": {"type": "object"}}}}
        }
    },
    "definitions": {
        "ErrorResponse": {
            "type": "object",
            "properties": {
                "error": {"type": "string"},
                "message": {"type": "string"}
            }
        },
        "DeployRequest": {
            "type": "object",
            "properties": {
                "source": {"type": "string"},
                "revision": {"type": "string"},
                "application": {"type": "string"},
                "targets": {"type": "string"},
                "request_id": {"type": "string"}
            }
        },
        "DeploymentRun": {
            "type": "object",
            "properties": {
                "id": {"type": "string"},
                "artifact": {"type": "object"},
                "targets": {"type": "array", "items": {"type": "string"}},
                "outcomes": {"type": "object"},
                "status": {"type": "string", "enum": ["pending", "in_progress", "succeeded", "failed", "rolled_back", "canceled"]},
                "options": {"type": "object"},
                "cancel_requested": {"type": "boolean"},
                "created_at": {"type": "string"},
                "started_at": {"type": "string"},
                "completed_at": {"type": "string"}
            }
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "localhost:8084",
	BasePath:         "/api/v1",
	Schemes:          []string{"http", "https"},
	Title:            "Launchpad API",
	Description:      "Push-triggered deployment of applications to SSH targets",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
