// Package swagger holds the OpenAPI document served at /swagger/doc.json.
// Regenerate with: swag init -g cmd/tally/main.go -o api/swagger
package swagger

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "contact": {},
        "license": {
            "name": "MIT"
        },
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/counter/categories": {
            "get": {
                "description": "Returns per-item weight, count and deviation for every category, in id order.",
                "produces": ["application/json"],
                "tags": ["counter"],
                "summary": "List categories",
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "type": "array",
                            "items": {"$ref": "#/definitions/mixture.View"}
                        }
                    }
                }
            }
        },
        "/counter/deltas": {
            "get": {
                "description": "Returns journaled weight steps. Scope to this run with session=current.",
                "produces": ["application/json"],
                "tags": ["counter"],
                "summary": "List deltas",
                "parameters": [
                    {
                        "type": "integer",
                        "default": 50,
                        "description": "Maximum results",
                        "name": "limit",
                        "in": "query"
                    },
                    {
                        "type": "string",
                        "description": "Session id, or 'current'",
                        "name": "session",
                        "in": "query"
                    }
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "type": "array",
                            "items": {"$ref": "#/definitions/counter.JournalEntry"}
                        }
                    },
                    "500": {
                        "description": "Internal Server Error",
                        "schema": {"$ref": "#/definitions/plugin.Problem"}
                    },
                    "503": {
                        "description": "Service Unavailable",
                        "schema": {"$ref": "#/definitions/plugin.Problem"}
                    }
                }
            }
        },
        "/counter/reset": {
            "post": {
                "description": "Discards all categories and re-acquires the baseline.",
                "produces": ["application/json"],
                "tags": ["counter"],
                "summary": "Reset counter",
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {"$ref": "#/definitions/counter.Snapshot"}
                    }
                }
            }
        },
        "/counter/snapshot": {
            "get": {
                "description": "Returns baseline, categories and total weight as of the last sample.",
                "produces": ["application/json"],
                "tags": ["counter"],
                "summary": "Counter snapshot",
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {"$ref": "#/definitions/counter.Snapshot"}
                    }
                }
            }
        },
        "/health": {
            "get": {
                "description": "Returns service health status with version information and per-module health.",
                "produces": ["application/json"],
                "tags": ["system"],
                "summary": "Health check",
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {"$ref": "#/definitions/server.HealthResponse"}
                    }
                }
            }
        },
        "/plugins": {
            "get": {
                "description": "Returns all registered plugins with their metadata and enabled state.",
                "produces": ["application/json"],
                "tags": ["system"],
                "summary": "List plugins",
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "type": "array",
                            "items": {"$ref": "#/definitions/registry.Status"}
                        }
                    }
                }
            }
        }
    },
    "definitions": {
        "plugin.Problem": {
            "type": "object",
            "properties": {
                "type": {"type": "string", "example": "https://tally.dev/problems/unavailable"},
                "title": {"type": "string", "example": "Service Unavailable"},
                "status": {"type": "integer", "example": 503},
                "detail": {"type": "string", "example": "delta journal is disabled"},
                "instance": {"type": "string", "example": "/api/v1/counter/deltas"}
            }
        },
        "counter.JournalEntry": {
            "type": "object",
            "properties": {
                "id": {"type": "integer"},
                "session_id": {"type": "string"},
                "created_at": {"type": "string"},
                "value": {"type": "number"},
                "baseline": {"type": "number"},
                "action": {"type": "string"},
                "category_id": {"type": "integer"},
                "estimate": {"type": "number"},
                "score": {"type": "number"},
                "total": {"type": "number"}
            }
        },
        "counter.Snapshot": {
            "type": "object",
            "properties": {
                "mode": {"type": "string"},
                "baseline_valid": {"type": "boolean"},
                "baseline": {"type": "number"},
                "baseline_deviation": {"type": "number"},
                "current": {"type": "number"},
                "categories": {
                    "type": "array",
                    "items": {"$ref": "#/definitions/mixture.View"}
                },
                "total": {"type": "number"},
                "samples": {"type": "integer"},
                "deltas": {"type": "integer"},
                "resets": {"type": "integer"},
                "updated_at": {"type": "string"}
            }
        },
        "mixture.View": {
            "type": "object",
            "properties": {
                "id": {"type": "integer"},
                "weight": {"type": "number"},
                "count": {"type": "number"},
                "deviation": {"type": "number"}
            }
        },
        "registry.Status": {
            "type": "object",
            "properties": {
                "name": {"type": "string"},
                "version": {"type": "string"},
                "description": {"type": "string"},
                "required": {"type": "boolean"},
                "enabled": {"type": "boolean"},
                "dependencies": {
                    "type": "array",
                    "items": {"type": "string"}
                }
            }
        },
        "server.HealthResponse": {
            "type": "object",
            "properties": {
                "status": {"type": "string", "example": "ok"},
                "service": {"type": "string", "example": "tally"},
                "version": {
                    "type": "object",
                    "additionalProperties": {"type": "string"}
                },
                "plugins": {
                    "type": "object",
                    "additionalProperties": {"type": "object"}
                }
            }
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "0.1.0",
	Host:             "",
	BasePath:         "/api/v1",
	Schemes:          []string{},
	Title:            "Tally API",
	Description:      "Counts items on a scale from settled weight steps.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
