package swagger

import "github.com/swaggo/swag"

const docTemplate = `{
    "swagger": "2.0",
    "info": {
        "title": "X-ray Triage API",
        "description": "Prioritised radiology worklist and live case statistics",
        "version": "1.0.0"
    },
    "basePath": "/api/v1",
    "schemes": [
        "http"
    ],
    "securityDefinitions": {
        "BearerAuth": {"type": "apiKey", "name": "Authorization", "in": "header"}
    },
    "tags": [
        {"name": "Worklist", "description": "Severity and wait-time ranked worklist"},
        {"name": "Cases", "description": "Case lookups and review status"},
        {"name": "Stats", "description": "Aggregate statistics and live stream"}
    ],
    "paths": {
        "/worklist": {
            "get": {
                "tags": ["Worklist"],
                "summary": "Prioritised worklist",
                "parameters": [
                    {"name": "start_date", "in": "query", "type": "string", "description": "YYYY-MM-DD or RFC3339, inclusive"},
                    {"name": "end_date", "in": "query", "type": "string", "description": "YYYY-MM-DD (whole day) or RFC3339, exclusive"},
                    {"name": "severity_level", "in": "query", "type": "integer", "minimum": 0, "maximum": 4},
                    {"name": "sort_order", "in": "query", "type": "string", "enum": ["desc", "asc"]},
                    {"name": "limit", "in": "query", "type": "integer"},
                    {"name": "offset", "in": "query", "type": "integer"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "400": {"description": "Invalid query", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "503": {"description": "Case store unavailable", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/worklist/export": {
            "get": {
                "tags": ["Worklist"],
                "summary": "Export the worklist as CSV or PDF",
                "produces": ["text/csv", "application/pdf"],
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "format", "in": "query", "type": "string", "enum": ["csv", "pdf"]},
                    {"name": "start_date", "in": "query", "type": "string"},
                    {"name": "end_date", "in": "query", "type": "string"},
                    {"name": "severity_level", "in": "query", "type": "integer"},
                    {"name": "sort_order", "in": "query", "type": "string"},
                    {"name": "limit", "in": "query", "type": "integer"},
                    {"name": "offset", "in": "query", "type": "integer"}
                ],
                "responses": {
                    "200": {"description": "File download"}
                }
            }
        },
        "/stats": {
            "get": {
                "tags": ["Stats"],
                "summary": "Aggregate case statistics",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "503": {"description": "Case store unavailable", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/stats/stream": {
            "get": {
                "tags": ["Stats"],
                "summary": "WebSocket stream of stats_update messages",
                "responses": {
                    "101": {"description": "Switching protocols"}
                }
            }
        },
        "/cases": {
            "get": {
                "tags": ["Cases"],
                "summary": "List cases newest first",
                "parameters": [
                    {"name": "image_index", "in": "query", "type": "string"},
                    {"name": "patient_name", "in": "query", "type": "string"},
                    {"name": "page", "in": "query", "type": "integer"},
                    {"name": "page_size", "in": "query", "type": "integer"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/cases/high-risk": {
            "get": {
                "tags": ["Cases"],
                "summary": "Newest cases at or above a severity threshold",
                "parameters": [
                    {"name": "threshold", "in": "query", "type": "integer", "default": 3},
                    {"name": "limit", "in": "query", "type": "integer", "default": 20}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/cases/{id}": {
            "get": {
                "tags": ["Cases"],
                "summary": "Case detail",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "404": {"description": "Not found", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/cases/{id}/review": {
            "patch": {
                "tags": ["Cases"],
                "summary": "Set a case's reviewed flag",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/ReviewRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "404": {"description": "Not found", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/patients": {
            "get": {
                "tags": ["Patients"],
                "summary": "List registered patients",
                "parameters": [
                    {"name": "search", "in": "query", "type": "string"},
                    {"name": "page", "in": "query", "type": "integer"},
                    {"name": "page_size", "in": "query", "type": "integer"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "post": {
                "tags": ["Patients"],
                "summary": "Register a patient",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/CreatePatientRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Conflict", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/patients/{patientId}": {
            "get": {
                "tags": ["Patients"],
                "summary": "Patient profile with case history",
                "parameters": [
                    {"name": "patientId", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "404": {"description": "Not found", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "delete": {
                "tags": ["Patients"],
                "summary": "Remove a patient from the registry",
                "parameters": [
                    {"name": "patientId", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "204": {"description": "No Content"},
                    "404": {"description": "Not found", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/patients/{patientId}/cases": {
            "get": {
                "tags": ["Cases"],
                "summary": "Cases of one patient",
                "parameters": [
                    {"name": "patientId", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        }
    },
    "definitions": {
        "CreatePatientRequest": {
            "type": "object",
            "required": ["patient_id", "patient_name"],
            "properties": {
                "patient_id": {"type": "string"},
                "patient_name": {"type": "string"},
                "gender": {"type": "string", "enum": ["M", "F", "O"]},
                "birth_date": {"type": "string", "format": "date-time"},
                "phone": {"type": "string"},
                "address": {"type": "string"}
            }
        },
        "ReviewRequest": {
            "type": "object",
            "required": ["reviewed"],
            "properties": {
                "reviewed": {"type": "boolean"}
            }
        },
        "Pagination": {
            "type": "object",
            "properties": {
                "page": {"type": "integer"},
                "page_size": {"type": "integer"},
                "total_count": {"type": "integer"}
            }
        },
        "APIError": {
            "type": "object",
            "properties": {
                "code": {"type": "string"},
                "message": {"type": "string"},
                "status": {"type": "integer"}
            }
        },
        "ResponseEnvelope": {
            "type": "object",
            "properties": {
                "data": {"type": "object"},
                "error": {"$ref": "#/definitions/APIError"},
                "pagination": {"$ref": "#/definitions/Pagination"},
                "meta": {"type": "object"}
            }
        }
    }
}`

type swaggerDoc struct{}

// ReadDoc returns the Swagger document.
func (s *swaggerDoc) ReadDoc() string {
	return docTemplate
}

func init() {
	swag.Register(swag.Name, &swaggerDoc{})
}
