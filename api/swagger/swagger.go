package swagger

import "github.com/swaggo/swag"

const docTemplate = `{
    "swagger": "2.0",
    "info": {
        "title": "Amal Center Scheduling API",
        "description": "Automated scheduling engine for therapy session planning",
        "version": "1.0.0"
    },
    "basePath": "/api/v1",
    "schemes": [
        "http"
    ],
    "tags": [
        {"name": "Scheduling", "description": "Schedule generation, optimization and bulk operations"},
        {"name": "Availability", "description": "Therapist availability windows and exceptions"},
        {"name": "Templates", "description": "Reusable weekly availability patterns"}
    ],
    "paths": {
        "/health": {
            "get": {
                "summary": "Health check",
                "responses": {
                    "200": {"description": "OK"}
                }
            }
        },
        "/ready": {
            "get": {
                "summary": "Readiness check",
                "responses": {
                    "200": {"description": "Ready"},
                    "503": {"description": "Database unavailable"}
                }
            }
        },
        "/metrics/system": {
            "get": {
                "summary": "Process-level counters as JSON",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/schedule/generate": {
            "post": {
                "tags": ["Scheduling"],
                "summary": "Generate and persist a schedule for a demand",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/SchedulingRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "400": {"description": "Invalid request"},
                    "409": {"description": "Therapist lease held by another operation"}
                }
            }
        },
        "/schedule/preview": {
            "post": {
                "tags": ["Scheduling"],
                "summary": "Plan a schedule without persisting it",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/SchedulingRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "400": {"description": "Invalid request"}
                }
            }
        },
        "/schedule/optimize": {
            "post": {
                "tags": ["Scheduling"],
                "summary": "Improve an existing schedule with a bounded hill-climbing pass",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/OptimizeRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Stale snapshot or lease held"}
                }
            }
        },
        "/schedule/conflicts/check": {
            "post": {
                "tags": ["Scheduling"],
                "summary": "Check a candidate slot for conflicts",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/ConflictCheckRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/schedule/bulk": {
            "post": {
                "tags": ["Scheduling"],
                "summary": "Apply one operation across many sessions",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/BulkOperationRequest"}}
                ],
                "responses": {
                    "200": {"description": "Partitioned per-item result", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/schedule/bulk/{token}/rollback": {
            "post": {
                "tags": ["Scheduling"],
                "summary": "Restore the prior state of a bulk operation",
                "parameters": [
                    {"name": "token", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "404": {"description": "Token unknown or expired"}
                }
            }
        },
        "/schedule/metrics": {
            "get": {
                "tags": ["Scheduling"],
                "summary": "Compute schedule metrics for a period",
                "parameters": [
                    {"name": "therapistId", "in": "query", "type": "string"},
                    {"name": "from", "in": "query", "required": true, "type": "string"},
                    {"name": "to", "in": "query", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/availability/windows": {
            "get": {
                "tags": ["Availability"],
                "summary": "List a therapist's availability windows",
                "parameters": [
                    {"name": "therapistId", "in": "query", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "post": {
                "tags": ["Availability"],
                "summary": "Create or replace an availability window",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/UpsertWindowRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Capacity below current bookings"}
                }
            }
        },
        "/availability/windows/{id}": {
            "put": {
                "tags": ["Availability"],
                "summary": "Replace an availability window by ID",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/UpsertWindowRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Capacity below current bookings"}
                }
            },
            "delete": {
                "tags": ["Availability"],
                "summary": "Delete an availability window",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "force", "in": "query", "type": "boolean"}
                ],
                "responses": {
                    "204": {"description": "Deleted"},
                    "412": {"description": "Window has active bookings"}
                }
            }
        },
        "/availability/resolve": {
            "get": {
                "tags": ["Availability"],
                "summary": "Resolve per-date availability for a therapist",
                "parameters": [
                    {"name": "therapistId", "in": "query", "required": true, "type": "string"},
                    {"name": "from", "in": "query", "required": true, "type": "string"},
                    {"name": "to", "in": "query", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/availability/exceptions": {
            "get": {
                "tags": ["Availability"],
                "summary": "List a therapist's availability exceptions in a date range",
                "parameters": [
                    {"name": "therapistId", "in": "query", "required": true, "type": "string"},
                    {"name": "from", "in": "query", "required": true, "type": "string"},
                    {"name": "to", "in": "query", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "post": {
                "tags": ["Availability"],
                "summary": "Create an availability exception",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/CreateExceptionRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/availability/exceptions/{id}": {
            "delete": {
                "tags": ["Availability"],
                "summary": "Delete an availability exception",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "therapistId", "in": "query", "required": true, "type": "string"}
                ],
                "responses": {
                    "204": {"description": "Deleted"}
                }
            }
        },
        "/availability/templates": {
            "get": {
                "tags": ["Templates"],
                "summary": "List availability templates",
                "parameters": [
                    {"name": "therapistId", "in": "query", "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "post": {
                "tags": ["Templates"],
                "summary": "Create an availability template",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/CreateTemplateRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/availability/templates/{id}/apply": {
            "post": {
                "tags": ["Templates"],
                "summary": "Expand a template onto a therapist's calendar",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/ApplyTemplateRequest"}}
                ],
                "responses": {
                    "200": {"description": "Created windows plus collisions", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "404": {"description": "Template not found"}
                }
            }
        },
        "/availability/templates/{id}": {
            "delete": {
                "tags": ["Templates"],
                "summary": "Delete an availability template",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "204": {"description": "Deleted"}
                }
            }
        }
    },
    "definitions": {
        "SchedulingRequest": {
            "type": "object",
            "required": ["demandRef", "startDate", "endDate", "totalSessions", "sessionsPerWeek", "durationMinutes"],
            "properties": {
                "demandRef": {"type": "string"},
                "therapistId": {"type": "string"},
                "studentId": {"type": "string"},
                "preferredTimes": {"type": "array", "items": {"$ref": "#/definitions/TimeRange"}},
                "avoidTimes": {"type": "array", "items": {"$ref": "#/definitions/TimeRange"}},
                "preferredDays": {"type": "array", "items": {"type": "integer"}},
                "avoidDays": {"type": "array", "items": {"type": "integer"}},
                "startDate": {"type": "string", "example": "2026-09-01"},
                "endDate": {"type": "string", "example": "2026-09-30"},
                "totalSessions": {"type": "integer"},
                "sessionsPerWeek": {"type": "integer"},
                "durationMinutes": {"type": "integer"},
                "category": {"type": "string"},
                "priority": {"type": "integer"},
                "flexibilityScore": {"type": "integer"},
                "requireConsecutive": {"type": "boolean"},
                "maxGapDays": {"type": "integer"},
                "breakMinutes": {"type": "integer"},
                "roomId": {"type": "string"},
                "equipmentIds": {"type": "array", "items": {"type": "string"}},
                "isBillable": {"type": "boolean"}
            }
        },
        "TimeRange": {
            "type": "object",
            "properties": {
                "startMinute": {"type": "integer"},
                "endMinute": {"type": "integer"}
            }
        },
        "OptimizeRequest": {
            "type": "object",
            "required": ["therapistId", "startDate", "endDate"],
            "properties": {
                "therapistId": {"type": "string"},
                "startDate": {"type": "string"},
                "endDate": {"type": "string"},
                "preferredTimes": {"type": "array", "items": {"$ref": "#/definitions/TimeRange"}},
                "config": {"$ref": "#/definitions/OptimizationConfig"},
                "dryRun": {"type": "boolean"}
            }
        },
        "OptimizationConfig": {
            "type": "object",
            "properties": {
                "utilizationWeight": {"type": "number"},
                "preferenceWeight": {"type": "number"},
                "gapWeight": {"type": "number"},
                "maxIterations": {"type": "integer"},
                "maxGapMinutes": {"type": "integer"}
            }
        },
        "ConflictCheckRequest": {
            "type": "object",
            "required": ["therapistId", "date", "endMinute"],
            "properties": {
                "therapistId": {"type": "string"},
                "date": {"type": "string"},
                "startMinute": {"type": "integer"},
                "endMinute": {"type": "integer"},
                "roomId": {"type": "string"},
                "equipmentIds": {"type": "array", "items": {"type": "string"}},
                "studentId": {"type": "string"},
                "breakMinutes": {"type": "integer"},
                "excludeSessionId": {"type": "string"}
            }
        },
        "BulkOperationRequest": {
            "type": "object",
            "required": ["sessionIds", "operation"],
            "properties": {
                "sessionIds": {"type": "array", "items": {"type": "string"}},
                "operation": {"type": "string", "enum": ["reschedule", "cancel", "modify"]},
                "params": {"type": "object"},
                "batchSize": {"type": "integer"}
            }
        },
        "UpsertWindowRequest": {
            "type": "object",
            "required": ["therapistId", "endMinute", "maxSessionsPerSlot"],
            "properties": {
                "id": {"type": "string"},
                "therapistId": {"type": "string"},
                "dayOfWeek": {"type": "integer"},
                "specificDate": {"type": "string"},
                "startMinute": {"type": "integer"},
                "endMinute": {"type": "integer"},
                "maxSessionsPerSlot": {"type": "integer"},
                "isAvailable": {"type": "boolean"},
                "isTimeOff": {"type": "boolean"},
                "timeOffReason": {"type": "string"},
                "notes": {"type": "string"}
            }
        },
        "CreateExceptionRequest": {
            "type": "object",
            "required": ["therapistId", "startDate", "endDate"],
            "properties": {
                "therapistId": {"type": "string"},
                "startDate": {"type": "string"},
                "endDate": {"type": "string"},
                "isAvailable": {"type": "boolean"},
                "reasonEn": {"type": "string"},
                "reasonAr": {"type": "string"},
                "alternatives": {"type": "array", "items": {"$ref": "#/definitions/TemplateSlot"}}
            }
        },
        "CreateTemplateRequest": {
            "type": "object",
            "required": ["nameEn", "slots"],
            "properties": {
                "nameEn": {"type": "string"},
                "nameAr": {"type": "string"},
                "therapistId": {"type": "string"},
                "slots": {"type": "array", "items": {"$ref": "#/definitions/TemplateSlot"}},
                "isActive": {"type": "boolean"}
            }
        },
        "ApplyTemplateRequest": {
            "type": "object",
            "required": ["therapistId", "startDate"],
            "properties": {
                "therapistId": {"type": "string"},
                "startDate": {"type": "string"},
                "horizonWeeks": {"type": "integer"}
            }
        },
        "TemplateSlot": {
            "type": "object",
            "properties": {
                "dayOfWeek": {"type": "integer"},
                "startMinute": {"type": "integer"},
                "endMinute": {"type": "integer"}
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
