package swagger

import "github.com/swaggo/swag"

const docTemplate = `{
    "swagger": "2.0",
    "info": {
        "title": "Hospital Admin API",
        "description": "Sequential approval workflows for leave, internal documents and staff changes",
        "version": "1.0.0"
    },
    "basePath": "/",
    "schemes": [
        "http",
        "https"
    ],
    "securityDefinitions": {
        "BearerAuth": {
            "type": "apiKey",
            "name": "Authorization",
            "in": "header"
        }
    },
    "tags": [
        {
            "name": "Leaves",
            "description": "Leave requests"
        },
        {
            "name": "Documents",
            "description": "Internal common documents"
        },
        {
            "name": "Staff Changes",
            "description": "Staff record change requests"
        },
        {
            "name": "Ops",
            "description": "Health and metrics"
        }
    ],
    "paths": {
        "/health": {
            "get": {
                "tags": [
                    "Ops"
                ],
                "summary": "Health check",
                "responses": {
                    "200": {
                        "description": "OK"
                    }
                }
            }
        },
        "/ready": {
            "get": {
                "tags": [
                    "Ops"
                ],
                "summary": "Readiness check",
                "responses": {
                    "200": {
                        "description": "Ready"
                    },
                    "503": {
                        "description": "Dependencies unavailable"
                    }
                }
            }
        },
        "/metrics": {
            "get": {
                "tags": [
                    "Ops"
                ],
                "summary": "Prometheus metrics",
                "produces": [
                    "text/plain"
                ],
                "responses": {
                    "200": {
                        "description": "OK"
                    }
                }
            }
        },
        "/api/v1/ops/metrics": {
            "get": {
                "tags": [
                    "Ops"
                ],
                "summary": "Runtime counters snapshot",
                "security": [
                    {
                        "BearerAuth": []
                    }
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    }
                }
            }
        },
        "/api/v1/leaves": {
            "get": {
                "tags": [
                    "Leaves"
                ],
                "summary": "List leave requests",
                "security": [
                    {
                        "BearerAuth": []
                    }
                ],
                "parameters": [
                    {
                        "name": "status",
                        "in": "query",
                        "type": "string",
                        "description": "Comma separated PENDING, APPROVED, REJECTED"
                    },
                    {
                        "name": "requester",
                        "in": "query",
                        "type": "string",
                        "description": "'me' limits to your own requests"
                    },
                    {
                        "name": "inbox",
                        "in": "query",
                        "type": "boolean",
                        "description": "Requests with a line pending on you"
                    },
                    {
                        "name": "withdrawn",
                        "in": "query",
                        "type": "boolean"
                    },
                    {
                        "name": "limit",
                        "in": "query",
                        "type": "integer"
                    },
                    {
                        "name": "offset",
                        "in": "query",
                        "type": "integer"
                    }
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    },
                    "400": {
                        "description": "Invalid query",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    }
                }
            },
            "post": {
                "tags": [
                    "Leaves"
                ],
                "summary": "Submit a leave request",
                "security": [
                    {
                        "BearerAuth": []
                    }
                ],
                "parameters": [
                    {
                        "name": "payload",
                        "in": "body",
                        "required": true,
                        "schema": {
                            "$ref": "#/definitions/CreateApprovalRequest"
                        },
                        "description": "payload field follows LeavePayload"
                    }
                ],
                "responses": {
                    "201": {
                        "description": "Created",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    },
                    "400": {
                        "description": "Validation failed",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    }
                }
            }
        },
        "/api/v1/leaves/export": {
            "get": {
                "tags": [
                    "Leaves"
                ],
                "summary": "Export leave requests",
                "security": [
                    {
                        "BearerAuth": []
                    }
                ],
                "produces": [
                    "text/csv",
                    "application/pdf"
                ],
                "parameters": [
                    {
                        "name": "status",
                        "in": "query",
                        "type": "string",
                        "description": "Comma separated PENDING, APPROVED, REJECTED"
                    },
                    {
                        "name": "requester",
                        "in": "query",
                        "type": "string",
                        "description": "'me' limits to your own requests"
                    },
                    {
                        "name": "inbox",
                        "in": "query",
                        "type": "boolean",
                        "description": "Requests with a line pending on you"
                    },
                    {
                        "name": "withdrawn",
                        "in": "query",
                        "type": "boolean"
                    },
                    {
                        "name": "limit",
                        "in": "query",
                        "type": "integer"
                    },
                    {
                        "name": "offset",
                        "in": "query",
                        "type": "integer"
                    },
                    {
                        "name": "format",
                        "in": "query",
                        "type": "string",
                        "enum": [
                            "csv",
                            "pdf"
                        ]
                    }
                ],
                "responses": {
                    "200": {
                        "description": "File"
                    }
                }
            }
        },
        "/api/v1/leaves/{id}": {
            "get": {
                "tags": [
                    "Leaves"
                ],
                "summary": "Get a leave request",
                "security": [
                    {
                        "BearerAuth": []
                    }
                ],
                "parameters": [
                    {
                        "name": "id",
                        "in": "path",
                        "required": true,
                        "type": "string"
                    }
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    },
                    "403": {
                        "description": "Not visible to caller",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    },
                    "404": {
                        "description": "Not found",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    }
                }
            }
        },
        "/api/v1/leaves/{id}/lines/{lineId}/decision": {
            "post": {
                "tags": [
                    "Leaves"
                ],
                "summary": "Approve, reject or acknowledge a line",
                "security": [
                    {
                        "BearerAuth": []
                    }
                ],
                "parameters": [
                    {
                        "name": "id",
                        "in": "path",
                        "required": true,
                        "type": "string"
                    },
                    {
                        "name": "lineId",
                        "in": "path",
                        "required": true,
                        "type": "string"
                    },
                    {
                        "name": "payload",
                        "in": "body",
                        "required": true,
                        "schema": {
                            "$ref": "#/definitions/DecideLineRequest"
                        }
                    }
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    },
                    "400": {
                        "description": "Validation failed",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    },
                    "403": {
                        "description": "Actor is not the line's approver",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    },
                    "404": {
                        "description": "Request or line not found",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    },
                    "409": {
                        "description": "Concurrent modification",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    },
                    "422": {
                        "description": "Line or request not in an actionable state",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    }
                }
            }
        },
        "/api/v1/leaves/{id}/withdraw": {
            "post": {
                "tags": [
                    "Leaves"
                ],
                "summary": "Withdraw your own pending request",
                "security": [
                    {
                        "BearerAuth": []
                    }
                ],
                "parameters": [
                    {
                        "name": "id",
                        "in": "path",
                        "required": true,
                        "type": "string"
                    }
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    },
                    "403": {
                        "description": "Only the requester may withdraw",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    },
                    "422": {
                        "description": "Request already final or withdrawn",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    }
                }
            }
        },
        "/api/v1/leaves/{id}/history": {
            "get": {
                "tags": [
                    "Leaves"
                ],
                "summary": "Approval history",
                "security": [
                    {
                        "BearerAuth": []
                    }
                ],
                "parameters": [
                    {
                        "name": "id",
                        "in": "path",
                        "required": true,
                        "type": "string"
                    }
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    }
                }
            }
        },
        "/api/v1/leaves/{id}/sheet": {
            "get": {
                "tags": [
                    "Leaves"
                ],
                "summary": "Download the approval sheet PDF",
                "security": [
                    {
                        "BearerAuth": []
                    }
                ],
                "produces": [
                    "application/pdf"
                ],
                "parameters": [
                    {
                        "name": "id",
                        "in": "path",
                        "required": true,
                        "type": "string"
                    }
                ],
                "responses": {
                    "200": {
                        "description": "PDF file"
                    }
                }
            }
        },
        "/api/v1/documents": {
            "get": {
                "tags": [
                    "Documents"
                ],
                "summary": "List document requests",
                "security": [
                    {
                        "BearerAuth": []
                    }
                ],
                "parameters": [
                    {
                        "name": "status",
                        "in": "query",
                        "type": "string",
                        "description": "Comma separated PENDING, APPROVED, REJECTED"
                    },
                    {
                        "name": "requester",
                        "in": "query",
                        "type": "string",
                        "description": "'me' limits to your own requests"
                    },
                    {
                        "name": "inbox",
                        "in": "query",
                        "type": "boolean",
                        "description": "Requests with a line pending on you"
                    },
                    {
                        "name": "withdrawn",
                        "in": "query",
                        "type": "boolean"
                    },
                    {
                        "name": "limit",
                        "in": "query",
                        "type": "integer"
                    },
                    {
                        "name": "offset",
                        "in": "query",
                        "type": "integer"
                    }
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    },
                    "400": {
                        "description": "Invalid query",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    }
                }
            },
            "post": {
                "tags": [
                    "Documents"
                ],
                "summary": "Submit a document request",
                "security": [
                    {
                        "BearerAuth": []
                    }
                ],
                "parameters": [
                    {
                        "name": "payload",
                        "in": "body",
                        "required": true,
                        "schema": {
                            "$ref": "#/definitions/CreateApprovalRequest"
                        },
                        "description": "payload field follows DocumentPayload"
                    }
                ],
                "responses": {
                    "201": {
                        "description": "Created",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    },
                    "400": {
                        "description": "Validation failed",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    }
                }
            }
        },
        "/api/v1/documents/export": {
            "get": {
                "tags": [
                    "Documents"
                ],
                "summary": "Export document requests",
                "security": [
                    {
                        "BearerAuth": []
                    }
                ],
                "produces": [
                    "text/csv",
                    "application/pdf"
                ],
                "parameters": [
                    {
                        "name": "status",
                        "in": "query",
                        "type": "string",
                        "description": "Comma separated PENDING, APPROVED, REJECTED"
                    },
                    {
                        "name": "requester",
                        "in": "query",
                        "type": "string",
                        "description": "'me' limits to your own requests"
                    },
                    {
                        "name": "inbox",
                        "in": "query",
                        "type": "boolean",
                        "description": "Requests with a line pending on you"
                    },
                    {
                        "name": "withdrawn",
                        "in": "query",
                        "type": "boolean"
                    },
                    {
                        "name": "limit",
                        "in": "query",
                        "type": "integer"
                    },
                    {
                        "name": "offset",
                        "in": "query",
                        "type": "integer"
                    },
                    {
                        "name": "format",
                        "in": "query",
                        "type": "string",
                        "enum": [
                            "csv",
                            "pdf"
                        ]
                    }
                ],
                "responses": {
                    "200": {
                        "description": "File"
                    }
                }
            }
        },
        "/api/v1/documents/{id}": {
            "get": {
                "tags": [
                    "Documents"
                ],
                "summary": "Get a document request",
                "security": [
                    {
                        "BearerAuth": []
                    }
                ],
                "parameters": [
                    {
                        "name": "id",
                        "in": "path",
                        "required": true,
                        "type": "string"
                    }
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    },
                    "403": {
                        "description": "Not visible to caller",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    },
                    "404": {
                        "description": "Not found",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    }
                }
            }
        },
        "/api/v1/documents/{id}/lines/{lineId}/decision": {
            "post": {
                "tags": [
                    "Documents"
                ],
                "summary": "Approve, reject or acknowledge a line",
                "security": [
                    {
                        "BearerAuth": []
                    }
                ],
                "parameters": [
                    {
                        "name": "id",
                        "in": "path",
                        "required": true,
                        "type": "string"
                    },
                    {
                        "name": "lineId",
                        "in": "path",
                        "required": true,
                        "type": "string"
                    },
                    {
                        "name": "payload",
                        "in": "body",
                        "required": true,
                        "schema": {
                            "$ref": "#/definitions/DecideLineRequest"
                        }
                    }
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    },
                    "400": {
                        "description": "Validation failed",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    },
                    "403": {
                        "description": "Actor is not the line's approver",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    },
                    "404": {
                        "description": "Request or line not found",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    },
                    "409": {
                        "description": "Concurrent modification",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    },
                    "422": {
                        "description": "Line or request not in an actionable state",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    }
                }
            }
        },
        "/api/v1/documents/{id}/withdraw": {
            "post": {
                "tags": [
                    "Documents"
                ],
                "summary": "Withdraw your own pending request",
                "security": [
                    {
                        "BearerAuth": []
                    }
                ],
                "parameters": [
                    {
                        "name": "id",
                        "in": "path",
                        "required": true,
                        "type": "string"
                    }
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    },
                    "403": {
                        "description": "Only the requester may withdraw",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    },
                    "422": {
                        "description": "Request already final or withdrawn",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    }
                }
            }
        },
        "/api/v1/documents/{id}/history": {
            "get": {
                "tags": [
                    "Documents"
                ],
                "summary": "Approval history",
                "security": [
                    {
                        "BearerAuth": []
                    }
                ],
                "parameters": [
                    {
                        "name": "id",
                        "in": "path",
                        "required": true,
                        "type": "string"
                    }
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    }
                }
            }
        },
        "/api/v1/documents/{id}/sheet": {
            "get": {
                "tags": [
                    "Documents"
                ],
                "summary": "Download the approval sheet PDF",
                "security": [
                    {
                        "BearerAuth": []
                    }
                ],
                "produces": [
                    "application/pdf"
                ],
                "parameters": [
                    {
                        "name": "id",
                        "in": "path",
                        "required": true,
                        "type": "string"
                    }
                ],
                "responses": {
                    "200": {
                        "description": "PDF file"
                    }
                }
            }
        },
        "/api/v1/staff-changes": {
            "get": {
                "tags": [
                    "Staff Changes"
                ],
                "summary": "List staff change requests",
                "security": [
                    {
                        "BearerAuth": []
                    }
                ],
                "parameters": [
                    {
                        "name": "status",
                        "in": "query",
                        "type": "string",
                        "description": "Comma separated PENDING, APPROVED, REJECTED"
                    },
                    {
                        "name": "requester",
                        "in": "query",
                        "type": "string",
                        "description": "'me' limits to your own requests"
                    },
                    {
                        "name": "inbox",
                        "in": "query",
                        "type": "boolean",
                        "description": "Requests with a line pending on you"
                    },
                    {
                        "name": "withdrawn",
                        "in": "query",
                        "type": "boolean"
                    },
                    {
                        "name": "limit",
                        "in": "query",
                        "type": "integer"
                    },
                    {
                        "name": "offset",
                        "in": "query",
                        "type": "integer"
                    }
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    },
                    "400": {
                        "description": "Invalid query",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    }
                }
            },
            "post": {
                "tags": [
                    "Staff Changes"
                ],
                "summary": "Submit a staff change request",
                "security": [
                    {
                        "BearerAuth": []
                    }
                ],
                "parameters": [
                    {
                        "name": "payload",
                        "in": "body",
                        "required": true,
                        "schema": {
                            "$ref": "#/definitions/CreateApprovalRequest"
                        },
                        "description": "payload field follows StaffChangePayload"
                    }
                ],
                "responses": {
                    "201": {
                        "description": "Created",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    },
                    "400": {
                        "description": "Validation failed",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    }
                }
            }
        },
        "/api/v1/staff-changes/export": {
            "get": {
                "tags": [
                    "Staff Changes"
                ],
                "summary": "Export staff change requests",
                "security": [
                    {
                        "BearerAuth": []
                    }
                ],
                "produces": [
                    "text/csv",
                    "application/pdf"
                ],
                "parameters": [
                    {
                        "name": "status",
                        "in": "query",
                        "type": "string",
                        "description": "Comma separated PENDING, APPROVED, REJECTED"
                    },
                    {
                        "name": "requester",
                        "in": "query",
                        "type": "string",
                        "description": "'me' limits to your own requests"
                    },
                    {
                        "name": "inbox",
                        "in": "query",
                        "type": "boolean",
                        "description": "Requests with a line pending on you"
                    },
                    {
                        "name": "withdrawn",
                        "in": "query",
                        "type": "boolean"
                    },
                    {
                        "name": "limit",
                        "in": "query",
                        "type": "integer"
                    },
                    {
                        "name": "offset",
                        "in": "query",
                        "type": "integer"
                    },
                    {
                        "name": "format",
                        "in": "query",
                        "type": "string",
                        "enum": [
                            "csv",
                            "pdf"
                        ]
                    }
                ],
                "responses": {
                    "200": {
                        "description": "File"
                    }
                }
            }
        },
        "/api/v1/staff-changes/{id}": {
            "get": {
                "tags": [
                    "Staff Changes"
                ],
                "summary": "Get a staff change request",
                "security": [
                    {
                        "BearerAuth": []
                    }
                ],
                "parameters": [
                    {
                        "name": "id",
                        "in": "path",
                        "required": true,
                        "type": "string"
                    }
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    },
                    "403": {
                        "description": "Not visible to caller",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    },
                    "404": {
                        "description": "Not found",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    }
                }
            }
        },
        "/api/v1/staff-changes/{id}/lines/{lineId}/decision": {
            "post": {
                "tags": [
                    "Staff Changes"
                ],
                "summary": "Approve, reject or acknowledge a line",
                "security": [
                    {
                        "BearerAuth": []
                    }
                ],
                "parameters": [
                    {
                        "name": "id",
                        "in": "path",
                        "required": true,
                        "type": "string"
                    },
                    {
                        "name": "lineId",
                        "in": "path",
                        "required": true,
                        "type": "string"
                    },
                    {
                        "name": "payload",
                        "in": "body",
                        "required": true,
                        "schema": {
                            "$ref": "#/definitions/DecideLineRequest"
                        }
                    }
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    },
                    "400": {
                        "description": "Validation failed",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    },
                    "403": {
                        "description": "Actor is not the line's approver",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    },
                    "404": {
                        "description": "Request or line not found",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    },
                    "409": {
                        "description": "Concurrent modification",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    },
                    "422": {
                        "description": "Line or request not in an actionable state",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    }
                }
            }
        },
        "/api/v1/staff-changes/{id}/withdraw": {
            "post": {
                "tags": [
                    "Staff Changes"
                ],
                "summary": "Withdraw your own pending request",
                "security": [
                    {
                        "BearerAuth": []
                    }
                ],
                "parameters": [
                    {
                        "name": "id",
                        "in": "path",
                        "required": true,
                        "type": "string"
                    }
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    },
                    "403": {
                        "description": "Only the requester may withdraw",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    },
                    "422": {
                        "description": "Request already final or withdrawn",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    }
                }
            }
        },
        "/api/v1/staff-changes/{id}/history": {
            "get": {
                "tags": [
                    "Staff Changes"
                ],
                "summary": "Approval history",
                "security": [
                    {
                        "BearerAuth": []
                    }
                ],
                "parameters": [
                    {
                        "name": "id",
                        "in": "path",
                        "required": true,
                        "type": "string"
                    }
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    }
                }
            }
        },
        "/api/v1/staff-changes/{id}/sheet": {
            "get": {
                "tags": [
                    "Staff Changes"
                ],
                "summary": "Download the approval sheet PDF",
                "security": [
                    {
                        "BearerAuth": []
                    }
                ],
                "produces": [
                    "application/pdf"
                ],
                "parameters": [
                    {
                        "name": "id",
                        "in": "path",
                        "required": true,
                        "type": "string"
                    }
                ],
                "responses": {
                    "200": {
                        "description": "PDF file"
                    }
                }
            }
        }
    },
    "definitions": {
        "CreateApprovalRequest": {
            "type": "object",
            "properties": {
                "approverIds": {
                    "type": "array",
                    "items": {
                        "type": "string"
                    }
                },
                "ccIds": {
                    "type": "array",
                    "items": {
                        "type": "string"
                    }
                },
                "payload": {
                    "type": "object"
                }
            },
            "required": [
                "approverIds",
                "payload"
            ]
        },
        "DecideLineRequest": {
            "type": "object",
            "properties": {
                "action": {
                    "type": "string",
                    "enum": [
                        "APPROVE",
                        "REJECT",
                        "ACKNOWLEDGE"
                    ]
                },
                "comment": {
                    "type": "string"
                }
            },
            "required": [
                "action"
            ]
        },
        "LeavePayload": {
            "type": "object",
            "properties": {
                "kind": {
                    "type": "string",
                    "enum": [
                        "ANNUAL",
                        "SICK",
                        "MATERNITY",
                        "BEREAVEMENT",
                        "UNPAID",
                        "OTHER"
                    ]
                },
                "startDate": {
                    "type": "string",
                    "format": "date"
                },
                "endDate": {
                    "type": "string",
                    "format": "date"
                },
                "halfDay": {
                    "type": "boolean"
                },
                "reason": {
                    "type": "string"
                }
            },
            "required": [
                "kind",
                "startDate",
                "endDate",
                "reason"
            ]
        },
        "DocumentPayload": {
            "type": "object",
            "properties": {
                "title": {
                    "type": "string"
                },
                "body": {
                    "type": "string"
                },
                "category": {
                    "type": "string"
                },
                "attachments": {
                    "type": "array",
                    "items": {
                        "type": "string"
                    }
                }
            },
            "required": [
                "title",
                "body"
            ]
        },
        "StaffChangePayload": {
            "type": "object",
            "properties": {
                "staffId": {
                    "type": "string"
                },
                "changes": {
                    "type": "object"
                },
                "reason": {
                    "type": "string"
                }
            },
            "required": [
                "staffId",
                "changes",
                "reason"
            ]
        },
        "ApprovalLine": {
            "type": "object",
            "properties": {
                "id": {
                    "type": "string"
                },
                "requestId": {
                    "type": "string"
                },
                "order": {
                    "type": "integer"
                },
                "type": {
                    "type": "string",
                    "enum": [
                        "APPROVAL",
                        "CC"
                    ]
                },
                "approverId": {
                    "type": "string"
                },
                "approverDisplayName": {
                    "type": "string"
                },
                "status": {
                    "type": "string",
                    "enum": [
                        "PENDING",
                        "APPROVED",
                        "REJECTED",
                        "READ"
                    ]
                },
                "actionComment": {
                    "type": "string"
                },
                "actedAt": {
                    "type": "string",
                    "format": "date-time"
                }
            }
        },
        "ApprovalRequest": {
            "type": "object",
            "properties": {
                "id": {
                    "type": "string"
                },
                "workflowType": {
                    "type": "string",
                    "enum": [
                        "LEAVE",
                        "DOCUMENT",
                        "STAFF_CHANGE"
                    ]
                },
                "requesterId": {
                    "type": "string"
                },
                "requesterDisplayName": {
                    "type": "string"
                },
                "aggregateStatus": {
                    "type": "string",
                    "enum": [
                        "PENDING",
                        "APPROVED",
                        "REJECTED"
                    ]
                },
                "payload": {
                    "type": "object"
                },
                "withdrawn": {
                    "type": "boolean"
                },
                "withdrawnAt": {
                    "type": "string",
                    "format": "date-time"
                },
                "version": {
                    "type": "integer"
                },
                "createdAt": {
                    "type": "string",
                    "format": "date-time"
                },
                "updatedAt": {
                    "type": "string",
                    "format": "date-time"
                },
                "lines": {
                    "type": "array",
                    "items": {
                        "$ref": "#/definitions/ApprovalLine"
                    }
                }
            }
        },
        "ApprovalEvent": {
            "type": "object",
            "properties": {
                "id": {
                    "type": "string"
                },
                "requestId": {
                    "type": "string"
                },
                "lineId": {
                    "type": "string"
                },
                "eventType": {
                    "type": "string"
                },
                "oldValue": {
                    "type": "string"
                },
                "newValue": {
                    "type": "string"
                },
                "actor": {
                    "type": "string"
                },
                "createdAt": {
                    "type": "string",
                    "format": "date-time"
                }
            }
        },
        "Pagination": {
            "type": "object",
            "properties": {
                "limit": {
                    "type": "integer"
                },
                "offset": {
                    "type": "integer"
                },
                "count": {
                    "type": "integer"
                }
            }
        },
        "APIError": {
            "type": "object",
            "properties": {
                "code": {
                    "type": "string"
                },
                "message": {
                    "type": "string"
                },
                "status": {
                    "type": "integer"
                }
            }
        },
        "ResponseEnvelope": {
            "type": "object",
            "properties": {
                "data": {
                    "type": "object"
                },
                "error": {
                    "$ref": "#/definitions/APIError"
                },
                "pagination": {
                    "$ref": "#/definitions/Pagination"
                },
                "meta": {
                    "type": "object"
                }
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
