// Copyright (C) 2026 Arbiter AI (oss@arbiter-ai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package middleware provides HTTP middleware for the verdict service.
//
// # Authentication Flow
//
// The auth middleware extracts an API key from the X-API-Key header, looks
// it up in the configured key set, and stores the caller's role in the Gin
// context for downstream handlers.
//
// Roles gate which routes a caller may use (forecasters submit, collectors
// record, governance clears windows). Roles never bypass data invariants:
// the evidence-independence check on outcomes runs identically for every
// role, governance included.
//
// # Open Deployment Behavior
//
// With an empty key set the middleware authenticates every request with
// the admin role. This keeps single-operator deployments working without
// any key infrastructure.
package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Role is a caller's authorization level.
type Role string

const (
	// RoleForecaster may submit forecasts and read records.
	RoleForecaster Role = "forecaster"

	// RoleCollector may record outcomes and read records.
	RoleCollector Role = "collector"

	// RoleGovernance may resolve, aggregate, and drive stability windows.
	RoleGovernance Role = "governance"

	// RoleAdmin may do everything. Assigned implicitly when no keys are
	// configured.
	RoleAdmin Role = "admin"
)

// roleKey is the Gin context key for the authenticated role.
const roleKey = "arbiter_auth_role"

// APIKeyHeader is the header carrying the caller's API key.
const APIKeyHeader = "X-API-Key"

// allows reports whether the caller role satisfies the required role.
func (r Role) allows(required Role) bool {
	return r == required || r == RoleAdmin
}

// SetRole stores the authenticated role in the Gin context.
func SetRole(c *gin.Context, role Role) {
	c.Set(roleKey, role)
}

// GetRole retrieves the authenticated role from the Gin context. Returns
// false if the request was not authenticated.
func GetRole(c *gin.Context) (Role, bool) {
	v, exists := c.Get(roleKey)
	if !exists {
		return "", false
	}
	role, ok := v.(Role)
	return role, ok
}

// APIKeyAuth creates a middleware that authenticates requests by API key.
//
// Inputs:
//
//	keys - map of API key to role. An empty or nil map disables
//	       authentication and grants every request the admin role.
//
// Thread Safety: the returned middleware is safe for concurrent use; the
// key map must not be mutated after creation.
func APIKeyAuth(keys map[string]Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		if len(keys) == 0 {
			SetRole(c, RoleAdmin)
			c.Next()
			return
		}

		role, ok := keys[c.GetHeader(APIKeyHeader)]
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "invalid or missing API key",
				"code":  "UNAUTHORIZED",
			})
			return
		}
		SetRole(c, role)
		c.Next()
	}
}

// RequireRole creates a middleware that rejects requests whose
// authenticated role does not satisfy the required role. Admin always
// passes. Must run after APIKeyAuth.
func RequireRole(required Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		role, ok := GetRole(c)
		if !ok || !role.allows(required) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error": "role not permitted for this operation",
				"code":  "FORBIDDEN",
			})
			return
		}
		c.Next()
	}
}
