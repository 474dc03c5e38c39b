// Copyright (C) 2026 Arbiter AI (oss@arbiter-ai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func authedRouter(keys map[string]Role, required Role) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(APIKeyAuth(keys))
	router.GET("/protected", RequireRole(required), func(c *gin.Context) {
		role, _ := GetRole(c)
		c.JSON(http.StatusOK, gin.H{"role": string(role)})
	})
	return router
}

func get(router *gin.Engine, apiKey string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	if apiKey != "" {
		req.Header.Set(APIKeyHeader, apiKey)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestAPIKeyAuth(t *testing.T) {
	router := authedRouter(map[string]Role{"fkey": RoleForecaster}, RoleForecaster)

	assert.Equal(t, http.StatusOK, get(router, "fkey").Code)
	assert.Equal(t, http.StatusUnauthorized, get(router, "wrong").Code)
	assert.Equal(t, http.StatusUnauthorized, get(router, "").Code)
}

// TestAPIKeyAuthOpenDeployment verifies the no-keys configuration grants
// admin to every request.
func TestAPIKeyAuthOpenDeployment(t *testing.T) {
	router := authedRouter(nil, RoleGovernance)
	w := get(router, "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "admin")
}

func TestRequireRole(t *testing.T) {
	keys := map[string]Role{
		"fkey": RoleForecaster,
		"gkey": RoleGovernance,
		"akey": RoleAdmin,
	}

	router := authedRouter(keys, RoleGovernance)
	assert.Equal(t, http.StatusForbidden, get(router, "fkey").Code)
	assert.Equal(t, http.StatusOK, get(router, "gkey").Code)
	// Admin satisfies any requirement.
	assert.Equal(t, http.StatusOK, get(router, "akey").Code)

	// A route with no authenticated role set is refused.
	gin.SetMode(gin.TestMode)
	bare := gin.New()
	bare.GET("/protected", RequireRole(RoleForecaster), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})
	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	w := httptest.NewRecorder()
	bare.ServeHTTP(w, req)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestRoleAllows(t *testing.T) {
	assert.True(t, RoleForecaster.allows(RoleForecaster))
	assert.False(t, RoleForecaster.allows(RoleCollector))
	assert.True(t, RoleAdmin.allows(RoleForecaster))
	assert.True(t, RoleAdmin.allows(RoleGovernance))
	assert.False(t, RoleGovernance.allows(RoleAdmin))
}
