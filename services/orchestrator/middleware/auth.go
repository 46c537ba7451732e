// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package middleware provides HTTP middleware for the orchestrator service.
//
// # Authentication Flow
//
// The auth middleware reads the signed session cookie, verifies the HMAC
// signature against SECRET_KEY, loads the user row, and stores it in the
// Gin context for downstream handlers.
//
//	Request
//	   │
//	   ▼
//	AuthMiddleware
//	   │
//	   ├─► Read "session" cookie ("{user_id}|{hmac}")
//	   │
//	   ├─► Verify signature, load user
//	   │
//	   ├─► Reject inactive accounts (403)
//	   │
//	   └─► Store *store.User in context
//	           │
//	           ▼
//	       Handler (retrieves via CurrentUser)
package middleware

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/AleutianChat/services/orchestrator/store"
)

// =============================================================================
// Context helpers
// =============================================================================

// SessionCookieName is the cookie carrying the signed user id.
const SessionCookieName = "session"

// currentUserKey is the context key for the authenticated user.
const currentUserKey = "chat_current_user"

// SetCurrentUser stores the authenticated user in the Gin context.
func SetCurrentUser(c *gin.Context, u *store.User) {
	c.Set(currentUserKey, u)
}

// CurrentUser retrieves the authenticated user, or nil when the request
// is not authenticated.
func CurrentUser(c *gin.Context) *store.User {
	if v, exists := c.Get(currentUserKey); exists {
		if u, ok := v.(*store.User); ok {
			return u
		}
	}
	return nil
}

// =============================================================================
// Cookie signing
// =============================================================================

// Signer signs and verifies session cookie values with HMAC-SHA256.
type Signer struct {
	key []byte
}

// NewSigner creates a signer from the configured secret key.
func NewSigner(secretKey string) *Signer {
	return &Signer{key: []byte(secretKey)}
}

// Sign produces a cookie value "{user_id}|{hex mac}".
func (s *Signer) Sign(userID int) string {
	payload := strconv.Itoa(userID)
	return payload + "|" + s.mac(payload)
}

// Verify checks the signature and returns the embedded user id.
func (s *Signer) Verify(value string) (int, error) {
	payload, sig, ok := strings.Cut(value, "|")
	if !ok {
		return 0, fmt.Errorf("malformed session cookie")
	}
	if subtle.ConstantTimeCompare([]byte(sig), []byte(s.mac(payload))) != 1 {
		return 0, fmt.Errorf("invalid session signature")
	}
	userID, err := strconv.Atoi(payload)
	if err != nil {
		return 0, fmt.Errorf("malformed session payload: %w", err)
	}
	return userID, nil
}

func (s *Signer) mac(payload string) string {
	h := hmac.New(sha256.New, s.key)
	h.Write([]byte(payload))
	return hex.EncodeToString(h.Sum(nil))
}

// =============================================================================
// Auth middleware
// =============================================================================

// UserSource loads user rows. Satisfied by store.Store.
type UserSource interface {
	GetUser(ctx context.Context, id int) (*store.User, error)
}

// AuthMiddleware authenticates every request via the signed session
// cookie. Missing or invalid cookies get 401; inactive accounts get 403.
func AuthMiddleware(signer *Signer, users UserSource) gin.HandlerFunc {
	return func(c *gin.Context) {
		value, err := c.Cookie(SessionCookieName)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
			return
		}
		userID, err := signer.Verify(value)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid session"})
			return
		}
		user, err := users.GetUser(c.Request.Context(), userID)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unknown user"})
			return
		}
		if !user.IsActive {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "account is not active"})
			return
		}
		SetCurrentUser(c, user)
		c.Next()
	}
}
