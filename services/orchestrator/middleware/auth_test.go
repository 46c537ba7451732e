// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
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
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianChat/services/orchestrator/store"
)

type fakeUsers struct {
	users map[int]*store.User
}

func (f *fakeUsers) GetUser(_ context.Context, id int) (*store.User, error) {
	u, ok := f.users[id]
	if !ok {
		return nil, &store.NotFoundError{Entity: "user", ID: id}
	}
	return u, nil
}

func newAuthRouter(signer *Signer, users UserSource) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(AuthMiddleware(signer, users))
	r.GET("/whoami", func(c *gin.Context) {
		u := CurrentUser(c)
		c.JSON(http.StatusOK, gin.H{"username": u.Username})
	})
	return r
}

func TestSignerRoundTrip(t *testing.T) {
	s := NewSigner("secret")
	id, err := s.Verify(s.Sign(42))
	require.NoError(t, err)
	assert.Equal(t, 42, id)
}

func TestSignerRejectsTampering(t *testing.T) {
	s := NewSigner("secret")
	cookie := s.Sign(42)

	_, err := s.Verify("43" + cookie[2:])
	assert.Error(t, err)

	_, err = s.Verify("no-separator")
	assert.Error(t, err)

	other := NewSigner("different-key")
	_, err = other.Verify(cookie)
	assert.Error(t, err)
}

func TestAuthMiddlewareHappyPath(t *testing.T) {
	signer := NewSigner("secret")
	users := &fakeUsers{users: map[int]*store.User{
		7: {ID: 7, Username: "casey", IsActive: true},
	}}
	r := newAuthRouter(signer, users)

	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: signer.Sign(7)})
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "casey")
}

func TestAuthMiddlewareMissingCookie(t *testing.T) {
	r := newAuthRouter(NewSigner("secret"), &fakeUsers{users: map[int]*store.User{}})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/whoami", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAuthMiddlewareInactiveUser(t *testing.T) {
	signer := NewSigner("secret")
	users := &fakeUsers{users: map[int]*store.User{
		7: {ID: 7, Username: "casey", IsActive: false},
	}}
	r := newAuthRouter(signer, users)

	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: signer.Sign(7)})
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestAuthMiddlewareUnknownUser(t *testing.T) {
	signer := NewSigner("secret")
	r := newAuthRouter(signer, &fakeUsers{users: map[int]*store.User{}})

	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: signer.Sign(9)})
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
