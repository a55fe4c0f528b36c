package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	return NewClient(srv.URL+"/", "secret", time.Second)
}

func TestFetchJoinCredential(t *testing.T) {
	client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/room/physics%20101/token", r.URL.EscapedPath())
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"token":"a.b.c","url":"https://rtc.example.com","roomName":"physics"}`))
	})

	cred, err := client.FetchJoinCredential(context.Background(), "physics 101")
	require.NoError(t, err)

	assert.Equal(t, "a.b.c", cred.Token)
	assert.Equal(t, "https://rtc.example.com", cred.ServerURL)
	assert.Equal(t, "physics", cred.RoomName)
}

func TestFetchJoinCredentialErrorBody(t *testing.T) {
	client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"error":"You are not enrolled in this course"}`))
	})

	_, err := client.FetchJoinCredential(context.Background(), "room-1")

	var apiErr *Error
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusForbidden, apiErr.Status)
	assert.Contains(t, err.Error(), "not enrolled")
}

func TestFetchProfile(t *testing.T) {
	client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/participant/jdoe@example.com", r.URL.Path)

		w.Write([]byte(`{"name":"John Doe","email":"jdoe@example.com","role":"student","photoUrl":"https://cdn/j.png","class":"10B"}`))
	})

	profile, err := client.FetchProfile(context.Background(), "jdoe@example.com")
	require.NoError(t, err)

	assert.Equal(t, "John Doe", profile.Name)
	assert.Equal(t, "student", profile.Role)
	assert.Equal(t, "https://cdn/j.png", profile.PhotoURL)
	assert.Equal(t, "10B", profile.Class)
}

func TestFetchProfileNotFound(t *testing.T) {
	client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	_, err := client.FetchProfile(context.Background(), "ghost")

	var apiErr *Error
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusNotFound, apiErr.Status)
}

func TestUnauthorizedWithoutBody(t *testing.T) {
	client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})

	_, err := client.FetchJoinCredential(context.Background(), "room-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "authorization")
}
