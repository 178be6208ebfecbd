package main

import (
	"bytes"
	"context"
	"flag"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"floodbuddy/internal/client"
	"floodbuddy/internal/models"
	"floodbuddy/internal/session"
)

func newTestApp(t *testing.T, handler http.Handler) (*app, *bytes.Buffer) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	api := client.New(client.Options{BaseURL: srv.URL, HTTPClient: srv.Client(), Log: zerolog.Nop()})
	out := &bytes.Buffer{}
	return &app{
		api:      api,
		sessions: session.NewFlow(api, zerolog.Nop()),
		log:      zerolog.Nop(),
		out:      out,
	}, out
}

func TestRun_Severities(t *testing.T) {
	a, out := newTestApp(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/severities", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"severities":[{"severity":3,"label":"Severe","icon":"hazard_icon_red.png","color":"red"}],"defaultColor":"blue"}`))
	}))

	require.NoError(t, a.run(context.Background(), "severities", nil))
	assert.Contains(t, out.String(), "Severe")
	assert.Contains(t, out.String(), "red")
}

func TestRun_UnknownCommand(t *testing.T) {
	a, _ := newTestApp(t, http.NotFoundHandler())
	assert.Error(t, a.run(context.Background(), "frobnicate", nil))
}

func TestRun_SubmitRejectsBadSeverityBeforeSignIn(t *testing.T) {
	calls := 0
	a, _ := newTestApp(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusInternalServerError)
	}))

	err := a.run(context.Background(), "submit", []string{"-lat", "1.35", "-lng", "103.8", "-severity", "extreme"})
	assert.ErrorIs(t, err, models.ErrInvalidSeverity)
	assert.Zero(t, calls)
}

func TestRun_LoginWithoutPasswordShowsFixedMessage(t *testing.T) {
	a, _ := newTestApp(t, http.NotFoundHandler())
	err := a.run(context.Background(), "login", []string{"-email", "ann@example.com", "-password", ""})
	require.Error(t, err)
	assert.Equal(t, models.SignInFailedMessage, err.Error())
}

func TestIsSet(t *testing.T) {
	fs := flag.NewFlagSet("t", flag.ContinueOnError)
	fs.Float64("lat", 0, "")
	fs.Float64("lng", 0, "")
	require.NoError(t, fs.Parse([]string{"-lat", "0"}))

	assert.True(t, isSet(fs, "lat"))
	assert.False(t, isSet(fs, "lng"))
}
