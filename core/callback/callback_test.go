package callback

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNotifySuccess(t *testing.T) {
	var gotAuth, gotBody, gotType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotType = r.Header.Get("Content-Type")
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		_, _ = w.Write([]byte(`{"status_code":1000}`))
	}))
	defer srv.Close()

	n := NewNotifier(time.Second)
	err := n.Notify(context.Background(), srv.URL, "tok", map[string]string{"result": "ACCEPTED"})
	require.NoError(t, err)
	assert.Equal(t, "Token tok", gotAuth)
	assert.Equal(t, "application/json", gotType)
	assert.JSONEq(t, `{"result":"ACCEPTED"}`, gotBody)
}

func TestNotifyFailures(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
		empty  bool
	}{
		{"server error", http.StatusInternalServerError, `{"x":1}`, false},
		{"created is not ok", http.StatusCreated, `{"x":1}`, false},
		{"empty body", http.StatusOK, "", true},
		{"blank body", http.StatusOK, " \n", true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))
			defer srv.Close()
			err := NewNotifier(time.Second).Notify(context.Background(), srv.URL, "tok", struct{}{})
			var ce *CallbackError
			require.True(t, errors.As(err, &ce), "got %v", err)
			assert.Equal(t, tc.status, ce.StatusCode)
			assert.Equal(t, tc.empty, errors.Is(err, ErrEmptyBody))
			if tc.empty {
				assert.Contains(t, err.Error(), "empty response body")
			} else {
				assert.Contains(t, err.Error(), "failed with status")
			}
		})
	}
}

func TestNotifyTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	err := NewNotifier(50*time.Millisecond).Notify(context.Background(), srv.URL, "tok", struct{}{})
	var ce *CallbackError
	require.True(t, errors.As(err, &ce))
	assert.Error(t, ce.Err)
}

func TestNotifyBadURL(t *testing.T) {
	err := NewNotifier(0).Notify(context.Background(), "://bad", "tok", struct{}{})
	var ce *CallbackError
	assert.True(t, errors.As(err, &ce))
}
