package exec

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecuteSuccess(t *testing.T) {
	var got pistonRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/execute", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		json.NewEncoder(w).Encode(map[string]any{
			"run": map[string]any{"stdout": "hi\n", "stderr": "", "code": 0},
		})
	}))
	defer srv.Close()

	client := NewClient(srv.URL)
	result, err := client.Execute(context.Background(), Request{Language: "python", Code: "print('hi')"})
	require.NoError(t, err)

	assert.Equal(t, "hi\n", result.Stdout)
	assert.Zero(t, result.ExitCode)
	assert.Equal(t, "python", got.Language)
	assert.Equal(t, "3.10.0", got.Version)
	require.Len(t, got.Files, 1)
	assert.Equal(t, "print('hi')", got.Files[0].Content)
}

func TestExecuteUnsupportedLanguage(t *testing.T) {
	client := NewClient("http://unused.example")
	result, err := client.Execute(context.Background(), Request{Language: "cobol", Code: "x"})
	require.NoError(t, err)

	assert.Equal(t, 1, result.ExitCode)
	assert.Equal(t, "Unsupported language", result.Error)
}

func TestExecuteReportsSignal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"run": map[string]any{"stdout": "", "stderr": "", "code": 137, "signal": "SIGKILL"},
		})
	}))
	defer srv.Close()

	client := NewClient(srv.URL)
	result, err := client.Execute(context.Background(), Request{Language: "go", Code: "for {}"})
	require.NoError(t, err)

	assert.Equal(t, 137, result.ExitCode)
	assert.Contains(t, result.Error, "SIGKILL")
}

func TestExecuteRetriesServerErrors(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		attempts++
		if attempts < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"run": map[string]any{"stdout": "ok", "code": 0},
		})
	}))
	defer srv.Close()

	client := NewClient(srv.URL)
	result, err := client.Execute(context.Background(), Request{Language: "ruby", Code: "puts :ok"})
	require.NoError(t, err)

	assert.Equal(t, "ok", result.Stdout)
	assert.GreaterOrEqual(t, attempts, 3)
}

func TestExecuteClientErrorIsPermanent(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		attempts++
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	client := NewClient(srv.URL)
	result, err := client.Execute(context.Background(), Request{Language: "php", Code: "<?php"})
	require.NoError(t, err)

	assert.Equal(t, 1, result.ExitCode)
	assert.NotEmpty(t, result.Error)
	assert.Equal(t, 1, attempts, "4xx responses must not be retried")
}
