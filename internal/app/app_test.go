package app

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"roaddamage/internal/apperr"
	"roaddamage/internal/config"
	"roaddamage/internal/service/auth"
)

func testConfig(t *testing.T, preauthorization bool) *config.Config {
	t.Helper()
	dir := t.TempDir()
	return &config.Config{
		CredentialsPath:  filepath.Join(dir, "config.yaml"),
		Preauthorization: preauthorization,
		DatabasePath:     filepath.Join(dir, "assessments.db"),
		LogDirectory:     filepath.Join(dir, "logs"),
		LogLevel:         "info",
	}
}

func TestNewComponents_Preauthorization(t *testing.T) {
	req := auth.RegisterRequest{
		Username:       "ann",
		Name:           "Ann",
		Email:          "ann@example.com",
		Password:       "secret",
		RepeatPassword: "secret",
	}

	open, err := NewComponents(testConfig(t, false))
	require.NoError(t, err)
	defer open.Close()
	require.NoError(t, open.Authenticator.Register(req))

	restricted, err := NewComponents(testConfig(t, true))
	require.NoError(t, err)
	defer restricted.Close()
	err = restricted.Authenticator.Register(req)
	require.Error(t, err)
	require.Equal(t, apperr.AuthFailure, apperr.KindOf(err))
}
