package main

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yairfalse/amikeeper/internal/config"
	"github.com/yairfalse/amikeeper/pkg/backup"
)

type mockRunner struct {
	RunFunc      func(ctx context.Context) (backup.Summary, error)
	shutdownCall int
}

func (m *mockRunner) Run(ctx context.Context) (backup.Summary, error) {
	return m.RunFunc(ctx)
}

func (m *mockRunner) Shutdown(context.Context) error {
	m.shutdownCall++
	return nil
}

func loadOK(string, ...func(*config.Config)) (*config.Config, error) {
	return &config.Config{Region: "us-east-1", Log: config.LogConfig{Level: "error", Format: "json"}}, nil
}

func TestHandle_ReturnsSummary(t *testing.T) {
	m := &mockRunner{RunFunc: func(context.Context) (backup.Summary, error) {
		return backup.Summary{InstancesMatched: 3}, nil
	}}
	h := handler{load: loadOK, build: func(context.Context, *config.Config) (runner, error) { return m, nil }}

	s, err := h.Handle(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 3, s.InstancesMatched)
	assert.Equal(t, 1, m.shutdownCall)
}

func TestHandle_RunErrorKeepsSummary(t *testing.T) {
	fail := errors.New("image creation failures over threshold")
	m := &mockRunner{RunFunc: func(context.Context) (backup.Summary, error) {
		return backup.Summary{InstancesMatched: 1, Error: fail.Error()}, fail
	}}
	h := handler{load: loadOK, build: func(context.Context, *config.Config) (runner, error) { return m, nil }}

	s, err := h.Handle(context.Background())

	assert.ErrorIs(t, err, fail)
	assert.Equal(t, fail.Error(), s.Error)
	assert.Equal(t, 1, m.shutdownCall)
}

func TestHandle_ConfigError(t *testing.T) {
	h := handler{
		load: func(string, ...func(*config.Config)) (*config.Config, error) {
			return nil, config.ErrInvalid
		},
		build: func(context.Context, *config.Config) (runner, error) {
			t.Fatal("build must not be called")
			return nil, nil
		},
	}

	_, err := h.Handle(context.Background())
	assert.ErrorIs(t, err, config.ErrInvalid)
}

func TestHandle_BuildError(t *testing.T) {
	h := handler{load: loadOK, build: func(context.Context, *config.Config) (runner, error) {
		return nil, errors.New("read policy file")
	}}

	_, err := h.Handle(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to initialize")
}
