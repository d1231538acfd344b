package cmd

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	coreconfig "github.com/m3rciful/formbot/core/config"
	coretelegram "github.com/m3rciful/formbot/core/telegram"
)

type fakeApp struct {
	reconciled int
	closed     bool
	reconErr   error
}

func (a *fakeApp) TelegramRunOptions() (coretelegram.RunOptions, error) {
	return coretelegram.RunOptions{}, nil
}

func (a *fakeApp) Reconcile(context.Context) error {
	a.reconciled++
	return a.reconErr
}

func (a *fakeApp) Close() error {
	a.closed = true
	return nil
}

type harness struct {
	app      *fakeApp
	loaded   string
	migrated bool
	ran      bool
	opts     Options
}

func newHarness() *harness {
	h := &harness{app: &fakeApp{}}
	h.opts = Options{
		ConfigEnvVar:      "FORMBOT_TEST_CONFIG",
		DefaultConfigPath: "config.yaml",
		LoadConfig: func(path string) (*coreconfig.Config, error) {
			h.loaded = path
			return &coreconfig.Config{}, nil
		},
		Bootstrap: func(context.Context, *coreconfig.Config) (App, error) {
			return h.app, nil
		},
		Migrate: func(*coreconfig.Config) error {
			h.migrated = true
			return nil
		},
		ShutdownLogger: func() error { return nil },
		RunTelegram: func(ctx context.Context, opts coretelegram.RunOptions) error {
			h.ran = true
			if err := opts.OnStart(ctx); err != nil {
				return err
			}
			return opts.OnStop(ctx)
		},
	}
	return h
}

func execute(t *testing.T, opts Options, args ...string) error {
	t.Helper()
	root := NewRootCommand(opts)
	root.SetArgs(args)
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	return root.ExecuteContext(context.Background())
}

func TestServeIsDefault(t *testing.T) {
	h := newHarness()
	require.NoError(t, execute(t, h.opts))
	assert.True(t, h.ran)
	assert.True(t, h.app.closed)
	assert.Equal(t, "config.yaml", h.loaded)
}

func TestConfigFlagWinsOverEnv(t *testing.T) {
	t.Setenv("FORMBOT_TEST_CONFIG", "from-env.yaml")

	h := newHarness()
	require.NoError(t, execute(t, h.opts, "serve"))
	assert.Equal(t, "from-env.yaml", h.loaded)

	h = newHarness()
	require.NoError(t, execute(t, h.opts, "serve", "--config", "flag.yaml"))
	assert.Equal(t, "flag.yaml", h.loaded)
}

func TestMigrateCommand(t *testing.T) {
	h := newHarness()
	require.NoError(t, execute(t, h.opts, "migrate"))
	assert.True(t, h.migrated)
	assert.False(t, h.ran)
}

func TestReconcileCommand(t *testing.T) {
	h := newHarness()
	require.NoError(t, execute(t, h.opts, "reconcile"))
	assert.Equal(t, 1, h.app.reconciled)
	assert.True(t, h.app.closed)

	h = newHarness()
	h.app.reconErr = errors.New("invalid forms")
	assert.Error(t, execute(t, h.opts, "reconcile"))
}

func TestBootstrapFailure(t *testing.T) {
	h := newHarness()
	h.opts.Bootstrap = func(context.Context, *coreconfig.Config) (App, error) {
		return nil, errors.New("db down")
	}
	err := execute(t, h.opts)
	require.Error(t, err)
	assert.ErrorContains(t, err, "bootstrap failed")
}

func TestVersionCommand(t *testing.T) {
	root := NewRootCommand(newHarness().opts)
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"version"})
	require.NoError(t, root.Execute())
	assert.Contains(t, out.String(), "formbot dev")
}
