package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/linkwarmer/internal/app"
	"github.com/JakeFAU/linkwarmer/internal/config"
)

type fakeApp struct {
	summary app.Summary
	warmErr error
	ran     bool
	closed  bool
}

func (f *fakeApp) Run(context.Context) error {
	f.ran = true
	return context.Canceled
}

func (f *fakeApp) Warm(context.Context) (app.Summary, error) { return f.summary, f.warmErr }

func (f *fakeApp) Close(context.Context) error {
	f.closed = true
	return nil
}

// withFakeApp swaps the factory for the duration of the test and records the
// config each command was built with.
func withFakeApp(t *testing.T, fake *fakeApp) *config.Config {
	t.Helper()
	var got config.Config
	orig := newApp
	newApp = func(_ context.Context, cfg config.Config) (App, error) {
		got = cfg
		return fake, nil
	}
	t.Cleanup(func() { newApp = orig })
	return &got
}

func execute(args ...string) (string, error) {
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestWarmPrintsSummary(t *testing.T) {
	fake := &fakeApp{summary: app.Summary{Session: "s-1", CacheEntries: 3}}
	got := withFakeApp(t, fake)

	out, err := execute("warm", "--file", "page.html", "--base-url", "https://example.com/docs/")
	require.NoError(t, err)
	assert.True(t, fake.closed)

	var summary app.Summary
	require.NoError(t, json.Unmarshal([]byte(out), &summary))
	assert.Equal(t, "s-1", summary.Session)
	assert.Equal(t, 3, summary.CacheEntries)

	assert.Equal(t, config.SourceFile, got.Document.Source)
	assert.Equal(t, "page.html", got.Document.Path)
	assert.Equal(t, "https://example.com/docs/", got.Document.BaseURL)
}

func TestWarmReportsFailure(t *testing.T) {
	fake := &fakeApp{warmErr: errors.New("boom")}
	withFakeApp(t, fake)

	_, err := execute("warm")
	require.ErrorContains(t, err, "boom")
	assert.True(t, fake.closed)
}

func TestServeTreatsCancelAsCleanExit(t *testing.T) {
	fake := &fakeApp{}
	got := withFakeApp(t, fake)

	_, err := execute("serve", "--port", "9090")
	require.NoError(t, err)
	assert.True(t, fake.ran)
	assert.Equal(t, 9090, got.Server.Port)
}

func TestInvalidFlagsFailBeforeBuild(t *testing.T) {
	withFakeApp(t, &fakeApp{})

	_, err := execute("warm", "--base-url", "ftp://nope")
	require.Error(t, err)
}

func TestMissingConfigFile(t *testing.T) {
	withFakeApp(t, &fakeApp{})

	_, err := execute("--config", "/does/not/exist.yaml", "warm")
	require.Error(t, err)
}
