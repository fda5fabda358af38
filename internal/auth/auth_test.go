package auth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/petroverify/internal/browser"
	"github.com/roach88/petroverify/internal/browser/browsertest"
	"github.com/roach88/petroverify/internal/failure"
)

const gatePage = `<html><body>
<h2>Access Key</h2>
<input type="password" name="key">
<button type="submit">Authenticate</button>
</body></html>`

const dashboardPage = `<html><body><h1>Control Center Dashboard</h1></body></html>`

func fastGate() GateConfig {
	g := DefaultGate()
	g.ProbeTimeout = 100 * time.Millisecond
	g.PollInterval = 10 * time.Millisecond
	return g
}

// gated returns a page that leaves the gate when the right key is submitted.
func gated(key string) *browsertest.Page {
	p := browsertest.New(gatePage)
	var typed string
	p.OnFill = func(p *browsertest.Page, l browser.Locator, value string) error {
		typed = value
		return nil
	}
	p.OnClick = func(p *browsertest.Page, l browser.Locator) error {
		if typed == key {
			p.SetHTML(dashboardPage)
		}
		return nil
	}
	return p
}

func TestAuthenticate_SubmitsCredential(t *testing.T) {
	page := gated("PetroV0")
	g := fastGate()
	g.PostAuthMarker = browser.Text("Control Center Dashboard")

	out, err := New(g, nil).Authenticate(context.Background(), page, "PetroV0", time.Second)
	require.NoError(t, err)
	assert.Equal(t, Authenticated, out)
	assert.Equal(t, []string{
		"navigate /",
		`fill css=input[type="password"] PetroV0`,
		"click text=Authenticate",
	}, page.Calls)
}

func TestAuthenticate_NoGatePresent(t *testing.T) {
	page := browsertest.New(dashboardPage)

	start := time.Now()
	out, err := New(fastGate(), nil).Authenticate(context.Background(), page, "PetroV0", time.Second)
	require.NoError(t, err)
	assert.Equal(t, NoGatePresent, out)
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, []string{"navigate /"}, page.Calls)
}

func TestAuthenticate_WrongCredential(t *testing.T) {
	page := gated("PetroV0")

	_, err := New(fastGate(), nil).Authenticate(context.Background(), page, "nope", 50*time.Millisecond)
	require.Error(t, err)

	var ae *AuthenticationError
	require.ErrorAs(t, err, &ae)
	assert.Contains(t, ae.Reason, "post-authentication state not reached")
	assert.Equal(t, failure.AuthenticationFailure, failure.KindOf(err))
}

func TestAuthenticate_MissingPostAuthMarker(t *testing.T) {
	page := gated("PetroV0")
	g := fastGate()
	g.PostAuthMarker = browser.Text("GIS & Asset Intelligence")

	_, err := New(g, nil).Authenticate(context.Background(), page, "PetroV0", 50*time.Millisecond)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not visible")
}

func TestAuthenticate_UnusableSubmit(t *testing.T) {
	page := browsertest.New(`<html><body><p>Access Key</p><input type="password"></body></html>`)

	_, err := New(fastGate(), nil).Authenticate(context.Background(), page, "PetroV0", time.Second)
	require.Error(t, err)
	assert.ErrorIs(t, err, browser.ErrElementNotFound)
	assert.Equal(t, failure.AuthenticationFailure, failure.KindOf(err))
}

func TestNew_FillsDefaults(t *testing.T) {
	a := New(GateConfig{}, nil)
	g := a.Gate()
	assert.Equal(t, "Access Key", g.PromptText)
	assert.Equal(t, "text=Authenticate", g.SubmitLocator.String())
	assert.Equal(t, 3*time.Second, g.ProbeTimeout)
	assert.Empty(t, g.EntryPath)
}
