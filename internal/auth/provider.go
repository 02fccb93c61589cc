// Package auth supplies the identity of the signed-in user and short-lived bearer credentials
// for outbound requests. It speaks the Identity Toolkit REST surface, which the managed
// provider, its local emulator and the development backend all serve.
package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"pasta/chat/internal/logging"
	"pasta/chat/internal/models"
)

var (
	ErrNotSignedIn        = errors.New("auth: not signed in")
	ErrInvalidCredentials = errors.New("auth: invalid credentials")
	// ErrTokenRejected means the refresh token was refused; the user has to sign in again.
	ErrTokenRejected = errors.New("auth: token refresh rejected")
)

// Provider is what the rest of the application needs from the identity layer.
type Provider interface {
	// CurrentUser returns the signed-in identity, or nil.
	CurrentUser() *models.Identity
	// IDToken returns a bearer credential for the current identity, refreshing it when it
	// is about to expire.
	IDToken(ctx context.Context) (string, error)
	SignIn(ctx context.Context, email, password string) (*models.Identity, error)
	SignOut()
	// OnAuthStateChanged registers fn for every identity change and returns a function
	// that removes it.
	OnAuthStateChanged(fn func(*models.Identity)) (unsubscribe func())
}

// Options configure a Client.
type Options struct {
	APIKey        string
	IdentityURL   string
	TokenURL      string
	RefreshMargin time.Duration
	// SessionFile keeps the refresh token between runs when set.
	SessionFile string
}

// Client implements Provider over HTTP.
type Client struct {
	opts       Options
	httpClient *http.Client
	now        func() time.Time

	mu        sync.Mutex
	current   *models.Identity
	// gen counts identity changes; a refresh only lands on the generation it started from.
	gen       uint64
	observers map[int]func(*models.Identity)
	nextID    int

	// refreshMu keeps concurrent IDToken callers from refreshing twice.
	refreshMu sync.Mutex
}

// NewClient creates a Client; hc may be nil.
func NewClient(opts Options, hc *http.Client) *Client {
	if hc == nil {
		hc = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		opts:       opts,
		httpClient: hc,
		now:        time.Now,
		observers:  make(map[int]func(*models.Identity)),
	}
}

func (c *Client) CurrentUser() *models.Identity {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return nil
	}
	id := *c.current
	return &id
}

func (c *Client) OnAuthStateChanged(fn func(*models.Identity)) func() {
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.observers[id] = fn
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		delete(c.observers, id)
		c.mu.Unlock()
	}
}

// setIdentity swaps the current identity and, when notify is set, tells every observer.
func (c *Client) setIdentity(identity *models.Identity, notify bool) {
	c.mu.Lock()
	c.current = identity
	c.gen++
	fns := make([]func(*models.Identity), 0, len(c.observers))
	for _, fn := range c.observers {
		fns = append(fns, fn)
	}
	c.mu.Unlock()

	if !notify {
		return
	}
	for _, fn := range fns {
		if identity == nil {
			fn(nil)
			continue
		}
		cp := *identity
		fn(&cp)
	}
}

// SignIn exchanges email and password for an identity.
func (c *Client) SignIn(ctx context.Context, email, password string) (*models.Identity, error) {
	body, err := json.Marshal(map[string]interface{}{
		"email":             email,
		"password":          password,
		"returnSecureToken": true,
	})
	if err != nil {
		return nil, err
	}

	endpoint := c.endpoint(c.opts.IdentityURL, "/v1/accounts:signInWithPassword")
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create sign-in request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	var out struct {
		LocalID      string `json:"localId"`
		Email        string `json:"email"`
		IDToken      string `json:"idToken"`
		RefreshToken string `json:"refreshToken"`
		ExpiresIn    string `json:"expiresIn"`
	}
	if err := c.do(req, &out); err != nil {
		if errors.Is(err, errRejected) {
			return nil, fmt.Errorf("%w: %v", ErrInvalidCredentials, err)
		}
		return nil, err
	}

	identity, err := c.buildIdentity(out.IDToken, out.RefreshToken, out.ExpiresIn)
	if err != nil {
		return nil, err
	}
	if identity.Email == "" {
		identity.Email = out.Email
	}

	c.setIdentity(identity, true)
	c.persist(identity)
	logging.Infow("signed in", "uid", identity.UID)
	return identity, nil
}

// SignOut forgets the identity and the persisted session.
func (c *Client) SignOut() {
	c.setIdentity(nil, true)
	if c.opts.SessionFile != "" {
		if err := removeSession(c.opts.SessionFile); err != nil {
			logging.Error("failed to remove session file", err)
		}
	}
	logging.Info("signed out")
}

func (c *Client) IDToken(ctx context.Context) (string, error) {
	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()

	c.mu.Lock()
	identity, gen := c.current, c.gen
	c.mu.Unlock()
	if identity == nil {
		return "", ErrNotSignedIn
	}
	if !identity.Expired(c.now(), c.opts.RefreshMargin) {
		return identity.IDToken, nil
	}

	refreshed, err := c.refresh(ctx, identity.RefreshToken)
	if err != nil {
		return "", err
	}
	if !c.replaceRefreshed(gen, refreshed) {
		return "", ErrNotSignedIn
	}
	return refreshed.IDToken, nil
}

// replaceRefreshed stores a refreshed identity unless the identity changed while the refresh
// was in flight. A token refresh is not an identity change; observers are not told.
func (c *Client) replaceRefreshed(gen uint64, refreshed *models.Identity) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen != gen {
		logging.Debugw("dropping refreshed token for a replaced identity", "uid", refreshed.UID)
		return false
	}
	c.current = refreshed
	// under mu so a concurrent SignOut removes the file after this write, not before
	c.persist(refreshed)
	return true
}

// Restore signs the persisted session back in, if there is one. Observers first see nil,
// then the restored identity.
func (c *Client) Restore(ctx context.Context) (*models.Identity, error) {
	c.setIdentity(nil, true)
	if c.opts.SessionFile == "" {
		return nil, nil
	}

	saved, err := loadSession(c.opts.SessionFile)
	if err != nil || saved == nil {
		return nil, err
	}

	identity, err := c.refresh(ctx, saved.RefreshToken)
	if err != nil {
		return nil, err
	}
	c.setIdentity(identity, true)
	c.persist(identity)
	logging.Infow("session restored", "uid", identity.UID)
	return identity, nil
}

func (c *Client) refresh(ctx context.Context, refreshToken string) (*models.Identity, error) {
	if refreshToken == "" {
		return nil, ErrTokenRejected
	}

	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", refreshToken)

	endpoint := c.endpoint(c.opts.TokenURL, "/v1/token")
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create refresh request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	var out struct {
		IDToken      string `json:"id_token"`
		RefreshToken string `json:"refresh_token"`
		ExpiresIn    string `json:"expires_in"`
	}
	if err := c.do(req, &out); err != nil {
		if errors.Is(err, errRejected) {
			return nil, fmt.Errorf("%w: %v", ErrTokenRejected, err)
		}
		return nil, err
	}
	return c.buildIdentity(out.IDToken, out.RefreshToken, out.ExpiresIn)
}

func (c *Client) buildIdentity(idToken, refreshToken, expiresIn string) (*models.Identity, error) {
	claims, err := ParseIDToken(idToken)
	if err != nil {
		return nil, err
	}

	identity := &models.Identity{
		UID:          claims.UID(),
		Email:        claims.Email,
		IDToken:      idToken,
		RefreshToken: refreshToken,
	}
	switch {
	case claims.ExpiresAt != nil:
		identity.ExpiresAt = claims.ExpiresAt.Time
	case expiresIn != "":
		secs, err := strconv.Atoi(expiresIn)
		if err != nil {
			return nil, fmt.Errorf("invalid expiresIn %q: %w", expiresIn, err)
		}
		identity.ExpiresAt = c.now().Add(time.Duration(secs) * time.Second)
	}
	return identity, nil
}

func (c *Client) persist(identity *models.Identity) {
	if c.opts.SessionFile == "" {
		return
	}
	if err := saveSession(c.opts.SessionFile, identity); err != nil {
		logging.Error("failed to persist session", err)
	}
}

func (c *Client) endpoint(base, path string) string {
	u := strings.TrimRight(base, "/") + path
	if c.opts.APIKey != "" {
		u += "?key=" + url.QueryEscape(c.opts.APIKey)
	}
	return u
}

// errRejected marks 4xx answers from the identity endpoints.
var errRejected = errors.New("rejected")

func (c *Client) do(req *http.Request, out interface{}) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("identity request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("failed to read identity response: %w", err)
	}

	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		return fmt.Errorf("%w: %s", errRejected, identityError(body))
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("identity service returned %s", resp.Status)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to decode identity response: %w", err)
	}
	return nil
}

// identityError reads {"error": {"message": "..."}} bodies.
func identityError(body []byte) string {
	var payload struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && payload.Error.Message != "" {
		return payload.Error.Message
	}
	return strings.TrimSpace(string(body))
}
