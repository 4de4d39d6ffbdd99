package auth

import (
	"context"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/marginalia/quill/go/ot"
)

// Authority resolves bearer tokens to identities. Implementations may
// consult an external service; the server caches bindings until
// WhenRootTokensChange signals they may have changed.
type Authority interface {
	// VerifyRoot checks that token is a current root token.
	VerifyRoot(ctx context.Context, token BearerToken) error
	// ResolveAuthor maps an author token to its author id, or a badID
	// error when the token is unknown.
	ResolveAuthor(ctx context.Context, token BearerToken) (ot.AuthorID, error)
	// MintAuthorToken mints and binds a fresh token for author.
	MintAuthorToken(ctx context.Context, author ot.AuthorID) (BearerToken, error)
	// RootTokenIDs lists the redacted ids of the current root tokens.
	RootTokenIDs(ctx context.Context) ([]string, error)
	// WhenRootTokensChange blocks until the root token set may have
	// changed, or the authority's polling interval elapses, whichever
	// is first.
	WhenRootTokensChange(ctx context.Context) error
}

// seedFile is the yaml shape of a local authority seed.
type seedFile struct {
	RootTokens   []BearerToken               `yaml:"rootTokens"`
	AuthorTokens map[ot.AuthorID]BearerToken `yaml:"authorTokens"`
}

// LocalAuthorityConfig configures a LocalAuthority.
type LocalAuthorityConfig struct {
	// SeedPath is a yaml file of root and author tokens. Empty means
	// no seed.
	SeedPath string
	// DevMode permits UseToken overrides and mints a root token when
	// the seed provides none.
	DevMode bool
	// PollInterval bounds how long WhenRootTokensChange blocks.
	PollInterval time.Duration
}

// LocalAuthority is the in-process token authority: root and author
// tokens come from a yaml seed, plus dev-mode overrides.
type LocalAuthority struct {
	cfg LocalAuthorityConfig

	mu      sync.Mutex
	roots   map[string]BearerToken   // Keyed by token id.
	authors map[string]authorBinding // Keyed by token id.
	changed chan struct{}
}

type authorBinding struct {
	token  BearerToken
	author ot.AuthorID
}

// NewLocalAuthority builds an authority from cfg, reading the seed
// file when one is named. In dev mode with no seeded root token, a
// random one is minted and logged by id.
func NewLocalAuthority(cfg LocalAuthorityConfig) (*LocalAuthority, error) {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Minute
	}
	var a = &LocalAuthority{
		cfg:     cfg,
		roots:   make(map[string]BearerToken),
		authors: make(map[string]authorBinding),
		changed: make(chan struct{}),
	}

	if cfg.SeedPath != "" {
		var raw, err = os.ReadFile(cfg.SeedPath)
		if err != nil {
			return nil, fmt.Errorf("reading token seed: %w", err)
		}
		var seed seedFile
		if err = yaml.Unmarshal(raw, &seed); err != nil {
			return nil, fmt.Errorf("parsing token seed: %w", err)
		}
		for _, token := range seed.RootTokens {
			if err = a.addRoot(token); err != nil {
				return nil, err
			}
		}
		for author, token := range seed.AuthorTokens {
			if err = a.addAuthor(author, token); err != nil {
				return nil, err
			}
		}
	}

	if len(a.roots) == 0 && cfg.DevMode {
		var token = NewRandomToken()
		_ = a.addRoot(token)
		log.WithField("tokenId", token.ID()).Warn("minted a dev-mode root token")
	}
	if len(a.roots) == 0 {
		return nil, ot.BadUsef("no root tokens seeded and dev mode is off")
	}
	return a, nil
}

func (a *LocalAuthority) addRoot(token BearerToken) error {
	if err := token.Check(); err != nil {
		return fmt.Errorf("root token: %w", err)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if prior, ok := a.roots[token.ID()]; ok && !prior.Matches(token) {
		return ot.BadUsef("two root tokens share id %q with different secrets", token.ID())
	}
	a.roots[token.ID()] = token
	return nil
}

func (a *LocalAuthority) addAuthor(author ot.AuthorID, token BearerToken) error {
	if err := ot.CheckID(string(author)); err != nil {
		return err
	}
	if err := token.Check(); err != nil {
		return fmt.Errorf("token of author %q: %w", string(author), err)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if prior, ok := a.authors[token.ID()]; ok && !prior.token.Matches(token) {
		return ot.BadUsef("two author tokens share id %q with different secrets", token.ID())
	}
	a.authors[token.ID()] = authorBinding{token: token, author: author}
	return nil
}

// VerifyRoot checks token against the current root set.
func (a *LocalAuthority) VerifyRoot(ctx context.Context, token BearerToken) error {
	if err := token.Check(); err != nil {
		return err
	}
	a.mu.Lock()
	var stored, ok = a.roots[token.ID()]
	a.mu.Unlock()
	if !ok || !stored.Matches(token) {
		return ot.BadIDf("unknown root token %q", token.ID())
	}
	return nil
}

// ResolveAuthor maps an author token to its author id.
func (a *LocalAuthority) ResolveAuthor(ctx context.Context, token BearerToken) (ot.AuthorID, error) {
	if err := token.Check(); err != nil {
		return "", err
	}
	a.mu.Lock()
	var binding, ok = a.authors[token.ID()]
	a.mu.Unlock()
	if !ok || !binding.token.Matches(token) {
		return "", ot.BadIDf("unknown author token %q", token.ID())
	}
	return binding.author, nil
}

// MintAuthorToken mints and binds a fresh random token for author.
func (a *LocalAuthority) MintAuthorToken(ctx context.Context, author ot.AuthorID) (BearerToken, error) {
	if err := ot.CheckID(string(author)); err != nil {
		return "", err
	}
	var token = NewRandomToken()
	a.mu.Lock()
	a.authors[token.ID()] = authorBinding{token: token, author: author}
	a.mu.Unlock()

	log.WithFields(log.Fields{
		"author":  author,
		"tokenId": token.ID(),
	}).Info("minted author token")
	return token, nil
}

// UseToken binds token to author, overriding any prior binding of the
// same token id. Dev mode only.
func (a *LocalAuthority) UseToken(author ot.AuthorID, token BearerToken) error {
	if !a.cfg.DevMode {
		return ot.BadUsef("useToken requires dev mode")
	}
	if err := ot.CheckID(string(author)); err != nil {
		return err
	}
	if err := token.Check(); err != nil {
		return err
	}
	a.mu.Lock()
	a.authors[token.ID()] = authorBinding{token: token, author: author}
	a.mu.Unlock()

	log.WithFields(log.Fields{
		"author":  author,
		"tokenId": token.ID(),
	}).Info("dev-mode token binding")
	return nil
}

// SetRootTokens replaces the root set, waking WhenRootTokensChange
// callers.
func (a *LocalAuthority) SetRootTokens(tokens ...BearerToken) error {
	var next = make(map[string]BearerToken, len(tokens))
	for _, token := range tokens {
		if err := token.Check(); err != nil {
			return err
		}
		if prior, ok := next[token.ID()]; ok && !prior.Matches(token) {
			return ot.BadUsef("two root tokens share id %q with different secrets", token.ID())
		}
		next[token.ID()] = token
	}
	if len(next) == 0 {
		return ot.BadUsef("refusing to clear all root tokens")
	}

	a.mu.Lock()
	a.roots = next
	var changed = a.changed
	a.changed = make(chan struct{})
	a.mu.Unlock()
	close(changed)
	return nil
}

// RootTokenIDs lists the redacted ids of the current root tokens, in
// sorted order.
func (a *LocalAuthority) RootTokenIDs(ctx context.Context) ([]string, error) {
	a.mu.Lock()
	var ids = make([]string, 0, len(a.roots))
	for id := range a.roots {
		ids = append(ids, id)
	}
	a.mu.Unlock()
	sort.Strings(ids)
	return ids, nil
}

// WhenRootTokensChange blocks until the root set changes or the poll
// interval elapses.
func (a *LocalAuthority) WhenRootTokensChange(ctx context.Context) error {
	a.mu.Lock()
	var changed = a.changed
	a.mu.Unlock()

	var timer = time.NewTimer(a.cfg.PollInterval)
	defer timer.Stop()
	select {
	case <-changed:
		return nil
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
