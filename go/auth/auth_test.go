package auth

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/marginalia/quill/go/ot"
)

const (
	rootToken   = BearerToken("root-0000-0000-01-secret-secret-secret")
	aliceToken  = BearerToken("alice-0000-0000-1-secret-secret-secret")
	strayToken  = BearerToken("stray-0000-0000-1-secret-secret-secret")
	twinOfAlice = BearerToken("alice-0000-0000-1-another-other-secret")
)

func seededAuthority(t *testing.T, dev bool) *LocalAuthority {
	var path = filepath.Join(t.TempDir(), "tokens.yaml")
	var seed = "rootTokens:\n  - " + string(rootToken) + "\nauthorTokens:\n  alice: " + string(aliceToken) + "\n"
	require.NoError(t, os.WriteFile(path, []byte(seed), 0600))

	var a, err = NewLocalAuthority(LocalAuthorityConfig{SeedPath: path, DevMode: dev})
	require.NoError(t, err)
	return a
}

func TestTokenIDAndPredicate(t *testing.T) {
	require.NoError(t, rootToken.Check())
	require.Equal(t, "root-0000-0000-0", rootToken.ID())

	// Too short, and characters outside the allowed set.
	require.Error(t, BearerToken("short").Check())
	require.Error(t, BearerToken("spaces are not allowed in a bearer token").Check())
	require.Empty(t, BearerToken("short").ID())

	// No fragment of a rejected token reaches the error text, however
	// short the submission.
	var err = BearerToken("stubby-would-be-secret").Check()
	require.Error(t, err)
	require.NotContains(t, err.Error(), "stubby")

	var minted = NewRandomToken()
	require.NoError(t, minted.Check())
	require.Len(t, string(minted), 48)
	require.NotEqual(t, minted, NewRandomToken())
}

func TestVerifyRoot(t *testing.T) {
	var ctx = context.Background()
	var a = seededAuthority(t, false)

	require.NoError(t, a.VerifyRoot(ctx, rootToken))

	// Same id, different secret: refused.
	var forged = BearerToken(rootToken.ID() + "1-secret-secret-secret")
	require.NoError(t, forged.Check())
	require.True(t, errors.Is(a.VerifyRoot(ctx, forged), ot.ErrBadID))

	require.True(t, errors.Is(a.VerifyRoot(ctx, strayToken), ot.ErrBadID))
	require.True(t, errors.Is(a.VerifyRoot(ctx, "short"), ot.ErrBadValue))
}

func TestResolveAuthor(t *testing.T) {
	var ctx = context.Background()
	var a = seededAuthority(t, false)

	author, err := a.ResolveAuthor(ctx, aliceToken)
	require.NoError(t, err)
	require.Equal(t, ot.AuthorID("alice"), author)

	_, err = a.ResolveAuthor(ctx, twinOfAlice)
	require.True(t, errors.Is(err, ot.ErrBadID))

	_, err = a.ResolveAuthor(ctx, strayToken)
	require.True(t, errors.Is(err, ot.ErrBadID))
}

func TestMintAuthorToken(t *testing.T) {
	var ctx = context.Background()
	var a = seededAuthority(t, false)

	minted, err := a.MintAuthorToken(ctx, "carol")
	require.NoError(t, err)
	require.NoError(t, minted.Check())

	author, err := a.ResolveAuthor(ctx, minted)
	require.NoError(t, err)
	require.Equal(t, ot.AuthorID("carol"), author)

	// Minting again yields a distinct token; both resolve.
	again, err := a.MintAuthorToken(ctx, "carol")
	require.NoError(t, err)
	require.NotEqual(t, minted, again)

	author, err = a.ResolveAuthor(ctx, again)
	require.NoError(t, err)
	require.Equal(t, ot.AuthorID("carol"), author)
}

func TestUseTokenRequiresDevMode(t *testing.T) {
	var ctx = context.Background()

	var prod = seededAuthority(t, false)
	require.True(t, errors.Is(prod.UseToken("bob", strayToken), ot.ErrBadUse))

	var dev = seededAuthority(t, true)
	require.NoError(t, dev.UseToken("bob", strayToken))
	author, err := dev.ResolveAuthor(ctx, strayToken)
	require.NoError(t, err)
	require.Equal(t, ot.AuthorID("bob"), author)
}

func TestDevModeMintsRootToken(t *testing.T) {
	var ctx = context.Background()

	var _, err = NewLocalAuthority(LocalAuthorityConfig{})
	require.True(t, errors.Is(err, ot.ErrBadUse))

	a, err := NewLocalAuthority(LocalAuthorityConfig{DevMode: true})
	require.NoError(t, err)
	ids, err := a.RootTokenIDs(ctx)
	require.NoError(t, err)
	require.Len(t, ids, 1)
	require.Len(t, ids[0], IDLength)
}

func TestWhenRootTokensChange(t *testing.T) {
	var ctx = context.Background()
	var a = seededAuthority(t, false)

	// Wakes on rotation.
	var woke = make(chan error, 1)
	go func() { woke <- a.WhenRootTokensChange(ctx) }()
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, a.SetRootTokens(strayToken))

	select {
	case err := <-woke:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("watcher never woke")
	}

	require.True(t, errors.Is(a.VerifyRoot(ctx, rootToken), ot.ErrBadID))
	require.NoError(t, a.VerifyRoot(ctx, strayToken))

	// Clearing the root set is refused.
	require.True(t, errors.Is(a.SetRootTokens(), ot.ErrBadUse))

	// Without a rotation, the poll interval bounds the wait.
	var quick, err = NewLocalAuthority(LocalAuthorityConfig{DevMode: true, PollInterval: 30 * time.Millisecond})
	require.NoError(t, err)
	var begun = time.Now()
	require.NoError(t, quick.WhenRootTokensChange(ctx))
	require.Less(t, time.Since(begun), 5*time.Second)
}
