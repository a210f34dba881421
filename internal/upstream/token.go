package upstream

import (
	"context"
	"net/http"
	"sync"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
	"golang.org/x/sync/semaphore"
)

// cachedToken holds the last client-credentials token for one (credential,
// scope) pair. Refreshes run on the caller's context, so a hung token
// endpoint is bounded by the same deadline as the page request.
type cachedToken struct {
	conf    *clientcredentials.Config
	refresh *semaphore.Weighted

	mu  sync.Mutex
	tok *oauth2.Token
}

func newCachedToken(conf *clientcredentials.Config) *cachedToken {
	return &cachedToken{conf: conf, refresh: semaphore.NewWeighted(1)}
}

// Token returns a valid token, fetching one when the cached token is missing
// or about to expire. Only one refresh runs at a time; waiters give up with ctx.
func (t *cachedToken) Token(ctx context.Context, hc *http.Client) (*oauth2.Token, error) {
	if tok := t.current(); tok != nil {
		return tok, nil
	}

	if err := t.refresh.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer t.refresh.Release(1)

	// Someone else may have refreshed while we waited.
	if tok := t.current(); tok != nil {
		return tok, nil
	}

	tok, err := t.conf.Token(context.WithValue(ctx, oauth2.HTTPClient, hc))
	if err != nil {
		return nil, err
	}

	t.mu.Lock()
	t.tok = tok
	t.mu.Unlock()

	return tok, nil
}

func (t *cachedToken) current() *oauth2.Token {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.tok.Valid() {
		return t.tok
	}

	return nil
}
