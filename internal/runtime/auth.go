package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	gc "github.com/joshsymonds/sieve/internal/gmail"
)

// Scopes requested for every binary. Lint and show-changes only read, but a
// single scope set keeps one token file valid for all commands.
var Scopes = []string{gmail.GmailModifyScope, gmail.GmailLabelsScope}

// AuthConfig locates the OAuth client secret and the cached token.
type AuthConfig struct {
	CredsJSON string
	// TokenJSON defaults to .token.json next to CredsJSON.
	TokenJSON string
	// Prompt receives the consent URL on first authorization.
	Prompt io.Writer
}

// TokenPath returns the configured token path or its default.
func (c AuthConfig) TokenPath() string {
	if c.TokenJSON != "" {
		return c.TokenJSON
	}
	return filepath.Join(filepath.Dir(c.CredsJSON), ".token.json")
}

// NewGmailClient authorizes against Gmail and returns the adapted client.
// A missing or unusable token runs the installed-app consent flow on a
// loopback port and caches the result.
func NewGmailClient(ctx context.Context, auth AuthConfig, breaker BreakerSettings, logger *slog.Logger) (gc.Client, error) {
	if logger == nil {
		logger = DefaultLogger()
	}
	secret, err := os.ReadFile(auth.CredsJSON) // #nosec G304 - path chosen by the user
	if err != nil {
		return nil, fmt.Errorf("read client secret: %w", err)
	}
	cfg, err := google.ConfigFromJSON(secret, Scopes...)
	if err != nil {
		return nil, fmt.Errorf("parse client secret: %w", err)
	}
	tokenPath := auth.TokenPath()
	tok, err := tokenFromFile(tokenPath)
	if err != nil {
		logger.Info("no cached token; starting authorization", slog.String("token", tokenPath))
		prompt := auth.Prompt
		if prompt == nil {
			prompt = os.Stderr
		}
		tok, err = tokenFromBrowser(ctx, cfg, prompt)
		if err != nil {
			return nil, err
		}
	}
	src := cfg.TokenSource(ctx, tok)
	// refresh now so an expired refresh token fails before any work starts
	fresh, err := src.Token()
	if err != nil {
		return nil, fmt.Errorf("refresh token: %w", err)
	}
	if fresh.AccessToken != tok.AccessToken || !fileExists(tokenPath) {
		if err := saveToken(tokenPath, fresh); err != nil {
			return nil, err
		}
	}
	svc, err := gmail.NewService(ctx, option.WithHTTPClient(oauth2.NewClient(ctx, src)))
	if err != nil {
		return nil, fmt.Errorf("create gmail service: %w", err)
	}
	return NewGoogleAPIClient(svc, breaker, logger), nil
}

func tokenFromBrowser(ctx context.Context, cfg *oauth2.Config, prompt io.Writer) (*oauth2.Token, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("listen for oauth redirect: %w", err)
	}
	cfg.RedirectURL = "http://" + ln.Addr().String() + "/"
	state := fmt.Sprintf("sieve-%d", os.Getpid())

	codes := make(chan string, 1)
	errs := make(chan error, 1)
	srv := &http.Server{
		ReadHeaderTimeout: 10 * time.Second,
		Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Query().Get("state") != state {
				http.Error(w, "state mismatch", http.StatusBadRequest)
				return
			}
			code := r.URL.Query().Get("code")
			if code == "" {
				http.Error(w, "missing code", http.StatusBadRequest)
				return
			}
			_, _ = io.WriteString(w, "sieve is authorized; you can close this tab.\n")
			select {
			case codes <- code:
			default:
			}
		}),
	}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errs <- err
		}
	}()
	defer func() { _ = srv.Close() }()

	fmt.Fprintf(prompt, "Open the following link in your browser to authorize sieve:\n%s\n",
		cfg.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce))

	select {
	case code := <-codes:
		tok, err := cfg.Exchange(ctx, code)
		if err != nil {
			return nil, fmt.Errorf("exchange authorization code: %w", err)
		}
		return tok, nil
	case err := <-errs:
		return nil, fmt.Errorf("oauth redirect server: %w", err)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func tokenFromFile(path string) (*oauth2.Token, error) {
	f, err := os.Open(path) // #nosec G304 - path chosen by the user
	if err != nil {
		return nil, err
	}
	defer f.Close()
	tok := &oauth2.Token{}
	if err := json.NewDecoder(f).Decode(tok); err != nil {
		return nil, err
	}
	return tok, nil
}

func saveToken(path string, tok *oauth2.Token) error {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o600) // #nosec G304 - path chosen by the user
	if err != nil {
		return fmt.Errorf("save oauth token: %w", err)
	}
	defer f.Close()
	if err := json.NewEncoder(f).Encode(tok); err != nil {
		return fmt.Errorf("save oauth token: %w", err)
	}
	return nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
