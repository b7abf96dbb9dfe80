package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/drive/v3"
)

// GDriveAuth walks a user through the OAuth consent screen once and returns
// the refresh token to put into storage.gdrive.refresh_token.
type GDriveAuth struct {
	config *oauth2.Config
	logger Logger
	state  string
	result chan authResult
}

// Logger is the subset of the application logger the auth flow needs.
type Logger interface {
	Infof(template string, args ...interface{})
	Errorf(template string, args ...interface{})
}

type authResult struct {
	token *oauth2.Token
	err   error
}

func NewGDriveAuth(logger Logger, clientSecretPath string) (*GDriveAuth, error) {
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if clientSecretPath == "" {
		return nil, errors.New("storage.gdrive.client_secret_file is required")
	}

	b, err := os.ReadFile(clientSecretPath)
	if err != nil {
		return nil, fmt.Errorf("unable to read client secret file: %w", err)
	}

	cfg, err := google.ConfigFromJSON(b, drive.DriveFileScope)
	if err != nil {
		return nil, fmt.Errorf("unable to parse client secret: %w", err)
	}

	return newGDriveAuth(logger, cfg), nil
}

func newGDriveAuth(logger Logger, cfg *oauth2.Config) *GDriveAuth {
	return &GDriveAuth{
		config: cfg,
		logger: logger,
		state:  uuid.NewString(),
		result: make(chan authResult, 1),
	}
}

func (s *GDriveAuth) handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /", func(w http.ResponseWriter, r *http.Request) {
		authURL := s.config.AuthCodeURL(s.state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
		http.Redirect(w, r, authURL, http.StatusTemporaryRedirect)
	})

	mux.HandleFunc("GET /callback", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("state") != s.state {
			http.Error(w, "state mismatch", http.StatusBadRequest)
			return
		}
		code := r.URL.Query().Get("code")
		if code == "" {
			http.Error(w, "missing code parameter", http.StatusBadRequest)
			return
		}

		token, err := s.config.Exchange(r.Context(), code)
		if err != nil {
			http.Error(w, "token exchange failed", http.StatusInternalServerError)
			s.deliver(authResult{err: fmt.Errorf("token exchange failed: %w", err)})
			return
		}
		if token.RefreshToken == "" {
			fmt.Fprintln(w, "No refresh token returned. Revoke app access and authorize again.")
			s.deliver(authResult{err: errors.New("no refresh token returned")})
			return
		}

		fmt.Fprintln(w, "Authorized. You can close this window and return to the terminal.")
		s.deliver(authResult{token: token})
	})

	return mux
}

func (s *GDriveAuth) deliver(res authResult) {
	select {
	case s.result <- res:
	default:
	}
}

// Run serves the consent flow on addr until a token arrives or ctx ends.
func (s *GDriveAuth) Run(ctx context.Context, addr string) (string, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return "", fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	s.config.RedirectURL = "http://" + listener.Addr().String() + "/callback"
	server := &http.Server{
		Handler:           s.handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		s.logger.Infof("Open http://%s/ in a browser to authorize Google Drive access", listener.Addr())
		if err := server.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.logger.Errorf("OAuth server error: %v", err)
		}
	}()

	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			s.logger.Errorf("failed to shutdown OAuth server: %v", err)
		}
	}()

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-s.result:
		if res.err != nil {
			return "", res.err
		}
		return res.token.RefreshToken, nil
	}
}
