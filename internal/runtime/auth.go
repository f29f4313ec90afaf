package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/mbrt/gmailctl/cmd/gmailctl/localcred"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"github.com/joshsymonds/inboxrules/internal/config"
	gc "github.com/joshsymonds/inboxrules/internal/gmail"
)

// NewGmailClient authenticates with the configured credentials and returns
// a client scoped to gmail.modify.
func NewGmailClient(ctx context.Context, cfg config.GmailConfig, logger *slog.Logger) (gc.Client, error) {
	svc, err := NewGmailService(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	return NewGoogleAPIClient(svc), nil
}

// NewGmailService builds the Gmail service. A service account key is
// delegated to cfg.UserEmail; otherwise the gmailctl-style directory
// cfg.ConfigDir supplies the OAuth client secret and the cached user token.
func NewGmailService(ctx context.Context, cfg config.GmailConfig, logger *slog.Logger) (*gmail.Service, error) {
	if logger == nil {
		logger = DefaultLogger()
	}
	if !cfg.ServiceAccount() {
		logger.Debug("using cached user token", slog.String("dir", cfg.ConfigDir))
		svc, err := (localcred.Provider{}).ServiceWithScopes(ctx, cfg.ConfigDir, gmail.GmailModifyScope)
		if err != nil {
			return nil, fmt.Errorf("user credentials in %s (authorize with `gmailctl init --config %s`): %w",
				cfg.ConfigDir, cfg.ConfigDir, err)
		}
		return svc, nil
	}

	data, err := os.ReadFile(cfg.CredentialsPath)
	if err != nil {
		return nil, fmt.Errorf("read credentials %s: %w", cfg.CredentialsPath, err)
	}
	jwt, err := google.JWTConfigFromJSON(data, gmail.GmailModifyScope)
	if err != nil {
		return nil, fmt.Errorf("parse service account key: %w", err)
	}
	jwt.Subject = cfg.UserEmail
	logger.Debug("using service account delegation", slog.String("subject", cfg.UserEmail))

	svc, err := gmail.NewService(ctx, option.WithHTTPClient(oauth2.NewClient(ctx, jwt.TokenSource(ctx))))
	if err != nil {
		return nil, fmt.Errorf("create gmail service: %w", err)
	}
	return svc, nil
}
