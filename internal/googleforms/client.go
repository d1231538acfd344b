// Package googleforms talks to the Google Forms and Drive APIs on behalf of the
// reconciler, the validators and the ingest loop.
package googleforms

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/forms/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	coreconfig "github.com/m3rciful/formbot/core/config"
	"github.com/m3rciful/formbot/core/logger"
	"github.com/m3rciful/formbot/internal/validate"
)

var scopes = []string{
	forms.FormsBodyReadonlyScope,
	forms.FormsResponsesReadonlyScope,
	drive.DriveScope,
}

// Client wraps the Forms and Drive services.
type Client struct {
	forms *forms.Service
	drive *drive.Service
	topic string
	cache *expirable.LRU[string, validate.Form]
}

// New builds a client from a service account file, or from application default
// credentials when no file is configured.
func New(ctx context.Context, cfg coreconfig.GoogleConfig) (*Client, error) {
	creds, err := loadCredentials(ctx, cfg.CredentialsFile)
	if err != nil {
		return nil, err
	}
	formsSvc, err := forms.NewService(ctx, option.WithCredentials(creds))
	if err != nil {
		return nil, fmt.Errorf("google: forms service: %w", err)
	}
	driveSvc, err := drive.NewService(ctx, option.WithCredentials(creds))
	if err != nil {
		return nil, fmt.Errorf("google: drive service: %w", err)
	}
	logger.Info(ctx, "google", "google.client.ready",
		slog.String("project", creds.ProjectID),
		slog.Bool("watch_topic", cfg.PubSubTopic != ""),
	)
	return NewWithServices(formsSvc, driveSvc, cfg), nil
}

// NewWithServices builds a client around existing services.
func NewWithServices(formsSvc *forms.Service, driveSvc *drive.Service, cfg coreconfig.GoogleConfig) *Client {
	size := cfg.FormCacheSize
	if size <= 0 {
		size = 128
	}
	ttl := cfg.FormCacheTTL
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &Client{
		forms: formsSvc,
		drive: driveSvc,
		topic: strings.TrimSpace(cfg.PubSubTopic),
		cache: expirable.NewLRU[string, validate.Form](size, nil, ttl),
	}
}

func loadCredentials(ctx context.Context, path string) (*google.Credentials, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		creds, err := google.FindDefaultCredentials(ctx, scopes...)
		if err != nil {
			return nil, fmt.Errorf("google: default credentials: %w", err)
		}
		return creds, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("google: read credentials: %w", err)
	}
	creds, err := google.CredentialsFromJSON(ctx, data, scopes...)
	if err != nil {
		return nil, fmt.Errorf("google: parse credentials: %w", err)
	}
	return creds, nil
}

// classify maps API status codes onto the validation sentinels.
func classify(op string, err error) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case http.StatusNotFound, http.StatusBadRequest:
			return fmt.Errorf("%s: %w: %s", op, validate.ErrFormNotFound, apiErr.Message)
		case http.StatusForbidden, http.StatusUnauthorized:
			return fmt.Errorf("%s: %w: %s", op, validate.ErrFormPermission, apiErr.Message)
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}
