package gcp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/Lllllllleong/sheetupdater/internal/models"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

const driveFileFields googleapi.Field = "id, name, mimeType, size, version, modifiedTime"

// DriveConfig holds the OAuth client and refresh token used to act on behalf
// of the document owner.
type DriveConfig struct {
	ClientID     string
	ClientSecret string
	RefreshToken string
}

// NewDriveService creates a Drive client. A refresh token takes precedence;
// without one the service falls back to Application Default Credentials.
func NewDriveService(ctx context.Context, cfg DriveConfig, opts ...option.ClientOption) (*drive.Service, error) {
	if cfg.RefreshToken == "" && cfg.ClientID == "" && cfg.ClientSecret == "" {
		slog.Info("No Drive OAuth credentials configured, using application default credentials.")
		opts = append(opts, option.WithScopes(drive.DriveScope))
		return newDriveService(ctx, opts...)
	}
	if cfg.ClientID == "" || cfg.ClientSecret == "" || cfg.RefreshToken == "" {
		return nil, fmt.Errorf("missing required environment variables for Google authentication")
	}

	slog.Info("Authenticating with Drive refresh token.",
		"clientId", cfg.ClientID,
		"clientSecretLength", len(cfg.ClientSecret),
		"refreshTokenLength", len(cfg.RefreshToken),
	)

	config := &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Endpoint:     google.Endpoint,
		Scopes:       []string{drive.DriveScope},
	}
	tokens := config.TokenSource(ctx, &oauth2.Token{RefreshToken: cfg.RefreshToken})
	opts = append(opts, option.WithTokenSource(tokens))
	return newDriveService(ctx, opts...)
}

func newDriveService(ctx context.Context, opts ...option.ClientOption) (*drive.Service, error) {
	service, err := drive.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Drive client: %w", err)
	}
	return service, nil
}

// DriveStore transfers documents to and from Google Drive, including shared drives.
type DriveStore struct {
	service *drive.Service
}

// NewDriveStore wraps an authenticated Drive service.
func NewDriveStore(service *drive.Service) *DriveStore {
	return &DriveStore{service: service}
}

// GetMetadata fetches the file's metadata.
func (s *DriveStore) GetMetadata(ctx context.Context, id string) (*models.RemoteDocument, error) {
	f, err := s.service.Files.Get(id).SupportsAllDrives(true).Fields(driveFileFields).Context(ctx).Do()
	if err != nil {
		return nil, driveError(id, err)
	}
	return fromDriveFile(f), nil
}

// Download opens a stream over the file's content.
func (s *DriveStore) Download(ctx context.Context, id string) (io.ReadCloser, error) {
	resp, err := s.service.Files.Get(id).SupportsAllDrives(true).Context(ctx).Download()
	if err != nil {
		return nil, driveError(id, err)
	}
	return resp.Body, nil
}

// Upload replaces the file's content. Content larger than the chunk size is
// sent as a resumable upload, reporting progress after every chunk.
func (s *DriveStore) Upload(ctx context.Context, id string, r io.Reader, size int64, opts models.UploadOptions) (*models.RemoteDocument, error) {
	media := []googleapi.MediaOption{googleapi.ChunkSize(opts.ChunkSize)}
	if opts.ContentType != "" {
		media = append(media, googleapi.ContentType(opts.ContentType))
	}

	call := s.service.Files.Update(id, &drive.File{}).
		SupportsAllDrives(true).
		Fields(driveFileFields).
		Media(r, media...)
	if opts.Progress != nil {
		call = call.ProgressUpdater(func(current, _ int64) {
			opts.Progress(current)
		})
	}

	f, err := call.Context(ctx).Do()
	if err != nil {
		return nil, driveError(id, err)
	}
	return fromDriveFile(f), nil
}

// List returns up to limit files visible to the credentials.
func (s *DriveStore) List(ctx context.Context, limit int) ([]*models.RemoteDocument, error) {
	res, err := s.service.Files.List().
		PageSize(int64(limit)).
		IncludeItemsFromAllDrives(true).
		SupportsAllDrives(true).
		Fields("files(" + driveFileFields + ")").
		Context(ctx).
		Do()
	if err != nil {
		return nil, fmt.Errorf("failed to list Drive files: %w", err)
	}

	docs := make([]*models.RemoteDocument, 0, len(res.Files))
	for _, f := range res.Files {
		docs = append(docs, fromDriveFile(f))
	}
	return docs, nil
}

func driveError(id string, err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) && gerr.Code == http.StatusNotFound {
		return fmt.Errorf("drive file %q: %w", id, models.ErrDocumentNotFound)
	}
	return fmt.Errorf("drive file %q: %w", id, err)
}

func fromDriveFile(f *drive.File) *models.RemoteDocument {
	doc := &models.RemoteDocument{
		ID:       f.Id,
		Name:     f.Name,
		MimeType: f.MimeType,
		Size:     f.Size,
	}
	if f.Version != 0 {
		doc.Version = strconv.FormatInt(f.Version, 10)
	}
	if t, err := time.Parse(time.RFC3339, f.ModifiedTime); err == nil {
		doc.ModifiedTime = t
	}
	return doc
}
