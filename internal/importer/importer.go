// Package importer submits MyAnimeList exports to the list service and tracks
// the resulting server side job.
package importer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"otakushelf/internal/listapi"
	"otakushelf/pkg/models"
)

// FailureMessage is shown when the server gave no reason for a failure.
const FailureMessage = "Unable to reach the server. Check your connection and try again."

var (
	ErrImportInFlight = errors.New("importer: an import is already in progress")
	ErrRejected       = errors.New("importer: import rejected")
)

// Uploader is the list service's import endpoint.
type Uploader interface {
	ImportMAL(ctx context.Context, userID string, file listapi.ImportUpload, clearExisting bool) (listapi.ImportResult, error)
}

// OpenFunc opens a picked file for upload.
type OpenFunc func(models.PickedFile) (io.ReadCloser, error)

// Result is the user-facing outcome of a submission. Success only means the
// server accepted the job; progress arrives on the tracker.
type Result struct {
	Success bool
	Message string
}

type Importer struct {
	uploader Uploader
	tracker  *Tracker
	open     OpenFunc
	logger   *zap.Logger
}

type Option func(*Importer)

func WithOpener(fn OpenFunc) Option {
	return func(im *Importer) {
		if fn != nil {
			im.open = fn
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(im *Importer) {
		if l != nil {
			im.logger = l
		}
	}
}

func New(u Uploader, t *Tracker, opts ...Option) *Importer {
	im := &Importer{uploader: u, tracker: t, open: OpenPicked, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(im)
	}
	im.logger = im.logger.Named("importer")
	return im
}

func (im *Importer) Tracker() *Tracker { return im.tracker }

// Submit uploads file for userID. Only one submission may be in flight; a
// second call fails with ErrImportInFlight until the first one finishes.
func (im *Importer) Submit(ctx context.Context, userID string, file models.PickedFile, mode models.ImportMode) (Result, error) {
	if mode != models.ImportReplace && mode != models.ImportMerge {
		return Result{}, fmt.Errorf("import: unknown mode %q", mode)
	}
	j, err := im.tracker.begin(file.URI, mode)
	if err != nil {
		return Result{Message: "An import is already running."}, err
	}

	rc, err := im.open(file)
	if err != nil {
		msg := "Could not read the selected file."
		im.tracker.ack(j, false, msg)
		return Result{Message: msg}, fmt.Errorf("open import file: %w", err)
	}
	defer rc.Close()

	upload := listapi.ImportUpload{Name: uploadName(file), MimeType: file.MimeType, Content: rc}
	res, err := im.uploader.ImportMAL(ctx, userID, upload, mode.ClearExisting())
	if err != nil {
		msg := failureMessage(res.Message, err)
		im.logger.Warn("import upload failed", zap.String("file", upload.Name), zap.Error(err))
		im.tracker.ack(j, false, msg)
		return Result{Message: msg}, fmt.Errorf("submit import: %w", err)
	}
	if !res.Success {
		msg := failureMessage(res.Message, nil)
		im.tracker.ack(j, false, msg)
		return Result{Message: msg}, fmt.Errorf("%w: %s", ErrRejected, msg)
	}

	im.logger.Info("import accepted", zap.String("file", upload.Name), zap.String("mode", string(mode)))
	im.tracker.ack(j, true, "")
	return Result{Success: true, Message: res.Message}, nil
}

func failureMessage(server string, err error) string {
	if server != "" {
		return server
	}
	if reason := listapi.Reason(err); reason != "" {
		return reason
	}
	return FailureMessage
}

func uploadName(f models.PickedFile) string {
	if f.Name != "" {
		return f.Name
	}
	if p, err := localPath(f.URI); err == nil {
		return filepath.Base(p)
	}
	return "export.xml"
}

// OpenPicked opens file:// URIs and plain paths from disk.
func OpenPicked(f models.PickedFile) (io.ReadCloser, error) {
	p, err := localPath(f.URI)
	if err != nil {
		return nil, err
	}
	return os.Open(p)
}

func localPath(uri string) (string, error) {
	if uri == "" {
		return "", errors.New("empty file uri")
	}
	u, err := url.Parse(uri)
	if err != nil || u.Scheme == "" || len(u.Scheme) == 1 {
		// Plain path, including Windows drive letters.
		return uri, nil
	}
	if u.Scheme != "file" {
		return "", fmt.Errorf("unsupported file uri scheme %q", u.Scheme)
	}
	return u.Path, nil
}
