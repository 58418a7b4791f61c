package listapi

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strconv"
)

const importPath = apiPrefix + "/list/import/mal"

// ImportUpload is the file part of an import request.
type ImportUpload struct {
	Name     string
	MimeType string
	Content  io.Reader
}

// ImportResult is the import endpoint's answer. It confirms acceptance only;
// progress arrives over the progress channel.
type ImportResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// ImportMAL uploads a MyAnimeList export. On a non-2xx response the returned
// result still carries the server's message, alongside an *APIError.
func (c *Client) ImportMAL(ctx context.Context, userID string, file ImportUpload, clearExisting bool) (ImportResult, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	mimeType := file.MimeType
	if mimeType == "" {
		mimeType = "text/xml"
	}
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="malFile"; filename=%q`, file.Name))
	h.Set("Content-Type", mimeType)
	part, err := w.CreatePart(h)
	if err != nil {
		return ImportResult{}, fmt.Errorf("build import form: %w", err)
	}
	if _, err := io.Copy(part, file.Content); err != nil {
		return ImportResult{}, fmt.Errorf("read import file: %w", err)
	}
	if err := w.WriteField("userId", userID); err != nil {
		return ImportResult{}, fmt.Errorf("build import form: %w", err)
	}
	if err := w.WriteField("clearExisting", strconv.FormatBool(clearExisting)); err != nil {
		return ImportResult{}, fmt.Errorf("build import form: %w", err)
	}
	if err := w.Close(); err != nil {
		return ImportResult{}, fmt.Errorf("build import form: %w", err)
	}

	var res ImportResult
	err = c.do(ctx, c.timeouts.Import, http.MethodPost, importPath, w.FormDataContentType(), &buf, &res)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) {
			return ImportResult{Success: false, Message: apiErr.Message}, fmt.Errorf("import mal: %w", err)
		}
		return ImportResult{}, fmt.Errorf("import mal: %w", err)
	}
	return res, nil
}
