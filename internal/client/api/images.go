package api

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"

	"github.com/atinyakov/buildsite/internal/models"
)

// UploadFile is one file in a multipart image upload.
type UploadFile struct {
	Name        string
	ContentType string
	Open        func() (io.ReadCloser, error)
}

// ListImages returns the images of a project.
func (c *Client) ListImages(ctx context.Context, projectID int64) ([]models.Image, error) {
	var data struct {
		Images []models.Image `json:"images"`
	}
	if _, err := c.do(ctx, request{
		method: http.MethodGet,
		path:   fmt.Sprintf("/projects/%d/images", projectID),
	}, &data); err != nil {
		return nil, err
	}
	return data.Images, nil
}

// UploadImages sends files as one multipart batch under the "images[]"
// field. It returns the server message.
func (c *Client) UploadImages(ctx context.Context, projectID int64, files []UploadFile) (string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for _, f := range files {
		if err := writePart(mw, f); err != nil {
			return "", err
		}
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("close multipart: %w", err)
	}

	return c.do(ctx, request{
		method:      http.MethodPost,
		path:        fmt.Sprintf("/projects/%d/images", projectID),
		body:        &buf,
		contentType: mw.FormDataContentType(),
	}, nil)
}

func writePart(mw *multipart.Writer, f UploadFile) error {
	rc, err := f.Open()
	if err != nil {
		return fmt.Errorf("open %s: %w", f.Name, err)
	}
	defer rc.Close()

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="images[]"; filename=%q`, f.Name))
	if f.ContentType != "" {
		h.Set("Content-Type", f.ContentType)
	} else {
		h.Set("Content-Type", "application/octet-stream")
	}
	part, err := mw.CreatePart(h)
	if err != nil {
		return fmt.Errorf("create part %s: %w", f.Name, err)
	}
	if _, err := io.Copy(part, rc); err != nil {
		return fmt.Errorf("copy %s: %w", f.Name, err)
	}
	return nil
}

// DeleteImage removes one image.
func (c *Client) DeleteImage(ctx context.Context, projectID, imageID int64) (string, error) {
	return c.do(ctx, request{
		method: http.MethodDelete,
		path:   fmt.Sprintf("/projects/%d/images/%d", projectID, imageID),
	}, nil)
}

// SetMainImage promotes imageID to the project's main image.
func (c *Client) SetMainImage(ctx context.Context, projectID, imageID int64) (string, error) {
	return c.do(ctx, request{
		method: http.MethodPatch,
		path:   fmt.Sprintf("/projects/%d/images/%d/set-main", projectID, imageID),
	}, nil)
}

// ReorderImages sends the complete ordered list of image ids.
func (c *Client) ReorderImages(ctx context.Context, projectID int64, imageIDs []int64) (string, error) {
	body, err := jsonBody(map[string][]int64{"image_ids": imageIDs})
	if err != nil {
		return "", err
	}
	return c.do(ctx, request{
		method:      http.MethodPatch,
		path:        fmt.Sprintf("/projects/%d/images/reorder", projectID),
		body:        body,
		contentType: "application/json",
	}, nil)
}
