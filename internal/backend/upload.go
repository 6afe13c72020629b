package backend

import (
	"bytes"
	"context"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/danghamo/convoy/internal/domain/shared"
)

// Document is a file attached to a shipment (proof of delivery, invoice...)
type Document struct {
	Name        string
	ContentType string
	Content     []byte
}

// UploadResult reports how an upload went
type UploadResult struct {
	Attempts   int `json:"attempts"`
	StatusCode int `json:"status_code"`
}

// UploadDocument posts a document as multipart form data. Network failures
// and 5xx responses are retried up to the configured attempts with a fixed
// delay; other 4xx responses fail immediately.
func (c *Client) UploadDocument(ctx context.Context, shipmentID string, doc Document) (UploadResult, error) {
	if shipmentID == "" {
		return UploadResult{}, shared.ErrInvalidInput("shipment id is required")
	}
	if doc.Name == "" || len(doc.Content) == 0 {
		return UploadResult{}, shared.ErrInvalidInput("document name and content are required")
	}

	body, contentType, err := encodeDocument(doc)
	if err != nil {
		return UploadResult{}, shared.WrapError(err, shared.KindInvalidInput, domain, "encode document %s", doc.Name)
	}

	path := "/shipments/" + url.PathEscape(shipmentID) + "/documents"
	log := c.logger.With(zap.String("shipment_id", shipmentID), zap.String("document", doc.Name))

	var lastErr error
	for attempt := 1; attempt <= c.cfg.UploadAttempts; attempt++ {
		resp, err := c.do(ctx, http.MethodPost, path, contentType, bytes.NewReader(body))
		if err == nil {
			_, _ = io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
			log.Info("Document uploaded", zap.Int("attempt", attempt))
			return UploadResult{Attempts: attempt, StatusCode: resp.StatusCode}, nil
		}

		lastErr = err
		if !retryable(err) {
			return UploadResult{Attempts: attempt}, err
		}

		log.Warn("Document upload failed",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", c.cfg.UploadAttempts),
			zap.Error(err))

		if attempt == c.cfg.UploadAttempts {
			break
		}

		select {
		case <-ctx.Done():
			return UploadResult{Attempts: attempt}, shared.WrapError(ctx.Err(), shared.KindNetworkFailure, domain, "upload cancelled")
		case <-time.After(c.cfg.UploadRetryDelay):
		}
	}

	return UploadResult{Attempts: c.cfg.UploadAttempts}, lastErr
}

func encodeDocument(doc Document) ([]byte, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	contentType := doc.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", `form-data; name="file"; filename="`+escapeQuotes(doc.Name)+`"`)
	header.Set("Content-Type", contentType)

	part, err := w.CreatePart(header)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(doc.Content); err != nil {
		return nil, "", err
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), w.FormDataContentType(), nil
}

func escapeQuotes(s string) string {
	out := make([]rune, 0, len(s))
	for _, r := range s {
		if r == '"' || r == '\\' {
			out = append(out, '\\')
		}
		out = append(out, r)
	}
	return string(out)
}
