package chatclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"os"
	"strings"
	"time"

	"xsanitaz-backend/internal/types"
)

// DefaultBaseURL is used when XSANITAZ_RELAY_URL is unset.
const DefaultBaseURL = "http://localhost:5000"

// HTTPRelay talks to the relay server's POST /api/message.
type HTTPRelay struct {
	httpClient *http.Client
	baseURL    string
}

func NewHTTPRelay(baseURL string) *HTTPRelay {
	return &HTTPRelay{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		baseURL:    strings.TrimRight(baseURL, "/"),
	}
}

// BaseURLFromEnv returns XSANITAZ_RELAY_URL or DefaultBaseURL.
func BaseURLFromEnv() string {
	if v := strings.TrimSpace(os.Getenv("XSANITAZ_RELAY_URL")); v != "" {
		return v
	}
	return DefaultBaseURL
}

func (r *HTTPRelay) Send(ctx context.Context, sessionID, text string) (string, error) {
	body, err := json.Marshal(types.MessageRequest{Message: text, SessionID: sessionID})
	if err != nil {
		return "", err
	}
	return r.post(ctx, "application/json", bytes.NewReader(body))
}

func (r *HTTPRelay) SendAttachment(ctx context.Context, sessionID, text string, f File) (string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if text != "" {
		if err := mw.WriteField("message", text); err != nil {
			return "", err
		}
	}
	if sessionID != "" {
		if err := mw.WriteField("sessionId", sessionID); err != nil {
			return "", err
		}
	}
	hdr := make(textproto.MIMEHeader)
	hdr.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, f.Name))
	mimeType := f.MIMEType
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	hdr.Set("Content-Type", mimeType)
	part, err := mw.CreatePart(hdr)
	if err != nil {
		return "", err
	}
	if _, err := part.Write(f.Data); err != nil {
		return "", err
	}
	if err := mw.Close(); err != nil {
		return "", err
	}
	return r.post(ctx, mw.FormDataContentType(), &buf)
}

func (r *HTTPRelay) post(ctx context.Context, contentType string, body io.Reader) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/api/message", body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return "", fmt.Errorf("relay returned %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}
	var out types.MessageResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode relay response: %w", err)
	}
	return out.Reply, nil
}
