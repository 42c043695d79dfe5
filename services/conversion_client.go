package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"time"
)

// Conversion service job states
const (
	ConversionStateQueued     = "queued"
	ConversionStateProcessing = "processing"
	ConversionStateCompleted  = "completed"
	ConversionStateError      = "error"
)

// ConversionClient handles communication with the document conversion service
type ConversionClient struct {
	BaseURL    string
	HTTPClient *http.Client
}

// ConversionSubmitResponse is returned when a document is accepted
type ConversionSubmitResponse struct {
	ConversionID string `json:"conversion_id"`
	Status       string `json:"status"`
}

// ConversionStatus is the polled state of one submitted document
type ConversionStatus struct {
	ConversionID string `json:"conversion_id"`
	Status       string `json:"status"` // queued | processing | completed | error
	ErrorDetail  string `json:"error_detail,omitempty"`
}

// NewConversionClient creates a new conversion service client
func NewConversionClient() *ConversionClient {
	baseURL := os.Getenv("CONVERSION_SERVICE_URL")
	if baseURL == "" {
		baseURL = "http://127.0.0.1:8081" // Default to localhost (port 8081 - Go API uses 8080)
	}

	return &ConversionClient{
		BaseURL: baseURL,
		HTTPClient: &http.Client{
			Timeout: 5 * time.Minute, // conversion submissions carry whole PDFs
		},
	}
}

// SubmitDocument uploads a PDF for asynchronous conversion and returns the
// external conversion ID used for polling.
func (c *ConversionClient) SubmitDocument(ctx context.Context, pdfBytes []byte, filename string) (string, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return "", fmt.Errorf("failed to create form file: %w", err)
	}

	if _, err := part.Write(pdfBytes); err != nil {
		return "", fmt.Errorf("failed to write file content: %w", err)
	}

	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("failed to close writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.BaseURL+"/conversions", body)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("conversion service request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("conversion service returned status %d: %s", resp.StatusCode, string(bodyBytes))
	}

	var submitResp ConversionSubmitResponse
	if err := json.NewDecoder(resp.Body).Decode(&submitResp); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}
	if submitResp.ConversionID == "" {
		return "", fmt.Errorf("conversion service accepted document but returned no conversion ID")
	}

	return submitResp.ConversionID, nil
}

// GetStatus polls the state of a submitted conversion
func (c *ConversionClient) GetStatus(ctx context.Context, conversionID string) (*ConversionStatus, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", c.BaseURL+"/conversions/"+conversionID, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("conversion service request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("conversion service returned status %d: %s", resp.StatusCode, string(bodyBytes))
	}

	var status ConversionStatus
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	return &status, nil
}

// DownloadResultArchive fetches the zip archive of a completed conversion:
// extracted text files plus any page images.
func (c *ConversionClient) DownloadResultArchive(ctx context.Context, conversionID string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", c.BaseURL+"/conversions/"+conversionID+"/result", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("conversion service request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("conversion service returned status %d: %s", resp.StatusCode, string(bodyBytes))
	}

	archive, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read result archive: %w", err)
	}

	return archive, nil
}

// HealthCheck checks if the conversion service is reachable
func (c *ConversionClient) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, "GET", c.BaseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("failed to create health check request: %w", err)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("conversion service unhealthy: status %d", resp.StatusCode)
	}

	return nil
}
