package vision

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const instructions = "Classify the referenced identity document image. Answer with exactly one " +
	"of: passport, national_id, drivers_license, government_id. If the image shows anything " +
	"else (invoice, receipt, utility bill, birth certificate, ...) answer REJECT."

// RemoteClient calls the external vision classification service. Every
// failure mode (transport, status, parse, inconclusive answer) is reported
// as an error so the caller can fall back; it never panics or hangs past
// the configured timeout.
type RemoteClient struct {
	endpoint string
	apiKey   string
	client   *http.Client
}

type classifyRequest struct {
	ImageURL     string   `json:"image_url"`
	FileName     string   `json:"file_name"`
	AllowedTypes []string `json:"allowed_types"`
	RejectValue  string   `json:"reject_value"`
	Instructions string   `json:"instructions"`
}

type classifyResponse struct {
	DocumentType string `json:"document_type"`
	BlurLikely   bool   `json:"blur_likely"`
	GlareLikely  bool   `json:"glare_likely"`
	CropLikely   bool   `json:"crop_likely"`
	Notes        string `json:"notes"`
}

func NewRemoteClient(endpoint, apiKey string, timeout time.Duration) *RemoteClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &RemoteClient{
		endpoint: endpoint,
		apiKey:   apiKey,
		client:   &http.Client{Timeout: timeout},
	}
}

// Classify submits the document image reference with the strict instruction
// set and parses the structured verdict.
func (c *RemoteClient) Classify(ctx context.Context, imageURL, fileName string) (Verdict, error) {
	reqBody := classifyRequest{
		ImageURL: imageURL,
		FileName: fileName,
		AllowedTypes: []string{
			"passport", "national_id", "drivers_license", "government_id",
		},
		RejectValue:  Reject,
		Instructions: instructions,
	}
	data, err := json.Marshal(reqBody)
	if err != nil {
		return Verdict{}, fmt.Errorf("marshal classify request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(data))
	if err != nil {
		return Verdict{}, fmt.Errorf("build classify request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return Verdict{}, fmt.Errorf("classify request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Verdict{}, fmt.Errorf("read classify response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return Verdict{}, fmt.Errorf("classifier returned status %d", resp.StatusCode)
	}

	var parsed classifyResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return Verdict{}, fmt.Errorf("parse classify response: %w", err)
	}
	if parsed.DocumentType != Reject && !acceptedTypes[parsed.DocumentType] {
		// Off-script answer from the model; treat as inconclusive.
		return Verdict{}, fmt.Errorf("classifier returned unexpected type %q", parsed.DocumentType)
	}

	return Verdict{
		DocTypeGuess: parsed.DocumentType,
		BlurLikely:   parsed.BlurLikely,
		GlareLikely:  parsed.GlareLikely,
		CropLikely:   parsed.CropLikely,
		Notes:        parsed.Notes,
		Method:       MethodRemote,
	}, nil
}
