package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// HTTPDirectory resolves account emails from the accounts service, which
// owns user identity. The expected endpoint is
// GET {base}/accounts/{id}/email returning {"email": "..."}.
type HTTPDirectory struct {
	baseURL string
	client  *http.Client
}

// NewHTTPDirectory builds a directory client for the given base URL.
func NewHTTPDirectory(baseURL string) *HTTPDirectory {
	if baseURL == "" {
		panic("notify: directory base URL is required")
	}
	return &HTTPDirectory{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

func (d *HTTPDirectory) EmailFor(ctx context.Context, accountID uuid.UUID) (string, error) {
	url := fmt.Sprintf("%s/accounts/%s/email", d.baseURL, accountID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", errors.Join(ErrNoRecipient, err)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return "", errors.Join(ErrNoRecipient, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", errors.Join(ErrNoRecipient, fmt.Errorf("directory returned status %d", resp.StatusCode))
	}

	var body struct {
		Email string `json:"email"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", errors.Join(ErrNoRecipient, err)
	}
	if body.Email == "" {
		return "", ErrNoRecipient
	}
	return body.Email, nil
}
