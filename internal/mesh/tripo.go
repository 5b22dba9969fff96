package mesh

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

// TripoClient talks to the Tripo image-to-model API.
type TripoClient struct {
	apiKey  string
	baseURL string
	httpc   *http.Client
}

func NewTripoClient(apiKey, baseURL string) *TripoClient {
	return &TripoClient{
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		httpc:   &http.Client{Timeout: 30 * time.Second},
	}
}

// TaskStatus is one poll result for a generation task.
type TaskStatus struct {
	Status string
	Output TaskOutput
}

// TaskOutput lists the result URL variants in preference order.
type TaskOutput struct {
	Model     string `json:"model"`
	PBRModel  string `json:"pbr_model"`
	BaseModel string `json:"base_model"`
}

// ModelURL picks the first non-empty result URL.
func (o TaskOutput) ModelURL() string {
	for _, u := range []string{o.Model, o.PBRModel, o.BaseModel} {
		if u != "" {
			return u
		}
	}
	return ""
}

// Balance fetches the remaining credit balance. The API returns the balance
// as a JSON string in some versions, so both encodings are accepted.
func (c *TripoClient) Balance(ctx context.Context) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v2/openapi/user/balance", nil)
	if err != nil {
		return 0, err
	}
	c.authorize(req)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	var result struct {
		Code int `json:"code"`
		Data struct {
			Balance json.Number `json:"balance"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return 0, fmt.Errorf("decode balance: %w", err)
	}
	if result.Code != 0 {
		return 0, fmt.Errorf("balance request rejected with code %d", result.Code)
	}
	n, err := result.Data.Balance.Int64()
	if err != nil {
		return 0, fmt.Errorf("parse balance %q: %w", result.Data.Balance, err)
	}
	return int(n), nil
}

// SubmitImageTask submits an image_to_model task and returns the task id.
func (c *TripoClient) SubmitImageTask(ctx context.Context, imageURL string) (string, error) {
	payload := map[string]any{
		"type": "image_to_model",
		"file": map[string]string{"type": "jpg", "url": imageURL},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v2/openapi/task", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	c.authorize(req)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var result struct {
		Code int `json:"code"`
		Data struct {
			TaskID string `json:"task_id"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decode task response: %w", err)
	}
	if result.Code != 0 {
		return "", &SubmitError{Code: result.Code}
	}
	return result.Data.TaskID, nil
}

// TaskStatusOf polls one task. Transport and decode errors are returned
// as-is; the caller decides whether they are transient.
func (c *TripoClient) TaskStatusOf(ctx context.Context, taskID string) (TaskStatus, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v2/openapi/task/"+taskID, nil)
	if err != nil {
		return TaskStatus{}, err
	}
	c.authorize(req)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return TaskStatus{}, err
	}
	defer resp.Body.Close()

	var result struct {
		Code int `json:"code"`
		Data struct {
			Status string     `json:"status"`
			Output TaskOutput `json:"output"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return TaskStatus{}, fmt.Errorf("decode status: %w", err)
	}
	if result.Code != 0 {
		return TaskStatus{}, fmt.Errorf("status request rejected with code %d", result.Code)
	}
	return TaskStatus{Status: result.Data.Status, Output: result.Data.Output}, nil
}

// Download streams a result URL to dest.
func (c *TripoClient) Download(ctx context.Context, url, dest string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := c.httpc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download %s: status %d", url, resp.StatusCode)
	}
	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	defer out.Close()
	if _, err := io.Copy(out, resp.Body); err != nil {
		return fmt.Errorf("write artifact: %w", err)
	}
	return nil
}

func (c *TripoClient) authorize(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
}
