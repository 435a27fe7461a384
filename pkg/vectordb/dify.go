package vectordb

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// DifyDataset talks to the Dify datasets API. The dataset id is either
// supplied up front (DIFY_DATASETS_ID) or discovered by name on Ensure.
type DifyDataset struct {
	baseURL     string
	apiKey      string
	datasetName string
	datasetID   string
	httpClient  *http.Client
}

// NewDifyDataset creates a client. datasetID may be empty; it is then
// resolved (or the dataset created) during Ensure.
func NewDifyDataset(baseURL, apiKey, datasetName, datasetID string) *DifyDataset {
	return &DifyDataset{
		baseURL:     baseURL,
		apiKey:      apiKey,
		datasetName: datasetName,
		datasetID:   datasetID,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

// DatasetID returns the resolved dataset id.
func (d *DifyDataset) DatasetID() string {
	return d.datasetID
}

type difyDatasetInfo struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type difyListResponse struct {
	Data  []difyDatasetInfo `json:"data"`
	Total int               `json:"total"`
}

type difyDocListResponse struct {
	Data  []Document `json:"data"`
	Total int        `json:"total"`
}

// Ensure resolves the dataset id by discovery or creates the dataset.
func (d *DifyDataset) Ensure(ctx context.Context) error {
	if d.datasetID != "" {
		return nil
	}

	for page := 1; ; page++ {
		var listed difyListResponse
		path := fmt.Sprintf("/datasets?page=%d&limit=20", page)
		if err := d.do(ctx, http.MethodGet, path, nil, &listed); err != nil {
			return err
		}
		for _, ds := range listed.Data {
			if ds.Name == d.datasetName {
				d.datasetID = ds.ID
				return nil
			}
		}
		if len(listed.Data) < 20 {
			break
		}
	}

	var created difyDatasetInfo
	body := map[string]string{"name": d.datasetName}
	if err := d.do(ctx, http.MethodPost, "/datasets", body, &created); err != nil {
		return err
	}
	if created.ID == "" {
		return fmt.Errorf("dify: dataset creation returned no id")
	}
	d.datasetID = created.ID
	return nil
}

// CreateDocumentByText inserts a document with automatic processing rules.
func (d *DifyDataset) CreateDocumentByText(ctx context.Context, name, text string) error {
	if d.datasetID == "" {
		return fmt.Errorf("dify: dataset not resolved, call Ensure first")
	}
	body := map[string]any{
		"name":               name,
		"text":               text,
		"indexing_technique": "high_quality",
		"process_rule":       map[string]string{"mode": "automatic"},
	}
	path := fmt.Sprintf("/datasets/%s/document/create_by_text", d.datasetID)
	return d.do(ctx, http.MethodPost, path, body, nil)
}

// ListDocuments returns documents matching the keyword.
func (d *DifyDataset) ListDocuments(ctx context.Context, keyword string, page, limit int) ([]Document, error) {
	if d.datasetID == "" {
		return nil, fmt.Errorf("dify: dataset not resolved, call Ensure first")
	}
	if page <= 0 {
		page = 1
	}
	if limit <= 0 {
		limit = 20
	}
	path := fmt.Sprintf("/datasets/%s/documents?page=%d&limit=%d", d.datasetID, page, limit)
	if keyword != "" {
		path += "&keyword=" + url.QueryEscape(keyword)
	}

	var listed difyDocListResponse
	if err := d.do(ctx, http.MethodGet, path, nil, &listed); err != nil {
		return nil, err
	}
	return listed.Data, nil
}

// DeleteDocumentByName resolves the document id by name, then deletes it.
// The datasets API deletes by document id, not name, so the lookup is
// required for correctness.
func (d *DifyDataset) DeleteDocumentByName(ctx context.Context, name string) error {
	docs, err := d.ListDocuments(ctx, name, 1, 100)
	if err != nil {
		return err
	}
	for _, doc := range docs {
		if doc.Name != name {
			continue
		}
		path := fmt.Sprintf("/datasets/%s/documents/%s", d.datasetID, doc.ID)
		if err := d.do(ctx, http.MethodDelete, path, nil, nil); err != nil {
			return err
		}
		return nil
	}
	return nil
}

// DocumentCount returns the total the API reports with the first page of the
// document listing; when no total is reported it pages through the listing
// and counts entries.
func (d *DifyDataset) DocumentCount(ctx context.Context) (int, error) {
	if d.datasetID == "" {
		return 0, fmt.Errorf("dify: dataset not resolved, call Ensure first")
	}
	count := 0
	for page := 1; ; page++ {
		path := fmt.Sprintf("/datasets/%s/documents?page=%d&limit=100", d.datasetID, page)
		var listed difyDocListResponse
		if err := d.do(ctx, http.MethodGet, path, nil, &listed); err != nil {
			return 0, err
		}
		count += len(listed.Data)
		if listed.Total > 0 {
			return listed.Total, nil
		}
		if len(listed.Data) < 100 {
			break
		}
	}
	return count, nil
}

func (d *DifyDataset) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, d.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+d.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("dify: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("dify: read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("dify: %s %s: status %s: %s", method, path, strconv.Itoa(resp.StatusCode), string(respBody))
	}

	if out != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("dify: unmarshal response: %w", err)
		}
	}
	return nil
}
