package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const nexusContext = "https://bbp.neuroshapes.org"

type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	body := strings.TrimSpace(e.Body)
	if body == "" {
		return fmt.Sprintf("catalog api error (status=%d)", e.StatusCode)
	}
	return fmt.Sprintf("catalog api error (status=%d): %s", e.StatusCode, body)
}

// NexusCatalog publishes executions as JSON-LD resources through a Nexus
// style delta API.
type NexusCatalog struct {
	http        *http.Client
	webPrefix   string
	distributor Distributor
}

// NewNexusCatalog uploads archives as catalog files unless dist is set.
func NewNexusCatalog(cfg Config, dist Distributor) *NexusCatalog {
	timeout := cfg.HTTPTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &NexusCatalog{
		http:        &http.Client{Timeout: timeout},
		webPrefix:   cfg.WebPrefix,
		distributor: dist,
	}
}

type nexusMetadata struct {
	ID        string `json:"@id"`
	Rev       int    `json:"_rev"`
	Self      string `json:"_self"`
	Bytes     int64  `json:"_bytes"`
	MediaType string `json:"_mediaType"`
}

// Distribute uploads archive into the project's file storage.
func (c *NexusCatalog) Distribute(ctx context.Context, accessToken string, loc Location, archive Archive) (Distribution, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", archive.Name)
	if err != nil {
		return Distribution{}, err
	}
	if _, err := part.Write(archive.Body); err != nil {
		return Distribution{}, err
	}
	if err := mw.Close(); err != nil {
		return Distribution{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(loc, "files"), &body)
	if err != nil {
		return Distribution{}, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var meta nexusMetadata
	if err := c.do(req, accessToken, &meta); err != nil {
		return Distribution{}, fmt.Errorf("upload %s: %w", archive.Name, err)
	}
	contentURL := meta.Self
	if contentURL == "" {
		contentURL = meta.ID
	}
	size := meta.Bytes
	if size == 0 {
		size = int64(len(archive.Body))
	}
	dist := newDistribution(archive.Name, contentURL, archive.ContentType, size)
	dist.ID = meta.ID
	return dist, nil
}

func (c *NexusCatalog) Register(ctx context.Context, accessToken string, loc Location, wf WorkflowExecution, archive Archive) (Record, error) {
	distributor := c.distributor
	if distributor == nil {
		distributor = c
	}
	dist, err := distributor.Distribute(ctx, accessToken, loc, archive)
	if err != nil {
		return Record{}, err
	}

	started := wf.StartedAt
	if started.IsZero() {
		started = time.Now().UTC()
	}
	resource := map[string]any{
		"@context":      nexusContext,
		"@type":         "WorkflowExecution",
		"name":          wf.Name,
		"module":        wf.Module,
		"task":          wf.Task,
		"version":       wf.Version,
		"distribution":  dist,
		"status":        StatusRunning,
		"startedAtTime": started.UTC().Format(time.RFC3339Nano),
	}
	if wf.ConfigFileName != "" {
		resource["configFileName"] = wf.ConfigFileName
	}
	payload, err := json.Marshal(resource)
	if err != nil {
		return Record{}, fmt.Errorf("marshal workflow execution: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(loc, "resources")+"/_/", bytes.NewReader(payload))
	if err != nil {
		return Record{}, err
	}
	req.Header.Set("Content-Type", "application/ld+json")

	var meta nexusMetadata
	if err := c.do(req, accessToken, &meta); err != nil {
		return Record{}, fmt.Errorf("publish workflow execution: %w", err)
	}
	if meta.ID == "" {
		return Record{}, errors.New("publish workflow execution: response without @id")
	}
	return Record{
		ID:       meta.ID,
		URL:      WebLink(c.webPrefix, loc.Org, loc.Proj, meta.ID),
		Location: loc,
	}, nil
}

// UpdateStatus fetches the latest revision and evolves it with status and
// endedAtTime.
func (c *NexusCatalog) UpdateStatus(ctx context.Context, accessToken string, rec Record, status Status, endedAt time.Time) error {
	resourceURL := c.endpoint(rec.Location, "resources") + "/_/" + url.PathEscape(rec.ID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, resourceURL, nil)
	if err != nil {
		return err
	}
	var current map[string]any
	if err := c.do(req, accessToken, &current); err != nil {
		return fmt.Errorf("fetch %s: %w", rec.ID, err)
	}

	rev, err := revision(current["_rev"])
	if err != nil {
		return fmt.Errorf("fetch %s: %w", rec.ID, err)
	}
	for k := range current {
		if strings.HasPrefix(k, "_") {
			delete(current, k)
		}
	}
	current["status"] = status
	current["endedAtTime"] = endedAt.UTC().Format(time.RFC3339Nano)

	payload, err := json.Marshal(current)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", rec.ID, err)
	}
	req, err = http.NewRequestWithContext(ctx, http.MethodPut, resourceURL+"?rev="+strconv.Itoa(rev), bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/ld+json")
	if err := c.do(req, accessToken, nil); err != nil {
		return fmt.Errorf("update %s: %w", rec.ID, err)
	}
	return nil
}

func (c *NexusCatalog) endpoint(loc Location, kind string) string {
	return strings.TrimRight(loc.Base, "/") + "/" + kind + "/" + url.PathEscape(loc.Org) + "/" + url.PathEscape(loc.Proj)
}

func (c *NexusCatalog) do(req *http.Request, accessToken string, out any) error {
	req.Header.Set("Accept", "application/ld+json, application/json")
	if accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+accessToken)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 2<<20))
	if err != nil {
		return err
	}

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated:
		if out == nil {
			return nil
		}
		if err := json.Unmarshal(body, out); err != nil {
			return fmt.Errorf("decode catalog response: %w", err)
		}
		return nil
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusUnauthorized, http.StatusForbidden:
		return ErrUnauthorized
	case http.StatusConflict:
		return ErrConflict
	default:
		return &APIError{StatusCode: resp.StatusCode, Body: string(body)}
	}
}

func revision(v any) (int, error) {
	switch typed := v.(type) {
	case float64:
		return int(typed), nil
	case json.Number:
		n, err := typed.Int64()
		return int(n), err
	default:
		return 0, errors.New("resource without _rev")
	}
}
