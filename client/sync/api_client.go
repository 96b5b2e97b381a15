package sync

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"knowledge_server/server/notes/domain"
)

// Client pairs the HTTP API with a local Store: every mutation is applied
// optimistically first, then reconciled with the server response.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	store   *Store
}

func NewClient(baseURL, token string, store *Store) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: 30 * time.Second},
		store:   store,
	}
}

// Load pulls the full owner snapshot into the store.
func (c *Client) Load(ctx context.Context) error {
	var notes []domain.Note
	if err := c.do(ctx, http.MethodGet, "/api/v1/notes", nil, &notes); err != nil {
		return err
	}
	c.store.Reset(notes)
	return nil
}

func (c *Client) Create(ctx context.Context, note domain.Note) (domain.Note, error) {
	tempID := c.store.StageCreate(note)

	var created domain.Note
	if err := c.do(ctx, http.MethodPost, "/api/v1/notes", note, &created); err != nil {
		c.store.RollbackCreate(tempID)
		return domain.Note{}, err
	}
	c.store.ResolveCreate(tempID, created)
	return created, nil
}

func (c *Client) Update(ctx context.Context, noteID string, patch domain.NotePatch) (domain.Note, error) {
	prev, staged := c.store.StageUpdate(noteID, patch)

	var updated domain.Note
	if err := c.do(ctx, http.MethodPatch, "/api/v1/notes/"+noteID, patch, &updated); err != nil {
		if staged {
			c.store.Rollback(prev)
		}
		return domain.Note{}, err
	}
	c.store.Merge(updated)
	return updated, nil
}

func (c *Client) Delete(ctx context.Context, noteID string) error {
	prev, staged := c.store.StageDelete(noteID)

	if err := c.do(ctx, http.MethodDelete, "/api/v1/notes/"+noteID, nil, nil); err != nil {
		if staged {
			c.store.RollbackDelete(prev)
		}
		return err
	}
	c.store.ConfirmDelete(noteID)
	return nil
}

// Search queries the server directly; results are not merged into the
// replica since they are a filtered view.
func (c *Client) Search(ctx context.Context, query string) ([]domain.Note, error) {
	var notes []domain.Note
	path := "/api/v1/notes/search?q=" + url.QueryEscape(query)
	if err := c.do(ctx, http.MethodGet, path, nil, &notes); err != nil {
		return nil, err
	}
	return notes, nil
}

func (c *Client) do(ctx context.Context, method, path string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var apiErr struct {
			Error string `json:"error"`
		}
		raw, _ := io.ReadAll(resp.Body)
		if json.Unmarshal(raw, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("%s %s: %s", method, path, apiErr.Error)
		}
		return fmt.Errorf("%s %s: status %d", method, path, resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
