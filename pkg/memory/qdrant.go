package memory

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/theapemachine/minne/pkg/convo"
)

/*
QdrantStore persists memory fragments in a Qdrant collection over its
HTTP API. Qdrant only accepts UUIDs or integers as point ids, so each
point gets a fresh UUID and the fragment's own id rides in the payload.
*/
type QdrantStore struct {
	endpoint   string
	collection string
	client     *http.Client
	ensured    atomic.Bool
}

type QdrantStoreOption func(*QdrantStore)

func NewQdrantStore(endpoint, collection string, options ...QdrantStoreOption) *QdrantStore {
	store := &QdrantStore{
		endpoint:   endpoint,
		collection: collection,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}

	for _, option := range options {
		option(store)
	}

	return store
}

// WithQdrantHTTPClient replaces the default 10s-timeout client.
func WithQdrantHTTPClient(client *http.Client) QdrantStoreOption {
	return func(store *QdrantStore) {
		store.client = client
	}
}

// ensureCollection creates the collection on first use if it does not
// exist yet. Success is remembered so later inserts skip the check.
func (store *QdrantStore) ensureCollection(ctx context.Context, dims int) error {
	if store.ensured.Load() {
		return nil
	}

	req, err := http.NewRequestWithContext(
		ctx,
		http.MethodGet,
		fmt.Sprintf("%s/collections/%s", store.endpoint, store.collection),
		nil,
	)
	if err != nil {
		return err
	}

	resp, err := store.client.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()

	if resp.StatusCode == http.StatusOK {
		store.ensured.Store(true)
		return nil
	}

	createBody, err := json.Marshal(map[string]any{
		"vectors": map[string]any{
			"size":     dims,
			"distance": "Cosine",
		},
	})
	if err != nil {
		return err
	}

	createReq, err := http.NewRequestWithContext(
		ctx,
		http.MethodPut,
		fmt.Sprintf("%s/collections/%s", store.endpoint, store.collection),
		bytes.NewReader(createBody),
	)
	if err != nil {
		return err
	}
	createReq.Header.Set("Content-Type", "application/json")

	createResp, err := store.client.Do(createReq)
	if err != nil {
		return err
	}
	createResp.Body.Close()

	if createResp.StatusCode != http.StatusOK {
		return fmt.Errorf("failed to create collection, status: %d", createResp.StatusCode)
	}

	store.ensured.Store(true)
	return nil
}

func (store *QdrantStore) Insert(ctx context.Context, fragment convo.MemoryFragment) error {
	if len(fragment.Embedding) == 0 {
		return fmt.Errorf("fragment %s has no embedding", fragment.ID)
	}

	if err := store.ensureCollection(ctx, len(fragment.Embedding)); err != nil {
		return fmt.Errorf("failed to ensure collection: %w", err)
	}

	body, err := json.Marshal(map[string]any{
		"points": []map[string]any{{
			"id":     uuid.NewString(),
			"vector": fragment.Embedding,
			"payload": map[string]any{
				"fragment_id": fragment.ID,
				"text":        fragment.Text,
				"caller_id":   fragment.CallerID,
				"session_id":  fragment.SessionID,
				"created_at":  fragment.CreatedAt,
				"tags":        fragment.Tags,
			},
		}},
	})
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(
		ctx,
		http.MethodPut,
		fmt.Sprintf("%s/collections/%s/points", store.endpoint, store.collection),
		bytes.NewReader(body),
	)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := store.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("failed to store fragment, status: %d", resp.StatusCode)
	}

	return nil
}

func (store *QdrantStore) Query(
	ctx context.Context, vector []float32, callerID string, k int,
) ([]convo.MemoryFragment, error) {
	if k <= 0 {
		return nil, nil
	}

	body, err := json.Marshal(map[string]any{
		"vector":       vector,
		"limit":        k,
		"with_payload": true,
		"filter": map[string]any{
			"must": []map[string]any{{
				"key":   "caller_id",
				"match": map[string]any{"value": callerID},
			}},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(
		ctx,
		http.MethodPost,
		fmt.Sprintf("%s/collections/%s/points/search", store.endpoint, store.collection),
		bytes.NewReader(body),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := store.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("search failed, status: %d", resp.StatusCode)
	}

	var result struct {
		Result []struct {
			Score   float64        `json:"score"`
			Payload map[string]any `json:"payload"`
		} `json:"result"`
	}

	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	fragments := make([]convo.MemoryFragment, 0, len(result.Result))

	for _, item := range result.Result {
		fragment := fragmentFromPayload(item.Payload)
		fragment.Score = item.Score
		fragments = append(fragments, fragment)
	}

	// Qdrant orders by score but leaves ties unspecified; re-sort so
	// equal scores always come back newest first.
	sortFragments(fragments)

	return fragments, nil
}

func fragmentFromPayload(payload map[string]any) convo.MemoryFragment {
	var fragment convo.MemoryFragment

	if id, ok := payload["fragment_id"].(string); ok {
		fragment.ID = id
	}

	if text, ok := payload["text"].(string); ok {
		fragment.Text = text
	}

	if callerID, ok := payload["caller_id"].(string); ok {
		fragment.CallerID = callerID
	}

	if sessionID, ok := payload["session_id"].(string); ok {
		fragment.SessionID = sessionID
	}

	if createdStr, ok := payload["created_at"].(string); ok {
		if t, err := time.Parse(time.RFC3339, createdStr); err == nil {
			fragment.CreatedAt = t
		}
	}

	if tags, ok := payload["tags"].([]any); ok {
		for _, tag := range tags {
			if s, ok := tag.(string); ok {
				fragment.Tags = append(fragment.Tags, s)
			}
		}
	}

	return fragment
}

func (store *QdrantStore) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(
		ctx,
		http.MethodGet,
		fmt.Sprintf("%s/collections", store.endpoint),
		nil,
	)
	if err != nil {
		return err
	}

	resp, err := store.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ping failed, status: %d", resp.StatusCode)
	}

	return nil
}
