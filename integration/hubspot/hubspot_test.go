package hubspot

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"crmsync/model"
)

var testObjectType = model.ObjectType{
	Name:             "contacts",
	Properties:       []string{"email", "firstname"},
	ModifiedProperty: "lastmodifieddate",
}

func newTestClient(baseURL string, sleeps *[]time.Duration) *Client {
	client := NewClient("test-key")
	client.BaseURL = baseURL
	client.sleep = func(d time.Duration) {
		if sleeps != nil {
			*sleeps = append(*sleeps, d)
		}
	}
	return client
}

func writePage(w http.ResponseWriter, after string, results ...objectResult) {
	response := listResponse{Results: results}
	if after != "" {
		response.Paging = &paging{Next: &pagingNext{After: after}}
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

func contactResult(id, email, modified string) objectResult {
	return objectResult{ID: id, Properties: map[string]string{
		"email": email, "lastmodifieddate": modified}}
}

func TestFetchAllPagination(t *testing.T) {
	requests := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/crm/v3/objects/contacts", r.URL.Path)
		assert.Equal(t, "100", r.URL.Query().Get("limit"))
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		if r.URL.Query().Get("after") == "" {
			writePage(w, "2",
				contactResult("1", "a@example.com", "2024-03-01T10:00:00Z"),
				contactResult("2", "b@example.com", "2024-03-01T11:00:00Z"))
			return
		}
		assert.Equal(t, "2", r.URL.Query().Get("after"))
		writePage(w, "", contactResult("3", "c@example.com", "2024-03-01T12:00:00Z"))
	}))
	defer server.Close()

	client := newTestClient(server.URL, nil)

	var fetched []model.SourceRecord
	err := client.FetchAll(testObjectType, func(page []model.SourceRecord) error {
		fetched = append(fetched, page...)
		return nil
	})
	assert.Nil(t, err)
	assert.Equal(t, 2, requests)
	assert.Len(t, fetched, 3)
	assert.Equal(t, "1", fetched[0].ID)
	assert.Equal(t, "a@example.com", fetched[0].Properties["email"])
	assert.Equal(t,
		time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
		fetched[2].LastModified.UTC())
}

func TestFetchUpdatedSearchFilter(t *testing.T) {
	since := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	requests := 0

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/crm/v3/objects/contacts/search", r.URL.Path)

		body, _ := io.ReadAll(r.Body)
		var payload searchPayload
		assert.Nil(t, json.Unmarshal(body, &payload))
		assert.Len(t, payload.FilterGroups, 1)
		filter := payload.FilterGroups[0].Filters[0]
		assert.Equal(t, "lastmodifieddate", filter.PropertyName)
		assert.Equal(t, "GTE", filter.Operator)
		assert.Equal(t, fmt.Sprintf("%d", since.UnixMilli()), filter.Value)
		assert.Contains(t, payload.Properties, "lastmodifieddate")

		if payload.After == "" {
			writePage(w, "50", contactResult("1", "a@example.com", "2024-03-02T10:00:00Z"))
			return
		}
		assert.Equal(t, "50", payload.After)
		writePage(w, "", contactResult("2", "b@example.com", "2024-03-02T11:00:00Z"))
	}))
	defer server.Close()

	client := newTestClient(server.URL, nil)

	var fetched []model.SourceRecord
	err := client.FetchUpdated(testObjectType, since, func(page []model.SourceRecord) error {
		fetched = append(fetched, page...)
		return nil
	})
	assert.Nil(t, err)
	assert.Equal(t, 2, requests)
	assert.Len(t, fetched, 2)
}

func TestFetchUpdatedResultCapTruncates(t *testing.T) {
	requests := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		// Always signals another page; the cap must stop the loop.
		writePage(w, "next",
			contactResult("1", "a@example.com", "2024-03-02T10:00:00Z"),
			contactResult("2", "b@example.com", "2024-03-02T11:00:00Z"))
	}))
	defer server.Close()

	client := newTestClient(server.URL, nil)
	client.SearchResultLimit = 4

	var fetched []model.SourceRecord
	err := client.FetchUpdated(testObjectType, time.Now(), func(page []model.SourceRecord) error {
		fetched = append(fetched, page...)
		return nil
	})
	assert.Nil(t, err)
	assert.Equal(t, 2, requests)
	assert.Len(t, fetched, 4)
}

func TestRetryAfterHonored(t *testing.T) {
	requests := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		if requests == 1 {
			w.Header().Set("Retry-After", "7")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		writePage(w, "", contactResult("1", "a@example.com", "2024-03-02T10:00:00Z"))
	}))
	defer server.Close()

	var sleeps []time.Duration
	client := newTestClient(server.URL, &sleeps)

	count, err := client.Count(testObjectType)
	assert.Nil(t, err)
	assert.Equal(t, int64(1), count)
	assert.Equal(t, 2, requests)
	assert.Contains(t, sleeps, 7*time.Second)
}

func TestBackoffBoundingOnPersistentRateLimit(t *testing.T) {
	requests := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	var sleeps []time.Duration
	client := newTestClient(server.URL, &sleeps)

	_, err := client.ListIDs(testObjectType)
	assert.NotNil(t, err)
	assert.Equal(t, 5, requests)

	// Without a Retry-After hint the wait doubles per attempt.
	assert.Len(t, sleeps, 5)
	for i := 1; i < len(sleeps); i++ {
		assert.True(t, sleeps[i] >= sleeps[i-1],
			"inter-attempt delay decreased: %v then %v", sleeps[i-1], sleeps[i])
	}
}

func TestServerErrorRetriesThenSucceeds(t *testing.T) {
	requests := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		if requests <= 2 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		writePage(w, "", contactResult("1", "a@example.com", "2024-03-02T10:00:00Z"))
	}))
	defer server.Close()

	var sleeps []time.Duration
	client := newTestClient(server.URL, &sleeps)

	ids, err := client.ListIDs(testObjectType)
	assert.Nil(t, err)
	assert.Equal(t, 3, requests)
	assert.True(t, ids["1"])
}

func TestClientErrorFailsImmediately(t *testing.T) {
	requests := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	client := newTestClient(server.URL, nil)

	err := client.FetchAll(testObjectType, func([]model.SourceRecord) error { return nil })
	assert.NotNil(t, err)
	assert.Equal(t, 1, requests)
}

func TestFetchByIDsChunking(t *testing.T) {
	var chunkSizes []int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/crm/v3/objects/contacts/batch/read", r.URL.Path)

		body, _ := io.ReadAll(r.Body)
		var payload batchReadPayload
		assert.Nil(t, json.Unmarshal(body, &payload))
		chunkSizes = append(chunkSizes, len(payload.Inputs))

		results := make([]objectResult, 0, len(payload.Inputs))
		for _, input := range payload.Inputs {
			results = append(results, contactResult(input.ID, "", "2024-03-02T10:00:00Z"))
		}
		writePage(w, "", results...)
	}))
	defer server.Close()

	client := newTestClient(server.URL, nil)

	ids := make([]string, 0, 250)
	for i := 0; i < 250; i++ {
		ids = append(ids, fmt.Sprintf("%d", i))
	}

	fetched := 0
	err := client.FetchByIDs(testObjectType, ids, func(page []model.SourceRecord) error {
		fetched += len(page)
		return nil
	})
	assert.Nil(t, err)
	assert.Equal(t, []int{100, 100, 50}, chunkSizes)
	assert.Equal(t, 250, fetched)
}

func TestFetchByIDsSkipsFailedChunk(t *testing.T) {
	requests := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		if requests == 2 {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		body, _ := io.ReadAll(r.Body)
		var payload batchReadPayload
		json.Unmarshal(body, &payload)
		results := make([]objectResult, 0, len(payload.Inputs))
		for _, input := range payload.Inputs {
			results = append(results, contactResult(input.ID, "", "2024-03-02T10:00:00Z"))
		}
		writePage(w, "", results...)
	}))
	defer server.Close()

	client := newTestClient(server.URL, nil)

	ids := make([]string, 0, 250)
	for i := 0; i < 250; i++ {
		ids = append(ids, fmt.Sprintf("%d", i))
	}

	fetched := 0
	err := client.FetchByIDs(testObjectType, ids, func(page []model.SourceRecord) error {
		fetched += len(page)
		return nil
	})
	assert.Nil(t, err)
	assert.Equal(t, 3, requests)
	// Second chunk of 100 skipped, remaining chunks still loaded.
	assert.Equal(t, 150, fetched)
}

func TestListIDsProjectsIdentifiersOnly(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "id", r.URL.Query().Get("properties"))
		writePage(w,
			"", objectResult{ID: "1"}, objectResult{ID: "2"}, objectResult{ID: "3"})
	}))
	defer server.Close()

	client := newTestClient(server.URL, nil)

	ids, err := client.ListIDs(testObjectType)
	assert.Nil(t, err)
	assert.Equal(t, map[string]bool{"1": true, "2": true, "3": true}, ids)
}
