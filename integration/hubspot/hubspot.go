package hubspot

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"crmsync/model"
	U "crmsync/util"
)

const (
	HubspotAPIURL = "https://api.hubapi.com"

	objectsRoute = "/crm/v3/objects/"

	// Maximum page size accepted by the objects and search endpoints.
	pageLimit = 100
	// Maximum number of ids accepted by a single batch/read call.
	batchReadLimit = 100

	defaultMaxRetries        = 5
	defaultInitialRetryDelay = 2 * time.Second
	defaultMaxRetryDelay     = 60 * time.Second
	defaultPageDelay         = 100 * time.Millisecond

	// The search API stops serving results past 10,000 records per
	// filtered query. Incremental windows above it truncate silently;
	// the periodic full-identity pass recovers whatever was missed.
	defaultSearchResultLimit = 10000
)

// Client talks to the hubspot CRM v3 API. It owns request cadence,
// pagination and the retry/backoff policy; it never mutates sync state.
type Client struct {
	APIKey  string
	BaseURL string

	MaxRetries        int
	InitialRetryDelay time.Duration
	MaxRetryDelay     time.Duration
	PageDelay         time.Duration
	SearchResultLimit int

	httpClient *http.Client
	sleep      func(time.Duration)
}

// NewClient returns a client with production defaults.
func NewClient(apiKey string) *Client {
	return &Client{
		APIKey:            apiKey,
		BaseURL:           HubspotAPIURL,
		MaxRetries:        defaultMaxRetries,
		InitialRetryDelay: defaultInitialRetryDelay,
		MaxRetryDelay:     defaultMaxRetryDelay,
		PageDelay:         defaultPageDelay,
		SearchResultLimit: defaultSearchResultLimit,
		httpClient:        &http.Client{Timeout: 30 * time.Second},
		sleep:             time.Sleep,
	}
}

type pagingNext struct {
	After string `json:"after"`
}

type paging struct {
	Next *pagingNext `json:"next"`
}

type objectResult struct {
	ID         string            `json:"id"`
	Properties map[string]string `json:"properties"`
}

type listResponse struct {
	Results []objectResult `json:"results"`
	Paging  *paging        `json:"paging"`
}

type searchFilter struct {
	PropertyName string `json:"propertyName"`
	Operator     string `json:"operator"`
	Value        string `json:"value"`
}

type searchFilterGroup struct {
	Filters []searchFilter `json:"filters"`
}

type searchPayload struct {
	FilterGroups []searchFilterGroup `json:"filterGroups"`
	Properties   []string            `json:"properties"`
	Limit        int                 `json:"limit"`
	After        string              `json:"after,omitempty"`
}

type batchReadInput struct {
	ID string `json:"id"`
}

type batchReadPayload struct {
	Inputs     []batchReadInput `json:"inputs"`
	Properties []string         `json:"properties"`
}

// doRequest performs one API call with the retry/backoff policy:
// 429 waits for the server-suggested delay when present, 5xx and transport
// errors back off exponentially, any other non-2xx fails immediately.
func (c *Client) doRequest(method, path string, params url.Values, body interface{}, result interface{}) error {
	logCtx := log.WithFields(log.Fields{"method": method, "path": path})

	var reqBody []byte
	if body != nil {
		var err error
		reqBody, err = json.Marshal(body)
		if err != nil {
			return errors.Wrap(err, "failed to marshal request body")
		}
	}

	requestURL := c.BaseURL + path
	if len(params) > 0 {
		requestURL = requestURL + "?" + params.Encode()
	}

	delay := c.InitialRetryDelay
	for attempt := 0; attempt < c.MaxRetries; attempt++ {
		req, err := http.NewRequest(method, requestURL, bytes.NewBuffer(reqBody))
		if err != nil {
			return errors.Wrap(err, "failed to create request object")
		}
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if attempt == c.MaxRetries-1 {
				return errors.Wrap(err, "failed to execute request")
			}
			logCtx.WithError(err).Warn("Request failed. Retrying after delay.")
			c.sleep(delay)
			delay = nextRetryDelay(delay, c.MaxRetryDelay)
			continue
		}

		respBody, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return errors.Wrap(err, "failed to read response body")
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			retryAfter := delay
			if header := resp.Header.Get("Retry-After"); header != "" {
				if seconds, err := strconv.Atoi(header); err == nil {
					retryAfter = time.Duration(seconds) * time.Second
				}
			}
			logCtx.WithField("retry_after", retryAfter).Warn(
				"Rate limited by hubspot. Waiting before retry.")
			c.sleep(retryAfter)
			delay = nextRetryDelay(delay, c.MaxRetryDelay)
			continue
		}

		if resp.StatusCode >= http.StatusInternalServerError {
			if attempt == c.MaxRetries-1 {
				return errors.Errorf("server error %d on hubspot request", resp.StatusCode)
			}
			logCtx.WithField("status", resp.StatusCode).Warn(
				"Server error on hubspot request. Retrying after delay.")
			c.sleep(delay)
			delay = nextRetryDelay(delay, c.MaxRetryDelay)
			continue
		}

		if resp.StatusCode != http.StatusOK {
			logCtx.WithFields(log.Fields{"status": resp.StatusCode,
				"response_body": string(respBody)}).Error(
				"Received error response on hubspot request.")
			return errors.Errorf("hubspot request failed with status %d", resp.StatusCode)
		}

		if err := json.Unmarshal(respBody, result); err != nil {
			return errors.Wrap(err, "failed to decode response body")
		}
		return nil
	}

	return errors.Errorf("failed to complete request after %d attempts", c.MaxRetries)
}

func nextRetryDelay(delay, max time.Duration) time.Duration {
	delay = delay * 2
	if delay > max {
		return max
	}
	return delay
}

func (c *Client) toSourceRecords(objectType model.ObjectType, results []objectResult) []model.SourceRecord {
	records := make([]model.SourceRecord, 0, len(results))
	for i := range results {
		record := model.SourceRecord{
			ID:         results[i].ID,
			Properties: results[i].Properties,
		}

		if value, exists := results[i].Properties[objectType.ModifiedProperty]; exists {
			lastModified, err := U.ParseCRMTimestamp(value)
			if err != nil {
				log.WithError(err).WithFields(log.Fields{
					"object_type": objectType.Name,
					"external_id": results[i].ID,
				}).Error("Failed to parse modified timestamp on hubspot record.")
			} else {
				record.LastModified = lastModified
			}
		}

		records = append(records, record)
	}
	return records
}

func fetchProperties(objectType model.ObjectType) []string {
	properties := make([]string, 0, len(objectType.Properties)+1)
	properties = append(properties, objectType.Properties...)
	return append(properties, objectType.ModifiedProperty)
}

// forEachListPage pages through the objects endpoint invoking handler per
// page until the source signals no further pages.
func (c *Client) forEachListPage(objectType model.ObjectType, properties []string,
	handler func([]objectResult) error) error {

	params := url.Values{}
	params.Set("limit", strconv.Itoa(pageLimit))
	if len(properties) > 0 {
		params.Set("properties", strings.Join(properties, ","))
	}

	after := ""
	for {
		if after != "" {
			params.Set("after", after)
		}

		var response listResponse
		err := c.doRequest(http.MethodGet, objectsRoute+objectType.Name, params, nil, &response)
		if err != nil {
			return err
		}

		if err := handler(response.Results); err != nil {
			return err
		}

		if response.Paging == nil || response.Paging.Next == nil ||
			response.Paging.Next.After == "" {
			return nil
		}
		after = response.Paging.Next.After
		c.sleep(c.PageDelay)
	}
}

// FetchAll streams every record of the object type to the page handler.
func (c *Client) FetchAll(objectType model.ObjectType, page func([]model.SourceRecord) error) error {
	return c.forEachListPage(objectType, fetchProperties(objectType),
		func(results []objectResult) error {
			return page(c.toSourceRecords(objectType, results))
		})
}

// FetchUpdated streams records modified on or after since, using the
// search API's server-side filter. Result sets above SearchResultLimit
// truncate: the remainder is recovered by the next full-identity pass.
func (c *Client) FetchUpdated(objectType model.ObjectType, since time.Time,
	page func([]model.SourceRecord) error) error {

	logCtx := log.WithFields(log.Fields{"object_type": objectType.Name, "since": since})

	payload := searchPayload{
		FilterGroups: []searchFilterGroup{{
			Filters: []searchFilter{{
				PropertyName: objectType.ModifiedProperty,
				Operator:     "GTE",
				Value:        fmt.Sprintf("%d", U.TimestampInMilliseconds(since)),
			}},
		}},
		Properties: fetchProperties(objectType),
		Limit:      pageLimit,
	}

	fetched := 0
	for {
		var response listResponse
		err := c.doRequest(http.MethodPost,
			objectsRoute+objectType.Name+"/search", nil, payload, &response)
		if err != nil {
			return err
		}

		if err := page(c.toSourceRecords(objectType, response.Results)); err != nil {
			return err
		}
		fetched += len(response.Results)

		if fetched >= c.SearchResultLimit {
			logCtx.WithField("fetched", fetched).Warn(
				"Search result limit reached. Incremental window truncated, full-identity pass will recover the remainder.")
			return nil
		}

		if response.Paging == nil || response.Paging.Next == nil ||
			response.Paging.Next.After == "" {
			return nil
		}
		payload.After = response.Paging.Next.After
		c.sleep(c.PageDelay)
	}
}

// FetchByIDs streams the given records via the batch read endpoint. A
// failed chunk is logged and skipped so the remaining chunks still load;
// the periodic full-identity pass re-covers anything skipped.
func (c *Client) FetchByIDs(objectType model.ObjectType, ids []string,
	page func([]model.SourceRecord) error) error {

	properties := fetchProperties(objectType)

	for start := 0; start < len(ids); start += batchReadLimit {
		end := start + batchReadLimit
		if end > len(ids) {
			end = len(ids)
		}

		inputs := make([]batchReadInput, 0, end-start)
		for _, id := range ids[start:end] {
			inputs = append(inputs, batchReadInput{ID: id})
		}

		var response listResponse
		err := c.doRequest(http.MethodPost, objectsRoute+objectType.Name+"/batch/read",
			nil, batchReadPayload{Inputs: inputs, Properties: properties}, &response)
		if err != nil {
			log.WithError(err).WithFields(log.Fields{
				"object_type": objectType.Name, "offset": start,
			}).Error("Failed to fetch batch of records by id. Continuing with remaining batches.")
			continue
		}

		if err := page(c.toSourceRecords(objectType, response.Results)); err != nil {
			return err
		}
		c.sleep(c.PageDelay)
	}
	return nil
}

// ListIDs returns the full set of record ids currently present on the
// source, projecting identifiers only to keep payloads small.
func (c *Client) ListIDs(objectType model.ObjectType) (map[string]bool, error) {
	ids := make(map[string]bool)
	err := c.forEachListPage(objectType, []string{"id"},
		func(results []objectResult) error {
			for i := range results {
				ids[results[i].ID] = true
			}
			return nil
		})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// Count returns the authoritative record count by paginating the same
// identity projection used for deletion detection.
func (c *Client) Count(objectType model.ObjectType) (int64, error) {
	var count int64
	err := c.forEachListPage(objectType, []string{"id"},
		func(results []objectResult) error {
			count += int64(len(results))
			return nil
		})
	if err != nil {
		return 0, err
	}
	return count, nil
}
