package retrieval

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"

	"github.com/jackzampolin/folio/internal/types"
)

// DefaultPubMedBaseURL is the NCBI E-utilities endpoint.
const DefaultPubMedBaseURL = "https://eutils.ncbi.nlm.nih.gov/entrez/eutils"

// PubMedClient searches the literature database through esearch +
// esummary, with a TTL cache keyed by (query, max, years).
type PubMedClient struct {
	baseURL    string
	maxResults int // top M PMIDs per query
	years      int // recency window
	httpClient *http.Client
	cache      *QueryCache
}

// NewPubMedClient creates a client. Zero values fall back to base URL
// above, 10 results, a 10-year window, and the default cache TTL.
func NewPubMedClient(baseURL string, maxResults, years int, cacheTTL time.Duration) *PubMedClient {
	if baseURL == "" {
		baseURL = DefaultPubMedBaseURL
	}
	if maxResults <= 0 {
		maxResults = 10
	}
	if years <= 0 {
		years = 10
	}
	return &PubMedClient{
		baseURL:    baseURL,
		maxResults: maxResults,
		years:      years,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		cache:      NewQueryCache(cacheTTL),
	}
}

// Search runs esearch then esummary for a query and returns sources
// tagged external_db. A cache hit skips both calls; failed responses
// are never cached.
func (c *PubMedClient) Search(ctx context.Context, query string) ([]types.Source, error) {
	key := fmt.Sprintf("%s|%d|%d", NormalizeQuery(query), c.maxResults, c.years)
	if payload := c.cache.Get(key); payload != nil {
		return parseSummaryPayload(payload)
	}

	pmids, err := c.esearch(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("pubmed esearch: %w: %v", types.ErrExternalService, err)
	}
	if len(pmids) == 0 {
		c.cache.Set(key, []byte(`{"result":{"uids":[]}}`))
		return nil, nil
	}

	payload, err := c.esummary(ctx, pmids)
	if err != nil {
		return nil, fmt.Errorf("pubmed esummary: %w: %v", types.ErrExternalService, err)
	}

	sources, err := parseSummaryPayload(payload)
	if err != nil {
		return nil, err
	}
	c.cache.Set(key, payload)
	return sources, nil
}

func (c *PubMedClient) esearch(ctx context.Context, query string) ([]string, error) {
	params := url.Values{
		"db":       {"pubmed"},
		"term":     {query},
		"retmax":   {strconv.Itoa(c.maxResults)},
		"sort":     {"relevance"},
		"datetype": {"pdat"},
		"reldate":  {strconv.Itoa(c.years * 365)},
		"retmode":  {"json"},
	}

	body, err := c.get(ctx, "/esearch.fcgi?"+params.Encode())
	if err != nil {
		return nil, err
	}

	var parsed struct {
		ESearchResult struct {
			IDList []string `json:"idlist"`
		} `json:"esearchresult"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("failed to decode esearch response: %w", err)
	}
	return parsed.ESearchResult.IDList, nil
}

func (c *PubMedClient) esummary(ctx context.Context, pmids []string) ([]byte, error) {
	params := url.Values{
		"db":      {"pubmed"},
		"id":      {strings.Join(pmids, ",")},
		"retmode": {"json"},
	}
	return c.get(ctx, "/esummary.fcgi?"+params.Encode())
}

// get fetches a URL with bounded retries on transient failures.
func (c *PubMedClient) get(ctx context.Context, path string) ([]byte, error) {
	var body []byte
	err := retry.Do(
		func() error {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
			if err != nil {
				return retry.Unrecoverable(err)
			}
			resp, err := c.httpClient.Do(req)
			if err != nil {
				return err
			}
			defer resp.Body.Close()

			if resp.StatusCode != http.StatusOK {
				err := fmt.Errorf("status %d", resp.StatusCode)
				if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
					return retry.Unrecoverable(err)
				}
				return err
			}
			body, err = io.ReadAll(resp.Body)
			return err
		},
		retry.Context(ctx),
		retry.Attempts(3),
		retry.Delay(time.Second),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
	)
	return body, err
}

// parseSummaryPayload converts an esummary JSON payload into sources.
func parseSummaryPayload(payload []byte) ([]types.Source, error) {
	var parsed struct {
		Result map[string]json.RawMessage `json:"result"`
	}
	if err := json.Unmarshal(payload, &parsed); err != nil {
		return nil, fmt.Errorf("failed to decode esummary response: %w", err)
	}

	var uids []string
	if raw, ok := parsed.Result["uids"]; ok {
		if err := json.Unmarshal(raw, &uids); err != nil {
			return nil, fmt.Errorf("failed to decode uids: %w", err)
		}
	}

	var sources []types.Source
	for _, uid := range uids {
		raw, ok := parsed.Result[uid]
		if !ok {
			continue
		}
		var doc struct {
			Title           string `json:"title"`
			FullJournalName string `json:"fulljournalname"`
			PubDate         string `json:"pubdate"`
			Authors         []struct {
				Name string `json:"name"`
			} `json:"authors"`
			ArticleIDs []struct {
				IDType string `json:"idtype"`
				Value  string `json:"value"`
			} `json:"articleids"`
		}
		if err := json.Unmarshal(raw, &doc); err != nil {
			continue
		}

		src := types.Source{
			Title:      strings.TrimSuffix(doc.Title, "."),
			Journal:    doc.FullJournalName,
			PMID:       uid,
			Year:       parsePubYear(doc.PubDate),
			SourceType: types.SourceExternalDB,
		}
		for _, a := range doc.Authors {
			src.Authors = append(src.Authors, a.Name)
		}
		for _, id := range doc.ArticleIDs {
			if id.IDType == "doi" {
				src.DOI = id.Value
			}
		}
		sources = append(sources, src)
	}
	return sources, nil
}

// parsePubYear pulls the leading year out of a pubdate like "2023 Mar 14".
func parsePubYear(pubdate string) int {
	fields := strings.Fields(pubdate)
	if len(fields) == 0 {
		return 0
	}
	year, _ := strconv.Atoi(fields[0])
	return year
}
