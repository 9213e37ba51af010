package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"costshub/internal/costmodel"
	"costshub/internal/credstore"
	"costshub/internal/mapper"

	"github.com/cenkalti/backoff/v4"
	"github.com/shopspring/decimal"
)

const gcpAdapterVersion = "gcp-bigquery/1.0.2"

const gcpTokenURL = "https://oauth2.googleapis.com/token"

// GCPAdapter collects daily costs from the BigQuery billing export through
// the BigQuery REST API. Credential bundles use the keys `project_id`,
// `billing_dataset` (defaults to billing_export), and `service_account_json`.
type GCPAdapter struct {
	mapper     *mapper.Mapper
	now        func() time.Time
	httpClient *http.Client
	baseURL    string
	tokenURL   string

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
}

// NewGCPAdapter creates the GCP adapter.
func NewGCPAdapter(m *mapper.Mapper, now func() time.Time) *GCPAdapter {
	return &GCPAdapter{
		mapper:     m,
		now:        now,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		baseURL:    "https://bigquery.googleapis.com",
		tokenURL:   gcpTokenURL,
	}
}

// Provider implements Adapter.
func (a *GCPAdapter) Provider() costmodel.Provider { return costmodel.ProviderGCP }

// Version implements Adapter.
func (a *GCPAdapter) Version() string { return gcpAdapterVersion }

type gcpServiceAccountKey struct {
	ProjectID    string `json:"project_id"`
	PrivateKeyID string `json:"private_key_id"`
	ClientEmail  string `json:"client_email"`
	ClientID     string `json:"client_id"`
	TokenURI     string `json:"token_uri"`
}

type gcpTokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
	TokenType   string `json:"token_type"`
}

// authenticate exchanges the service account key for an access token, reusing
// a cached token while it remains valid.
func (a *GCPAdapter) authenticate(ctx context.Context, serviceAccountJSON string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.token != "" && a.now().Before(a.tokenExpiry) {
		return nil
	}

	var sa gcpServiceAccountKey
	if err := json.Unmarshal([]byte(serviceAccountJSON), &sa); err != nil {
		return &AuthError{Provider: costmodel.ProviderGCP, Err: fmt.Errorf("failed to parse service account JSON: %w", err)}
	}

	tokenURL := sa.TokenURI
	if tokenURL == "" {
		tokenURL = a.tokenURL
	}

	data := fmt.Sprintf("grant_type=client_credentials&client_id=%s&client_secret=%s&scope=https://www.googleapis.com/auth/bigquery.readonly https://www.googleapis.com/auth/cloud-platform.read-only",
		sa.ClientID, sa.PrivateKeyID)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenURL, bytes.NewBufferString(data))
	if err != nil {
		return fmt.Errorf("failed to create auth request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return &TransientError{Provider: costmodel.ProviderGCP, Reason: "auth request failed", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return &AuthError{Provider: costmodel.ProviderGCP, Err: fmt.Errorf("authentication failed: %d %s", resp.StatusCode, string(body))}
	}

	var tokenResp gcpTokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tokenResp); err != nil {
		return &MalformedDataError{Provider: costmodel.ProviderGCP, Detail: fmt.Sprintf("failed to decode token response: %v", err)}
	}

	a.token = tokenResp.AccessToken
	a.tokenExpiry = a.now().Add(time.Duration(tokenResp.ExpiresIn) * time.Second)
	return nil
}

type bigQueryRequest struct {
	Query        string `json:"query"`
	UseLegacySQL bool   `json:"useLegacySQL"`
	MaxResults   int    `json:"maxResults,omitempty"`
	TimeoutMs    int    `json:"timeoutMs,omitempty"`
}

type bigQueryResponse struct {
	Schema struct {
		Fields []struct {
			Name string `json:"name"`
			Type string `json:"type"`
		} `json:"fields"`
	} `json:"schema"`
	Rows []struct {
		F []struct {
			V interface{} `json:"v"`
		} `json:"f"`
	} `json:"rows"`
	TotalRows string `json:"totalRows"`
}

// FetchCosts implements Adapter. Daily per-service costs are queried from the
// billing export tables; the query is retried with exponential backoff on
// transient failures.
func (a *GCPAdapter) FetchCosts(ctx context.Context, creds *credstore.Credentials, start, end time.Time) (*RawResponse, error) {
	projectID := creds.Data["project_id"]
	if projectID == "" {
		return nil, &AuthError{Provider: costmodel.ProviderGCP, Err: fmt.Errorf("gcp credentials require project_id")}
	}
	dataset := creds.Data["billing_dataset"]
	if dataset == "" {
		dataset = "billing_export"
	}

	if err := a.authenticate(ctx, creds.Data["service_account_json"]); err != nil {
		return nil, err
	}

	startDay := costmodel.Day(start)
	endDay := costmodel.Day(end)

	// Billing export tables are sharded by YYYYMMDD suffix.
	query := fmt.Sprintf(`
		SELECT
			FORMAT_DATE('%%Y-%%m-%%d', DATE(usage_start_time)) as usage_date,
			service.description as service_name,
			project.id as project_id,
			project.name as project_name,
			location.region as region,
			SUM(cost) as total_cost,
			currency
		FROM
			%s.%s.gcp_billing_export_*
		WHERE
			_TABLE_SUFFIX BETWEEN '%s' AND '%s'
		GROUP BY
			usage_date, service_name, project_id, project_name, region, currency
		ORDER BY
			usage_date, service_name
	`, projectID, dataset, startDay.Format("20060102"), endDay.Format("20060102"))

	reqBody := bigQueryRequest{
		Query:        query,
		UseLegacySQL: false,
		MaxResults:   10000,
		TimeoutMs:    30000,
	}
	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/bigquery/v2/projects/%s/queries", a.baseURL, projectID)

	var queryResp bigQueryResponse

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 2 * time.Minute

	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonData))
		if err != nil {
			return backoff.Permanent(err)
		}
		a.mu.Lock()
		req.Header.Set("Authorization", "Bearer "+a.token)
		a.mu.Unlock()
		req.Header.Set("Content-Type", "application/json")

		resp, err := a.httpClient.Do(req)
		if err != nil {
			if ctx.Err() == context.DeadlineExceeded {
				return backoff.Permanent(&TimeoutError{Provider: costmodel.ProviderGCP, Err: err})
			}
			return &TransientError{Provider: costmodel.ProviderGCP, Reason: "request failed", Err: err}
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return &TransientError{Provider: costmodel.ProviderGCP, Reason: "read failed", Err: err}
		}

		switch {
		case resp.StatusCode == http.StatusOK:
		case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
			return backoff.Permanent(&AuthError{Provider: costmodel.ProviderGCP, Err: fmt.Errorf("query failed: %d %s", resp.StatusCode, string(body))})
		case resp.StatusCode == http.StatusTooManyRequests:
			return &TransientError{Provider: costmodel.ProviderGCP, Reason: "rate limited", Err: fmt.Errorf("query failed: %d", resp.StatusCode)}
		case resp.StatusCode >= 500:
			return &TransientError{Provider: costmodel.ProviderGCP, Reason: "service error", Err: fmt.Errorf("query failed: %d", resp.StatusCode)}
		default:
			return backoff.Permanent(&MalformedDataError{Provider: costmodel.ProviderGCP, Detail: fmt.Sprintf("query failed: %d %s", resp.StatusCode, string(body))})
		}

		if err := json.Unmarshal(body, &queryResp); err != nil {
			return backoff.Permanent(&MalformedDataError{Provider: costmodel.ProviderGCP, Detail: fmt.Sprintf("failed to decode response: %v", err)})
		}
		return nil
	}

	if err := backoff.Retry(operation, backoff.WithContext(bo, ctx)); err != nil {
		return nil, err
	}

	resp := &RawResponse{
		Provider: costmodel.ProviderGCP,
		ClientID: creds.ClientID,
		Start:    startDay,
		End:      endDay,
	}
	a.parseQueryResponse(&queryResp, resp)
	return resp, nil
}

func (a *GCPAdapter) parseQueryResponse(queryResp *bigQueryResponse, resp *RawResponse) {
	cols := make(map[string]int)
	for i, field := range queryResp.Schema.Fields {
		cols[field.Name] = i
	}

	dateIdx, hasDate := cols["usage_date"]
	serviceIdx, hasService := cols["service_name"]
	costIdx, hasCost := cols["total_cost"]
	if !hasDate || !hasService || !hasCost {
		resp.Dropped += len(queryResp.Rows)
		return
	}

	for _, row := range queryResp.Rows {
		cell := func(idx int) interface{} {
			if idx < 0 || len(row.F) <= idx {
				return nil
			}
			return row.F[idx].V
		}

		dateStr, ok := cell(dateIdx).(string)
		if !ok {
			resp.Dropped++
			continue
		}
		date, err := time.Parse("2006-01-02", dateStr)
		if err != nil {
			resp.Dropped++
			continue
		}

		service, ok := cell(serviceIdx).(string)
		if !ok || service == "" {
			resp.Dropped++
			continue
		}

		amount, ok := parseGCPAmount(cell(costIdx))
		if !ok {
			resp.Dropped++
			continue
		}

		currency := "USD"
		if idx, ok := cols["currency"]; ok {
			if curr, ok := cell(idx).(string); ok && curr != "" {
				currency = curr
			}
		}

		var accountID, accountName, region string
		if idx, ok := cols["project_id"]; ok {
			accountID, _ = cell(idx).(string)
		}
		if idx, ok := cols["project_name"]; ok {
			accountName, _ = cell(idx).(string)
		}
		if idx, ok := cols["region"]; ok {
			region, _ = cell(idx).(string)
		}

		resp.Rows = append(resp.Rows, RawRow{
			Date:        date,
			Service:     service,
			AccountID:   accountID,
			AccountName: accountName,
			Region:      region,
			Amount:      amount,
			Currency:    currency,
		})
	}
}

// Normalize implements Adapter.
func (a *GCPAdapter) Normalize(resp *RawResponse) ([]costmodel.UnifiedCostRecord, error) {
	return normalizeResponse(resp, a.mapper, gcpAdapterVersion, a.now)
}

// parseGCPAmount handles BigQuery's habit of returning numerics as strings.
func parseGCPAmount(value interface{}) (decimal.Decimal, bool) {
	switch v := value.(type) {
	case string:
		d, err := decimal.NewFromString(v)
		if err != nil {
			return decimal.Decimal{}, false
		}
		return d, true
	case float64:
		return decimal.NewFromFloat(v), true
	default:
		return decimal.Decimal{}, false
	}
}
