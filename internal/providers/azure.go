package providers

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"costshub/internal/costmodel"
	"costshub/internal/credstore"
	"costshub/internal/logging"
	"costshub/internal/mapper"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/costmanagement/armcostmanagement"
	"github.com/cenkalti/backoff/v4"
	"github.com/shopspring/decimal"
)

const azureAdapterVersion = "azure-costmanagement/1.1.0"

// Azure API retry tuning
const (
	azureMaxRetryElapsedTime  = 2 * time.Minute
	azureInitialRetryInterval = 1 * time.Second
	azureMaxRetryInterval     = 30 * time.Second
)

// azureQueryAPI is the slice of the Cost Management query client the adapter
// uses, swapped in tests.
type azureQueryAPI interface {
	Usage(ctx context.Context, scope string, parameters armcostmanagement.QueryDefinition, options *armcostmanagement.QueryClientUsageOptions) (armcostmanagement.QueryClientUsageResponse, error)
}

// AzureAdapter collects daily costs through the Cost Management Query API.
// Credential bundles use the keys `tenant_id`, `client_id`, `client_secret`,
// and `subscription_id`.
type AzureAdapter struct {
	mapper *mapper.Mapper
	now    func() time.Time

	newClient func(creds *credstore.Credentials) (azureQueryAPI, error)
}

// NewAzureAdapter creates the Azure adapter.
func NewAzureAdapter(m *mapper.Mapper, now func() time.Time) *AzureAdapter {
	a := &AzureAdapter{mapper: m, now: now}
	a.newClient = a.newQueryClient
	return a
}

// Provider implements Adapter.
func (a *AzureAdapter) Provider() costmodel.Provider { return costmodel.ProviderAzure }

// Version implements Adapter.
func (a *AzureAdapter) Version() string { return azureAdapterVersion }

func (a *AzureAdapter) newQueryClient(creds *credstore.Credentials) (azureQueryAPI, error) {
	tenantID := creds.Data["tenant_id"]
	clientID := creds.Data["client_id"]
	clientSecret := creds.Data["client_secret"]
	if tenantID == "" || clientID == "" || clientSecret == "" {
		return nil, fmt.Errorf("azure credentials require tenant_id, client_id, and client_secret")
	}

	cred, err := azidentity.NewClientSecretCredential(tenantID, clientID, clientSecret, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create Azure credential: %w", err)
	}

	client, err := armcostmanagement.NewQueryClient(cred, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create cost management client: %w", err)
	}
	return client, nil
}

// FetchCosts implements Adapter. The query is retried with exponential
// backoff; auth failures abort the retry loop immediately.
func (a *AzureAdapter) FetchCosts(ctx context.Context, creds *credstore.Credentials, start, end time.Time) (*RawResponse, error) {
	subscriptionID := creds.Data["subscription_id"]
	if subscriptionID == "" {
		return nil, &AuthError{Provider: costmodel.ProviderAzure, Err: fmt.Errorf("azure credentials require subscription_id")}
	}

	client, err := a.newClient(creds)
	if err != nil {
		return nil, &AuthError{Provider: costmodel.ProviderAzure, Err: err}
	}

	startDate := costmodel.Day(start)
	endDate := costmodel.Day(end)

	scope := fmt.Sprintf("/subscriptions/%s", subscriptionID)
	queryType := armcostmanagement.ExportTypeActualCost
	timeframe := armcostmanagement.TimeframeTypeCustom
	granularity := armcostmanagement.GranularityTypeDaily
	dimensionType := armcostmanagement.QueryColumnTypeDimension
	serviceName := "ServiceName"
	resourceLocation := "ResourceLocation"
	costName := "Cost"
	sumFunc := armcostmanagement.FunctionTypeSum

	queryDef := armcostmanagement.QueryDefinition{
		Type:      &queryType,
		Timeframe: &timeframe,
		TimePeriod: &armcostmanagement.QueryTimePeriod{
			From: &startDate,
			To:   &endDate,
		},
		Dataset: &armcostmanagement.QueryDataset{
			Granularity: &granularity,
			Aggregation: map[string]*armcostmanagement.QueryAggregation{
				"totalCost": {
					Name:     &costName,
					Function: &sumFunc,
				},
			},
			Grouping: []*armcostmanagement.QueryGrouping{
				{Type: &dimensionType, Name: &serviceName},
				{Type: &dimensionType, Name: &resourceLocation},
			},
		},
	}

	var result armcostmanagement.QueryResult

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = azureInitialRetryInterval
	bo.MaxInterval = azureMaxRetryInterval
	bo.MaxElapsedTime = azureMaxRetryElapsedTime

	operation := func() error {
		resp, err := client.Usage(ctx, scope, queryDef, nil)
		if err != nil {
			classified := classifyAzureError(err)
			if !IsRetryable(classified) {
				return backoff.Permanent(classified)
			}
			logging.Debug("Azure cost query failed, will retry", map[string]interface{}{
				"subscription_id": subscriptionID,
				"error":           err.Error(),
			})
			return classified
		}
		result = resp.QueryResult
		return nil
	}

	if err := backoff.Retry(operation, backoff.WithContext(bo, ctx)); err != nil {
		return nil, err
	}

	resp := &RawResponse{
		Provider: costmodel.ProviderAzure,
		ClientID: creds.ClientID,
		Start:    startDate,
		End:      endDate,
	}
	a.parseResult(result, subscriptionID, creds.Data["subscription_name"], resp)
	return resp, nil
}

// parseResult flattens the columnar query result into rows. Rows missing the
// cost or date column are dropped and counted.
func (a *AzureAdapter) parseResult(result armcostmanagement.QueryResult, subscriptionID, subscriptionName string, resp *RawResponse) {
	if result.Properties == nil || result.Properties.Rows == nil {
		return
	}

	columnMap := make(map[string]int)
	for i, col := range result.Properties.Columns {
		if col.Name != nil {
			columnMap[*col.Name] = i
		}
	}

	costIdx, hasCost := columnMap["Cost"]
	dateIdx, hasDate := columnMap["UsageDate"]
	if !hasCost || !hasDate {
		resp.Dropped += len(result.Properties.Rows)
		logging.Warn("Azure response missing Cost or UsageDate columns", map[string]interface{}{
			"subscription_id": subscriptionID,
		})
		return
	}

	for _, row := range result.Properties.Rows {
		if len(row) <= costIdx || len(row) <= dateIdx {
			resp.Dropped++
			continue
		}

		date, ok := parseAzureDate(row[dateIdx])
		if !ok {
			resp.Dropped++
			continue
		}
		amount, ok := parseAzureAmount(row[costIdx])
		if !ok {
			resp.Dropped++
			continue
		}

		service := cellString(row, columnMap, "ServiceName")
		if service == "" {
			service = "Unknown"
		}

		currency := cellString(row, columnMap, "Currency")
		if currency == "" {
			currency = "USD"
		}

		resp.Rows = append(resp.Rows, RawRow{
			Date:        date,
			Service:     service,
			AccountID:   subscriptionID,
			AccountName: subscriptionName,
			Region:      cellString(row, columnMap, "ResourceLocation"),
			Amount:      amount,
			Currency:    currency,
		})
	}
}

// Normalize implements Adapter.
func (a *AzureAdapter) Normalize(resp *RawResponse) ([]costmodel.UnifiedCostRecord, error) {
	return normalizeResponse(resp, a.mapper, azureAdapterVersion, a.now)
}

func cellString(row []interface{}, columnMap map[string]int, name string) string {
	idx, ok := columnMap[name]
	if !ok || len(row) <= idx || row[idx] == nil {
		return ""
	}
	s := fmt.Sprintf("%v", row[idx])
	if s == "<nil>" {
		return ""
	}
	return s
}

// parseAzureDate handles the numeric YYYYMMDD UsageDate form the query API
// returns, plus the occasional string form.
func parseAzureDate(value interface{}) (time.Time, bool) {
	var raw string
	switch v := value.(type) {
	case float64:
		raw = fmt.Sprintf("%.0f", v)
	case int, int64:
		raw = fmt.Sprintf("%d", v)
	case string:
		raw = v
	default:
		return time.Time{}, false
	}

	var digits strings.Builder
	for _, ch := range raw {
		if ch >= '0' && ch <= '9' {
			digits.WriteRune(ch)
		}
	}
	if digits.Len() < 8 {
		return time.Time{}, false
	}
	d := digits.String()[:8]
	t, err := time.Parse("20060102", d)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

func parseAzureAmount(value interface{}) (decimal.Decimal, bool) {
	switch v := value.(type) {
	case float64:
		return decimal.NewFromFloat(v), true
	case int:
		return decimal.NewFromInt(int64(v)), true
	case int64:
		return decimal.NewFromInt(v), true
	case string:
		d, err := decimal.NewFromString(v)
		if err != nil {
			return decimal.Decimal{}, false
		}
		return d, true
	default:
		return decimal.Decimal{}, false
	}
}

func classifyAzureError(err error) error {
	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) {
		switch respErr.StatusCode {
		case 401, 403:
			return &AuthError{Provider: costmodel.ProviderAzure, Err: err}
		case 429:
			return &TransientError{Provider: costmodel.ProviderAzure, Reason: "rate limited", Err: err}
		}
		if respErr.StatusCode >= 500 {
			return &TransientError{Provider: costmodel.ProviderAzure, Reason: "service error", Err: err}
		}
		return &MalformedDataError{Provider: costmodel.ProviderAzure, Detail: err.Error()}
	}
	var authErr *azidentity.AuthenticationFailedError
	if errors.As(err, &authErr) {
		return &AuthError{Provider: costmodel.ProviderAzure, Err: err}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &TimeoutError{Provider: costmodel.ProviderAzure, Err: err}
	}
	return &TransientError{Provider: costmodel.ProviderAzure, Reason: "request failed", Err: err}
}
