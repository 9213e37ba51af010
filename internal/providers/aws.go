package providers

import (
	"context"
	"fmt"
	"time"

	"costshub/internal/costmodel"
	"costshub/internal/credstore"
	"costshub/internal/logging"
	"costshub/internal/mapper"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials/stscreds"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/costexplorer"
	"github.com/shopspring/decimal"
)

const awsAdapterVersion = "aws-ce/1.2.0"

// Cost Explorer only answers in us-east-1 regardless of where the spend is.
const costExplorerRegion = "us-east-1"

// AWSAdapter collects daily costs through the Cost Explorer GetCostAndUsage
// API. Credential bundles use the keys `profile` (shared-credentials profile)
// and optionally `role_arn` (role to assume from that profile).
type AWSAdapter struct {
	mapper *mapper.Mapper
	now    func() time.Time

	// newClient is swapped in tests to avoid real sessions.
	newClient func(creds *credstore.Credentials) (costExplorerAPI, error)
}

// costExplorerAPI is the slice of the Cost Explorer client the adapter uses.
type costExplorerAPI interface {
	GetCostAndUsageWithContext(ctx aws.Context, input *costexplorer.GetCostAndUsageInput, opts ...request.Option) (*costexplorer.GetCostAndUsageOutput, error)
}

// NewAWSAdapter creates the AWS adapter.
func NewAWSAdapter(m *mapper.Mapper, now func() time.Time) *AWSAdapter {
	a := &AWSAdapter{mapper: m, now: now}
	a.newClient = a.newCostExplorerClient
	return a
}

// Provider implements Adapter.
func (a *AWSAdapter) Provider() costmodel.Provider { return costmodel.ProviderAWS }

// Version implements Adapter.
func (a *AWSAdapter) Version() string { return awsAdapterVersion }

func (a *AWSAdapter) newCostExplorerClient(creds *credstore.Credentials) (costExplorerAPI, error) {
	cfg := aws.NewConfig().WithRegion(costExplorerRegion)

	opts := session.Options{
		Config:            *cfg,
		SharedConfigState: session.SharedConfigEnable,
	}
	if profile := creds.Data["profile"]; profile != "" {
		opts.Profile = profile
	}

	sess, err := session.NewSessionWithOptions(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}

	if roleARN := creds.Data["role_arn"]; roleARN != "" {
		assumed := stscreds.NewCredentials(sess, roleARN)
		sess, err = session.NewSession(cfg.WithCredentials(assumed))
		if err != nil {
			return nil, fmt.Errorf("failed to assume role %s: %w", roleARN, err)
		}
	}

	return costexplorer.New(sess), nil
}

// FetchCosts implements Adapter. Costs are fetched at DAILY granularity,
// grouped by service and region, paging through the full result set.
func (a *AWSAdapter) FetchCosts(ctx context.Context, creds *credstore.Credentials, start, end time.Time) (*RawResponse, error) {
	client, err := a.newClient(creds)
	if err != nil {
		return nil, &AuthError{Provider: costmodel.ProviderAWS, Err: err}
	}

	// Cost Explorer treats End as exclusive.
	input := &costexplorer.GetCostAndUsageInput{
		TimePeriod: &costexplorer.DateInterval{
			Start: aws.String(costmodel.Day(start).Format("2006-01-02")),
			End:   aws.String(costmodel.Day(end).AddDate(0, 0, 1).Format("2006-01-02")),
		},
		Granularity: aws.String(costexplorer.GranularityDaily),
		Metrics:     []*string{aws.String("UnblendedCost"), aws.String("UsageQuantity")},
		GroupBy: []*costexplorer.GroupDefinition{
			{Type: aws.String(costexplorer.GroupDefinitionTypeDimension), Key: aws.String("SERVICE")},
			{Type: aws.String(costexplorer.GroupDefinitionTypeDimension), Key: aws.String("REGION")},
		},
	}

	resp := &RawResponse{
		Provider: costmodel.ProviderAWS,
		ClientID: creds.ClientID,
		Start:    costmodel.Day(start),
		End:      costmodel.Day(end),
	}

	for {
		output, err := client.GetCostAndUsageWithContext(ctx, input)
		if err != nil {
			return nil, classifyAWSError(err)
		}

		for _, result := range output.ResultsByTime {
			date, err := time.Parse("2006-01-02", aws.StringValue(result.TimePeriod.Start))
			if err != nil {
				resp.Dropped++
				logging.Warn("Skipping result with unparseable period", map[string]interface{}{
					"period": aws.StringValue(result.TimePeriod.Start),
				})
				continue
			}

			for _, group := range result.Groups {
				row, ok := a.parseGroup(date, group)
				if !ok {
					resp.Dropped++
					continue
				}
				resp.Rows = append(resp.Rows, row)
			}
		}

		if output.NextPageToken == nil {
			break
		}
		input.NextPageToken = output.NextPageToken
	}

	return resp, nil
}

func (a *AWSAdapter) parseGroup(date time.Time, group *costexplorer.Group) (RawRow, bool) {
	if len(group.Keys) < 2 {
		return RawRow{}, false
	}
	service := aws.StringValue(group.Keys[0])
	region := aws.StringValue(group.Keys[1])

	costMetric, ok := group.Metrics["UnblendedCost"]
	if !ok || costMetric.Amount == nil {
		return RawRow{}, false
	}
	amount, err := decimal.NewFromString(aws.StringValue(costMetric.Amount))
	if err != nil {
		return RawRow{}, false
	}

	usage := make(map[string]float64)
	if usageMetric, ok := group.Metrics["UsageQuantity"]; ok && usageMetric.Amount != nil {
		if qty, err := decimal.NewFromString(aws.StringValue(usageMetric.Amount)); err == nil {
			f, _ := qty.Float64()
			usage["quantity"] = f
		}
	}

	return RawRow{
		Date:     date,
		Service:  service,
		Region:   region,
		Amount:   amount,
		Currency: aws.StringValue(costMetric.Unit),
		Usage:    usage,
	}, true
}

// Normalize implements Adapter.
func (a *AWSAdapter) Normalize(resp *RawResponse) ([]costmodel.UnifiedCostRecord, error) {
	return normalizeResponse(resp, a.mapper, awsAdapterVersion, a.now)
}

func classifyAWSError(err error) error {
	if aerr, ok := err.(awserr.Error); ok {
		switch aerr.Code() {
		case "UnrecognizedClientException", "AccessDeniedException", "InvalidClientTokenId",
			"ExpiredToken", "ExpiredTokenException", "UnauthorizedOperation":
			return &AuthError{Provider: costmodel.ProviderAWS, Err: err}
		case "ThrottlingException", "LimitExceededException", "RequestLimitExceeded", "TooManyRequestsException":
			return &TransientError{Provider: costmodel.ProviderAWS, Reason: "rate limited", Err: err}
		case "ServiceUnavailableException", "InternalErrorException", "RequestTimeout":
			return &TransientError{Provider: costmodel.ProviderAWS, Reason: "service unavailable", Err: err}
		case "RequestCanceled":
			return &TimeoutError{Provider: costmodel.ProviderAWS, Err: err}
		}
	}
	if err == context.DeadlineExceeded {
		return &TimeoutError{Provider: costmodel.ProviderAWS, Err: err}
	}
	return &TransientError{Provider: costmodel.ProviderAWS, Reason: "request failed", Err: err}
}
