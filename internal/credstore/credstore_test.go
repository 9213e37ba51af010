package credstore

import (
	"context"
	"errors"
	"testing"

	"costshub/internal/costmodel"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStaticStore(t *testing.T) {
	ctx := context.Background()
	s := NewStaticStore()
	s.Put(&Credentials{
		ClientID: "acme",
		Provider: costmodel.ProviderAWS,
		Data:     map[string]string{"profile": "acme-billing"},
	})

	creds, err := s.GetCredentials(ctx, "acme", costmodel.ProviderAWS)
	require.NoError(t, err)
	assert.Equal(t, "acme-billing", creds.Data["profile"])

	_, err = s.GetCredentials(ctx, "acme", costmodel.ProviderGCP)
	assert.True(t, errors.Is(err, ErrNotFound))

	_, err = s.GetCredentials(ctx, "globex", costmodel.ProviderAWS)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestFromConfigMap(t *testing.T) {
	raw := map[string]interface{}{
		"acme": map[string]interface{}{
			"aws": map[string]interface{}{
				"profile":  "acme-billing",
				"role_arn": "arn:aws:iam::123456789012:role/BillingRead",
			},
			"azure": map[string]interface{}{
				"tenant_id":       "t",
				"client_id":       "c",
				"client_secret":   "s",
				"subscription_id": "sub",
			},
		},
		"globex": map[string]interface{}{
			"gcp": map[string]interface{}{
				"project_id": "globex-prod",
			},
		},
	}

	s, err := FromConfigMap(raw)
	require.NoError(t, err)

	assert.Equal(t, []string{"acme", "globex"}, s.Clients())

	creds, err := s.GetCredentials(context.Background(), "acme", costmodel.ProviderAzure)
	require.NoError(t, err)
	assert.Equal(t, "sub", creds.Data["subscription_id"])

	creds, err = s.GetCredentials(context.Background(), "globex", costmodel.ProviderGCP)
	require.NoError(t, err)
	assert.Equal(t, "globex-prod", creds.Data["project_id"])
}

func TestFromConfigMapRejectsUnknownProvider(t *testing.T) {
	raw := map[string]interface{}{
		"acme": map[string]interface{}{
			"oracle": map[string]interface{}{"user": "scott"},
		},
	}
	_, err := FromConfigMap(raw)
	assert.Error(t, err)
}

func TestFromConfigMapRejectsBadShapes(t *testing.T) {
	_, err := FromConfigMap(map[string]interface{}{"acme": "not-a-map"})
	assert.Error(t, err)

	_, err = FromConfigMap(map[string]interface{}{
		"acme": map[string]interface{}{"aws": "not-a-map"},
	})
	assert.Error(t, err)
}
