package db

import (
	"context"
	"fmt"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/rds/auth"

	"github.com/vvka-141/mailq/pkg/mailq"
)

// AzurePostgreSQLScope is the OAuth scope for Azure Database for PostgreSQL.
const AzurePostgreSQLScope = "https://ossrdbms-aad.database.windows.net/.default"

// rdsTokenLifetime is how long an RDS IAM token stays valid.
const rdsTokenLifetime = 15 * time.Minute

// AWSIAMPasswordSource builds RDS IAM tokens with the default AWS credential chain.
type AWSIAMPasswordSource struct {
	endpoint string // host:port
	region   string
	username string
}

var _ PasswordSource = (*AWSIAMPasswordSource)(nil)

func NewAWSIAMPasswordSource(endpoint, region, username string) (*AWSIAMPasswordSource, error) {
	switch {
	case endpoint == "":
		return nil, fmt.Errorf("AWS IAM auth requires endpoint (host:port): %w", mailq.ErrInvalidConfig)
	case region == "":
		return nil, fmt.Errorf("AWS IAM auth requires region (use --aws-region or $AWS_REGION): %w", mailq.ErrInvalidConfig)
	case username == "":
		return nil, fmt.Errorf("AWS IAM auth requires database username: %w", mailq.ErrInvalidConfig)
	}
	return &AWSIAMPasswordSource{endpoint: endpoint, region: region, username: username}, nil
}

func (s *AWSIAMPasswordSource) Password(ctx context.Context) (string, time.Time, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(s.region))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("load AWS config: %w", err)
	}
	token, err := auth.BuildAuthToken(ctx, s.endpoint, s.region, s.username, cfg.Credentials)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("build RDS auth token: %w", err)
	}
	return token, time.Now().Add(rdsTokenLifetime), nil
}

func (s *AWSIAMPasswordSource) String() string {
	return fmt.Sprintf("AWS IAM(endpoint=%s, region=%s, user=%s)", s.endpoint, s.region, s.username)
}

// AzurePasswordSource exchanges an Entra ID credential for a PostgreSQL
// access token. With tenant, client and secret all set it uses a service
// principal; otherwise the DefaultAzureCredential chain (environment,
// workload identity, managed identity, Azure CLI).
type AzurePasswordSource struct {
	credential azcore.TokenCredential
	label      string
}

var _ PasswordSource = (*AzurePasswordSource)(nil)

func NewAzurePasswordSource(tenantID, clientID, clientSecret string) (*AzurePasswordSource, error) {
	if tenantID != "" && clientID != "" && clientSecret != "" {
		cred, err := azidentity.NewClientSecretCredential(tenantID, clientID, clientSecret, nil)
		if err != nil {
			return nil, fmt.Errorf("create Azure service principal credential: %w", err)
		}
		return &AzurePasswordSource{
			credential: cred,
			label:      fmt.Sprintf("Azure service principal(tenant=%s, client=%s)", tenantID, clientID),
		}, nil
	}

	cred, err := azidentity.NewDefaultAzureCredential(nil)
	if err != nil {
		return nil, fmt.Errorf("create Azure default credential: %w", err)
	}
	return &AzurePasswordSource{credential: cred, label: "Azure default credential"}, nil
}

// NewAzurePasswordSourceFromCredential wraps an existing credential.
func NewAzurePasswordSourceFromCredential(cred azcore.TokenCredential, label string) *AzurePasswordSource {
	return &AzurePasswordSource{credential: cred, label: label}
}

func (s *AzurePasswordSource) Password(ctx context.Context) (string, time.Time, error) {
	token, err := s.credential.GetToken(ctx, policy.TokenRequestOptions{
		Scopes: []string{AzurePostgreSQLScope},
	})
	if err != nil {
		return "", time.Time{}, fmt.Errorf("azure token acquisition failed: %w", err)
	}
	return token.Token, token.ExpiresOn, nil
}

func (s *AzurePasswordSource) String() string {
	return s.label
}
