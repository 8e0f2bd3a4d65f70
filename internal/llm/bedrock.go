package llm

import (
	"context"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go/bedrock"
	"github.com/aws/aws-sdk-go-v2/config"
)

// DefaultBedrockModel is the Claude model the assistant was built against.
const DefaultBedrockModel = "anthropic.claude-3-sonnet-20240229-v1:0"

// NewBedrockClient creates a Claude client routed through AWS Bedrock in the
// given region. Credentials come from the default AWS chain.
func NewBedrockClient(ctx context.Context, region string) (*AnthropicClient, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return NewAnthropicClient(bedrock.WithConfig(cfg)), nil
}
