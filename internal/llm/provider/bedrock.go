package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
)

const bedrockDefaultModel = "anthropic.claude-3-haiku-20240307-v1:0"

func init() {
	RegisterFactory("bedrock", func(config map[string]any) (Provider, error) {
		region, _ := config["region"].(string)
		if region == "" {
			region = os.Getenv("AWS_REGION")
		}
		if region == "" {
			region = "us-east-1"
		}

		ctx, cancel := context.WithTimeout(context.Background(), genAIClientTimeout)
		defer cancel()

		cfg, err := awsconfig.LoadDefaultConfig(ctx,
			awsconfig.WithRegion(region),
			awsconfig.WithRetryMaxAttempts(1))
		if err != nil {
			return nil, fmt.Errorf("load aws config: %w", err)
		}
		return NewBedrockProvider(bedrockruntime.NewFromConfig(cfg)), nil
	})
}

// ConverseClient is the subset of the Bedrock runtime client used here.
type ConverseClient interface {
	Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
}

// BedrockProvider implements Provider with the Bedrock Converse API
type BedrockProvider struct {
	client ConverseClient
}

// NewBedrockProvider creates a new Bedrock provider
func NewBedrockProvider(client ConverseClient) *BedrockProvider {
	return &BedrockProvider{client: client}
}

// singleAttempt disables the SDK retryer for a call, so failures reach
// the caller on the first attempt.
func singleAttempt(o *bedrockruntime.Options) {
	o.RetryMaxAttempts = 1
}

// Name returns the provider name
func (p *BedrockProvider) Name() string {
	return "bedrock"
}

// CreateCompletion creates a completion
func (p *BedrockProvider) CreateCompletion(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	out, err := p.client.Converse(ctx, p.buildInput(req), singleAttempt)
	if err != nil {
		return nil, p.wrapError(err)
	}
	return p.parseOutput(out)
}

// CreateStructured embeds the schema in the prompt; Converse has no JSON mode.
func (p *BedrockProvider) CreateStructured(ctx context.Context, req StructuredRequest) (*StructuredResponse, error) {
	inner := req.CompletionRequest
	inner.Messages = []Message{{Role: "user", Content: BuildStructuredPrompt(req.Messages, req.ResponseSchema)}}

	out, err := p.client.Converse(ctx, p.buildInput(inner), singleAttempt)
	if err != nil {
		return nil, p.wrapError(err)
	}

	compResp, err := p.parseOutput(out)
	if err != nil {
		return nil, err
	}

	return &StructuredResponse{
		Data:               json.RawMessage(ExtractJSON(compResp.Content)),
		CompletionResponse: *compResp,
	}, nil
}

func (p *BedrockProvider) buildInput(req CompletionRequest) *bedrockruntime.ConverseInput {
	model := req.Model
	if model == "" {
		model = bedrockDefaultModel
	}

	input := &bedrockruntime.ConverseInput{
		ModelId: aws.String(model),
		InferenceConfig: &types.InferenceConfiguration{
			Temperature: aws.Float32(float32(req.Temperature)),
		},
	}
	if req.MaxTokens > 0 && req.MaxTokens <= math.MaxInt32 {
		input.InferenceConfig.MaxTokens = aws.Int32(int32(req.MaxTokens))
	}

	for _, m := range req.Messages {
		if m.Role == "system" {
			input.System = append(input.System, &types.SystemContentBlockMemberText{Value: m.Content})
			continue
		}
		role := types.ConversationRoleUser
		if m.Role == "assistant" {
			role = types.ConversationRoleAssistant
		}
		input.Messages = append(input.Messages, types.Message{
			Role:    role,
			Content: []types.ContentBlock{&types.ContentBlockMemberText{Value: m.Content}},
		})
	}
	return input
}

func (p *BedrockProvider) parseOutput(out *bedrockruntime.ConverseOutput) (*CompletionResponse, error) {
	msg, ok := out.Output.(*types.ConverseOutputMemberMessage)
	if !ok {
		return nil, NewProviderError("bedrock", ErrorCodeUnknown, "no message in response", nil)
	}
	if out.StopReason == types.StopReasonContentFiltered || out.StopReason == types.StopReasonGuardrailIntervened {
		return nil, NewProviderError("bedrock", ErrorCodeContentFiltered, "response blocked: "+string(out.StopReason), nil)
	}

	var sb strings.Builder
	for _, block := range msg.Value.Content {
		if text, ok := block.(*types.ContentBlockMemberText); ok {
			sb.WriteString(text.Value)
		}
	}

	var usage Usage
	if out.Usage != nil {
		usage.PromptTokens = int(aws.ToInt32(out.Usage.InputTokens))
		usage.CompletionTokens = int(aws.ToInt32(out.Usage.OutputTokens))
		usage.TotalTokens = int(aws.ToInt32(out.Usage.TotalTokens))
	}

	return &CompletionResponse{
		Content:      sb.String(),
		FinishReason: string(out.StopReason),
		Usage:        usage,
	}, nil
}

func (p *BedrockProvider) wrapError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return err
	}

	code := ErrorCodeUnknown
	var (
		accessDenied *types.AccessDeniedException
		throttled    *types.ThrottlingException
		notFound     *types.ResourceNotFoundException
		invalid      *types.ValidationException
		internal     *types.InternalServerException
		unavailable  *types.ServiceUnavailableException
	)
	switch {
	case errors.As(err, &accessDenied):
		code = ErrorCodeAuthentication
	case errors.As(err, &throttled):
		code = ErrorCodeRateLimit
	case errors.As(err, &notFound):
		code = ErrorCodeModelNotFound
	case errors.As(err, &invalid):
		code = ErrorCodeInvalidRequest
	case errors.As(err, &internal), errors.As(err, &unavailable):
		code = ErrorCodeServerError
	}
	return NewProviderError("bedrock", code, err.Error(), err)
}
