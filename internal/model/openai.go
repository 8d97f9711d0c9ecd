package model

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIInvoker talks to an OpenAI-compatible chat completion endpoint.
// It handles image and text media only; video segments require the Gemini
// backend and its file store.
type OpenAIInvoker struct {
	client            *openai.Client
	modelName         string
	processingTimeout time.Duration
	logger            *slog.Logger
}

// OpenAIOptions configures an OpenAIInvoker.
type OpenAIOptions struct {
	APIKey            string
	BaseURL           string
	Model             string
	ProcessingTimeout time.Duration
}

// NewOpenAI creates an OpenAIInvoker.
func NewOpenAI(opts OpenAIOptions, logger *slog.Logger) (*OpenAIInvoker, error) {
	if opts.APIKey == "" {
		return nil, fmt.Errorf("openai: API key is required")
	}
	clientConfig := openai.DefaultConfig(opts.APIKey)
	if opts.BaseURL != "" {
		clientConfig.BaseURL = opts.BaseURL
	}

	logger.Info("openai invoker initialised", "model", opts.Model, "base_url", opts.BaseURL)

	return &OpenAIInvoker{
		client:            openai.NewClientWithConfig(clientConfig),
		modelName:         opts.Model,
		processingTimeout: opts.ProcessingTimeout,
		logger:            logger,
	}, nil
}

// UploadVideo is unsupported: chat completion endpoints have no video file
// store. Permanent, not retried.
func (o *OpenAIInvoker) UploadVideo(ctx context.Context, path string) (*UploadedFile, error) {
	return nil, &ServiceError{Op: "upload",
		Err: errors.New("openai backend does not support video media")}
}

// InvokeVideo is unsupported for the same reason as UploadVideo.
func (o *OpenAIInvoker) InvokeVideo(ctx context.Context, file *UploadedFile, prompt string) (string, error) {
	return "", &ServiceError{Op: "invoke",
		Err: errors.New("openai backend does not support video media")}
}

// InvokeImage sends the image inline as a data URL alongside the prompt.
func (o *OpenAIInvoker) InvokeImage(ctx context.Context, imagePath, prompt string) (string, error) {
	data, err := os.ReadFile(imagePath)
	if err != nil {
		return "", &ServiceError{Op: "invoke", Err: err}
	}
	dataURL := fmt.Sprintf("data:%s;base64,%s",
		imageMIME(imagePath), base64.StdEncoding.EncodeToString(data))

	req := openai.ChatCompletionRequest{
		Model: o.modelName,
		Messages: []openai.ChatCompletionMessage{
			{
				Role: openai.ChatMessageRoleUser,
				MultiContent: []openai.ChatMessagePart{
					{
						Type:     openai.ChatMessagePartTypeImageURL,
						ImageURL: &openai.ChatMessageImageURL{URL: dataURL},
					},
					{
						Type: openai.ChatMessagePartTypeText,
						Text: prompt,
					},
				},
			},
		},
	}
	return o.complete(ctx, req)
}

// InvokeText sends a plain text prompt.
func (o *OpenAIInvoker) InvokeText(ctx context.Context, prompt string) (string, error) {
	req := openai.ChatCompletionRequest{
		Model: o.modelName,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	}
	return o.complete(ctx, req)
}

// DeleteFile is a no-op: nothing is staged with this backend.
func (o *OpenAIInvoker) DeleteFile(ctx context.Context, file *UploadedFile) error {
	return nil
}

func (o *OpenAIInvoker) complete(ctx context.Context, req openai.ChatCompletionRequest) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, o.processingTimeout)
	defer cancel()

	resp, err := o.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", classifyOpenAI("invoke", err)
	}
	if len(resp.Choices) == 0 {
		return "", &ServiceError{Op: "invoke", Retryable: true,
			Err: errors.New("response contained no choices")}
	}
	return resp.Choices[0].Message.Content, nil
}

func classifyOpenAI(op string, err error) error {
	var ae *openai.APIError
	if errors.As(err, &ae) {
		return &ServiceError{Op: op, Retryable: retryableStatus(ae.HTTPStatusCode), Err: err}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &ServiceError{Op: op, Retryable: true, Err: err}
	}
	if errors.Is(err, context.Canceled) {
		return &ServiceError{Op: op, Retryable: false, Err: err}
	}
	return &ServiceError{Op: op, Retryable: true, Err: err}
}

func imageMIME(path string) string {
	switch filepath.Ext(path) {
	case ".png":
		return "image/png"
	case ".webp":
		return "image/webp"
	default:
		return "image/jpeg"
	}
}
