package model

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"os"
	"path/filepath"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/qi7876/AutoAnnotator/internal/logging"
)

const uploadPollInterval = 2 * time.Second

// GeminiInvoker talks to the Gemini API: file uploads with processing
// polling, video/image/text generation, and bounding-box grounding.
type GeminiInvoker struct {
	client            *genai.Client
	modelName         string
	groundingModel    string
	uploadTimeout     time.Duration
	processingTimeout time.Duration
	logger            *slog.Logger
}

// GeminiOptions configures a GeminiInvoker.
type GeminiOptions struct {
	APIKey            string
	Model             string
	GroundingModel    string
	UploadTimeout     time.Duration
	ProcessingTimeout time.Duration
}

// NewGemini creates a GeminiInvoker.
func NewGemini(ctx context.Context, opts GeminiOptions, logger *slog.Logger) (*GeminiInvoker, error) {
	if opts.APIKey == "" {
		return nil, fmt.Errorf("gemini: API key is required")
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(opts.APIKey))
	if err != nil {
		return nil, fmt.Errorf("gemini: create client: %w", err)
	}

	logger.Info("gemini invoker initialised",
		"model", opts.Model,
		"grounding_model", opts.GroundingModel,
		"api_key", logging.SanitizeKey(opts.APIKey),
	)

	return &GeminiInvoker{
		client:            client,
		modelName:         opts.Model,
		groundingModel:    opts.GroundingModel,
		uploadTimeout:     opts.UploadTimeout,
		processingTimeout: opts.ProcessingTimeout,
		logger:            logger,
	}, nil
}

// Close releases the underlying API client.
func (g *GeminiInvoker) Close() error {
	return g.client.Close()
}

// UploadVideo uploads a video file and polls until the backend finishes
// processing it. The whole operation is bounded by the upload timeout.
func (g *GeminiInvoker) UploadVideo(ctx context.Context, path string) (*UploadedFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &ServiceError{Op: "upload", Err: err}
	}
	defer f.Close()

	ctx, cancel := context.WithTimeout(ctx, g.uploadTimeout)
	defer cancel()

	mimeType := mimeFor(path)
	file, err := g.client.UploadFile(ctx, "", f, &genai.UploadFileOptions{MIMEType: mimeType})
	if err != nil {
		return nil, classify("upload", err)
	}
	g.logger.Debug("uploaded video", "file", file.Name, "uri", file.URI)

	for file.State == genai.FileStateProcessing {
		select {
		case <-ctx.Done():
			return nil, &ServiceError{Op: "upload", Retryable: true,
				Err: fmt.Errorf("video processing timed out: %w", ctx.Err())}
		case <-time.After(uploadPollInterval):
		}
		file, err = g.client.GetFile(ctx, file.Name)
		if err != nil {
			return nil, classify("upload", err)
		}
	}
	if file.State == genai.FileStateFailed {
		return nil, &ServiceError{Op: "upload",
			Err: fmt.Errorf("backend failed to process video %s", file.Name)}
	}

	return &UploadedFile{Name: file.Name, URI: file.URI, MIMEType: mimeType}, nil
}

// InvokeVideo generates text for an uploaded video plus a prompt.
func (g *GeminiInvoker) InvokeVideo(ctx context.Context, file *UploadedFile, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, g.processingTimeout)
	defer cancel()

	m := g.generativeModel()
	resp, err := m.GenerateContent(ctx,
		genai.FileData{MIMEType: file.MIMEType, URI: file.URI},
		genai.Text(prompt),
	)
	if err != nil {
		return "", classify("invoke", err)
	}
	return responseText(resp)
}

// InvokeImage generates text for an image file plus a prompt.
func (g *GeminiInvoker) InvokeImage(ctx context.Context, imagePath, prompt string) (string, error) {
	data, err := os.ReadFile(imagePath)
	if err != nil {
		return "", &ServiceError{Op: "invoke", Err: err}
	}

	ctx, cancel := context.WithTimeout(ctx, g.processingTimeout)
	defer cancel()

	m := g.generativeModel()
	resp, err := m.GenerateContent(ctx,
		genai.ImageData(imageFormat(imagePath), data),
		genai.Text(prompt),
	)
	if err != nil {
		return "", classify("invoke", err)
	}
	return responseText(resp)
}

// InvokeText generates text for a text-only prompt.
func (g *GeminiInvoker) InvokeText(ctx context.Context, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, g.processingTimeout)
	defer cancel()

	m := g.generativeModel()
	resp, err := m.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return "", classify("invoke", err)
	}
	return responseText(resp)
}

// DeleteFile removes an uploaded file from the backend's file store.
func (g *GeminiInvoker) DeleteFile(ctx context.Context, file *UploadedFile) error {
	if err := g.client.DeleteFile(ctx, file.Name); err != nil {
		return classify("delete", err)
	}
	g.logger.Debug("deleted uploaded file", "file", file.Name)
	return nil
}

// GroundBoundingBox asks the grounding model for the box matching a
// natural-language description in an image. Returned coordinates are
// [ymin, xmin, ymax, xmax] normalized to [0, 1000].
func (g *GeminiInvoker) GroundBoundingBox(ctx context.Context, imageData []byte, format, description string) ([]float64, error) {
	prompt := fmt.Sprintf(`Detect a single object that matches this description: %q.
Return a JSON array with exactly one element, containing only the bounding box coordinates:
[{"box_2d": [ymin, xmin, ymax, xmax]}]
Coordinates are normalized in the range 0-1000. Do not return masks, labels, or extra objects.`, description)

	ctx, cancel := context.WithTimeout(ctx, g.processingTimeout)
	defer cancel()

	m := g.client.GenerativeModel(g.groundingModel)
	m.SetTemperature(0)
	resp, err := m.GenerateContent(ctx,
		genai.ImageData(format, imageData),
		genai.Text(prompt),
	)
	if err != nil {
		return nil, classify("ground", err)
	}
	text, err := responseText(resp)
	if err != nil {
		return nil, err
	}

	var boxes []struct {
		Box2D []float64 `json:"box_2d"`
	}
	if err := DecodeJSON(text, &boxes); err != nil {
		return nil, &ServiceError{Op: "ground", Err: err}
	}
	if len(boxes) != 1 || len(boxes[0].Box2D) != 4 {
		return nil, &ServiceError{Op: "ground",
			Err: fmt.Errorf("unexpected grounding response shape: %s", text)}
	}
	return boxes[0].Box2D, nil
}

func (g *GeminiInvoker) generativeModel() *genai.GenerativeModel {
	m := g.client.GenerativeModel(g.modelName)
	m.SetTemperature(0)
	m.ResponseMIMEType = "application/json"
	return m
}

func responseText(resp *genai.GenerateContentResponse) (string, error) {
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", &ServiceError{Op: "invoke", Retryable: true,
			Err: errors.New("response contained no candidates")}
	}
	var out string
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			out += string(text)
		}
	}
	if out == "" {
		return "", &ServiceError{Op: "invoke", Retryable: true,
			Err: errors.New("response contained no text parts")}
	}
	return out, nil
}

func classify(op string, err error) error {
	var ge *googleapi.Error
	if errors.As(err, &ge) {
		return &ServiceError{Op: op, Retryable: retryableStatus(ge.Code), Err: err}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &ServiceError{Op: op, Retryable: true, Err: err}
	}
	if errors.Is(err, context.Canceled) {
		return &ServiceError{Op: op, Retryable: false, Err: err}
	}
	// Unclassified transport failures are treated as transient.
	return &ServiceError{Op: op, Retryable: true, Err: err}
}

func mimeFor(path string) string {
	if t := mime.TypeByExtension(filepath.Ext(path)); t != "" {
		return t
	}
	return "video/mp4"
}

func imageFormat(path string) string {
	switch filepath.Ext(path) {
	case ".png":
		return "png"
	case ".webp":
		return "webp"
	default:
		return "jpeg"
	}
}
