// ABOUTME: image_generator tool backed by the OpenAI Images API
// ABOUTME: Generation failures are reported to the model as {error}; the image travels as an attachment

package builtins

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"github.com/2389/coven-assistant/internal/conversation"
	"github.com/2389/coven-assistant/internal/packs"
	"github.com/2389/coven-assistant/internal/schema"
)

// GeneratedImage is one image returned by an ImageClient.
type GeneratedImage struct {
	URL           string
	RevisedPrompt string
}

// ImageClient generates an image from a prompt.
type ImageClient interface {
	Generate(ctx context.Context, prompt string) (*GeneratedImage, error)
}

// ImageConfig configures the OpenAI image client.
type ImageConfig struct {
	Endpoint  string
	Token     string
	Model     string
	Size      string
	UserAgent string
}

// OpenAIImages implements ImageClient with the OpenAI Images API.
type OpenAIImages struct {
	client openai.Client
	model  string
	size   string
}

// NewOpenAIImages creates an Images API client.
func NewOpenAIImages(cfg ImageConfig) *OpenAIImages {
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.Token),
		option.WithMaxRetries(0),
	}
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithBaseURL(cfg.Endpoint))
	}
	if cfg.UserAgent != "" {
		opts = append(opts, option.WithHeader("User-Agent", cfg.UserAgent))
	}
	return &OpenAIImages{
		client: openai.NewClient(opts...),
		model:  cfg.Model,
		size:   cfg.Size,
	}
}

// Generate requests a single image. Models that only return inline data
// produce a data: URL.
func (o *OpenAIImages) Generate(ctx context.Context, prompt string) (*GeneratedImage, error) {
	params := openai.ImageGenerateParams{
		Prompt: prompt,
		Model:  openai.ImageModel(o.model),
		N:      openai.Int(1),
	}
	if strings.HasPrefix(o.model, "dall-e") {
		params.ResponseFormat = openai.ImageGenerateParamsResponseFormatURL
	}
	if o.size != "" {
		params.Size = openai.ImageGenerateParamsSize(o.size)
	}

	resp, err := o.client.Images.Generate(ctx, params)
	if err != nil {
		return nil, err
	}
	if len(resp.Data) == 0 {
		return nil, errors.New("no image was generated")
	}

	img := resp.Data[0]
	out := &GeneratedImage{URL: img.URL, RevisedPrompt: img.RevisedPrompt}
	if out.URL == "" && img.B64JSON != "" {
		out.URL = "data:image/png;base64," + img.B64JSON
	}
	if out.URL == "" {
		return nil, errors.New("invalid response generated")
	}
	return out, nil
}

// ImageGeneratorTool creates the image_generator tool.
func ImageGeneratorTool(client ImageClient, logger *slog.Logger) packs.Tool {
	if logger == nil {
		logger = slog.Default()
	}
	h := &imageHandler{client: client, logger: logger.With("component", "image_generator")}
	return &packs.FuncTool{
		Def: packs.Descriptor{
			Name: "image_generator",
			Description: "Generates an image from a prompt with an AI image model. " +
				"The image is attached to your reply automatically; do not include its URL in the reply text.",
			Parameters: schema.Object("parameters", "arguments",
				schema.String("prompt", "Prompt for the image generation model, describing the picture in detail."),
			),
		},
		Handler: h.Generate,
	}
}

type imageHandler struct {
	client ImageClient
	logger *slog.Logger
}

type imageArgs struct {
	Prompt string `json:"prompt"`
}

type imageResult struct {
	Success       bool   `json:"success,omitempty"`
	RevisedPrompt string `json:"revised_prompt,omitempty"`
	Error         string `json:"error,omitempty"`
}

func (h *imageHandler) Generate(ctx context.Context, _ string, args json.RawMessage) (*packs.Result, error) {
	var in imageArgs
	if err := packs.DecodeArgs(args, &in); err != nil {
		return nil, err
	}
	if strings.TrimSpace(in.Prompt) == "" {
		return packs.JSONResult(imageResult{Error: "prompt is empty"})
	}

	h.logger.Info("generating image", "prompt", in.Prompt)
	img, err := h.client.Generate(ctx, in.Prompt)
	if err != nil {
		h.logger.Warn("image generation failed", "error", err)
		return packs.JSONResult(imageResult{Error: err.Error()})
	}

	revised := img.RevisedPrompt
	if revised == "" {
		revised = in.Prompt
	}
	return packs.JSONResult(
		imageResult{Success: true, RevisedPrompt: revised},
		conversation.ImageAttachment{URL: img.URL, Description: revised},
	)
}
