package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"google.golang.org/genai"
)

const (
	coverModel = "gemini-2.5-flash-image"
	textModel  = "gemini-2.5-flash"
)

// CoverGenerator produces cover background art. A nil image with a nil error
// means the model answered without an image.
type CoverGenerator interface {
	GenerateCover(ctx context.Context, title, theme string) (data []byte, mimeType string, err error)
}

// TextRefiner rewrites an anecdote. It never fails: on any problem the input
// comes back unchanged.
type TextRefiner interface {
	Refine(ctx context.Context, text string) string
}

type GeminiClient struct {
	client *genai.Client
}

func NewGeminiClient(ctx context.Context, apiKey string) (*GeminiClient, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	return &GeminiClient{client: client}, nil
}

// coverPrompt asks for art only; the title is typeset over it later.
func coverPrompt(title, theme string) string {
	return fmt.Sprintf(`Aesthetic abstract wall art poster for a travel album named %q.
Style: %s, minimalist, vector flat design, or matte painting.
High contrast, vibrant but few colors.
IMPORTANT: NO TEXT, NO LETTERS, NO WORDS in the image. Just art/scenery/patterns.
Vertical aspect ratio.`, title, theme)
}

func refinePrompt(text string) string {
	return fmt.Sprintf("Rewrite the following photo album anecdote to be more nostalgic, poetic, and aesthetic, keeping it under 50 words: %q", text)
}

// themeDescriptor turns a catalog color into something a model can style by.
func themeDescriptor(hex string) string {
	if t, ok := ThemeByHex(hex); ok {
		return fmt.Sprintf("%s (%s)", t.Name, t.Hex)
	}
	return hex
}

func (g *GeminiClient) GenerateCover(ctx context.Context, title, theme string) ([]byte, string, error) {
	if strings.TrimSpace(title) == "" {
		return nil, "", errors.New("a title is required to generate a cover")
	}

	result, err := g.client.Models.GenerateContent(ctx, coverModel, genai.Text(coverPrompt(title, theme)), nil)
	if err != nil {
		return nil, "", fmt.Errorf("gemini API error: %w", err)
	}

	for _, cand := range result.Candidates {
		if cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if part.InlineData != nil && len(part.InlineData.Data) > 0 {
				return part.InlineData.Data, part.InlineData.MIMEType, nil
			}
		}
	}
	return nil, "", nil
}

func (g *GeminiClient) Refine(ctx context.Context, text string) string {
	if strings.TrimSpace(text) == "" {
		return text
	}

	result, err := g.client.Models.GenerateContent(ctx, textModel, genai.Text(refinePrompt(text)), nil)
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("error refining text")
		return text
	}
	if refined := strings.TrimSpace(result.Text()); refined != "" {
		return refined
	}
	return text
}
