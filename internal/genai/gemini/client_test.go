package gemini

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"genai-studio/internal/intake"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"
)

var validPNG = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x02\x00\x00\x00\x90w\x53\xde")

func newAttachment(t *testing.T, name, mimeType string, data []byte) *intake.Attachment {
	t.Helper()
	att, err := intake.FromReader(name, mimeType, bytes.NewReader(data), 0)
	require.NoError(t, err)
	return att
}

func TestClient_Generate(t *testing.T) {
	ctx := context.Background()
	cfg := Config{ModelName: "gemini-2.5-flash-image"}

	t.Run("images come first and the prompt is the last part", func(t *testing.T) {
		models := &mockModels{}
		client := newClientWithModels(models, cfg)
		church := newAttachment(t, "church.png", "image/png", validPNG)
		car := newAttachment(t, "vf6.jpg", "image/jpeg", []byte("jpeg-bytes"))

		_, err := client.Generate(ctx, "merge them", []*intake.Attachment{church, car})
		require.NoError(t, err)

		require.Equal(t, 1, models.calls)
		assert.Equal(t, "gemini-2.5-flash-image", models.lastModel)
		require.Len(t, models.lastContents, 1)
		parts := models.lastContents[0].Parts
		require.Len(t, parts, 3)

		assert.Equal(t, "image/png", parts[0].InlineData.MIMEType)
		assert.Equal(t, validPNG, parts[0].InlineData.Data)
		assert.Equal(t, "image/jpeg", parts[1].InlineData.MIMEType)
		assert.Equal(t, []byte("jpeg-bytes"), parts[1].InlineData.Data)
		assert.Nil(t, parts[2].InlineData)
		assert.Equal(t, "merge them", parts[2].Text)

		require.NotNil(t, models.lastConfig)
		assert.Equal(t, []string{"IMAGE"}, models.lastConfig.ResponseModalities)
	})

	t.Run("text only request carries exactly one part", func(t *testing.T) {
		models := &mockModels{}
		client := newClientWithModels(models, cfg)

		_, err := client.Generate(ctx, "a yellow taxi", nil)
		require.NoError(t, err)
		parts := models.lastContents[0].Parts
		require.Len(t, parts, 1)
		assert.Equal(t, "a yellow taxi", parts[0].Text)
	})

	t.Run("outbound payload matches the attachment payload", func(t *testing.T) {
		models := &mockModels{}
		client := newClientWithModels(models, cfg)
		att := newAttachment(t, "church.png", "", validPNG)

		_, err := client.Generate(ctx, "edit", []*intake.Attachment{att})
		require.NoError(t, err)

		sent := models.lastContents[0].Parts[0].InlineData.Data
		assert.Equal(t, att.Payload(), base64.StdEncoding.EncodeToString(sent))
	})

	t.Run("response is wrapped into a png data URI", func(t *testing.T) {
		models := &mockModels{
			generateFunc: func(string, []*genai.Content, *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
				// "AAAA" 对应 3 个零字节
				return imageResponse("image/png", []byte{0, 0, 0}), nil
			},
		}
		client := newClientWithModels(models, cfg)

		image, err := client.Generate(ctx, "edit", nil)
		require.NoError(t, err)
		assert.Equal(t, "data:image/png;base64,AAAA", image)
	})

	t.Run("missing mime type defaults to png", func(t *testing.T) {
		models := &mockModels{
			generateFunc: func(string, []*genai.Content, *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
				return imageResponse("", []byte{0, 0, 0}), nil
			},
		}
		image, err := newClientWithModels(models, cfg).Generate(ctx, "edit", nil)
		require.NoError(t, err)
		assert.Equal(t, "data:image/png;base64,AAAA", image)
	})

	t.Run("transport errors are wrapped", func(t *testing.T) {
		apiErr := errors.New("permission denied")
		models := &mockModels{
			generateFunc: func(string, []*genai.Content, *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
				return nil, apiErr
			},
		}
		_, err := newClientWithModels(models, cfg).Generate(ctx, "edit", nil)
		assert.ErrorIs(t, err, apiErr)
		assert.Contains(t, err.Error(), "failed to generate image")
		assert.Equal(t, apiErr.Error(), Message(err), "service message is shown verbatim")
	})

	t.Run("invalid input never reaches the API", func(t *testing.T) {
		models := &mockModels{}
		client := newClientWithModels(models, cfg)
		att := newAttachment(t, "a.png", "", validPNG)

		_, err := client.Generate(ctx, "   ", nil)
		assert.ErrorIs(t, err, ErrEmptyPrompt)

		_, err = client.Generate(ctx, "edit", []*intake.Attachment{att, att, att})
		assert.ErrorIs(t, err, ErrTooManyAttachments)

		broken := *att
		broken.EncodedData = "garbage"
		_, err = client.Generate(ctx, "edit", []*intake.Attachment{&broken})
		assert.Error(t, err)

		assert.Equal(t, 0, models.calls)
	})

	t.Run("deadline only when configured", func(t *testing.T) {
		models := &mockModels{}
		_, err := newClientWithModels(models, cfg).Generate(ctx, "edit", nil)
		require.NoError(t, err)
		_, hasDeadline := models.lastCtx.Deadline()
		assert.False(t, hasDeadline)

		timed := cfg
		timed.Timeout = time.Minute
		_, err = newClientWithModels(models, timed).Generate(ctx, "edit", nil)
		require.NoError(t, err)
		_, hasDeadline = models.lastCtx.Deadline()
		assert.True(t, hasDeadline)
	})
}

func TestDecodeImage(t *testing.T) {
	tests := []struct {
		name string
		resp *genai.GenerateContentResponse
	}{
		{"nil response", nil},
		{"no candidates", &genai.GenerateContentResponse{}},
		{"no content", &genai.GenerateContentResponse{Candidates: []*genai.Candidate{{FinishReason: genai.FinishReasonSafety}}}},
		{"text only", &genai.GenerateContentResponse{Candidates: []*genai.Candidate{{
			Content: &genai.Content{Parts: []*genai.Part{{Text: "I can't do that"}}},
		}}}},
		{"image is not the first part", &genai.GenerateContentResponse{Candidates: []*genai.Candidate{{
			Content: &genai.Content{Parts: []*genai.Part{
				{Text: "here you go"},
				{InlineData: &genai.Blob{MIMEType: "image/png", Data: []byte{1}}},
			}},
		}}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeImage(tt.resp)
			assert.ErrorIs(t, err, ErrNoImage)
		})
	}

	image, err := DecodeImage(imageResponse("image/jpeg", []byte("jpg")))
	require.NoError(t, err)
	assert.Equal(t, "data:image/jpeg;base64,anBn", image)
}

func TestNewClient_MissingAPIKey(t *testing.T) {
	_, err := NewClient(context.Background(), Config{ModelName: "m"})
	assert.ErrorIs(t, err, ErrMissingAPIKey)
	assert.Equal(t, "API Key not found in environment variables", Message(err))
}

func TestMessage(t *testing.T) {
	assert.Equal(t, "", Message(nil))
	assert.Equal(t, "Failed to generate image", Message(errors.New("  ")))
	assert.Equal(t, ErrNoImage.Error(), Message(ErrNoImage))

	sdkErr := errors.New("API key not valid. Please pass a valid API key.")
	wrapped := fmt.Errorf("outer: %w", fmt.Errorf("failed to generate image: %w", sdkErr))
	assert.Equal(t, "API key not valid. Please pass a valid API key.", Message(wrapped))
	assert.Equal(t, "Failed to generate image", Message(fmt.Errorf("failed to generate image: %w", errors.New(""))))
}

func TestGeminiClient_LazyConstruction(t *testing.T) {
	ctx := context.Background()
	models := &mockModels{}
	attempts := 0
	key := ""

	g := &GeminiClient{
		cfg: Config{ModelName: "m"},
		newClient: func(ctx context.Context, cfg Config) (*Client, error) {
			attempts++
			if key == "" {
				return nil, ErrMissingAPIKey
			}
			return newClientWithModels(models, cfg), nil
		},
	}

	_, err := g.Generate(ctx, "edit", nil)
	assert.ErrorIs(t, err, ErrMissingAPIKey)

	key = "now-configured"
	_, err = g.Generate(ctx, "edit", nil)
	require.NoError(t, err)
	_, err = g.Generate(ctx, "edit again", nil)
	require.NoError(t, err)

	assert.Equal(t, 2, attempts, "client is built once after the first success")
	assert.Equal(t, 2, models.calls)
}

func TestGeminiClient_GenerateFromSources(t *testing.T) {
	ctx := context.Background()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(validPNG)
	}))
	defer srv.Close()

	models := &mockModels{}
	g := &GeminiClient{
		cfg: Config{ModelName: "m"},
		newClient: func(ctx context.Context, cfg Config) (*Client, error) {
			return newClientWithModels(models, cfg), nil
		},
	}

	dataURI := "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString([]byte("jpeg-bytes"))
	_, err := g.GenerateFromSources(ctx, "merge", []string{dataURI, "", srv.URL + "/church.png"})
	require.NoError(t, err)

	parts := models.lastContents[0].Parts
	require.Len(t, parts, 3)
	assert.Equal(t, []byte("jpeg-bytes"), parts[0].InlineData.Data)
	assert.Equal(t, validPNG, parts[1].InlineData.Data)
	assert.Equal(t, "merge", parts[2].Text)

	_, err = g.GenerateFromSources(ctx, "merge", []string{"ftp://nope"})
	assert.Error(t, err)
	assert.Equal(t, 1, models.calls)
}
