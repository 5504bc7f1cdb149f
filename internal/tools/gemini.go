package tools

import (
	"context"
	"fmt"

	"genai-studio/common"
	"genai-studio/internal/genai/gemini"
	"genai-studio/internal/studio"
	"genai-studio/internal/utils"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// MergeImagesTool 工具名
const MergeImagesTool = "gemini_merge_images"

// RegisterGeminiTools 注册 Gemini 图片合成的 MCP tool
func RegisterGeminiTools(s *server.MCPServer, geminiClient gemini.GeminiIface) error {
	mergeTool := mcp.NewTool(
		MergeImagesTool,
		mcp.WithDescription("Merge or edit up to two images with Gemini based on a text prompt. "+
			"Images are optional data URIs or http(s) URLs; when the prompt is empty the built-in example prompt is used. "+
			"At least one image or a prompt is required. Returns the generated image."),
		mcp.WithString("prompt",
			mcp.Description("Text instructions describing how to edit or merge the images"),
		),
		mcp.WithString("image_1",
			mcp.Description("Background image as a data URI or http(s) URL"),
		),
		mcp.WithString("image_2",
			mcp.Description("Object or reference image as a data URI or http(s) URL"),
		),
	)

	s.AddTool(mergeTool, mergeImagesHandler(geminiClient))
	return nil
}

func mergeImagesHandler(geminiClient gemini.GeminiIface) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		sources := []string{
			req.GetString("image_1", ""),
			req.GetString("image_2", ""),
		}
		count := 0
		for _, src := range sources {
			if src != "" {
				count++
			}
		}

		prompt, err := studio.EffectivePrompt(req.GetString("prompt", ""), count)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		common.WithFields(map[string]interface{}{
			"tool":   MergeImagesTool,
			"images": count,
		}).Info("Tool called")

		imageURL, err := geminiClient.GenerateFromSources(ctx, prompt, sources)
		if err != nil {
			return mcp.NewToolResultError(gemini.Message(err)), nil
		}

		mimeType, payload, err := utils.SplitDataURI(imageURL)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("invalid image returned by model: %v", err)), nil
		}
		return mcp.NewToolResultImage(fmt.Sprintf("Generated image for prompt: %s", prompt), payload, mimeType), nil
	}
}
