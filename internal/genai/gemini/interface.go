package gemini

import (
	"context"

	"genai-studio/internal/intake"
)

type GeminiIface interface {
	// Generate 根据提示词和最多两张附件生成图片，返回 data URI
	Generate(ctx context.Context, prompt string, attachments []*intake.Attachment) (string, error)
	// GenerateFromSources 与 Generate 相同，图片来源为 data URI 或 http(s) URL
	GenerateFromSources(ctx context.Context, prompt string, sources []string) (string, error)
}
