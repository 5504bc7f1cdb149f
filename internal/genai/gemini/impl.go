package gemini

import (
	"context"
	"fmt"
	"sync"
	"time"

	"genai-studio/common"
	"genai-studio/internal/intake"
	"genai-studio/internal/utils"
)

// GeminiClient 实现 GeminiIface 接口的包装器
// 底层 Client 在第一次生成时才创建，缺少 API Key 只会让当次请求失败
type GeminiClient struct {
	cfg         Config
	uploadLimit int64
	newClient   func(ctx context.Context, cfg Config) (*Client, error)

	mu     sync.Mutex
	client *Client
}

// NewGeminiClientFromConfig 从配置创建 Gemini 客户端
func NewGeminiClientFromConfig(cfg *common.Config) *GeminiClient {
	return &GeminiClient{
		cfg: Config{
			APIKey:    cfg.GenAIAPIKey,
			BaseURL:   cfg.GenAIBaseURL,
			ModelName: cfg.GenAIModelName,
			Timeout:   time.Duration(cfg.GenAITimeoutSeconds) * time.Second,
		},
		uploadLimit: cfg.MaxUploadBytes(),
		newClient:   NewClient,
	}
}

// resolve 返回已创建的客户端，必要时现在创建
func (g *GeminiClient) resolve(ctx context.Context) (*Client, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.client != nil {
		return g.client, nil
	}
	client, err := g.newClient(ctx, g.cfg)
	if err != nil {
		common.WithError(err).Warn("Gemini client is not available")
		return nil, err
	}
	g.client = client
	return client, nil
}

// Generate 实现 GeminiIface 接口的生成方法
func (g *GeminiClient) Generate(ctx context.Context, prompt string, attachments []*intake.Attachment) (string, error) {
	client, err := g.resolve(ctx)
	if err != nil {
		return "", err
	}
	return client.Generate(ctx, prompt, attachments)
}

// GenerateFromSources 把 data URI 或 http(s) URL 转换为附件后生成
func (g *GeminiClient) GenerateFromSources(ctx context.Context, prompt string, sources []string) (string, error) {
	attachments := make([]*intake.Attachment, 0, len(sources))
	for i, src := range sources {
		if src == "" {
			continue
		}
		att, err := g.loadSource(ctx, fmt.Sprintf("image_%d", i+1), src)
		if err != nil {
			common.WithError(err).WithField("source", utils.TruncateForLog(src, 64)).Error("Failed to load image source")
			return "", err
		}
		attachments = append(attachments, att)
	}
	return g.Generate(ctx, prompt, attachments)
}

func (g *GeminiClient) loadSource(ctx context.Context, name, src string) (*intake.Attachment, error) {
	switch {
	case utils.IsDataURI(src):
		return intake.FromDataURI(name, src)
	case utils.IsHTTPURL(src):
		data, mimeType, err := utils.DownloadImageFromURL(ctx, src, g.uploadLimit)
		if err != nil {
			return nil, fmt.Errorf("failed to download image: %w", err)
		}
		return intake.FromBytes(name, mimeType, data)
	default:
		return nil, fmt.Errorf("%s must be a data URI or an http(s) URL", name)
	}
}
