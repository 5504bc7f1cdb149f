package gemini

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"genai-studio/common"
	"genai-studio/internal/intake"
	"genai-studio/internal/utils"

	"google.golang.org/genai"
)

// MaxAttachments 单次请求最多携带的图片数量
const MaxAttachments = 2

// fallbackMessage 错误没有可读信息时展示给用户的文案
const fallbackMessage = "Failed to generate image"

var (
	// ErrMissingAPIKey 未配置 API Key
	ErrMissingAPIKey = errors.New("API Key not found in environment variables")
	// ErrNoImage 响应中没有图片（模型拒绝或内部错误，调用方无法区分）
	ErrNoImage = errors.New("No image was generated. The model might have refused the prompt or encountered an error.")
	// ErrEmptyPrompt 提示词为空
	ErrEmptyPrompt = errors.New("prompt is required")
	// ErrTooManyAttachments 附件超过上限
	ErrTooManyAttachments = fmt.Errorf("at most %d images are supported", MaxAttachments)
)

// contentGenerator 对应 genai.Models 的 GenerateContent，便于测试替换
type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// Client Gemini 客户端实现
type Client struct {
	models  contentGenerator
	model   string
	timeout time.Duration
}

// Config Gemini 客户端配置
type Config struct {
	APIKey    string        // API Key
	BaseURL   string        // 自定义 Base URL，如果为空则使用默认值
	ModelName string        // 模型名称，例如：gemini-2.5-flash-image
	Timeout   time.Duration // 请求超时时间，0 表示不设置
}

// NewClient 创建新的 Gemini 客户端
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, ErrMissingAPIKey
	}
	if cfg.ModelName == "" {
		return nil, fmt.Errorf("model name is required")
	}

	clientConfig := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.BaseURL != "" {
		clientConfig.HTTPOptions = genai.HTTPOptions{
			BaseURL: cfg.BaseURL,
		}
	}

	client, err := genai.NewClient(ctx, clientConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}

	return newClientWithModels(client.Models, cfg), nil
}

func newClientWithModels(models contentGenerator, cfg Config) *Client {
	return &Client{
		models:  models,
		model:   cfg.ModelName,
		timeout: cfg.Timeout,
	}
}

// Generate 图片生成/编辑：图片在前、提示词在后，只接受图片输出
func (c *Client) Generate(ctx context.Context, prompt string, attachments []*intake.Attachment) (string, error) {
	parts, err := BuildParts(prompt, attachments)
	if err != nil {
		return "", err
	}

	common.WithFields(map[string]interface{}{
		"model":       c.model,
		"prompt":      utils.TruncateForLog(prompt, 120),
		"attachments": len(attachments),
	}).Debug("Starting image generation")

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	contents := []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}
	result, err := c.models.GenerateContent(ctx, c.model, contents, &genai.GenerateContentConfig{
		ResponseModalities: []string{string(genai.ModalityImage)},
	})
	if err != nil {
		common.WithError(err).WithFields(map[string]interface{}{
			"model":       c.model,
			"attachments": len(attachments),
		}).Error("Failed to generate image from Gemini API")
		return "", fmt.Errorf("failed to generate image: %w", err)
	}

	image, err := DecodeImage(result)
	if err != nil {
		common.WithField("model", c.model).Error("No image data found in Gemini response")
		return "", err
	}

	common.WithFields(map[string]interface{}{
		"model":  c.model,
		"length": len(image),
	}).Debug("Image generated successfully")
	return image, nil
}

// BuildParts 构建请求内容：每个附件一个 InlineData，最后是一个文本 Part
func BuildParts(prompt string, attachments []*intake.Attachment) ([]*genai.Part, error) {
	if strings.TrimSpace(prompt) == "" {
		return nil, ErrEmptyPrompt
	}
	if len(attachments) > MaxAttachments {
		return nil, ErrTooManyAttachments
	}

	parts := make([]*genai.Part, 0, len(attachments)+1)
	for i, att := range attachments {
		if att == nil {
			return nil, fmt.Errorf("attachment %d is nil", i)
		}
		if att.MIMEType == "" {
			return nil, fmt.Errorf("attachment %q has no MIME type", att.FileName)
		}
		// API 需要去掉 data URI 前缀的原始数据
		_, data, err := utils.DecodeDataURI(att.EncodedData)
		if err != nil {
			return nil, fmt.Errorf("attachment %q: %w", att.FileName, err)
		}
		parts = append(parts, &genai.Part{
			InlineData: &genai.Blob{
				MIMEType: att.MIMEType,
				Data:     data,
			},
		})
	}

	parts = append(parts, genai.NewPartFromText(prompt))
	return parts, nil
}

// DecodeImage 只看第一个候选的第一个 Part，必须是内联图片数据
// 未声明 MIME 类型时按 image/png 处理
func DecodeImage(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 {
		return "", ErrNoImage
	}
	candidate := resp.Candidates[0]
	if candidate == nil || candidate.Content == nil || len(candidate.Content.Parts) == 0 {
		return "", ErrNoImage
	}
	part := candidate.Content.Parts[0]
	if part == nil || part.InlineData == nil || len(part.InlineData.Data) == 0 {
		return "", ErrNoImage
	}
	return utils.EncodeDataURI(part.InlineData.MIMEType, part.InlineData.Data), nil
}

// Message 把错误转换为展示给用户的文案
// 包装层只用于日志，用户看到的是最内层错误的原文
func Message(err error) string {
	if err == nil {
		return ""
	}
	root := err
	for next := errors.Unwrap(root); next != nil; next = errors.Unwrap(root) {
		root = next
	}
	if msg := strings.TrimSpace(root.Error()); msg != "" {
		return msg
	}
	return fallbackMessage
}
