package utils

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// DefaultImageMIMEType 响应未声明 MIME 类型时使用的默认值
const DefaultImageMIMEType = "image/png"

// ErrInvalidDataURI data URI 格式不正确
var ErrInvalidDataURI = errors.New("invalid data URI")

// EncodeDataURI 把图片数据编码为 data:<mime>;base64,<payload>
func EncodeDataURI(mimeType string, data []byte) string {
	return WrapBase64(mimeType, base64.StdEncoding.EncodeToString(data))
}

// WrapBase64 把已经是 base64 的数据加上 data URI 前缀
// mimeType 为空时使用 image/png
func WrapBase64(mimeType, payload string) string {
	if mimeType == "" {
		mimeType = DefaultImageMIMEType
	}
	return fmt.Sprintf("data:%s;base64,%s", mimeType, payload)
}

// SplitDataURI 拆分 data URI，返回 MIME 类型和去掉前缀后的 base64 数据
func SplitDataURI(dataURI string) (mimeType string, payload string, err error) {
	if !strings.HasPrefix(dataURI, "data:") {
		return "", "", fmt.Errorf("%w: missing data: scheme", ErrInvalidDataURI)
	}
	header, payload, ok := strings.Cut(dataURI, ",")
	if !ok {
		return "", "", fmt.Errorf("%w: missing payload separator", ErrInvalidDataURI)
	}
	if !strings.HasSuffix(header, ";base64") {
		return "", "", fmt.Errorf("%w: payload is not base64", ErrInvalidDataURI)
	}
	mimeType = strings.TrimSuffix(strings.TrimPrefix(header, "data:"), ";base64")
	return mimeType, payload, nil
}

// DecodeDataURI 解析 data URI，返回 MIME 类型和原始数据
func DecodeDataURI(dataURI string) (string, []byte, error) {
	mimeType, payload, err := SplitDataURI(dataURI)
	if err != nil {
		return "", nil, err
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrInvalidDataURI, err)
	}
	return mimeType, data, nil
}

// IsDataURI 判断字符串是否为 data URI
func IsDataURI(s string) bool {
	return strings.HasPrefix(s, "data:")
}

// IsHTTPURL 判断字符串是否为 http(s) URL
func IsHTTPURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}

// DownloadImageFromURL 从 URL 下载图片，返回图片数据和 MIME 类型
// limit 大于 0 时限制读取的字节数
func DownloadImageFromURL(ctx context.Context, url string, limit int64) ([]byte, string, error) {
	client := &http.Client{
		Timeout: 30 * time.Second,
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", err
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("failed to download image: status code %d", resp.StatusCode)
	}

	var body io.Reader = resp.Body
	if limit > 0 {
		body = io.LimitReader(resp.Body, limit+1)
	}
	imageData, err := io.ReadAll(body)
	if err != nil {
		return nil, "", err
	}
	if limit > 0 && int64(len(imageData)) > limit {
		return nil, "", fmt.Errorf("image exceeds %d bytes", limit)
	}

	// Content-Type 可能带参数，例如 image/png; charset=binary
	mimeType, _, _ := strings.Cut(resp.Header.Get("Content-Type"), ";")
	mimeType = strings.TrimSpace(mimeType)
	if mimeType == "" {
		mimeType = InferMimeTypeFromURL(url)
	}

	return imageData, mimeType, nil
}

// InferMimeTypeFromURL 从 URL 推断 MIME 类型（不区分大小写）
func InferMimeTypeFromURL(url string) string {
	lower := strings.ToLower(url)
	switch {
	case strings.HasSuffix(lower, ".jpg"), strings.HasSuffix(lower, ".jpeg"):
		return "image/jpeg"
	case strings.HasSuffix(lower, ".png"):
		return "image/png"
	case strings.HasSuffix(lower, ".gif"):
		return "image/gif"
	case strings.HasSuffix(lower, ".webp"):
		return "image/webp"
	}
	// 默认返回 jpeg
	return "image/jpeg"
}

// DownloadFileName 生成下载文件名：<prefix>-<epoch-millis>.png
func DownloadFileName(prefix string, now time.Time) string {
	return fmt.Sprintf("%s-%d.png", prefix, now.UnixMilli())
}

// TruncateForLog 截断长字符串用于日志，避免打印过长内容（如 base64）
func TruncateForLog(s string, max int) string {
	if len(s) <= max {
		return s
	}
	if max <= 3 {
		return s[:max]
	}
	return s[:max-3] + "..."
}
