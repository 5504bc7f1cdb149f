package intake

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"genai-studio/internal/utils"

	"github.com/google/uuid"
)

var (
	// ErrEmptyFile 上传的文件没有内容
	ErrEmptyFile = errors.New("file is empty")
	// ErrNotImage 上传的文件不是图片
	ErrNotImage = errors.New("file is not an image")
	// ErrTooLarge 上传的文件超过大小限制
	ErrTooLarge = errors.New("file exceeds upload limit")
)

// Attachment 用户上传图片在内存中的表示
type Attachment struct {
	ID       string
	FileName string
	Size     int64
	MIMEType string
	// EncodedData 自描述的 data URI: data:<mime>;base64,<payload>
	EncodedData string
	// Preview 预览句柄，由 PreviewStore 分配，未分配时为空
	Preview string

	data []byte
}

// Data 返回图片原始数据
func (a *Attachment) Data() []byte {
	return a.data
}

// Payload 返回去掉 MIME 前缀后的 base64 数据
func (a *Attachment) Payload() string {
	_, payload, err := utils.SplitDataURI(a.EncodedData)
	if err != nil {
		return ""
	}
	return payload
}

// FromReader 读取文件内容并生成 Attachment
// declaredMIME 为客户端声明的类型，不是 image/* 时通过内容嗅探确定
// limit 大于 0 时限制文件大小
func FromReader(name, declaredMIME string, r io.Reader, limit int64) (*Attachment, error) {
	if limit > 0 {
		r = io.LimitReader(r, limit+1)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read file %q: %w", name, err)
	}
	if limit > 0 && int64(len(data)) > limit {
		return nil, fmt.Errorf("%w: %q is larger than %d bytes", ErrTooLarge, name, limit)
	}
	return FromBytes(name, declaredMIME, data)
}

// FromBytes 根据已读取的数据生成 Attachment
func FromBytes(name, declaredMIME string, data []byte) (*Attachment, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: %q", ErrEmptyFile, name)
	}

	mimeType := resolveMIMEType(declaredMIME, data)
	if !strings.HasPrefix(mimeType, "image/") {
		return nil, fmt.Errorf("%w: %q detected as %s", ErrNotImage, name, mimeType)
	}

	return &Attachment{
		ID:          uuid.New().String(),
		FileName:    name,
		Size:        int64(len(data)),
		MIMEType:    mimeType,
		EncodedData: utils.EncodeDataURI(mimeType, data),
		data:        bytes.Clone(data),
	}, nil
}

// FromDataURI 由 data URI 生成 Attachment
func FromDataURI(name, dataURI string) (*Attachment, error) {
	mimeType, data, err := utils.DecodeDataURI(dataURI)
	if err != nil {
		return nil, err
	}
	return FromBytes(name, mimeType, data)
}

// FromFileHeader 读取 multipart 上传的文件
func FromFileHeader(fh *multipart.FileHeader, limit int64) (*Attachment, error) {
	if limit > 0 && fh.Size > limit {
		return nil, fmt.Errorf("%w: %q is larger than %d bytes", ErrTooLarge, fh.Filename, limit)
	}
	f, err := fh.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open upload %q: %w", fh.Filename, err)
	}
	defer f.Close()

	return FromReader(fh.Filename, fh.Header.Get("Content-Type"), f, limit)
}

// resolveMIMEType 优先使用声明的 image/* 类型，否则嗅探内容
func resolveMIMEType(declared string, data []byte) string {
	declared, _, _ = strings.Cut(declared, ";")
	declared = strings.ToLower(strings.TrimSpace(declared))
	if strings.HasPrefix(declared, "image/") {
		return declared
	}
	sniffed, _, _ := strings.Cut(http.DetectContentType(data), ";")
	return sniffed
}
