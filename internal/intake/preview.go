package intake

import (
	"strings"
	"sync"
)

// PreviewPathPrefix 预览句柄的 URL 前缀
const PreviewPathPrefix = "/preview/"

type previewEntry struct {
	mimeType string
	data     []byte
}

// PreviewStore 管理附件的预览句柄
// 句柄在附件创建时分配，附件被替换、移除或会话结束时释放
type PreviewStore struct {
	mu      sync.RWMutex
	entries map[string]previewEntry
}

// NewPreviewStore 创建预览句柄存储
func NewPreviewStore() *PreviewStore {
	return &PreviewStore{
		entries: make(map[string]previewEntry),
	}
}

// Acquire 为附件分配预览句柄并写回 att.Preview
func (s *PreviewStore) Acquire(att *Attachment) string {
	handle := PreviewPathPrefix + att.ID

	s.mu.Lock()
	s.entries[att.ID] = previewEntry{mimeType: att.MIMEType, data: att.data}
	s.mu.Unlock()

	att.Preview = handle
	return handle
}

// Release 释放附件的预览句柄，重复释放是安全的
func (s *PreviewStore) Release(att *Attachment) {
	if att == nil || att.Preview == "" {
		return
	}
	id := strings.TrimPrefix(att.Preview, PreviewPathPrefix)

	s.mu.Lock()
	delete(s.entries, id)
	s.mu.Unlock()
}

// Get 按附件 ID 查找预览内容
func (s *PreviewStore) Get(id string) (mimeType string, data []byte, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[id]
	if !ok {
		return "", nil, false
	}
	return e.mimeType, e.data, true
}

// Len 返回当前持有的句柄数量
func (s *PreviewStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}
