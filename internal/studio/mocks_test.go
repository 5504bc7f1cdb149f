package studio

import (
	"context"
	"sync"

	"genai-studio/internal/intake"
)

type generateCall struct {
	prompt      string
	attachments []*intake.Attachment
}

// mockGenerator 实现 Generator；设置 release 时会阻塞到收到信号
type mockGenerator struct {
	generateFunc func(prompt string, attachments []*intake.Attachment) (string, error)
	release      chan struct{}
	started      chan struct{}

	mu    sync.Mutex
	calls []generateCall
}

func (m *mockGenerator) Generate(ctx context.Context, prompt string, attachments []*intake.Attachment) (string, error) {
	m.mu.Lock()
	m.calls = append(m.calls, generateCall{prompt: prompt, attachments: attachments})
	m.mu.Unlock()

	if m.started != nil {
		m.started <- struct{}{}
	}
	if m.release != nil {
		<-m.release
	}
	if m.generateFunc != nil {
		return m.generateFunc(prompt, attachments)
	}
	return "data:image/png;base64,AAAA", nil
}

func (m *mockGenerator) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

func (m *mockGenerator) lastCall() generateCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[len(m.calls)-1]
}
