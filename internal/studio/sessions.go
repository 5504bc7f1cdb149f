package studio

import (
	"context"
	"sync"
	"time"

	"genai-studio/common"
	"genai-studio/internal/intake"

	"github.com/google/uuid"
)

type sessionEntry struct {
	ctrl     *Controller
	lastSeen time.Time
}

// Sessions 浏览器会话到控制器的映射，状态只在进程内存中
type Sessions struct {
	gen      Generator
	previews *intake.PreviewStore
	idle     time.Duration
	now      func() time.Time

	mu    sync.Mutex
	items map[string]*sessionEntry
}

// NewSessions 创建会话表，空闲超过 idle 的会话会被回收
func NewSessions(gen Generator, previews *intake.PreviewStore, idle time.Duration) *Sessions {
	return &Sessions{
		gen:      gen,
		previews: previews,
		idle:     idle,
		now:      time.Now,
		items:    make(map[string]*sessionEntry),
	}
}

// Get 返回会话对应的控制器；id 为空或不存在时新建会话
func (s *Sessions) Get(id string) (*Controller, string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.items[id]; ok && id != "" {
		e.lastSeen = s.now()
		return e.ctrl, id
	}

	id = uuid.New().String()
	ctrl := NewController(s.gen, s.previews)
	s.items[id] = &sessionEntry{ctrl: ctrl, lastSeen: s.now()}
	common.WithField("session", id).Debug("Session created")
	return ctrl, id
}

// Len 当前会话数量
func (s *Sessions) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

// Sweep 回收空闲会话并释放其预览句柄
// 正在生成或仍有订阅者的会话不会被回收
func (s *Sessions) Sweep() int {
	s.mu.Lock()
	var expired []*Controller
	cutoff := s.now().Add(-s.idle)
	for id, e := range s.items {
		if e.lastSeen.After(cutoff) || e.ctrl.Busy() || e.ctrl.Subscribers() > 0 {
			continue
		}
		delete(s.items, id)
		expired = append(expired, e.ctrl)
	}
	s.mu.Unlock()

	for _, ctrl := range expired {
		ctrl.Close()
	}
	if len(expired) > 0 {
		common.WithField("count", len(expired)).Info("Idle sessions released")
	}
	return len(expired)
}

// Run 定期回收空闲会话，直到 ctx 结束
func (s *Sessions) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep()
		}
	}
}
