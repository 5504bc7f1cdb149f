package studio

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"genai-studio/common"
	"genai-studio/internal/genai/gemini"
	"genai-studio/internal/intake"
)

// Generator 生成客户端，gemini.GeminiClient 实现了该接口
type Generator interface {
	Generate(ctx context.Context, prompt string, attachments []*intake.Attachment) (string, error)
}

// SlotView 槽位的只读视图
type SlotView struct {
	Index    int    `json:"index"`
	ID       string `json:"id"`
	FileName string `json:"file_name"`
	MIMEType string `json:"mime_type"`
	Size     int64  `json:"size"`
	Preview  string `json:"preview"`
}

// Snapshot 推送给视图的不可变状态快照
type Snapshot struct {
	Status    Status      `json:"status"`
	Prompt    string      `json:"prompt"`
	Slots     []*SlotView `json:"slots"`
	Result    *Result     `json:"result,omitempty"`
	Error     string      `json:"error,omitempty"`
	Notice    string      `json:"notice,omitempty"`
	CanSubmit bool        `json:"can_submit"`
	Revision  uint64      `json:"revision"`
}

// Controller 持有一个会话的状态，所有状态变化都经过 Reduce
type Controller struct {
	gen      Generator
	previews *intake.PreviewStore
	now      func() time.Time

	mu     sync.Mutex
	state  State
	subs   map[chan Snapshot]struct{}
	closed bool

	// inFlight 单槽占位：同一时刻最多一个生成请求
	inFlight atomic.Bool
	wg       sync.WaitGroup
}

// NewController 创建会话控制器
func NewController(gen Generator, previews *intake.PreviewStore) *Controller {
	if previews == nil {
		previews = intake.NewPreviewStore()
	}
	return &Controller{
		gen:      gen,
		previews: previews,
		now:      time.Now,
		state:    State{Status: StatusIdle},
		subs:     make(map[chan Snapshot]struct{}),
	}
}

// State 返回当前状态的副本
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Snapshot 返回当前状态的快照
func (c *Controller) Snapshot() Snapshot {
	return snapshotOf(c.State())
}

// Busy 是否有生成请求在进行中
func (c *Controller) Busy() bool {
	return c.inFlight.Load()
}

// SetPrompt 修改提示词
func (c *Controller) SetPrompt(prompt string) Snapshot {
	snap, _ := c.dispatch(SetPrompt{Prompt: prompt})
	return snap
}

// LoadExample 填入示例提示词
func (c *Controller) LoadExample() Snapshot {
	snap, _ := c.dispatch(LoadExample{})
	return snap
}

// Attach 把附件放入槽位，分配新预览句柄并释放被替换附件的句柄
func (c *Controller) Attach(slot int, att *intake.Attachment) (Snapshot, error) {
	if att == nil {
		return c.Snapshot(), fmt.Errorf("attachment is required")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	// 回收后不再分配句柄，否则没有人会释放它
	if c.closed {
		return snapshotOf(c.state), ErrSessionClosed
	}
	prev := c.slotLocked(slot)
	c.previews.Acquire(att)
	next, err := Reduce(c.state, Attach{Slot: slot, Attachment: att})
	if err != nil {
		c.previews.Release(att)
		return snapshotOf(c.state), err
	}
	c.previews.Release(prev)
	return c.commitLocked(next), nil
}

// Detach 移除槽位中的附件并释放其预览句柄
func (c *Controller) Detach(slot int) (Snapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	prev := c.slotLocked(slot)
	next, err := Reduce(c.state, Detach{Slot: slot})
	if err != nil {
		return snapshotOf(c.state), err
	}
	c.previews.Release(prev)
	return c.commitLocked(next), nil
}

// Submit 进入 loading 并在后台发起生成
// 生成不绑定调用方的 context：提交后一直运行到成功或失败
func (c *Controller) Submit() (Snapshot, error) {
	if !c.inFlight.CompareAndSwap(false, true) {
		return c.Snapshot(), ErrBusy
	}

	c.mu.Lock()
	if c.closed {
		c.inFlight.Store(false)
		snap := snapshotOf(c.state)
		c.mu.Unlock()
		return snap, ErrSessionClosed
	}
	next, err := Reduce(c.state, Submit{})
	if err != nil {
		c.inFlight.Store(false)
		snap := snapshotOf(c.state)
		if next.Revision != c.state.Revision {
			snap = c.commitLocked(next)
		}
		c.mu.Unlock()
		return snap, err
	}

	attachments := next.Attachments()
	prompt, _ := EffectivePrompt(next.Prompt, len(attachments))
	snap := c.commitLocked(next)
	c.wg.Add(1)
	c.mu.Unlock()

	common.WithFields(map[string]interface{}{
		"attachments":    len(attachments),
		"default_prompt": prompt == DefaultPrompt,
	}).Info("Generation submitted")

	go c.run(prompt, attachments)
	return snap, nil
}

func (c *Controller) run(prompt string, attachments []*intake.Attachment) {
	defer c.wg.Done()
	defer c.inFlight.Store(false)

	image, err := c.gen.Generate(context.Background(), prompt, attachments)

	var ev Event
	if err != nil {
		common.WithError(err).Warn("Generation failed")
		ev = Reject{Message: gemini.Message(err)}
	} else {
		ev = Resolve{ImageURL: image, Prompt: prompt, At: c.now()}
	}
	if _, err := c.dispatch(ev); err != nil {
		common.WithError(err).Error("Failed to apply generation outcome")
	}
}

// Wait 等待进行中的生成结束
func (c *Controller) Wait() {
	c.wg.Wait()
}

// Subscribe 订阅状态快照，先收到当前快照
// 返回的取消函数负责关闭通道
func (c *Controller) Subscribe() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 16)

	c.mu.Lock()
	c.subs[ch] = struct{}{}
	ch <- snapshotOf(c.state)
	c.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.subs, ch)
			close(ch)
			c.mu.Unlock()
		})
	}
}

// Subscribers 当前订阅者数量
func (c *Controller) Subscribers() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.subs)
}

// Close 释放会话持有的所有预览句柄，之后 Attach 和 Submit 都会失败
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	for _, att := range c.state.Slots {
		c.previews.Release(att)
	}
}

// Preview 只返回属于本会话槽位的预览内容
func (c *Controller) Preview(id string) (mimeType string, data []byte, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed || id == "" {
		return "", nil, false
	}
	for _, att := range c.state.Slots {
		if att != nil && att.ID == id {
			return c.previews.Get(id)
		}
	}
	return "", nil, false
}

func (c *Controller) dispatch(ev Event) (Snapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	next, err := Reduce(c.state, ev)
	if err != nil {
		return snapshotOf(c.state), err
	}
	return c.commitLocked(next), nil
}

func (c *Controller) slotLocked(slot int) *intake.Attachment {
	if slot < 0 || slot >= SlotCount {
		return nil
	}
	return c.state.Slots[slot]
}

// commitLocked 写入新状态并通知订阅者，调用方持有 c.mu
func (c *Controller) commitLocked(next State) Snapshot {
	c.state = next
	snap := snapshotOf(next)
	for ch := range c.subs {
		publish(ch, snap)
	}
	return snap
}

// publish 订阅者跟不上时丢弃最旧的快照，保证最新状态能送达
func publish(ch chan Snapshot, snap Snapshot) {
	select {
	case ch <- snap:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- snap:
	default:
	}
}

func snapshotOf(s State) Snapshot {
	slots := make([]*SlotView, SlotCount)
	for i, att := range s.Slots {
		if att == nil {
			continue
		}
		slots[i] = &SlotView{
			Index:    i,
			ID:       att.ID,
			FileName: att.FileName,
			MIMEType: att.MIMEType,
			Size:     att.Size,
			Preview:  att.Preview,
		}
	}
	var result *Result
	if s.Result != nil {
		r := *s.Result
		result = &r
	}
	return Snapshot{
		Status:    s.Status,
		Prompt:    s.Prompt,
		Slots:     slots,
		Result:    result,
		Error:     s.Error,
		Notice:    s.Notice,
		CanSubmit: s.CanSubmit(),
		Revision:  s.Revision,
	}
}
