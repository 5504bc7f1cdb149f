package studio

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"genai-studio/internal/intake"
)

// DefaultPrompt 内置示例提示词；提示词为空但有图片时也使用它
const DefaultPrompt = "Ghép ảnh xe VF6 này vào bức ảnh nhà thờ một cách hợp lý, nhìn chân thực, ảnh sắc nét. Sau đó thêm một dòng chữ màu vàng Taxi Tây Ninh 0968 57 51 57"

// 提示文案
const (
	InvalidInputMessage = "Please provide at least one image or a prompt."
	UnexpectedMessage   = "An unexpected error occurred."
)

// SlotCount 输入槽数量：背景图和参考图
const SlotCount = 2

var (
	// ErrInvalidInput 既没有图片也没有提示词
	ErrInvalidInput = errors.New(InvalidInputMessage)
	// ErrBusy 已有生成请求在进行中
	ErrBusy = errors.New("a generation is already in progress")
	// ErrSlot 槽位编号越界
	ErrSlot = errors.New("invalid image slot")
	// ErrUnexpectedEvent 当前状态不接受该事件
	ErrUnexpectedEvent = errors.New("event not allowed in current status")
	// ErrSessionClosed 会话已被回收
	ErrSessionClosed = errors.New("session has been closed")
)

// Status 生成状态
type Status string

const (
	StatusIdle    Status = "idle"
	StatusLoading Status = "loading"
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// Result 一次成功生成的结果，只存在于内存中
type Result struct {
	ImageURL  string    `json:"image_url"`
	Prompt    string    `json:"prompt"`
	CreatedAt time.Time `json:"created_at"`
}

// State 单个会话的全部状态；Reduce 不修改传入的 State
type State struct {
	Status Status
	Prompt string
	Slots  [SlotCount]*intake.Attachment
	Result *Result
	Error  string
	// Notice 行内校验提示，不改变 Status
	Notice string
	// Revision 每次状态变化加一
	Revision uint64
}

// Attachments 按槽位顺序返回已上传的附件
func (s State) Attachments() []*intake.Attachment {
	out := make([]*intake.Attachment, 0, SlotCount)
	for _, att := range s.Slots {
		if att != nil {
			out = append(out, att)
		}
	}
	return out
}

// CanSubmit 与界面上 Generate 按钮的可用条件一致
func (s State) CanSubmit() bool {
	return s.Status != StatusLoading && (len(s.Attachments()) > 0 || strings.TrimSpace(s.Prompt) != "")
}

// EffectivePrompt 计算实际发送的提示词
// 提示词为空且没有图片时返回 ErrInvalidInput
func EffectivePrompt(prompt string, attachments int) (string, error) {
	if p := strings.TrimSpace(prompt); p != "" {
		return p, nil
	}
	if attachments == 0 {
		return "", ErrInvalidInput
	}
	return DefaultPrompt, nil
}

// Event 状态机事件
type Event interface {
	isEvent()
}

type (
	// SetPrompt 修改提示词
	SetPrompt struct{ Prompt string }
	// LoadExample 填入示例提示词
	LoadExample struct{}
	// Attach 上传图片到槽位，会替换已有图片
	Attach struct {
		Slot       int
		Attachment *intake.Attachment
	}
	// Detach 移除槽位中的图片
	Detach struct{ Slot int }
	// Submit 触发生成
	Submit struct{}
	// Resolve 生成成功
	Resolve struct {
		ImageURL string
		Prompt   string
		At       time.Time
	}
	// Reject 生成失败
	Reject struct{ Message string }
)

func (SetPrompt) isEvent()   {}
func (LoadExample) isEvent() {}
func (Attach) isEvent()      {}
func (Detach) isEvent()      {}
func (Submit) isEvent()      {}
func (Resolve) isEvent()     {}
func (Reject) isEvent()      {}

// Reduce 纯函数：(state, event) -> 新 state
// 返回错误时 state 的 Status 不变
func Reduce(s State, ev Event) (State, error) {
	next := s
	switch e := ev.(type) {
	case SetPrompt:
		next.Prompt = e.Prompt
		next.Notice = ""

	case LoadExample:
		next.Prompt = DefaultPrompt
		next.Notice = ""

	case Attach:
		if e.Slot < 0 || e.Slot >= SlotCount {
			return s, fmt.Errorf("%w: %d", ErrSlot, e.Slot)
		}
		if e.Attachment == nil {
			return s, fmt.Errorf("attachment is required")
		}
		next.Slots[e.Slot] = e.Attachment
		next.Notice = ""

	case Detach:
		if e.Slot < 0 || e.Slot >= SlotCount {
			return s, fmt.Errorf("%w: %d", ErrSlot, e.Slot)
		}
		next.Slots[e.Slot] = nil

	case Submit:
		if s.Status == StatusLoading {
			return s, ErrBusy
		}
		if _, err := EffectivePrompt(s.Prompt, len(s.Attachments())); err != nil {
			next.Notice = InvalidInputMessage
			next.Revision++
			return next, err
		}
		next.Status = StatusLoading
		next.Error = ""
		next.Result = nil
		next.Notice = ""

	case Resolve:
		if s.Status != StatusLoading {
			return s, fmt.Errorf("%w: resolve in %s", ErrUnexpectedEvent, s.Status)
		}
		next.Status = StatusSuccess
		next.Result = &Result{ImageURL: e.ImageURL, Prompt: e.Prompt, CreatedAt: e.At}
		next.Error = ""

	case Reject:
		if s.Status != StatusLoading {
			return s, fmt.Errorf("%w: reject in %s", ErrUnexpectedEvent, s.Status)
		}
		msg := strings.TrimSpace(e.Message)
		if msg == "" {
			msg = UnexpectedMessage
		}
		next.Status = StatusError
		next.Error = msg
		next.Result = nil

	default:
		return s, fmt.Errorf("%w: %T", ErrUnexpectedEvent, ev)
	}

	next.Revision++
	return next, nil
}
