// Package activity 负责判断会话处于活跃还是空闲状态。
package activity

import (
	"sync"
	"time"
)

// DefaultDebounce 为两次“恢复活跃”通知之间的最小间隔。
const DefaultDebounce = 100 * time.Millisecond

// NotifyFunc 接收状态变化通知，idle 为 true 表示进入空闲。
// 通知在 Tracker 的锁外执行。
type NotifyFunc func(idle bool)

// Tracker 为单个会话的活跃度检测器。
//
// 说明：
//   - 创建后处于活跃状态，并立即开始计时；
//   - 超过 timeout 未调用 Touch 时发出一次空闲通知；
//   - 空闲期间调用 Touch，且距离上一次活跃通知超过 debounce 时发出活跃通知；
//   - 每次 Touch 都会重新计时。
type Tracker struct {
	mu       sync.Mutex
	timeout  time.Duration
	debounce time.Duration
	notify   NotifyFunc
	now      func() time.Time

	active     bool
	lastActive time.Time
	timer      *time.Timer
	generation uint64
	stopped    bool
}

// Option 用于定制 Tracker。
type Option func(*Tracker)

// WithDebounce 修改活跃通知的防抖间隔。
func WithDebounce(d time.Duration) Option {
	return func(t *Tracker) {
		t.debounce = d
	}
}

// WithClock 替换防抖判断使用的时钟。
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) {
		t.now = now
	}
}

// NewTracker 创建并启动一个 Tracker。
func NewTracker(timeout time.Duration, notify NotifyFunc, opts ...Option) *Tracker {
	t := &Tracker{
		timeout:  timeout,
		debounce: DefaultDebounce,
		notify:   notify,
		now:      time.Now,
		active:   true,
	}
	for _, opt := range opts {
		opt(t)
	}
	t.lastActive = t.now()

	t.mu.Lock()
	t.armLocked()
	t.mu.Unlock()
	return t
}

// Touch 记录一次用户活动。
func (t *Tracker) Touch() {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return
	}
	fire := false
	if now := t.now(); !t.active && now.Sub(t.lastActive) > t.debounce {
		t.active = true
		t.lastActive = now
		fire = true
	}
	t.armLocked()
	t.mu.Unlock()

	if fire && t.notify != nil {
		t.notify(false)
	}
}

// Active 返回当前是否处于活跃状态。
func (t *Tracker) Active() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.active
}

// Stop 停止计时，之后不会再发出任何通知。
func (t *Tracker) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopped = true
	t.generation++
	if t.timer != nil {
		t.timer.Stop()
	}
}

func (t *Tracker) armLocked() {
	t.generation++
	gen := t.generation
	if t.timer != nil {
		t.timer.Stop()
	}
	t.timer = time.AfterFunc(t.timeout, func() { t.expire(gen) })
}

func (t *Tracker) expire(gen uint64) {
	t.mu.Lock()
	// 已被重新计时或停止的定时器直接忽略。
	if gen != t.generation || t.stopped || !t.active {
		t.mu.Unlock()
		return
	}
	t.active = false
	t.mu.Unlock()

	if t.notify != nil {
		t.notify(true)
	}
}
