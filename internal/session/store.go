package session

import (
	"errors"
	"sync/atomic"
	"time"

	"order-relay/internal/broker"
	"order-relay/internal/instrument"
)

// ErrUnauthenticated 表示当前没有已登录的券商会话。
var ErrUnauthenticated = errors.New("session: login first")

// Session 为一次成功登录后的券商会话。
type Session struct {
	Gateway     broker.Gateway
	ClientCode  string
	Instruments *instrument.Table // 主数据下载失败时为 nil
	CreatedAt   time.Time
}

// Store 持有进程内唯一的活动会话。登录时整体替换，登出时清空。
type Store struct {
	current atomic.Pointer[Session]
}

// NewStore 创建空的会话存储。
func NewStore() *Store {
	return &Store{}
}

// Activate 用新会话替换已有会话，返回被替换的旧会话（可能为 nil）。
func (s *Store) Activate(sess *Session) *Session {
	if sess != nil && sess.CreatedAt.IsZero() {
		sess.CreatedAt = time.Now().UTC()
	}
	return s.current.Swap(sess)
}

// Current 返回活动会话。
func (s *Store) Current() (*Session, bool) {
	sess := s.current.Load()
	return sess, sess != nil
}

// Clear 清空会话，返回被清除的会话（可能为 nil）。
func (s *Store) Clear() *Session {
	return s.current.Swap(nil)
}

// Require 在任何券商调用之前校验会话存在。
func (s *Store) Require() (*Session, error) {
	sess, ok := s.Current()
	if !ok {
		return nil, ErrUnauthenticated
	}
	return sess, nil
}
