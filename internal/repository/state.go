package repository

import (
	"context"
	"time"
)

// Event 描述共享存储中某个路径上发生的一次写入，通过 Pub/Sub 推送给订阅者。
type Event struct {
	Path  string `json:"path"`            // 被写入的记录路径，例如 "matches/m1"
	Field string `json:"field,omitempty"` // 被写入的字段 (整条记录操作时为空)
	Op    string `json:"op"`              // OpSet / OpDelete
	At    int64  `json:"at"`              // 毫秒时间戳
}

const (
	OpSet    = "set"
	OpDelete = "delete"
)

// EventHandler 处理推送事件。同一订阅内的回调按顺序逐个执行。
// 重连后可能收到重复事件，处理函数必须是幂等的。
type EventHandler func(ctx context.Context, ev Event)

// Subscription 是一次路径订阅的取消令牌
type Subscription interface {
	// Close 取消订阅，可重复调用
	Close() error
	// Done 在投递循环退出后关闭
	Done() <-chan struct{}
}

// Mutation 是条件写入提交的变更。Remove 为 true 时删除整条记录，忽略其他字段。
type Mutation struct {
	Set    map[string]string
	Delete []string
	Remove bool
}

// TxFunc 根据记录的当前字段决定要提交的变更。
// 返回 nil Mutation 表示不写入；返回错误则放弃本次事务并把错误原样返回。
// 发生并发修改时 TxFunc 会以最新值被重新调用，因此不能有副作用。
type TxFunc func(current map[string]string) (*Mutation, error)

// StateStore 是所有客户端共享的层级存储。
// 只提供单路径的条件写入和按路径的推送订阅，不提供跨路径事务。
type StateStore interface {
	// === Hash records ===

	// GetFields 读取整条记录，记录不存在时返回 ErrNotFound
	GetFields(ctx context.Context, path string) (map[string]string, error)
	// GetField 读取单个字段，字段或记录不存在时返回 ErrNotFound
	GetField(ctx context.Context, path, field string) (string, error)
	// Exists 判断记录是否存在
	Exists(ctx context.Context, path string) (bool, error)
	// SetField 无条件写入字段 (单写者字段使用)
	SetField(ctx context.Context, path, field, value string) error
	// SetFieldIfExists 原子地仅在记录存在时写入字段，否则返回 ErrNotFound
	SetFieldIfExists(ctx context.Context, path, field, value string) error
	// DeleteField 删除字段，字段不存在也视为成功
	DeleteField(ctx context.Context, path, field string) error
	// Delete 删除整条记录，不存在也视为成功
	Delete(ctx context.Context, path string) error
	// Transact 对单条记录执行读-改-写，并发修改时透明重试。
	// 返回值表示是否真正提交了变更。
	Transact(ctx context.Context, path string, fn TxFunc) (bool, error)

	// === Value records with TTL ===

	// SetValue 写入带过期时间的值记录 (ttl 为 0 表示不过期)
	SetValue(ctx context.Context, path, value string, ttl time.Duration) error
	// GetValue 读取值记录，不存在时返回 ErrNotFound
	GetValue(ctx context.Context, path string) (string, error)
	// Touch 刷新值记录的过期时间，记录不存在时返回 false
	Touch(ctx context.Context, path string, ttl time.Duration) (bool, error)
	// ListValues 列出 parent 下所有值记录，key 为子节点名
	ListValues(ctx context.Context, parent string) (map[string]string, error)
	// ListChildren 列出 parent 下所有子节点名
	ListChildren(ctx context.Context, parent string) ([]string, error)

	// === PubSub ===

	// Subscribe 订阅 path 及其所有子路径上的写入事件
	Subscribe(ctx context.Context, path string, handler EventHandler) (Subscription, error)
}
