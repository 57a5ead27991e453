package redisstate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"

	"puzzle-duel/internal/repository"
)

// defaultMaxTxRetries 条件写入遇到并发修改时的最大重试次数
const defaultMaxTxRetries = 16

// setIfExistsScript 仅当 hash 存在时写入字段，保证不会凭空创建记录
var setIfExistsScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
	return 0
end
redis.call('HSET', KEYS[1], ARGV[1], ARGV[2])
return 1
`)

// RedisStateRepository 是 StateStore 接口的 Redis 实现。
// 每条记录对应一个 key，写入后在记录路径及其所有父路径的频道上发布事件。
type RedisStateRepository struct {
	client     *redis.Client
	keyPrefix  string
	maxRetries int
}

// NewRedisStateRepository 创建 RedisStateRepository 实例
func NewRedisStateRepository(client *redis.Client, keyPrefix string) *RedisStateRepository {
	if client == nil {
		panic("redis client cannot be nil for RedisStateRepository")
	}
	if keyPrefix == "" {
		keyPrefix = "pd:"
	}
	return &RedisStateRepository{
		client:     client,
		keyPrefix:  keyPrefix,
		maxRetries: defaultMaxTxRetries,
	}
}

// --- Key Generation Helpers ---

func (r *RedisStateRepository) recordKey(path string) string {
	return r.keyPrefix + path
}

func (r *RedisStateRepository) eventChannel(path string) string {
	return r.keyPrefix + "events/" + path
}

// pathAndAncestors 返回 path 本身及其所有父路径，例如 "a/b/c" -> [a/b/c a/b a]
func pathAndAncestors(path string) []string {
	paths := []string{path}
	for i := strings.LastIndex(path, "/"); i > 0; i = strings.LastIndex(path, "/") {
		path = path[:i]
		paths = append(paths, path)
	}
	return paths
}

// --- Hash records ---

// GetFields 读取整条记录
func (r *RedisStateRepository) GetFields(ctx context.Context, path string) (map[string]string, error) {
	key := r.recordKey(path)
	fields, err := r.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: failed to read record %s: %w", key, err)
	}
	if len(fields) == 0 {
		return nil, repository.ErrNotFound
	}
	return fields, nil
}

// GetField 读取单个字段
func (r *RedisStateRepository) GetField(ctx context.Context, path, field string) (string, error) {
	key := r.recordKey(path)
	value, err := r.client.HGet(ctx, key, field).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", repository.ErrNotFound
		}
		return "", fmt.Errorf("redis: failed to read field %s of %s: %w", field, key, err)
	}
	return value, nil
}

// Exists 判断记录是否存在
func (r *RedisStateRepository) Exists(ctx context.Context, path string) (bool, error) {
	key := r.recordKey(path)
	n, err := r.client.Exists(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("redis: failed to check existence of %s: %w", key, err)
	}
	return n > 0, nil
}

// SetField 无条件写入字段
func (r *RedisStateRepository) SetField(ctx context.Context, path, field, value string) error {
	key := r.recordKey(path)
	if err := r.client.HSet(ctx, key, field, value).Err(); err != nil {
		return fmt.Errorf("redis: failed to set field %s of %s: %w", field, key, err)
	}
	r.publish(ctx, repository.Event{Path: path, Field: field, Op: repository.OpSet})
	return nil
}

// SetFieldIfExists 仅当记录存在时写入字段
func (r *RedisStateRepository) SetFieldIfExists(ctx context.Context, path, field, value string) error {
	key := r.recordKey(path)
	written, err := setIfExistsScript.Run(ctx, r.client, []string{key}, field, value).Int()
	if err != nil {
		return fmt.Errorf("redis: failed to conditionally set field %s of %s: %w", field, key, err)
	}
	if written == 0 {
		return repository.ErrNotFound
	}
	r.publish(ctx, repository.Event{Path: path, Field: field, Op: repository.OpSet})
	return nil
}

// DeleteField 删除字段
func (r *RedisStateRepository) DeleteField(ctx context.Context, path, field string) error {
	key := r.recordKey(path)
	removed, err := r.client.HDel(ctx, key, field).Result()
	if err != nil {
		return fmt.Errorf("redis: failed to delete field %s of %s: %w", field, key, err)
	}
	if removed > 0 {
		r.publish(ctx, repository.Event{Path: path, Field: field, Op: repository.OpDelete})
	}
	return nil
}

// Delete 删除整条记录
func (r *RedisStateRepository) Delete(ctx context.Context, path string) error {
	key := r.recordKey(path)
	removed, err := r.client.Del(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("redis: failed to delete %s: %w", key, err)
	}
	if removed > 0 {
		r.publish(ctx, repository.Event{Path: path, Op: repository.OpDelete})
	}
	return nil
}

// Transact 使用 WATCH/MULTI 对单条记录做乐观事务。
// 被 WATCH 的 key 在读取和提交之间被其他客户端修改时，EXEC 失败并以最新值重试。
func (r *RedisStateRepository) Transact(ctx context.Context, path string, fn repository.TxFunc) (bool, error) {
	key := r.recordKey(path)
	logCtx := logrus.WithFields(logrus.Fields{"path": path, "operation": "Transact"})

	for attempt := 0; attempt < r.maxRetries; attempt++ {
		var committed *repository.Mutation
		err := r.client.Watch(ctx, func(tx *redis.Tx) error {
			current, err := tx.HGetAll(ctx, key).Result()
			if err != nil {
				return fmt.Errorf("redis: failed to read %s inside transaction: %w", key, err)
			}
			mutation, err := fn(current)
			if err != nil || mutation == nil {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				applyMutation(ctx, pipe, key, mutation)
				return nil
			})
			if err == nil {
				committed = mutation
			}
			return err
		}, key)

		if errors.Is(err, redis.TxFailedErr) {
			logCtx.Debugf("Watched key changed, retrying (attempt %d)", attempt+1)
			continue
		}
		if err != nil {
			return false, err
		}
		if committed == nil {
			return false, nil
		}
		r.publish(ctx, mutationEvent(path, committed))
		return true, nil
	}
	logCtx.Warnf("Conditional write gave up after %d attempts", r.maxRetries)
	return false, fmt.Errorf("redis: transaction on %s: %w", key, repository.ErrConflict)
}

func applyMutation(ctx context.Context, pipe redis.Pipeliner, key string, m *repository.Mutation) {
	if m.Remove {
		pipe.Del(ctx, key)
		return
	}
	if len(m.Set) > 0 {
		args := make([]interface{}, 0, len(m.Set)*2)
		for field, value := range m.Set {
			args = append(args, field, value)
		}
		pipe.HSet(ctx, key, args...)
	}
	if len(m.Delete) > 0 {
		pipe.HDel(ctx, key, m.Delete...)
	}
}

func mutationEvent(path string, m *repository.Mutation) repository.Event {
	ev := repository.Event{Path: path, Op: repository.OpSet}
	if m.Remove {
		ev.Op = repository.OpDelete
		return ev
	}
	switch {
	case len(m.Set) == 1 && len(m.Delete) == 0:
		for field := range m.Set {
			ev.Field = field
		}
	case len(m.Set) == 0 && len(m.Delete) == 1:
		ev.Field = m.Delete[0]
		ev.Op = repository.OpDelete
	}
	return ev
}

// --- Value records with TTL ---

// SetValue 写入值记录
func (r *RedisStateRepository) SetValue(ctx context.Context, path, value string, ttl time.Duration) error {
	key := r.recordKey(path)
	if err := r.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("redis: failed to set %s: %w", key, err)
	}
	r.publish(ctx, repository.Event{Path: path, Op: repository.OpSet})
	return nil
}

// GetValue 读取值记录
func (r *RedisStateRepository) GetValue(ctx context.Context, path string) (string, error) {
	key := r.recordKey(path)
	value, err := r.client.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", repository.ErrNotFound
		}
		return "", fmt.Errorf("redis: failed to get %s: %w", key, err)
	}
	return value, nil
}

// Touch 刷新过期时间
func (r *RedisStateRepository) Touch(ctx context.Context, path string, ttl time.Duration) (bool, error) {
	key := r.recordKey(path)
	ok, err := r.client.Expire(ctx, key, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis: failed to refresh ttl of %s: %w", key, err)
	}
	return ok, nil
}

// ListChildren 使用 SCAN 列出 parent 的直接子节点
func (r *RedisStateRepository) ListChildren(ctx context.Context, parent string) ([]string, error) {
	base := r.recordKey(parent) + "/"
	var children []string
	iter := r.client.Scan(ctx, 0, base+"*", 100).Iterator()
	for iter.Next(ctx) {
		name := strings.TrimPrefix(iter.Val(), base)
		if name == "" || strings.Contains(name, "/") {
			continue
		}
		children = append(children, name)
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("redis: failed to scan children of %s: %w", parent, err)
	}
	return children, nil
}

// ListValues 列出 parent 下所有值记录
func (r *RedisStateRepository) ListValues(ctx context.Context, parent string) (map[string]string, error) {
	children, err := r.ListChildren(ctx, parent)
	if err != nil {
		return nil, err
	}
	values := make(map[string]string, len(children))
	if len(children) == 0 {
		return values, nil
	}
	keys := make([]string, len(children))
	for i, child := range children {
		keys[i] = r.recordKey(parent + "/" + child)
	}
	raw, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: failed to read values under %s: %w", parent, err)
	}
	for i, v := range raw {
		// 在 SCAN 与 MGET 之间过期的记录返回 nil
		if s, ok := v.(string); ok {
			values[children[i]] = s
		}
	}
	return values, nil
}

// --- PubSub ---

// publish 在记录路径及其父路径上发布事件。
// 发布失败只记录日志：写入已经生效，订阅者会在下一次事件或重新订阅时追上。
func (r *RedisStateRepository) publish(ctx context.Context, ev repository.Event) {
	ev.At = time.Now().UnixMilli()
	payloadBytes, err := json.Marshal(ev)
	if err != nil {
		logrus.WithError(err).WithField("path", ev.Path).Error("Failed to marshal store event")
		return
	}
	pipe := r.client.Pipeline()
	for _, p := range pathAndAncestors(ev.Path) {
		pipe.Publish(ctx, r.eventChannel(p), payloadBytes)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		logrus.WithFields(logrus.Fields{
			"path":         ev.Path,
			"field":        ev.Field,
			"payload_size": len(payloadBytes),
		}).WithError(err).Error("Redis Publish failed")
	}
}

// Subscribe 订阅 path 上的事件。回调在单独的 goroutine 中按到达顺序逐个执行。
func (r *RedisStateRepository) Subscribe(ctx context.Context, path string, handler repository.EventHandler) (repository.Subscription, error) {
	if handler == nil {
		return nil, errors.New("redis: subscribe requires a handler")
	}
	channel := r.eventChannel(path)
	pubsub := r.client.Subscribe(ctx, channel)
	// 等待订阅确认，保证返回后发布的事件不会丢失
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("redis: failed to subscribe to %s: %w", channel, err)
	}

	subCtx, cancel := context.WithCancel(ctx)
	sub := &subscription{
		pubsub: pubsub,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go sub.deliver(subCtx, path, handler)
	return sub, nil
}

type subscription struct {
	pubsub    *redis.PubSub
	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
	closeErr  error
}

func (s *subscription) deliver(ctx context.Context, path string, handler repository.EventHandler) {
	defer close(s.done)
	defer s.Close()
	logCtx := logrus.WithFields(logrus.Fields{"path": path, "component": "subscription"})
	messages := s.pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-messages:
			if !ok {
				logCtx.Debug("Subscription channel closed")
				return
			}
			var ev repository.Event
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				logCtx.WithError(err).Warn("Dropping malformed store event")
				continue
			}
			handler(ctx, ev)
		}
	}
}

// Close 取消订阅
func (s *subscription) Close() error {
	s.closeOnce.Do(func() {
		s.cancel()
		s.closeErr = s.pubsub.Close()
	})
	return s.closeErr
}

// Done 投递循环退出后关闭
func (s *subscription) Done() <-chan struct{} { return s.done }

var _ repository.StateStore = (*RedisStateRepository)(nil)
