// Copyright 2026 fanjia1024
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package quota

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// reserveScript 原子地清理过期成员、判断容量并写入；容量不足时返回需要过期的那条记录的分数
var reserveScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local size = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
local cost = tonumber(ARGV[4])
local member = ARGV[5]
redis.call('ZREMRANGEBYSCORE', key, '-inf', now - size)
local count = redis.call('ZCARD', key)
if count + cost <= limit then
  for i = 1, cost do
    redis.call('ZADD', key, now, member .. ':' .. i)
  end
  redis.call('PEXPIRE', key, size)
  return {1, 0}
end
local idx = count + cost - limit - 1
local oldest = redis.call('ZRANGE', key, idx, idx, 'WITHSCORES')
return {0, tonumber(oldest[2])}
`)

// RedisWindow 多个 worker 共享的集中式窗口（ZSET 时间戳日志，分数为毫秒）
type RedisWindow struct {
	client redis.UniversalClient
	key    string
	size   time.Duration
	limit  int
}

// NewRedisWindow 创建共享窗口
func NewRedisWindow(client redis.UniversalClient, key string, size time.Duration, limit int) *RedisWindow {
	return &RedisWindow{client: client, key: key, size: size, limit: limit}
}

func (w *RedisWindow) Size() (time.Duration, int) { return w.size, w.limit }

func (w *RedisWindow) Reserve(ctx context.Context, now time.Time, cost int) (bool, time.Time, error) {
	if cost > w.limit {
		return false, time.Time{}, fmt.Errorf("cost %d exceeds window capacity %d", cost, w.limit)
	}
	res, err := reserveScript.Run(ctx, w.client, []string{w.key},
		now.UnixMilli(), w.size.Milliseconds(), w.limit, cost, uuid.NewString()).Int64Slice()
	if err != nil {
		return false, time.Time{}, fmt.Errorf("redis window reserve: %w", err)
	}
	if len(res) != 2 {
		return false, time.Time{}, fmt.Errorf("redis window reserve: unexpected reply %v", res)
	}
	if res[0] == 1 {
		return true, time.Time{}, nil
	}
	return false, time.UnixMilli(res[1]).Add(w.size), nil
}

func (w *RedisWindow) InFlight(ctx context.Context, now time.Time) (int, error) {
	min := fmt.Sprintf("(%d", now.Add(-w.size).UnixMilli())
	n, err := w.client.ZCount(ctx, w.key, min, "+inf").Result()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}
