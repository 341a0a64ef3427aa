// Licensed to the LF AI & Data foundation under one
// or more contributor license agreements. See the NOTICE file
// distributed with this work for additional information
// regarding copyright ownership. The ASF licenses this file
// to you under the Apache License, Version 2.0 (the
// "License"); you may not use this file except in compliance
// with the License. You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package conc

import (
	"time"

	ants "github.com/panjf2000/ants/v2"
	"go.uber.org/zap"

	"github.com/lk2023060901/circuit-go/pkg/log"
)

// poolOption 为 Pool 的可选配置，零值即 ants 的默认行为。
type poolOption struct {
	// preAlloc 为 true 时创建池时一次性分配全部 worker 槽位。
	preAlloc bool
	// workerExpiry 为空闲 worker 被回收前的存活时间，0 表示使用 ants 默认值。
	workerExpiry time.Duration
	// concealPanic 为 true 时任务 panic 只记录到 Future，否则在记录后重新抛出。
	concealPanic bool
}

// PoolOption 用于配置协程池行为的选项函数。
type PoolOption func(opt *poolOption)

func (opt *poolOption) antsOptions() []ants.Option {
	result := []ants.Option{
		ants.WithPreAlloc(opt.preAlloc),
		// 任务内的 recover 先把 panic 写入 Future，未隐藏时再抛给 ants，这里记录后让进程崩溃。
		ants.WithPanicHandler(func(v any) {
			log.Error("conc pool panicked", zap.Any("panic", v))
			if !opt.concealPanic {
				panic(v)
			}
		}),
	}
	if opt.workerExpiry > 0 {
		result = append(result, ants.WithExpiryDuration(opt.workerExpiry))
	}
	return result
}

// WithPreAlloc 控制是否预先分配 worker 槽位，适合容量固定且长期运行的池。
func WithPreAlloc(v bool) PoolOption {
	return func(opt *poolOption) {
		opt.preAlloc = v
	}
}

// WithWorkerExpiry 设置空闲 worker 的回收间隔。
func WithWorkerExpiry(d time.Duration) PoolOption {
	return func(opt *poolOption) {
		opt.workerExpiry = d
	}
}

// WithConcealPanic 控制任务 panic 时是否只返回错误而不重新抛出。
func WithConcealPanic(v bool) PoolOption {
	return func(opt *poolOption) {
		opt.concealPanic = v
	}
}
