// Copyright 2021 PingCAP, Inc.
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

// Copyright (c) 2017 Uber Technologies, Inc.
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in
// all copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
// THE SOFTWARE.

// 说明：本文件中的部分代码基于 go.uber.org/zap 中的实现，遵循 MIT 许可。
//
// https://github.com/uber-go/zap/blob/0c427222737cbbbdc53ebdf852c511f7aca0818b/zaptest/logger.go

package log

import (
	"bytes"

	"go.uber.org/atomic"
	"go.uber.org/zap/zaptest"
)

// TestingT 是测试日志所需的 testing.TB 子集。
type TestingT interface {
	zaptest.TestingT
	Cleanup(func())
}

// testingWriter 把日志写入 t.Logf。
// 测试结束后后台协程仍可能输出日志，此时写入被丢弃，避免 testing 包报告在测试结束后记录日志。
type testingWriter struct {
	t          TestingT
	markFailed bool
	done       *atomic.Bool
}

func newTestingWriter(t TestingT) testingWriter {
	w := testingWriter{t: t, done: atomic.NewBool(false)}
	t.Cleanup(func() { w.done.Store(true) })
	return w
}

// WithMarkFailed 返回一个写入即标记测试失败的副本，用于 zap 内部错误输出。
func (w testingWriter) WithMarkFailed(v bool) testingWriter {
	w.markFailed = v
	return w
}

func (w testingWriter) Write(p []byte) (int, error) {
	n := len(p)
	if w.done.Load() {
		return n, nil
	}

	// t.Logf 会自动追加换行。
	w.t.Logf("%s", bytes.TrimRight(p, "\n"))
	if w.markFailed {
		w.t.Fail()
	}
	return n, nil
}

func (w testingWriter) Sync() error {
	return nil
}

// SetupTestLogger 把全局 Logger 替换为写入 t 的测试 Logger，测试结束时恢复原 Logger。
// 通过 Binder 或 L() 取得的 Logger 都会输出到测试日志；已经绑定在 context 中的 Logger 不受影响。
func SetupTestLogger(t TestingT, cfg *Config) {
	prevL := L()
	prevP := _globalP.Load().(*ZapProperties)

	lg, props, err := InitTestLogger(t, cfg)
	if err != nil {
		t.Errorf("init test logger: %v", err)
		t.FailNow()
		return
	}
	ReplaceGlobals(lg, props)
	t.Cleanup(func() { ReplaceGlobals(prevL, prevP) })
}
