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

package merr

import (
	"github.com/cockroachdb/errors"
	"github.com/samber/lo"
)

const (
	CanceledCode int32 = 10000
	TimeoutCode  int32 = 10001
)

type ErrorType int32

const (
	SystemError ErrorType = 0
	InputError  ErrorType = 1
)

var ErrorTypeName = map[ErrorType]string{
	SystemError: "system_error",
	InputError:  "input_error",
}

func (err ErrorType) String() string {
	return ErrorTypeName[err]
}

// 叶子错误统一在此定义。
// WARN: 新增错误前先确认下面已有的错误能否复用。
// 命名：Err + 相关前缀 + 错误名
var (
	// Service 相关
	ErrServiceNotReady = newCircuitError("service not ready", 1, true)
	ErrServiceClosed   = newCircuitError("service closed", 2, false)

	// Session / Component 相关
	ErrSessionNotFound      = newCircuitError("session not found", 100, false)
	ErrComponentNotFound    = newCircuitError("component not found", 101, false)
	ErrSessionHandleMissing = newCircuitError("session handle missing in context", 102, false)

	// Parameter 相关
	ErrParameterInvalid = newCircuitError("invalid parameter", 1100, false)

	// Protocol 相关
	ErrProtocolVersion = newCircuitError("unsupported protocol version", 1200, false)

	// 不要导出该错误，仅用于把未知错误转换为 circuitError。
	errUnexpected = newCircuitError("unexpected error", (1<<16)-1, false)
)

type errorOption func(*circuitError)

func WithDetail(detail string) errorOption {
	return func(err *circuitError) {
		err.detail = detail
	}
}

func WithErrorType(etype ErrorType) errorOption {
	return func(err *circuitError) {
		err.errType = etype
	}
}

type circuitError struct {
	msg       string
	detail    string
	retriable bool
	errCode   int32
	errType   ErrorType
}

func newCircuitError(msg string, code int32, retriable bool, options ...errorOption) circuitError {
	err := circuitError{
		msg:       msg,
		detail:    msg,
		retriable: retriable,
		errCode:   code,
	}

	for _, option := range options {
		option(&err)
	}
	return err
}

func (e circuitError) code() int32 {
	return e.errCode
}

func (e circuitError) Error() string {
	return e.msg
}

func (e circuitError) Detail() string {
	return e.detail
}

// Is 按错误码比较，附带字段的包装错误与叶子错误视为同一种错误。
func (e circuitError) Is(err error) bool {
	cause := errors.Cause(err)
	if cause, ok := cause.(circuitError); ok {
		return e.errCode == cause.errCode
	}
	return false
}

type multiErrors struct {
	errs []error
}

func (e multiErrors) Unwrap() error {
	if len(e.errs) <= 1 {
		return nil
	}
	// 多错误的 cause 定义为最后一个错误。
	if len(e.errs) == 2 {
		return e.errs[1]
	}

	return multiErrors{
		errs: e.errs[1:],
	}
}

func (e multiErrors) Error() string {
	final := e.errs[0]
	for i := 1; i < len(e.errs); i++ {
		final = errors.Wrap(e.errs[i], final.Error())
	}
	return final.Error()
}

func (e multiErrors) Is(err error) bool {
	for _, item := range e.errs {
		if errors.Is(item, err) {
			return true
		}
	}
	return false
}

// Combine 合并多个错误，忽略其中的 nil；全部为 nil 时返回 nil。
func Combine(errs ...error) error {
	errs = lo.Filter(errs, func(err error, _ int) bool { return err != nil })
	if len(errs) == 0 {
		return nil
	}
	return multiErrors{
		errs,
	}
}
