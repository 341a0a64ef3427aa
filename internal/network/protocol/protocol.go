// Package protocol 定义远端渲染组件与服务器之间的 JSON 消息。
//
// 每一帧都是一个 Envelope：{"op": "...", "data": {...}}。
package protocol

import (
	"github.com/blang/semver/v4"
	"github.com/cockroachdb/errors"

	"github.com/lk2023060901/circuit-go/internal/json"
	"github.com/lk2023060901/circuit-go/pkg/util/merr"
)

const (
	// Version 为当前实现的协议版本。
	Version = "1.0.0"
	// SupportedRange 为服务器接受的客户端协议版本范围。
	SupportedRange = ">=1.0.0 <2.0.0"
	// VersionQueryKey 为客户端在升级请求中携带版本号的 query 参数名。
	VersionQueryKey = "v"
)

// 服务器 -> 客户端。
const (
	OpHello      = "hello"
	OpRefresh    = "refresh"
	OpVisibility = "visibility"
	OpError      = "error"
)

// 客户端 -> 服务器。
const (
	OpActivity = "activity"
	OpMount    = "mount"
	OpUnmount  = "unmount"
)

var supported = semver.MustParseRange(SupportedRange)

// Envelope 为所有消息的外层结构，Data 延迟解码。
type Envelope struct {
	Op   string          `json:"op"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Hello 在连接建立后由服务器首先发送，告知客户端其会话 ID。
type Hello struct {
	SessionID string `json:"session_id"`
	Version   string `json:"version"`
}

// Refresh 请求客户端刷新指定组件。
type Refresh struct {
	ComponentID string `json:"component_id"`
}

// Visibility 切换客户端组件的可见性。
type Visibility struct {
	ComponentID string `json:"component_id"`
	Visible     bool   `json:"visible"`
}

// Error 用于把请求处理失败的原因告知客户端。
type Error struct {
	Op      string `json:"op"`
	Code    int32  `json:"code"`
	Message string `json:"message"`
}

// Activity 由客户端活跃度检测上报。
type Activity struct {
	Idle bool `json:"idle"`
}

// Mount 在客户端组件首次渲染时发送，ComponentID 由客户端自行分配。
type Mount struct {
	ComponentID string `json:"component_id"`
}

// Unmount 在客户端组件销毁时发送。
type Unmount struct {
	ComponentID string `json:"component_id"`
}

// Encode 将 op 与消息体编码为一帧。msg 为 nil 时省略 data。
func Encode(op string, msg any) ([]byte, error) {
	env := Envelope{Op: op}
	if msg != nil {
		data, err := json.Marshal(msg)
		if err != nil {
			return nil, errors.Wrapf(err, "encode %s", op)
		}
		env.Data = data
	}
	return json.Marshal(env)
}

// Decode 解析一帧，只校验外层结构。
func Decode(frame []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return Envelope{}, errors.Wrap(err, "decode envelope")
	}
	if env.Op == "" {
		return Envelope{}, merr.WrapErrParameterInvalidMsg("envelope without op")
	}
	return env, nil
}

// Bind 将 Data 解码到 dst。
func (e Envelope) Bind(dst any) error {
	if len(e.Data) == 0 {
		return merr.WrapErrParameterInvalidMsg("%s: missing data", e.Op)
	}
	if err := json.Unmarshal(e.Data, dst); err != nil {
		return errors.Wrapf(err, "decode %s", e.Op)
	}
	return nil
}

// CheckVersion 校验客户端声明的协议版本。
// 未声明时视为当前版本。
func CheckVersion(v string) (semver.Version, error) {
	if v == "" {
		v = Version
	}
	parsed, err := semver.ParseTolerant(v)
	if err != nil {
		return semver.Version{}, merr.WrapErrProtocolVersion(v, SupportedRange, err.Error())
	}
	if !supported(parsed) {
		return semver.Version{}, merr.WrapErrProtocolVersion(v, SupportedRange)
	}
	return parsed, nil
}
