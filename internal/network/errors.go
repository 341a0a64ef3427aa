package network

import "github.com/cockroachdb/errors"

// Stage 表示网络收发链路中的处理阶段。
//
// 主要用于在回调中标记错误发生的位置，便于监控与排查。
type Stage string

const (
	StageHandshake Stage = "handshake" // WebSocket 升级与协议版本协商
	StageRecvRaw   Stage = "recv_raw"  // 读取底层 WebSocket 帧
	StageDecode    Stage = "decode"    // 帧 -> Envelope
	StageDispatch  Stage = "dispatch"  // Envelope -> 业务处理
	StageEncode    Stage = "encode"    // 业务对象 -> 帧
	StageSend      Stage = "send"      // 底层发送
)

// 统一的错误码常量。
//
// 注意：这些是用于日志/监控的稳定字符串，真正的 error 对象在下面构造。
const (
	ErrCodeHandshakeFailed = "network:handshake_failed"
	ErrCodeRecvFailed      = "network:recv_failed"
	ErrCodeDecodeFailed    = "network:decode_failed"
	ErrCodeDispatchFailed  = "network:dispatch_failed"
	ErrCodeEncodeFailed    = "network:encode_failed"
	ErrCodeSendFailed      = "network:send_failed"
	ErrCodeSendQueueFull   = "network:send_queue_full"
)

var (
	// ErrHandshakeFailed 表示握手阶段失败（例如 WebSocket 升级失败或版本不兼容）。
	ErrHandshakeFailed = errors.New(ErrCodeHandshakeFailed)

	// ErrRecvFailed 表示在读取底层连接数据时发生错误。
	ErrRecvFailed = errors.New(ErrCodeRecvFailed)

	// ErrDecodeFailed 表示在将原始帧解码为 Envelope 时发生错误。
	ErrDecodeFailed = errors.New(ErrCodeDecodeFailed)

	// ErrDispatchFailed 表示在将 Envelope 分发给业务处理时发生错误。
	ErrDispatchFailed = errors.New(ErrCodeDispatchFailed)

	// ErrEncodeFailed 表示在将业务对象编码为帧时发生错误。
	ErrEncodeFailed = errors.New(ErrCodeEncodeFailed)

	// ErrSendFailed 表示在发送数据到对端时发生错误。
	ErrSendFailed = errors.New(ErrCodeSendFailed)

	// ErrSendQueueFull 表示发送队列已满，非阻塞投递被丢弃。
	ErrSendQueueFull = errors.New(ErrCodeSendQueueFull)
)
