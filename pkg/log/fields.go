package log

import (
	"go.uber.org/zap"
)

const (
	FieldNameModule      = "module"
	FieldNameComponent   = "component"
	FieldNameSessionID   = "sessionID"
	FieldNameComponentID = "componentID"
)

// FieldModule 返回一个包含模块名的 zap 字段。
func FieldModule(module string) zap.Field {
	return zap.String(FieldNameModule, module)
}

// FieldComponent 返回一个包含组件名的 zap 字段。
func FieldComponent(component string) zap.Field {
	return zap.String(FieldNameComponent, component)
}

// FieldSessionID 返回一个包含会话 ID 的 zap 字段。
func FieldSessionID(id string) zap.Field {
	return zap.String(FieldNameSessionID, id)
}

// FieldComponentID 返回一个包含渲染组件 ID 的 zap 字段。
func FieldComponentID(id string) zap.Field {
	return zap.String(FieldNameComponentID, id)
}
