package errors

import (
	stderrors "errors"
	"fmt"
	"strings"

	"go.uber.org/multierr"
)

// ============================================================================
// 错误类别
// ============================================================================

// Kind 错误类别
type Kind int

const (
	Classification       Kind = iota // 标注失败，整次特化失败
	MergeIncompatibility             // 分析期可恢复，不上抛
	Internal                         // 特化期不变量被破坏
)

func (k Kind) String() string {
	switch k {
	case Classification:
		return "classification error"
	case MergeIncompatibility:
		return "merge incompatibility"
	case Internal:
		return "internal consistency error"
	default:
		return "unknown error"
	}
}

// ============================================================================
// 错误
// ============================================================================

// Location 源图位置
type Location struct {
	Graph string
	Block string
	Index int // 块内操作下标；-1 表示块入口，更小的值表示第 n 个输入参数
}

func (l Location) String() string {
	if l.Graph == "" {
		return "<unknown>"
	}
	return fmt.Sprintf("%s/%s#%d", l.Graph, l.Block, l.Index)
}

// Error 特化器错误
type Error struct {
	Kind    Kind     // 错误类别
	Code    string   // 错误码 (H0002)
	Level   Level    // 错误级别
	Message string   // 主消息
	Where   Location // 位置（可选）
	Op      string   // 相关操作码（可选）
	Notes   []string // 附加说明
}

// Error 实现 error 接口
func (e *Error) Error() string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%s[%s]: %s", e.Level, e.Code, e.Message))
	if e.Op != "" {
		sb.WriteString(fmt.Sprintf(" (op %s)", e.Op))
	}
	if e.Where.Graph != "" {
		sb.WriteString(" at " + e.Where.String())
	}
	return sb.String()
}

// Hint 错误码对应的修复建议
func (e *Error) Hint() string {
	if info, ok := codeTable[e.Code]; ok {
		return info.Hint
	}
	return ""
}

// Note 追加附加说明并返回自身
func (e *Error) Note(format string, args ...interface{}) *Error {
	e.Notes = append(e.Notes, fmt.Sprintf(format, args...))
	return e
}

// New 按错误码创建错误，类别和级别取自错误码表
func New(code string, format string, args ...interface{}) *Error {
	e := &Error{Code: code, Message: fmt.Sprintf(format, args...)}
	if info, ok := codeTable[code]; ok {
		e.Kind = info.Kind
		e.Level = info.Level
	}
	return e
}

// At 设置位置并返回自身
func (e *Error) At(where Location, op string) *Error {
	e.Where = where
	e.Op = op
	return e
}

// NewClassification 创建分类错误
func NewClassification(code string, format string, args ...interface{}) *Error {
	e := New(code, format, args...)
	e.Kind = Classification
	return e
}

// NewInternal 创建内部一致性错误
func NewInternal(code string, format string, args ...interface{}) *Error {
	e := New(code, format, args...)
	e.Kind = Internal
	return e
}

// NewMergeIncompatibility 创建合并不兼容
func NewMergeIncompatibility(format string, args ...interface{}) *Error {
	e := New(M0001, format, args...)
	e.Kind = MergeIncompatibility
	e.Level = LevelWarning
	return e
}

// ============================================================================
// 判断
// ============================================================================

// KindOf 返回错误链中第一个 *Error 的类别
func KindOf(err error) (Kind, bool) {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Kind, true
	}
	return 0, false
}

// IsClassification 错误链中是否包含分类错误
func IsClassification(err error) bool {
	k, ok := KindOf(err)
	return ok && k == Classification
}

// IsInternal 错误链中是否包含内部一致性错误
func IsInternal(err error) bool {
	k, ok := KindOf(err)
	return ok && k == Internal
}

// HasCode 错误（含聚合错误的每一项）中是否包含指定错误码
func HasCode(err error, code string) bool {
	for _, item := range multierr.Errors(err) {
		var e *Error
		if stderrors.As(item, &e) && e.Code == code {
			return true
		}
	}
	return false
}

// Codes 列出聚合错误中每一项的错误码；非 *Error 项跳过
func Codes(err error) []string {
	var codes []string
	for _, item := range multierr.Errors(err) {
		var e *Error
		if stderrors.As(item, &e) {
			codes = append(codes, e.Code)
		}
	}
	return codes
}
