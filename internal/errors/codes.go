// Package errors 提供特化器的错误分类与错误码
package errors

// ============================================================================
// 错误级别
// ============================================================================

// Level 错误级别
type Level int

const (
	LevelError   Level = iota // 错误
	LevelWarning              // 警告
	LevelNote                 // 提示
)

func (l Level) String() string {
	switch l {
	case LevelError:
		return "error"
	case LevelWarning:
		return "warning"
	case LevelNote:
		return "note"
	default:
		return "unknown"
	}
}

// ============================================================================
// 错误码
// ============================================================================

// 分类错误码 (H 开头)：源图没有合法的绑定时间标注
const (
	H0001 = "H0001" // 操作码没有标注规则
	H0002 = "H0002" // 提交的值不是抽象常量
	H0003 = "H0003" // 提交的常量已被其他位置固定
	H0004 = "H0004" // 绿色参数没有提供常量
	H0005 = "H0005" // 绿色操作无法折叠
)

// 合并不兼容 (M 开头)：分析中可恢复，容器退化
const (
	M0001 = "M0001" // 容器形状或类型不一致
)

// 内部一致性错误 (I 开头)：特化中止，丢弃残余代码
const (
	I0001 = "I0001" // 强制一个无法具现的盒子
	I0002 = "I0002" // 合并时盒子数量不一致
	I0003 = "I0003" // 合并时虚拟结构形状不一致
	I0004 = "I0004" // 残余块数量超过上限
	I0005 = "I0005" // 不动点迭代超过上限
	I0006 = "I0006" // 合并不同静态类型的标量值
	I0007 = "I0007" // 后端拒绝生成的操作
	I0008 = "I0008" // 特化没有到达返回块
)

// ============================================================================
// 错误码信息
// ============================================================================

// ErrorInfo 错误码信息
type ErrorInfo struct {
	Code     string // 错误码
	Kind     Kind   // 错误类别
	Level    Level  // 错误级别
	Category string // 错误分类
	Hint     string // 修复建议（可选）
}

var codeTable = map[string]ErrorInfo{
	H0001: {H0001, Classification, LevelError, "rule", "the operation has no binding-time rule; lower it to supported operations"},
	H0002: {H0002, Classification, LevelError, "commit", "only values derived from constants can be promoted with hint_concrete"},
	H0003: {H0003, Classification, LevelError, "commit", "the value was already promoted elsewhere; promote it once, before its uses"},
	H0004: {H0004, Classification, LevelError, "argument", "pass a known constant for every argument the annotation marks green"},
	H0005: {H0005, Classification, LevelError, "fold", "the green operation failed at specialization time, e.g. division by zero"},

	M0001: {M0001, MergeIncompatibility, LevelWarning, "container", ""},

	I0001: {I0001, Internal, LevelError, "force", ""},
	I0002: {I0002, Internal, LevelError, "merge", ""},
	I0003: {I0003, Internal, LevelError, "merge", ""},
	I0004: {I0004, Internal, LevelError, "limit", "raise max_residual_blocks or mark the loop counter with hint_variable"},
	I0005: {I0005, Internal, LevelError, "limit", "raise max_fixpoint_iterations"},
	I0006: {I0006, Internal, LevelError, "merge", ""},
	I0007: {I0007, Internal, LevelError, "backend", ""},
	I0008: {I0008, Internal, LevelError, "return", ""},
}

// LookupCode 查询错误码信息
func LookupCode(code string) (ErrorInfo, bool) {
	info, ok := codeTable[code]
	return info, ok
}
