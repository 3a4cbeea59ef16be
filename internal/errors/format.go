package errors

import (
	"fmt"
	"os"
	"strings"

	"go.uber.org/multierr"
)

// ============================================================================
// 格式化器
// ============================================================================

// Formatter 错误格式化器
type Formatter struct {
	Colors    bool // 是否使用颜色
	ShowHints bool // 是否显示修复建议
}

// NewFormatter 创建默认格式化器，标准错误是终端时着色
func NewFormatter() *Formatter {
	return &Formatter{
		Colors:    SupportsColor(os.Stderr),
		ShowHints: true,
	}
}

// FormatError 格式化单个错误
//
//	error[H0002]: cannot commit a variable value
//	 --> power/loop#3 (hint_concrete)
//	 = help: ...
func (f *Formatter) FormatError(e *Error) string {
	var sb strings.Builder

	head := fmt.Sprintf("%s[%s]", e.Level, e.Code)
	sb.WriteString(fmt.Sprintf("%s: %s\n", f.colorize(head, f.levelColor(e.Level)), e.Message))

	if e.Where.Graph != "" {
		loc := e.Where.String()
		if e.Op != "" {
			loc += " (" + e.Op + ")"
		}
		sb.WriteString(fmt.Sprintf(" %s %s\n", f.colorize("-->", ColorCyan), loc))
	}

	if f.ShowHints {
		if hint := e.Hint(); hint != "" {
			sb.WriteString(fmt.Sprintf("%s %s\n", f.colorize(" = help:", ColorCyan), hint))
		}
	}
	for _, note := range e.Notes {
		sb.WriteString(fmt.Sprintf("%s %s\n", f.colorize(" = note:", ColorCyan), note))
	}
	return sb.String()
}

// Format 格式化任意错误；聚合错误逐项输出并附带计数
func (f *Formatter) Format(err error) string {
	items := multierr.Errors(err)
	var sb strings.Builder
	for i, item := range items {
		if i > 0 {
			sb.WriteString("\n")
		}
		if e, ok := item.(*Error); ok {
			sb.WriteString(f.FormatError(e))
		} else {
			sb.WriteString(fmt.Sprintf("%s: %v\n", f.colorize("error", ColorBoldRed), item))
		}
	}
	if len(items) > 1 {
		sb.WriteString(f.colorize(fmt.Sprintf("\n%d errors", len(items)), ColorRed) + "\n")
	}
	return sb.String()
}

func (f *Formatter) levelColor(level Level) Color {
	switch level {
	case LevelError:
		return ColorBoldRed
	case LevelWarning:
		return ColorBoldYellow
	default:
		return ColorBoldGreen
	}
}

func (f *Formatter) colorize(s string, color Color) string {
	if !f.Colors {
		return s
	}
	return Colorize(s, color)
}
