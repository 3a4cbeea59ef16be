package errors

import (
	"os"
	"sync/atomic"

	"github.com/mattn/go-isatty"
)

// Color ANSI 颜色序列
type Color string

const (
	colorReset Color = "\033[0m"

	ColorRed        Color = "\033[31m"
	ColorGreen      Color = "\033[32m"
	ColorCyan       Color = "\033[36m"
	ColorBoldRed    Color = "\033[1;31m"
	ColorBoldGreen  Color = "\033[1;32m"
	ColorBoldYellow Color = "\033[1;33m"
)

var colorsEnabled atomic.Bool

func init() {
	colorsEnabled.Store(SupportsColor(os.Stdout))
}

// SupportsColor f 是否是支持颜色的终端；NO_COLOR 和 TERM=dumb 总是关闭颜色
func SupportsColor(f *os.File) bool {
	if os.Getenv("NO_COLOR") != "" || os.Getenv("TERM") == "dumb" {
		return false
	}
	fd := f.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// SetColorsEnabled 设置全局着色开关（用于 Red/Green）
func SetColorsEnabled(enabled bool) {
	colorsEnabled.Store(enabled)
}

// ColorsEnabled 全局着色开关
func ColorsEnabled() bool {
	return colorsEnabled.Load()
}

// Colorize 无条件着色
func Colorize(s string, color Color) string {
	return string(color) + s + string(colorReset)
}

// Red 运行时值
func Red(s string) string {
	if !ColorsEnabled() {
		return s
	}
	return Colorize(s, ColorRed)
}

// Green 编译期值
func Green(s string) string {
	if !ColorsEnabled() {
		return s
	}
	return Colorize(s, ColorGreen)
}
