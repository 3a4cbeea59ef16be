package main

import (
	"os"
	"runtime"
	"strings"
)

// Language 语言类型
type Language string

const (
	LangEnglish Language = "en"
	LangChinese Language = "zh"
)

// Messages 消息结构
type Messages struct {
	// 版本信息
	VersionTitle string
	VersionDesc  string

	// 帮助信息
	HelpUsage    string
	HelpCommands string
	HelpOptions  string
	HelpExamples string

	// 命令描述
	CmdSpecialize string
	CmdAnnotate   string
	CmdList       string
	CmdVersion    string
	CmdHelp       string

	// 选项
	OptConfig   string
	OptFunc     string
	OptConst    string
	OptRun      string
	OptJSON     string
	OptAnnotate string
	OptStats    string
	OptVerbose  string
	OptLang     string

	// 错误信息
	ErrNoInput      string
	ErrUnknownCmd   string
	ErrLoad         string
	ErrConfig       string
	ErrArgs         string
	ErrRun          string
	ErrMismatch     string
	ErrFuncRequired string

	// 统计表
	StatBlocks          string
	StatOps             string
	StatForks           string
	StatMergePoints     string
	StatAbsorbed        string
	StatGeneralizations string
	StatForced          string
	StatFolded          string
	StatReturns         string

	// 其他
	Result   string
	Residual string
}

// 英文消息
var messagesEN = Messages{
	VersionTitle: "timeshift v%s",
	VersionDesc:  "A partial-evaluation runtime specializer for flow graphs",

	HelpUsage:    "Usage:",
	HelpCommands: "Commands:",
	HelpOptions:  "Options:",
	HelpExamples: "Examples:",

	CmdSpecialize: "Specialize a graph for the given constant arguments",
	CmdAnnotate:   "Print the binding-time annotation of a graph",
	CmdList:       "List the functions of a Go source file",
	CmdVersion:    "Show version information",
	CmdHelp:       "Show this help message",

	OptConfig:   "Configuration file (default: nearest timeshift.toml)",
	OptFunc:     "Function to convert when the input is a Go file",
	OptConst:    "Known argument name=value (repeatable)",
	OptRun:      "Run the residual program with these comma-separated run-time arguments",
	OptJSON:     "Print the residual program as JSON",
	OptAnnotate: "Also print the annotation",
	OptStats:    "Print specialization statistics",
	OptVerbose:  "Verbose logging",
	OptLang:     "Set language (en/zh)",

	ErrNoInput:      "Error: no input file specified",
	ErrUnknownCmd:   "Unknown command: %s",
	ErrLoad:         "Error loading %s:",
	ErrConfig:       "Configuration error: %v",
	ErrArgs:         "Argument error: %v",
	ErrRun:          "Run error: %v",
	ErrMismatch:     "Residual result %s differs from the source graph result %s",
	ErrFuncRequired: "%s defines several functions, choose one with -func: %s",

	StatBlocks:          "residual blocks",
	StatOps:             "residual ops",
	StatForks:           "forks",
	StatMergePoints:     "merge points",
	StatAbsorbed:        "absorbed",
	StatGeneralizations: "generalizations",
	StatForced:          "forced",
	StatFolded:          "folded",
	StatReturns:         "returns",

	Result:   "result",
	Residual: "residual program",
}

// 中文消息
var messagesZH = Messages{
	VersionTitle: "timeshift v%s",
	VersionDesc:  "面向流图的部分求值运行时特化器",

	HelpUsage:    "用法:",
	HelpCommands: "命令:",
	HelpOptions:  "选项:",
	HelpExamples: "示例:",

	CmdSpecialize: "按给定的常量参数特化图",
	CmdAnnotate:   "打印图的绑定时间标注",
	CmdList:       "列出 Go 源文件中的函数",
	CmdVersion:    "显示版本信息",
	CmdHelp:       "显示帮助信息",

	OptConfig:   "配置文件（默认：最近的 timeshift.toml）",
	OptFunc:     "输入为 Go 文件时要转换的函数",
	OptConst:    "已知参数 name=value（可重复）",
	OptRun:      "用逗号分隔的运行时参数执行残余程序",
	OptJSON:     "以 JSON 输出残余程序",
	OptAnnotate: "同时打印标注",
	OptStats:    "打印特化统计",
	OptVerbose:  "详细日志",
	OptLang:     "设置语言 (en/zh)",

	ErrNoInput:      "错误: 未指定输入文件",
	ErrUnknownCmd:   "未知命令: %s",
	ErrLoad:         "加载 %s 出错:",
	ErrConfig:       "配置错误: %v",
	ErrArgs:         "参数错误: %v",
	ErrRun:          "运行错误: %v",
	ErrMismatch:     "残余程序结果 %s 与源图结果 %s 不一致",
	ErrFuncRequired: "%s 定义了多个函数，请用 -func 选择: %s",

	StatBlocks:          "残余块",
	StatOps:             "残余操作",
	StatForks:           "分叉",
	StatMergePoints:     "合并点",
	StatAbsorbed:        "合并吸收",
	StatGeneralizations: "泛化",
	StatForced:          "强制",
	StatFolded:          "折叠",
	StatReturns:         "返回",

	Result:   "结果",
	Residual: "残余程序",
}

// 当前消息
var msg = messagesEN

// 当前语言
var currentLang = LangEnglish

// InitLanguage 初始化语言设置
// 优先级: 命令行参数 > 环境变量 TIMESHIFT_LANG > 操作系统语言 > 默认英文
func InitLanguage(langOverride string) {
	if langOverride != "" {
		setLanguage(langOverride)
		return
	}
	if envLang := os.Getenv("TIMESHIFT_LANG"); envLang != "" {
		setLanguage(envLang)
		return
	}
	if detectChineseOS() {
		setLanguage("zh")
		return
	}
	setLanguage("en")
}

// setLanguage 设置语言
func setLanguage(lang string) {
	lang = strings.ToLower(strings.TrimSpace(lang))
	switch lang {
	case "zh", "zh-cn", "zh-tw", "zh-hk", "chinese":
		currentLang = LangChinese
		msg = messagesZH
	default:
		currentLang = LangEnglish
		msg = messagesEN
	}
}

// detectChineseOS 检测操作系统是否为中文环境
func detectChineseOS() bool {
	if runtime.GOOS == "windows" && detectWindowsChinese() {
		return true
	}

	// Unix/Linux/Mac: 检查环境变量
	for _, v := range []string{"LC_ALL", "LC_MESSAGES", "LANG", "LANGUAGE"} {
		if val := os.Getenv(v); val != "" {
			lower := strings.ToLower(val)
			return strings.HasPrefix(lower, "zh") || strings.Contains(lower, "chinese")
		}
	}
	return false
}

// GetLanguage 获取当前语言
func GetLanguage() Language {
	return currentLang
}

// Msg 获取当前消息对象
func Msg() *Messages {
	return &msg
}
