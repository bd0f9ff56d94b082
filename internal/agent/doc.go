// Package agent 是面向调用方的门面：自然语言指令先经过输入防火墙，再由编排器
// 结合会话历史调用链上工具；直接操作跳过防火墙但同样按调用方私钥切换凭据。
package agent
