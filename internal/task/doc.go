// Package task 提供异步指令队列：提交的指令先写入任务存储再投递到队列，
// Processor 的工作协程领取任务并交给 Agent 执行，记录回复或失败原因。
package task
