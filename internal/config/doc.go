// Package config 负责加载 ChainGuard 的运行配置：YAML 文件、.env、环境变量覆盖
// 以及系统钥匙串中的密钥，并在启动前完成校验。
package config
