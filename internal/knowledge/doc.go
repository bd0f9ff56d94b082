// Package knowledge 提供附加到系统提示词的静态链上知识，目前是已知代币目录。
package knowledge
