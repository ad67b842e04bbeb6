// Package app 是一次运行的顶层入口。
//
// App 包装由工厂构造的根工作流：生成运行 ID，建立根 Trace，按声明默认值补齐输入，
// 运行结束后渲染 output 模板、上报指标，并把 RunRecord 写入 store。
// App 不可复用：每次运行都应通过 factory.AppFactory 构造一张新的节点图。
package app
