/*
Package main 提供 config2flow 命令行程序。

# 子命令

  - run       加载应用 YAML，运行一次并以 JSON 打印输出；--trace-out 写出执行轨迹
  - validate  只构造节点图，打印应用描述
  - serve     启动 HTTP 服务，可预加载应用目录并用 --watch 热重载
  - migrate   SQL 运行记录表的数据库迁移（postgres、mysql）
  - version   版本信息，由 ldflags 注入

全局参数 --settings 指定运行配置文件，--log-level 覆盖日志级别。
运行配置按 默认值、YAML、.env、环境变量 的顺序叠加。

错误写到 stderr，进程以退出码 1 结束，不会 panic。
*/
package main
