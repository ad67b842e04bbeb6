// Package store 保存 App 运行记录（输入、输出、trace、错误与耗时）。
//
// 三种后端实现同一个 RunStore 接口：
//   - memory：进程内 map，默认后端
//   - redis：每条记录一个 JSON 值，有序集合按开始时间索引，可设置 TTL
//   - sql：gorm，支持 postgres、mysql（golang-migrate 建表）与 sqlite（AutoMigrate）
package store
