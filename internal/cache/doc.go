/*
包 cache 封装 go-redis 客户端，为运行记录的 redis 后端提供连接管理。

  - Manager：连接生命周期（初始化探活、健康检查、关闭），键前缀，
    JSON 读写，以及基于有序集合的时间索引。
  - SetIndexed 在一个 MULTI 中写值并更新索引；IndexLatest 按分数倒序读取。
  - ErrCacheMiss / IsCacheMiss 表示键不存在或已过期。
*/
package cache
