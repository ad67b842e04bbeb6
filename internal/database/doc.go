/*
包 database 负责运行记录 SQL 后端的连接管理：按驱动打开 GORM 连接，
配置连接池，后台健康检查，并提供带重试的事务封装。

# 驱动

Open 根据 config.DatabaseConfig 选择方言：postgres、mysql 使用
gorm.io/driver，sqlite 使用纯 Go 的 glebarez/sqlite。

# 核心类型

  - PoolManager：持有 GORM DB 与底层 sql.DB，提供 DB()、Ping()、
    Stats()、Close()。传入 metrics.Collector 时，健康检查会上报
    打开/空闲连接数。
  - PoolConfig：连接池参数，可由 PoolConfigFrom 从数据库配置得到。
  - TransactionFunc：事务回调。WithTransactionRetry 对死锁、
    序列化失败等错误做指数退避重试。
*/
package database
