/*
包 migration 管理 SQL 运行记录存储的表结构，基于 golang-migrate。

# 概述

迁移文件通过 embed.FS 内嵌（migrations/postgres、migrations/mysql），
当前只有 run_records 一张表。SQLite 存储由 gorm AutoMigrate 维护表结构，
NewMigrator 对其返回 ErrAutoMigrated。

# 核心类型

  - Migrator / DefaultMigrator：Up/Down/DownAll/Steps/Goto/Force/Version/Status/Info。
  - Config：数据库类型、连接 URL 或已打开的 *sql.DB、迁移表名。
  - CLI：为 `config2flow migrate` 子命令提供格式化输出。

# 工厂函数

  - NewMigratorFromDatabaseConfig：由运行时数据库配置创建。
  - NewMigratorWithDB：复用 gorm 的连接，store 启动时自动迁移。
  - NewMigratorFromURL：直接指定连接串。
*/
package migration
