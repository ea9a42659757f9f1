// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 database 提供基于 GORM 的数据库打开与连接池管理，
供遥测事件的 SQL Sink 使用。

# 概述

Open 按配置中的驱动（postgres、mysql、sqlite）选择 GORM 方言，
打开连接后交给 PoolManager 统一管理连接池参数与生命周期。
后台健康检查定时探活，并把打开与空闲连接数上报到 Prometheus。

# 核心类型

  - PoolManager：连接池管理器，持有 GORM DB 实例与底层 sql.DB，
    提供 DB()、Ping()、Stats()、Close() 等生命周期方法。
  - PoolConfig：连接池配置，包含最大空闲连接数、最大打开连接数、
    连接最大生命周期、空闲超时与健康检查间隔。
  - PoolStats：友好格式的连接池统计信息。
*/
package database
