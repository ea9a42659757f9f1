// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 metrics 提供基于 Prometheus 的委托运行时指标采集能力，覆盖
HTTP、能力注册表、准入、执行、遥测与数据库六大维度。

# 概述

本包通过 Collector 统一注册和记录 Prometheus 指标。NewCollector 注册到
默认注册表；NewCollectorWithRegisterer 接受任意 prometheus.Registerer，
便于测试与多实例隔离。所有记录方法对 nil 接收者安全。

# 主要能力

  - HTTP 指标：请求总数、耗时、请求/响应体大小，状态码归类为 2xx/3xx/4xx/5xx。
  - 注册表指标：按可用状态统计的清单数量、查询结果、查询缓存命中率。
  - 准入指标：按关卡统计的准入决策、接受置信度分布、熔断触发次数。
  - 执行指标：执行总数、耗时、重试次数、进行中执行数。
  - 遥测指标：事件记录/丢弃/刷新数量、刷新耗时、输出端失败、链路异常。
  - 数据库指标：活跃/空闲连接数。
*/
package metrics
