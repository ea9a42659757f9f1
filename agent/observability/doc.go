// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 observability 提供委托生命周期的遥测关联引擎。

# 概述

Collector 订阅准入引擎与执行引擎发布的生命周期事件，
将其转换为不可变的 TelemetryEvent，关联到所属的委托链，
经过严重级别与采样过滤后写入有界历史与缓冲区，
并按缓冲区大小、周期或立即模式将批次并行写入所有 Sink。

# 核心模型

  - TelemetryEvent: 事件记录，携带发生时刻的 ChainCorrelation 快照与性能指标。
  - ChainCorrelation: 一棵委托树的关联记录。首次引用时创建，
    深度与参与者只增不减，状态仅从 active 迁移到终态一次。
  - AgentPerformance: 按 Agent 聚合的计数、成功率、耗时分位数与置信度。
  - ChainAnalysis / Anomaly: 链分析结果与异常标记。

# Sink

  - MemorySink: 内存保存，用于测试。
  - LogSink: zap 结构化日志。
  - FileSink: JSON Lines 文件，可由 ReadJSONL 读回。
  - RedisStreamSink: Redis Stream (XADD)。
  - GormSink: SQL 数据库（PostgreSQL / MySQL / SQLite）。
  - KafkaSink: Kafka topic，以链根为消息 key。
  - NATSSink: NATS 主题 "<subject>.<event_type>"。

单个 Sink 写入失败只会被记录与计数，不会中止 flush，也不会影响任务执行。

# 分析

AnalyzeChain 汇总一条链的合约数、最大深度、参与者、时长、成功率、
平均耗时与置信度、重试次数、状态分布和时间线；
FindAnomalies 按链根分组检测过深、过长、低成功率与过多重试。
*/
package observability
