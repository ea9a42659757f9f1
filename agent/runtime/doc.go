// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 runtime 将能力注册表、准入引擎、执行引擎与遥测关联引擎组装为
一个可直接使用的委托运行时实例。

# 概述

Runtime 在构造时创建并连接各组件：准入、执行与运行时自身的生命周期
事件统一经由 lifecycle.Hub 同步分发给遥测 Collector。所有状态均为
进程内状态，由构造注入，不存在全局单例。

# 委托流程

  - Propose：发布 contract_created，执行准入评估，记录协商检查点，
    并将合约推进到 accepted 或 rejected。拒绝不是错误，原因在
    Decision 中返回。
  - Execute：为受托方增加工作负载，交给执行引擎运行，随后把结果
    回灌到信誉跟踪器、能力统计与能力自评估。
  - Delegate：合约未指定受托方时按能力查询候选，选出第一个可接受
    的候选后再正式提议。
  - SubDelegate：基于父合约创建子合约，深度加一并共享链根。

# 外部协作者

AgentLookup 按名称解析 Agent 定义（能力清单与生命周期钩子），
ResultFormatter 负责验证结果的展示渲染；两者在本包中只定义接口。
*/
package runtime
