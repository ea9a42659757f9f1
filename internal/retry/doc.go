// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 retry 提供委托执行使用的重试与退避能力。

# 概述

Retryer 按 Policy 反复调用任务函数：首次尝试不等待，第 n 次（n>1）
尝试前等待 Policy.Delay(n)。只有当上一次错误命中 Policy.Conditions
（或未配置时的默认条件集）时才会继续重试，耗尽后原样返回最后一次错误。

# 退避策略

  - none：固定等待 InitialDelay
  - linear：InitialDelay·n
  - exponential：InitialDelay·2^(n-1)

三种策略的结果均以 MaxDelay 为上限。

# 错误分类

Classify 将错误归为 timeout、network_error 或 resource_unavailable，
依据依次为 types.Error 错误码、context.DeadlineExceeded、net.Error
以及错误消息关键字。
*/
package retry
