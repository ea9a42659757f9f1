// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 pool 提供有界历史与缓冲区复用的通用容器。

# 核心类型

  - Ring[T]：固定容量环形缓冲区，写满后淘汰最旧元素。
    用于置信度历史、信誉滑动窗口、任务结果历史与事件历史。
  - BufferPool：基于 sync.Pool 的 bytes.Buffer 复用池，
    供事件 Sink 序列化时减少分配。

Ring 本身不加锁，由持有者在自己的互斥锁内使用。
*/
package pool
