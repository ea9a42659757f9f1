package pool

// Ring 固定容量环形缓冲区
type Ring[T any] struct {
	buf   []T
	start int
	size  int
}

// NewRing 创建容量为 capacity 的环形缓冲区，capacity 小于 1 时按 1 处理
func NewRing[T any](capacity int) *Ring[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Ring[T]{buf: make([]T, capacity)}
}

// Push 追加元素，缓冲区已满时淘汰并返回最旧元素
func (r *Ring[T]) Push(v T) (evicted T, ok bool) {
	if r.size < len(r.buf) {
		r.buf[(r.start+r.size)%len(r.buf)] = v
		r.size++
		return evicted, false
	}
	evicted = r.buf[r.start]
	r.buf[r.start] = v
	r.start = (r.start + 1) % len(r.buf)
	return evicted, true
}

// Len 当前元素数
func (r *Ring[T]) Len() int { return r.size }

// Cap 容量
func (r *Ring[T]) Cap() int { return len(r.buf) }

// At 返回第 i 个元素（0 为最旧）
func (r *Ring[T]) At(i int) T {
	return r.buf[(r.start+i)%len(r.buf)]
}

// Items 按从旧到新的顺序返回全部元素的副本
func (r *Ring[T]) Items() []T {
	out := make([]T, r.size)
	for i := 0; i < r.size; i++ {
		out[i] = r.At(i)
	}
	return out
}

// Last 返回最近的 n 个元素，从旧到新排列
func (r *Ring[T]) Last(n int) []T {
	if n > r.size {
		n = r.size
	}
	if n <= 0 {
		return nil
	}
	out := make([]T, n)
	for i := 0; i < n; i++ {
		out[i] = r.At(r.size - n + i)
	}
	return out
}

// Reverse 从新到旧遍历，fn 返回 false 时停止
func (r *Ring[T]) Reverse(fn func(T) bool) {
	for i := r.size - 1; i >= 0; i-- {
		if !fn(r.At(i)) {
			return
		}
	}
}

// Reset 清空缓冲区
func (r *Ring[T]) Reset() {
	var zero T
	for i := range r.buf {
		r.buf[i] = zero
	}
	r.start = 0
	r.size = 0
}
