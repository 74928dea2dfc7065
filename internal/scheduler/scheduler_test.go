package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestSchedulerTicksUntilCancelled(t *testing.T) {
	var ticks atomic.Int32
	ctx, cancel := context.WithCancel(context.Background())

	sched := New(Options{Interval: 10 * time.Millisecond}, zerolog.Nop())
	done := make(chan error, 1)
	go func() {
		done <- sched.Run(ctx, func(ctx context.Context, tickAt time.Time) error {
			if ticks.Add(1) >= 3 {
				cancel()
			}
			return nil
		})
	}()

	select {
	case err := <-done:
		if err != context.Canceled {
			t.Fatalf("取消后应返回 context.Canceled: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("调度器未在预期时间内退出")
	}

	if ticks.Load() < 3 {
		t.Fatalf("tick 次数不足: %d", ticks.Load())
	}
}

func TestSchedulerSkipsMissedSlots(t *testing.T) {
	var (
		ticks atomic.Int32
		first atomic.Int64
		last  atomic.Int64
	)
	ctx, cancel := context.WithCancel(context.Background())

	interval := 10 * time.Millisecond
	sched := New(Options{Interval: interval}, zerolog.Nop())
	done := make(chan error, 1)
	go func() {
		done <- sched.Run(ctx, func(ctx context.Context, tickAt time.Time) error {
			switch ticks.Add(1) {
			case 1:
				first.Store(tickAt.UnixNano())
				// 拖过 3 个间隔, 错过的槽位应被跳过而非补跑
				time.Sleep(35 * time.Millisecond)
			case 2:
				last.Store(tickAt.UnixNano())
				cancel()
			}
			return nil
		})
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("调度器未在预期时间内退出")
	}

	gap := time.Duration(last.Load() - first.Load())
	if gap < 3*interval {
		t.Fatalf("第二次 tick 应跳到超时之后的槽位, 实际间隔 %s", gap)
	}
}

func TestSchedulerHonoursStartupDelayCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	sched := New(Options{Interval: time.Minute, StartupDelay: time.Hour}, zerolog.Nop())
	if err := sched.Run(ctx, func(ctx context.Context, tickAt time.Time) error { return nil }); err != context.Canceled {
		t.Fatalf("启动延迟期间取消应立即返回: %v", err)
	}
}

func TestNextTickAligned(t *testing.T) {
	sched := New(Options{Interval: time.Minute, AlignToStart: true}, zerolog.Nop())
	now := time.Date(2026, 3, 2, 10, 30, 25, 0, time.UTC)
	next := sched.nextTick(now)
	if next != time.Date(2026, 3, 2, 10, 31, 0, 0, time.UTC) {
		t.Fatalf("对齐错误: %s", next)
	}
}
