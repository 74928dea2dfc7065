package detector

import (
	"testing"

	"github.com/shopspring/decimal"
)

func d(v float64) decimal.Decimal { return decimal.NewFromFloat(v) }

func TestDecideFiresAboveUpper(t *testing.T) {
	got := Decide(DirectionNone, d(105), d(100), d(90))
	if !got.Fires || got.Direction != DirectionUp {
		t.Fatalf("105 > 100 应触发 UP, 实际 %+v", got)
	}
}

func TestDecideFiresBelowLower(t *testing.T) {
	got := Decide(DirectionNone, d(85), d(100), d(90))
	if !got.Fires || got.Direction != DirectionDown {
		t.Fatalf("85 < 90 应触发 DOWN, 实际 %+v", got)
	}
}

func TestDecideIdempotentBeyondSameThreshold(t *testing.T) {
	// 同方向重复越界不应再次触发
	got := Decide(DirectionUp, d(107), d(100), d(90))
	if got.Fires {
		t.Fatalf("已处于 UP 状态不应重复触发: %+v", got)
	}
	if got.Direction != DirectionUp {
		t.Fatalf("方向应保持 UP: %+v", got)
	}

	got = Decide(DirectionDown, d(80), d(100), d(90))
	if got.Fires || got.Direction != DirectionDown {
		t.Fatalf("已处于 DOWN 状态不应重复触发: %+v", got)
	}
}

func TestDecideInsideBandResets(t *testing.T) {
	for _, prev := range []Direction{DirectionNone, DirectionUp, DirectionDown} {
		got := Decide(prev, d(95), d(100), d(90))
		if got.Fires {
			t.Fatalf("区间内价格不应触发 (prev=%s)", prev)
		}
		if got.Direction != DirectionNone {
			t.Fatalf("区间内价格应复位为 NONE (prev=%s), 实际 %s", prev, got.Direction)
		}
	}
}

func TestDecideBoundaryIsInsideBand(t *testing.T) {
	// 恰好等于阈值视为带内，避免价格贴线时反复告警。
	if got := Decide(DirectionNone, d(100), d(100), d(90)); got.Fires {
		t.Fatalf("price == upper 不应触发: %+v", got)
	}
	if got := Decide(DirectionNone, d(90), d(100), d(90)); got.Fires {
		t.Fatalf("price == lower 不应触发: %+v", got)
	}
}

func TestHysteresisSequence(t *testing.T) {
	// 95 → 105 → 95 → 85, upper=100 lower=90: 恰好两次告警。
	upper, lower := d(100), d(90)
	prev := DirectionNone
	fired := make([]Direction, 0, 2)

	for _, price := range []float64{95, 105, 95, 85} {
		decision := Decide(prev, d(price), upper, lower)
		if decision.Fires {
			fired = append(fired, decision.Direction)
		}
		prev = decision.Direction
	}

	if len(fired) != 2 {
		t.Fatalf("期望 2 次告警, 实际 %d (%v)", len(fired), fired)
	}
	if fired[0] != DirectionUp || fired[1] != DirectionDown {
		t.Fatalf("期望 [UP DOWN], 实际 %v", fired)
	}
}

func TestRepeatedOutOfBandFiresOnce(t *testing.T) {
	upper, lower := d(100), d(90)
	prev := DirectionNone
	count := 0

	for i := 0; i < 5; i++ {
		decision := Decide(prev, d(106), upper, lower)
		if decision.Fires {
			count++
		}
		prev = decision.Direction
	}
	if count != 1 {
		t.Fatalf("固定越界价格重复采样应只触发一次, 实际 %d", count)
	}

	// 回到带内后重新武装，同方向可再次触发。
	decision := Decide(prev, d(95), upper, lower)
	prev = decision.Direction
	decision = Decide(prev, d(106), upper, lower)
	if !decision.Fires || decision.Direction != DirectionUp {
		t.Fatalf("回带内后应可再次触发 UP: %+v", decision)
	}
}

func TestParseDirection(t *testing.T) {
	cases := map[string]Direction{
		"UP":      DirectionUp,
		"DOWN":    DirectionDown,
		"NONE":    DirectionNone,
		"":        DirectionNone,
		"garbage": DirectionNone,
	}
	for input, want := range cases {
		if got := ParseDirection(input); got != want {
			t.Fatalf("ParseDirection(%q) = %s, want %s", input, got, want)
		}
	}
}
