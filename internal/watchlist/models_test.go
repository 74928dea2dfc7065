package watchlist

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
)

func validEntry() Entry {
	return Entry{
		UserEmail:      "trader@example.com",
		StockCode:      "600036.SH",
		StockName:      "招商银行",
		UpperThreshold: decimal.NewFromInt(40),
		LowerThreshold: decimal.NewFromInt(30),
	}
}

func TestValidateAccepts(t *testing.T) {
	entry := validEntry()
	if err := entry.Validate(); err != nil {
		t.Fatalf("合法条目不应报错: %v", err)
	}
}

func TestValidateRejectsThresholdOrder(t *testing.T) {
	entry := validEntry()
	entry.UpperThreshold = decimal.NewFromInt(30)
	entry.LowerThreshold = decimal.NewFromInt(40)
	assertValidationError(t, entry.Validate())

	// equal thresholds leave no band
	entry.UpperThreshold = decimal.NewFromInt(30)
	entry.LowerThreshold = decimal.NewFromInt(30)
	assertValidationError(t, entry.Validate())
}

func TestValidateRejectsNonPositiveLower(t *testing.T) {
	entry := validEntry()
	entry.LowerThreshold = decimal.Zero
	assertValidationError(t, entry.Validate())

	entry.LowerThreshold = decimal.NewFromInt(-5)
	assertValidationError(t, entry.Validate())
}

func TestValidateRejectsBadCode(t *testing.T) {
	for _, code := range []string{"", "600036", "600036.sh", "ABCDEF.SH", "600036.SHH"} {
		entry := validEntry()
		entry.StockCode = code
		assertValidationError(t, entry.Validate())
	}
}

func TestValidateRejectsBadEmail(t *testing.T) {
	entry := validEntry()
	entry.UserEmail = "not-an-email"
	assertValidationError(t, entry.Validate())
}

func assertValidationError(t *testing.T, err error) {
	t.Helper()
	if err == nil {
		t.Fatal("应返回校验错误")
	}
	var vErr *ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("期望 *ValidationError, 实际 %T: %v", err, err)
	}
}
