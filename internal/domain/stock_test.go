package domain

import "testing"

func TestStockItemCounters(t *testing.T) {
	tests := []struct {
		name           string
		item           StockItem
		wantAvailable  int
		wantConsistent bool
		wantLowStock   bool
	}{
		{
			name:           "plenty",
			item:           StockItem{OnHand: 25, Reserved: 2, LowStockThreshold: DefaultLowStockThreshold},
			wantAvailable:  23,
			wantConsistent: true,
		},
		{
			name:           "at threshold",
			item:           StockItem{OnHand: 10, Reserved: 5, LowStockThreshold: 5},
			wantAvailable:  5,
			wantConsistent: true,
			wantLowStock:   true,
		},
		{
			name:           "fully reserved",
			item:           StockItem{OnHand: 3, Reserved: 3},
			wantAvailable:  0,
			wantConsistent: true,
			wantLowStock:   true,
		},
		{
			name:           "oversold",
			item:           StockItem{OnHand: 1, Reserved: 2},
			wantAvailable:  -1,
			wantConsistent: false,
			wantLowStock:   true,
		},
		{
			name:           "negative reserved",
			item:           StockItem{OnHand: 1, Reserved: -1, LowStockThreshold: 0},
			wantAvailable:  2,
			wantConsistent: false,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.item.Available(); got != tc.wantAvailable {
				t.Errorf("Available() = %d, want %d", got, tc.wantAvailable)
			}
			if got := tc.item.Consistent(); got != tc.wantConsistent {
				t.Errorf("Consistent() = %v, want %v", got, tc.wantConsistent)
			}
			if got := tc.item.LowStock(); got != tc.wantLowStock {
				t.Errorf("LowStock() = %v, want %v", got, tc.wantLowStock)
			}
		})
	}
}

func TestMovementReasonValid(t *testing.T) {
	for _, reason := range []MovementReason{MovementOrderReserve, MovementOrderCapture, MovementOrderRelease, MovementAdminAdjust} {
		if !reason.Valid() {
			t.Errorf("reason %q must be valid", reason)
		}
	}
	if MovementReason("GIFT").Valid() {
		t.Error("unknown reason must be invalid")
	}
}
