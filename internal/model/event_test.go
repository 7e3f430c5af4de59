package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTransactionEvent_SpokenAmount(t *testing.T) {
	tests := []struct {
		name   string
		amount string
		want   string
	}{
		{
			name:   "thousands separators stripped",
			amount: "1,234.56",
			want:   "1234.56",
		},
		{
			name:   "whole rupees drop trailing zeros",
			amount: "500.00",
			want:   "500",
		},
		{
			name:   "cents preserved",
			amount: "500.50",
			want:   "500.50",
		},
		{
			name:   "no separators unchanged",
			amount: "42",
			want:   "42",
		},
		{
			name:   "large amount with separators and whole rupees",
			amount: "12,00,000.00",
			want:   "1200000",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev := TransactionEvent{Amount: tt.amount, Date: "05/03/2024", Time: "14:30"}
			assert.Equal(t, tt.want, ev.SpokenAmount())
		})
	}
}

func TestTransactionEvent_String(t *testing.T) {
	ev := TransactionEvent{Amount: "1,234.56", Date: "05/03/2024", Time: "14:30"}
	assert.Equal(t, "credited INR 1,234.56 on 05/03/2024 at 14:30", ev.String())
}
