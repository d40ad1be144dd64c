package domain

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/shopspring/decimal"
)

const maxLineItemDescription = 300

// LineItem is one billed entry of a payment.
type LineItem struct {
	Description string          `json:"description"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	Quantity    int             `json:"quantity"`
}

func (li LineItem) Total() decimal.Decimal {
	return li.UnitPrice.Mul(decimal.NewFromInt(int64(li.Quantity)))
}

func (li LineItem) Validate() error {
	desc := strings.TrimSpace(li.Description)
	if desc == "" || utf8.RuneCountInString(desc) > maxLineItemDescription {
		return newValidation("line_items.description", ErrInvalidLineItem)
	}
	if !ValidAmount(li.UnitPrice) {
		return newValidation("line_items.unit_price", ErrInvalidLineItem)
	}
	if li.Quantity < 1 {
		return newValidation("line_items.quantity", ErrInvalidLineItem)
	}
	return nil
}

// SumLineItems returns the sum of every item's total.
func SumLineItems(items []LineItem) decimal.Decimal {
	sum := decimal.Zero
	for _, item := range items {
		sum = sum.Add(item.Total())
	}
	return sum
}

// ValidateLineItems checks every item and that the totals add up to amount.
func ValidateLineItems(items []LineItem, amount decimal.Decimal, max int) error {
	if max > 0 && len(items) > max {
		return newValidation("line_items", ErrTooManyLineItems)
	}
	for i, item := range items {
		if err := item.Validate(); err != nil {
			return fmt.Errorf("line item %d: %w", i, err)
		}
	}
	if len(items) > 0 && !SumLineItems(items).Equal(amount) {
		return newValidation("line_items", ErrLineItemsMismatch)
	}
	return nil
}
