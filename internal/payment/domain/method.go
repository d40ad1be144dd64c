package domain

import (
	"fmt"
	"strings"
)

// Method is how the money moved.
type Method string

const (
	MethodCash         Method = "CASH"
	MethodDebit        Method = "DEBIT"
	MethodCredit       Method = "CREDIT"
	MethodBankTransfer Method = "BANK_TRANSFER"
	MethodGateway      Method = "GATEWAY"
)

func ParseMethod(raw string) (Method, error) {
	m := Method(strings.ToUpper(strings.TrimSpace(raw)))
	switch m {
	case MethodCash, MethodDebit, MethodCredit, MethodBankTransfer, MethodGateway:
		return m, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidMethod, raw)
	}
}

// IsGateway reports whether confirmation arrives asynchronously from the gateway.
func (m Method) IsGateway() bool {
	switch m {
	case MethodGateway:
		return true
	case MethodCash, MethodDebit, MethodCredit, MethodBankTransfer:
		return false
	default:
		return false
	}
}

// IsManual reports whether the payment is confirmed by staff at creation.
func (m Method) IsManual() bool {
	switch m {
	case MethodCash, MethodDebit, MethodCredit, MethodBankTransfer:
		return true
	case MethodGateway:
		return false
	default:
		return false
	}
}
