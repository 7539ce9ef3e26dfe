package tools

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// invoiceRecord is one row of the built-in demo order table.
type invoiceRecord struct {
	OrderID       string  `json:"orderId"`
	InvoiceNumber string  `json:"invoiceNumber"`
	Status        string  `json:"status"`
	AmountCents   int64   `json:"amountCents"`
	Currency      string  `json:"currency"`
	IssuedAt      string  `json:"issuedAt"`
	DueAt         string  `json:"dueAt"`
	Customer      string  `json:"customer"`
	Items         []string `json:"items"`
}

// demoInvoices backs the reference tool. A production deployment would
// swap the handler for one that queries a billing system.
var demoInvoices = []invoiceRecord{
	{
		OrderID: "10001", InvoiceNumber: "INV-2026-0142", Status: "PAID",
		AmountCents: 14999, Currency: "USD",
		IssuedAt: "2026-07-02", DueAt: "2026-08-01",
		Customer: "Northwind Traders", Items: []string{"Starter plan, July"},
	},
	{
		OrderID: "10002", InvoiceNumber: "INV-2026-0178", Status: "OPEN",
		AmountCents: 89900, Currency: "USD",
		IssuedAt: "2026-07-15", DueAt: "2026-08-14",
		Customer: "Contoso Ltd", Items: []string{"Scale plan, July", "Overage: 120k tokens"},
	},
	{
		OrderID: "10003", InvoiceNumber: "INV-2026-0201", Status: "OVERDUE",
		AmountCents: 4500, Currency: "EUR",
		IssuedAt: "2026-06-20", DueAt: "2026-07-20",
		Customer: "Fabrikam GmbH", Items: []string{"Voice minutes, June"},
	},
}

// InvoiceLookup builds the reference invoice-lookup tool. It accepts
// exactly one of orderId or invoiceNumber and answers from a static table;
// unknown orders come back as a structured not-found payload rather than
// an execution error, so the model can tell the user directly.
func InvoiceLookup() *Tool {
	return &Tool{
		Name:        "InvoiceLookup",
		Description: "Look up an invoice by order ID or invoice number. Returns status, amount, and due date.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"orderId": map[string]any{
					"type":        "string",
					"description": "Numeric order identifier, e.g. 10002",
				},
				"invoiceNumber": map[string]any{
					"type":        "string",
					"description": "Invoice number, e.g. INV-2026-0178",
				},
			},
		},
		Permissions: Permissions{
			DataAccess:         []string{"billing:read"},
			NetworkAccess:      false,
			EstimatedCostCents: 0,
		},
		Limits: Limits{
			Timeout:         5 * time.Second,
			MaxPayloadBytes: 16 * 1024,
		},
		Handler: lookupInvoice,
	}
}

func lookupInvoice(_ context.Context, args map[string]any) (any, error) {
	orderID, _ := args["orderId"].(string)
	invoiceNumber, _ := args["invoiceNumber"].(string)

	if orderID == "" && invoiceNumber == "" {
		return nil, errors.New("one of orderId or invoiceNumber is required")
	}
	if orderID != "" && invoiceNumber != "" {
		return nil, errors.New("orderId and invoiceNumber are mutually exclusive")
	}

	for i := range demoInvoices {
		rec := &demoInvoices[i]
		if (orderID != "" && rec.OrderID == orderID) ||
			(invoiceNumber != "" && rec.InvoiceNumber == invoiceNumber) {
			return map[string]any{
				"success": true,
				"invoice": rec,
			}, nil
		}
	}
	return map[string]any{
		"success": false,
		"error":   "Order not found",
		"query":   fmt.Sprintf("orderId=%s invoiceNumber=%s", orderID, invoiceNumber),
	}, nil
}
