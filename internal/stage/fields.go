package stage

import (
	"encoding/json"
	"strconv"
	"strings"
)

// Canonical receipt field names produced by ExtractFields.
const (
	FieldNumber    = "number"
	FieldStoreName = "store_name"
	FieldStoreID   = "store_id"
	FieldAmount    = "ticket_amount"
	FieldPrintTime = "print_time"
)

// FieldAliases lists, per canonical field, the source keys to try in order.
var FieldAliases = []struct {
	Field   string
	Aliases []string
}{
	{FieldNumber, []string{
		"number", "receipt_number", "receiptNumber", "receiptNo", "receipt_no",
		"ticketNumber", "ticket_number", "id", "receipt_id", "receiptId",
		"transaction_id", "transactionId", "order_number", "orderNumber",
		"invoice_number", "invoiceNumber", "bill_number", "billNumber",
		"ref_number", "refNumber", "reference_number", "referenceNumber",
		"serial_number", "serialNumber",
	}},
	{FieldStoreName, []string{
		"shopName", "shop_name", "storeName", "store_name", "merchant_name",
		"merchantName", "business_name", "businessName", "company_name",
		"companyName", "retailer_name", "retailerName", "outlet_name",
		"outletName", "branch_name", "branchName",
	}},
	{FieldStoreID, []string{
		"shopCode", "shop_code", "storeId", "store_id", "storeCode", "store_code",
		"merchant_id", "merchantId", "business_id", "businessId", "outlet_id",
		"outletId", "branch_id", "branchId", "location_id", "locationId",
	}},
	{FieldAmount, []string{
		"totalAmount", "total_amount", "total", "amount", "grandTotal",
		"grand_total", "ticketAmount", "ticket_amount", "final_amount",
		"finalAmount", "net_amount", "netAmount", "payable_amount",
		"payableAmount", "invoice_total", "invoiceTotal", "bill_total",
		"billTotal", "subtotal", "sub_total", "sum", "price", "cost",
	}},
	{FieldPrintTime, []string{
		"printTime", "print_time", "timestamp", "dateTime", "date_time",
		"created_at", "createdAt", "transaction_time", "transactionTime",
		"purchase_time", "purchaseTime", "sale_time", "saleTime", "issued_at",
		"issuedAt", "receipt_time", "receiptTime", "order_time", "orderTime",
		"billing_time", "billingTime",
	}},
}

// ExtractFields resolves the canonical fields of a receipt document using
// FieldAliases. A "record" sub-object, when present, is searched instead of
// the top level. Values that are null, empty, "unknown" or "null" are
// skipped. Unresolved fields are absent from the result.
func ExtractFields(doc map[string]any) map[string]string {
	src := doc
	if rec, ok := doc["record"].(map[string]any); ok {
		src = rec
	}
	out := make(map[string]string, len(FieldAliases))
	for _, rule := range FieldAliases {
		for _, key := range rule.Aliases {
			if v, ok := fieldString(src[key]); ok {
				out[rule.Field] = v
				break
			}
		}
	}
	return out
}

func fieldString(v any) (string, bool) {
	var s string
	switch t := v.(type) {
	case nil:
		return "", false
	case string:
		s = strings.TrimSpace(t)
	case json.Number:
		s = t.String()
	case float64:
		s = strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		s = strconv.Itoa(t)
	case int64:
		s = strconv.FormatInt(t, 10)
	case bool:
		s = strconv.FormatBool(t)
	default:
		return "", false
	}
	if s == "" || s == "unknown" || s == "null" {
		return "", false
	}
	return s, true
}

// ParseAmount reads a money value, tolerating currency symbols and
// thousands separators.
func ParseAmount(s string) (float64, bool) {
	cleaned := strings.NewReplacer("$", "", "¥", "", "￥", "", ",", "", " ", "").Replace(strings.TrimSpace(s))
	if cleaned == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}
