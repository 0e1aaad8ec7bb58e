// Package upi parses UPI payment codes and settles merchant payouts.
package upi

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

type ParsedQR struct {
	MerchantName     string           `json:"merchant_name"`
	MerchantUPIID    string           `json:"merchant_upi_id"`
	Amount           *decimal.Decimal `json:"amount,omitempty"`
	TransactionNote  string           `json:"transaction_note,omitempty"`
	MerchantCategory string           `json:"merchant_category,omitempty"`
	IsValid          bool             `json:"is_valid"`
}

var upiIDPattern = regexp.MustCompile(`([a-zA-Z0-9._-]+@[a-zA-Z0-9]+)`)

// ParseQR accepts a bare UPI id, a upi:// deep link or any text that
// embeds a UPI id.
func ParseQR(data string) ParsedQR {
	var res ParsedQR
	s := strings.TrimSpace(data)
	isLink := strings.HasPrefix(strings.ToLower(s), "upi://")

	if !isLink && strings.Contains(s, "@") && !strings.ContainsAny(s, " \t\n") {
		res.MerchantUPIID = s
		res.MerchantName = strings.SplitN(s, "@", 2)[0]
		res.IsValid = true
		return res
	}

	if isLink {
		q := strings.IndexByte(s, '?')
		if q == -1 {
			return res
		}
		params, err := url.ParseQuery(s[q+1:])
		if err != nil {
			return res
		}
		res.MerchantUPIID = params.Get("pa")
		res.MerchantName = params.Get("pn")
		if res.MerchantName == "" {
			if res.MerchantUPIID != "" {
				res.MerchantName = strings.SplitN(res.MerchantUPIID, "@", 2)[0]
			} else {
				res.MerchantName = "Merchant"
			}
		}
		res.MerchantCategory = params.Get("mc")
		res.TransactionNote = params.Get("tn")
		if am := params.Get("am"); am != "" {
			if v, err := decimal.NewFromString(am); err == nil && v.IsPositive() {
				res.Amount = &v
			}
		}
		res.IsValid = strings.Contains(res.MerchantUPIID, "@")
		return res
	}

	if m := upiIDPattern.FindStringSubmatch(s); m != nil {
		res.MerchantUPIID = m[1]
		res.MerchantName = strings.SplitN(m[1], "@", 2)[0]
		res.IsValid = true
	}
	return res
}

// DeepLink builds a upi://pay link for the given payee.
func DeepLink(upiID, name string, amount *decimal.Decimal, note string) string {
	v := url.Values{}
	v.Set("pa", upiID)
	v.Set("pn", name)
	if amount != nil && amount.IsPositive() {
		v.Set("am", amount.StringFixed(2))
	}
	if note != "" {
		v.Set("tn", note)
	}
	v.Set("cu", "INR")
	return "upi://pay?" + v.Encode()
}
