package pdp

import (
	"slices"

	"github.com/openleash/openleash/pkg/contracts"
)

// EvaluateConstraints reports whether every constraint present in c holds
// for action. Absent constraints are skipped.
func EvaluateConstraints(c *contracts.Constraints, action *contracts.ActionRequest) bool {
	if c == nil {
		return true
	}
	payload := action.Payload

	if c.AmountMin != nil || c.AmountMax != nil {
		amount, ok := toNumber(payload["amount_minor"])
		if !ok {
			return false
		}
		if c.AmountMin != nil && amount < *c.AmountMin {
			return false
		}
		if c.AmountMax != nil && amount > *c.AmountMax {
			return false
		}
	}

	if c.Currency != nil {
		currency, ok := payload["currency"].(string)
		if !ok || !slices.Contains(c.Currency, currency) {
			return false
		}
	}

	if c.MerchantDomain != nil {
		domain, ok := resolveDomain(action, "merchant_domain")
		if !ok || !slices.Contains(c.MerchantDomain, domain) {
			return false
		}
	}

	if c.AllowedDomains != nil {
		domain, ok := resolveDomain(action, "domain")
		if !ok || !slices.Contains(c.AllowedDomains, domain) {
			return false
		}
	}

	if c.BlockedDomains != nil {
		domain, ok := resolveDomain(action, "domain")
		if ok && slices.Contains(c.BlockedDomains, domain) {
			return false
		}
	}

	return true
}

// resolveDomain reads payload[key], falling back to the relying party's
// domain when the payload has no value. ok is false when the resolved value
// is missing or not a string.
func resolveDomain(action *contracts.ActionRequest, key string) (string, bool) {
	if v, present := action.Payload[key]; present && v != nil {
		s, ok := v.(string)
		return s, ok
	}
	if action.RelyingParty != nil && action.RelyingParty.Domain != "" {
		return action.RelyingParty.Domain, true
	}
	return "", false
}
