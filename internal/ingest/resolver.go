package ingest

import (
	"strings"

	"github.com/hireloop/wabridge/internal/errs"
	"github.com/hireloop/wabridge/internal/store"
)

const (
	userServer  = "s.whatsapp.net"
	groupServer = "g.us"
)

// IsGroupJID derives the conversation kind from the address suffix.
func IsGroupJID(jid string) bool {
	return strings.HasSuffix(jid, "@"+groupServer)
}

// PhoneFromJID extracts the phone-number portion of a direct-chat address.
// Returns "" for group addresses and anything else that does not carry a
// phone number. Device suffixes (":1") are stripped.
func PhoneFromJID(jid string) string {
	if !strings.HasSuffix(jid, "@"+userServer) {
		return ""
	}
	user := jid[:strings.Index(jid, "@")]
	if i := strings.Index(user, ":"); i >= 0 {
		user = user[:i]
	}
	return user
}

// NormalizeJID turns a raw recipient (phone number or full address) into the
// network address form.
func NormalizeJID(to string) (string, error) {
	if strings.Contains(to, "@") {
		return to, nil
	}
	var digits strings.Builder
	for _, r := range to {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}
	if digits.Len() == 0 {
		return "", errs.ErrInvalidRecipient
	}
	return digits.String() + "@" + userServer, nil
}

// ResolveName picks the best available display name for a chat and its rank.
// Priority: CRM contact full name, the network contact's explicit name, the
// informal notify name, a verified business name, the sender's self-reported
// push name, and the raw phone number as last resort.
func ResolveName(crmName, contactName, notifyName, businessName, pushName, phone string) (string, int) {
	switch {
	case crmName != "":
		return crmName, store.RankCRMContact
	case contactName != "":
		return contactName, store.RankContactName
	case notifyName != "":
		return notifyName, store.RankNotifyName
	case businessName != "":
		return businessName, store.RankBusinessName
	case pushName != "":
		return pushName, store.RankPushName
	default:
		return phone, store.RankPhoneNumber
	}
}
