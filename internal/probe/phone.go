package probe

import (
	"strings"

	"github.com/nyaruka/phonenumbers"
	"github.com/rotisserie/eris"
)

// PhoneInfo is the normalized form of a submitted phone number.
type PhoneInfo struct {
	E164   string
	Region string // ISO 3166-1 alpha-2
	Valid  bool
}

// NormalizePhone parses a submitted phone number into E.164 form and derives
// its region. defaultRegion is the company's claimed region, used only when
// the number lacks an international prefix. Parsing is local and
// deterministic; this adapter performs no network calls.
func NormalizePhone(raw, defaultRegion string) (PhoneInfo, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return PhoneInfo{}, eris.New("phone: empty number")
	}

	num, err := phonenumbers.Parse(raw, strings.ToUpper(defaultRegion))
	if err != nil {
		return PhoneInfo{}, eris.Wrapf(err, "phone: parse %q", raw)
	}

	return PhoneInfo{
		E164:   phonenumbers.Format(num, phonenumbers.E164),
		Region: phonenumbers.GetRegionCodeForNumber(num),
		Valid:  phonenumbers.IsValidNumber(num),
	}, nil
}
