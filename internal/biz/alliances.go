package biz

const (
	AllianceStar     = "Star Alliance"
	AllianceOneWorld = "OneWorld"
	AllianceSkyTeam  = "SkyTeam"
)

var allianceMembers = map[string][]string{
	AllianceStar:     {"UA", "LH", "AC", "NH", "SQ", "TK", "LX", "OS", "SK", "TP"},
	AllianceOneWorld: {"AA", "BA", "QF", "CX", "JL", "IB", "AY", "QR", "AS"},
	AllianceSkyTeam:  {"DL", "AF", "KL", "KE", "AM", "AZ", "VS"},
}

// carrierAlliance indexes allianceMembers by carrier code.
var carrierAlliance = func() map[string]string {
	m := make(map[string]string)
	for alliance, carriers := range allianceMembers {
		for _, c := range carriers {
			m[c] = alliance
		}
	}
	return m
}()

// sharedAlliance returns the alliance both carriers belong to, or "".
func sharedAlliance(a, b string) string {
	aa, ok := carrierAlliance[a]
	if !ok {
		return ""
	}
	if carrierAlliance[b] == aa {
		return aa
	}
	return ""
}
