package micloud

// Region describes one entry in the closed region set of spec.md §6, in
// UI display order.
type Region struct {
	Tag  string
	Name string
}

// Regions is the closed, order-preserved set of recognized regions.
var Regions = []Region{
	{"cn", "China"},
	{"ru", "Russia"},
	{"us", "USA"},
	{"i2", "India"},
	{"tw", "Taiwan"},
	{"sg", "Singapore"},
	{"de", "Germany"},
}

// IsSupportedRegion reports whether tag is one of the closed set above.
func IsSupportedRegion(tag string) bool {
	for _, r := range Regions {
		if r.Tag == tag {
			return true
		}
	}
	return false
}

const defaultBaseURL = "https://api.io.mi.com/app"

// regionBaseURL resolves a region tag to its device-API base URL.
// "cn" and any unrecognized/fallback tag (notably "i2", which has no
// dedicated base) resolve to the plain api.io.mi.com host; de/ru/sg/tw/us
// each get a prefixed host.
func regionBaseURL(tag string) string {
	switch tag {
	case "de", "ru", "sg", "tw", "us":
		return "https://" + tag + ".api.io.mi.com/app"
	default:
		return defaultBaseURL
	}
}

const healthBaseURL = "https://hlth.io.mi.com"

// regionHealthBaseURL resolves a region tag to the MiFitness/health-data
// API base used by healthrpc.go. Same fallback shape as regionBaseURL.
func regionHealthBaseURL(tag string) string {
	switch tag {
	case "de", "ru", "sg", "tw", "us":
		return "https://" + tag + ".hlth.io.mi.com"
	default:
		return healthBaseURL
	}
}
