// File: internal/identity/wordlists.go
package identity

// Seed vocabulary. Both pools are curated for distinct pronunciation,
// unambiguous spelling and no PII associations; seeds read as
// "adjective-noun" pairs.
var seedAdjectives = []string{
	"amber", "arctic", "aspen", "birch", "blaze", "bolt", "cedar", "chalk",
	"cinder", "cobalt", "copper", "coral", "crimson", "dawn", "delta",
	"dusk", "echo", "ember", "fern", "flint", "forge", "frost", "glint",
	"grove", "hazel", "heather", "hollow", "indigo", "inlet", "ivory",
	"jade", "jasper", "kestrel", "larch", "laurel", "linen", "lunar",
	"maple", "marsh", "mist", "navy", "nimbus", "ochre", "opal", "orbit",
	"otter", "petal", "pine", "prism", "quartz", "raven", "ridge", "river",
	"rowan", "runic", "sable", "sage", "salt", "sand", "scout", "shale",
	"slate", "smoke", "solar", "sparrow", "spruce", "starling", "storm",
	"summit", "swift", "tallow", "teal", "thistle", "timber", "trace",
	"tundra", "vale", "vault", "veldt", "wick", "willow", "wren", "zephyr",
	"zenith",
}

var seedNouns = []string{
	"anvil", "arch", "basin", "beacon", "bridge", "brook", "cable", "cairn",
	"canal", "canopy", "cast", "chord", "circuit", "cistern", "cleft",
	"crest", "current", "depth", "dial", "drift", "dune", "echo", "edge",
	"ember", "falls", "field", "flare", "frame", "gate", "glade", "gorge",
	"grid", "gully", "haven", "hearth", "helm", "hollow", "kelp", "knot",
	"latch", "ledge", "lens", "lever", "light", "line", "link", "loch",
	"lock", "loop", "lore", "mark", "mast", "meld", "mesh", "mill", "moor",
	"node", "notch", "orbit", "pass", "patch", "peak", "pier", "pillar",
	"pitch", "plain", "plank", "pool", "port", "post", "press", "range",
	"rapid", "reach", "reef", "relay", "ridge", "rift", "rivet", "root",
	"route", "rune", "seal", "shaft", "shore", "sill", "sluice", "span",
	"spoke", "stack", "stake", "stave", "stern", "strand", "strut", "surge",
	"sweep", "tide", "tine", "torch", "track", "trail", "vault", "vein",
	"weir", "well", "wharf",
}

// Identity vocabulary for the deterministic generator.
var firstNames = []string{
	"Alex", "Avery", "Bailey", "Blake", "Cameron", "Carson", "Casey",
	"Charlie", "Dakota", "Dana", "Devon", "Drew", "Elliot", "Emerson",
	"Finley", "Frankie", "Gray", "Harper", "Hayden", "Jamie", "Jesse",
	"Jordan", "Jules", "Kai", "Kendall", "Lane", "Logan", "Marley",
	"Micah", "Morgan", "Nico", "Parker", "Peyton", "Quinn", "Reese",
	"Riley", "River", "Robin", "Rowan", "Sage", "Sawyer", "Shay",
	"Skyler", "Spencer", "Sydney", "Tatum", "Taylor", "Toby", "Wren",
}

var lastNames = []string{
	"Alvarez", "Andrews", "Barrett", "Bennett", "Brooks", "Calloway",
	"Carter", "Chen", "Coleman", "Dawson", "Ellis", "Fletcher", "Foster",
	"Gallagher", "Garcia", "Grant", "Hale", "Harper", "Hayes", "Holloway",
	"Hughes", "Ingram", "Jennings", "Keller", "Kim", "Lawson", "Mercer",
	"Monroe", "Nakamura", "Navarro", "Okafor", "Ortiz", "Patel", "Porter",
	"Quinn", "Ramsey", "Reyes", "Russo", "Sandoval", "Santos", "Shepard",
	"Singh", "Sullivan", "Thornton", "Vega", "Walsh", "Weaver", "Whitfield",
	"Yates",
}

var streetNames = []string{
	"Maple Ave", "Oak St", "Cedar Ln", "Birch Rd", "Willow Way",
	"Juniper Ct", "Alder Dr", "Hawthorn St", "Laurel Ave", "Sycamore Ln",
	"Chestnut St", "Magnolia Blvd", "Aspen Ct", "Poplar Rd", "Hickory Dr",
	"Elm St", "Dogwood Ln", "Cypress Ave", "Redwood Ct", "Spruce St",
}

// City, state, and a plausible ZIP kept together so addresses stay coherent.
var cityPool = []struct {
	City  string
	State string
	Zip   string
}{
	{"Portland", "OR", "97205"},
	{"Austin", "TX", "78701"},
	{"Denver", "CO", "80203"},
	{"Raleigh", "NC", "27601"},
	{"Madison", "WI", "53703"},
	{"Tucson", "AZ", "85701"},
	{"Columbus", "OH", "43215"},
	{"Spokane", "WA", "99201"},
	{"Richmond", "VA", "23219"},
	{"Boise", "ID", "83702"},
	{"Omaha", "NE", "68102"},
	{"Knoxville", "TN", "37902"},
	{"Albany", "NY", "12207"},
	{"Tulsa", "OK", "74103"},
	{"Reno", "NV", "89501"},
}

var timezonePool = []string{
	"America/New_York",
	"America/Chicago",
	"America/Denver",
	"America/Phoenix",
	"America/Los_Angeles",
}
