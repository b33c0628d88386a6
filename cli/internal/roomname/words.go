package roomname

var adjectives = []string{
	"tiny", "happy", "sleepy", "fluffy", "sparkly", "cheery", "silly", "jolly", "cozy", "shiny",
	"golden", "silver", "crimson", "emerald", "purple", "bright", "gentle", "brave", "calm", "swift",
	"quiet", "bouncy", "fuzzy", "plucky", "merry", "peppy", "misty", "sunny", "windy", "frosty",
}

var animals = []string{
	"kitten", "puppy", "bunny", "panda", "koala", "fox", "otter", "hedgehog", "squirrel", "hamster",
	"fawn", "lamb", "raccoon", "beaver", "seahorse", "dolphin", "whale", "narwhal", "penguin", "flamingo",
	"pelican", "sparrow", "robin", "toucan", "parrot", "heron", "lynx", "badger", "gecko", "walrus",
}

var places = []string{
	"meadow", "harbor", "canyon", "ridge", "lagoon", "grove", "orchard", "summit", "valley", "island",
	"garden", "attic", "lantern", "cottage", "bridge", "library", "station", "bakery", "plaza", "pier",
	"tower", "cabin", "dune", "reef", "glacier", "forest", "market", "studio", "porch", "terrace",
}
