package version

// Version wird beim Build per -ldflags "-X github.com/7blacky7/omnivlm/version.Version=..." gesetzt
var Version string = "0.0.0"
