package version

import "fmt"

// VERSION is set at build time via -ldflags.
var VERSION = "dev"

// AppVersion returns the generator string used in logs and metrics labels.
func AppVersion() string {
	return fmt.Sprintf("dtalk-ack-adapter/%s", VERSION)
}
