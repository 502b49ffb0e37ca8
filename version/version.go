package version

var (
	// set with -ldflags "-X github.com/AvaProtocol/ethuo/version.semver=..." on release
	semver   = "0.1.0"
	revision = "unknown"
)

func Get() string {
	return semver
}

func Commit() string {
	return revision
}
